package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-lobby/internal/admin"
	"github.com/park285/cheese-lobby/internal/archive"
	"github.com/park285/cheese-lobby/internal/config"
	"github.com/park285/cheese-lobby/internal/lobby"
	"github.com/park285/cheese-lobby/internal/lobbystore"
	"github.com/park285/cheese-lobby/internal/obslog"
	"github.com/park285/cheese-lobby/internal/transport/ws"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [ip port]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	printConfig := flag.Bool("print-config", false, "print the effective config and exit")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	switch args := flag.Args(); len(args) {
	case 0:
	case 2:
		if err := cfg.OverrideListen(args[0], args[1]); err != nil {
			log.Fatalf("listen address: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
	if cfg.Redis.Instance == "" {
		cfg.Redis.Instance = uuid.NewString()[:8]
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("render config: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	syncLog, err := obslog.Init(cfg.Logging)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = syncLog() }()
	logger := obslog.L()

	var handlers []lobby.EventHandler

	var store *lobbystore.Store
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := lobbystore.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			cancel()
			logger.Fatal("redis_init_failed", zap.Error(err))
		}
		defer rdb.Close()
		store = lobbystore.New(rdb, cfg.Redis.Instance, lobbystore.WithTTL(cfg.Redis.TTL))
		if err := store.Reset(ctx); err != nil {
			cancel()
			logger.Fatal("redis_reset_failed", zap.Error(err))
		}
		cancel()
		handlers = append(handlers, store)
		logger.Info("redis_mirror_enabled", zap.String("instance", cfg.Redis.Instance))
	}

	var repo *archive.Repository
	if cfg.Database.URL != "" {
		repo, err = archive.NewRepository(cfg.Database.URL, cfg.Redis.Instance)
		if err != nil {
			logger.Fatal("archive_init_failed", zap.Error(err))
		}
		defer repo.Close()
		if cfg.Database.Migrate {
			version, err := repo.Migrate()
			if err != nil {
				logger.Fatal("archive_migrate_failed", zap.Error(err))
			}
			logger.Info("archive_migrated", zap.Uint("version", version))
		}
		handlers = append(handlers, archive.NewRecorder(repo))
	}

	var observer *lobby.AsyncObserver
	brokerOpts := []lobby.Option{lobby.WithLogger(logger)}
	if len(handlers) > 0 {
		observer = lobby.NewAsyncObserver(cfg.Observer.Buffer, cfg.Observer.Timeout, handlers...)
		brokerOpts = append(brokerOpts, lobby.WithObserver(observer))
	}
	broker := lobby.NewBroker(brokerOpts...)

	wsServer := ws.NewServer(broker, cfg.Server, ws.WithLogger(logger))
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Fatal("ws_listen_failed", zap.String("addr", cfg.Server.Addr), zap.Error(err))
	}
	errCh := make(chan error, 2)
	go func() { errCh <- wsServer.Serve(ln) }()

	var adminServer *admin.Server
	if cfg.Admin.Addr != "" {
		opts := []admin.Option{admin.WithLogger(logger)}
		if repo != nil {
			opts = append(opts, admin.WithArchive(repo))
		}
		adminServer = admin.NewServer(broker, opts...)
		go func() { errCh <- adminServer.ListenAndServe(cfg.Admin.Addr) }()
	}

	logger.Info("lobby_ready",
		zap.String("addr", cfg.Server.Addr),
		zap.String("path", cfg.Server.Path),
		zap.String("admin", cfg.Admin.Addr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server_failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End sessions first so their BreakGame frames and archive records go out
	// before the connections close.
	broker.Shutdown()
	if err := wsServer.Shutdown(ctx); err != nil {
		logger.Warn("ws_shutdown_incomplete", zap.Error(err))
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(ctx); err != nil {
			logger.Warn("admin_shutdown_failed", zap.Error(err))
		}
	}
	if observer != nil {
		if err := observer.Close(ctx); err != nil {
			logger.Warn("observer_drain_incomplete", zap.Error(err))
		}
	}
	logger.Info("lobby_stopped")
}
