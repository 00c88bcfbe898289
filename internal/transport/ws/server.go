// Package ws serves the lobby protocol over websockets. Each accepted
// connection gets a fresh handle and three goroutines: the read loop feeding
// the broker, a write loop draining the outbound queue and a ping loop.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-lobby/internal/config"
	"github.com/park285/cheese-lobby/internal/lobby"
	"github.com/park285/cheese-lobby/internal/obslog"
	"github.com/park285/cheese-lobby/pkg/protocol"
)

var ErrServerClosed = errors.New("ws server closed")

// Broker is the slice of the lobby the transport drives.
type Broker interface {
	Join(id protocol.PlayerID, sink lobby.Sink) error
	Message(id protocol.PlayerID, raw []byte) error
	Leave(id protocol.PlayerID) bool
}

type Server struct {
	broker Broker
	cfg    config.ServerConfig
	logger *zap.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
	wg      sync.WaitGroup
	http    *http.Server
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(b Broker, cfg config.ServerConfig, opts ...Option) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	s := &Server{
		broker: b,
		cfg:    cfg,
		logger: obslog.L(),
		conns:  make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes the configured path to the upgrade handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("ws_listen", zap.String("addr", ln.Addr().String()), zap.String("path", s.cfg.Path))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosing() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.cfg.AllowedOrigins,
		InsecureSkipVerify: len(s.cfg.AllowedOrigins) == 0,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if s.cfg.ReadLimit > 0 {
		c.SetReadLimit(s.cfg.ReadLimit)
	}

	id := protocol.PlayerID(s.nextID.Add(1))
	cn := newConn(id, c, s.cfg.SendBuffer)
	if !s.track(cn) {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(cn)

	log := s.logger.With(zap.Uint64("player_id", uint64(id)))
	log.Info("ws_accept", zap.String("remote", r.RemoteAddr))

	if err := s.broker.Join(id, cn); err != nil {
		log.Error("ws_join_failed", zap.Error(err))
		_ = c.Close(websocket.StatusInternalError, "join failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.writeLoop(ctx, cn)
	}()
	go func() {
		defer loops.Done()
		s.pingLoop(ctx, cn)
	}()

	err = s.readLoop(ctx, cn)
	s.broker.Leave(id)
	cn.shutdown(websocket.StatusNormalClosure, "")
	loops.Wait()

	code, reason := cn.status()
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("ws_close", zap.Int("status", int(status)))
	default:
		log.Info("ws_close", zap.Int("status", int(code)), zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Server) readLoop(ctx context.Context, c *conn) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		// Decode failures are logged by the broker and otherwise ignored.
		_ = s.broker.Message(c.id, data)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *conn) {
	defer func() {
		code, reason := c.status()
		_ = c.ws.Close(code, reason)
	}()
	for {
		select {
		case <-c.done:
			if code, _ := c.status(); code != websocket.StatusPolicyViolation {
				s.flush(ctx, c)
			}
			return
		case msg := <-c.out:
			if err := s.write(ctx, c, msg); err != nil {
				c.shutdown(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

// flush writes whatever is still queued, so a BreakGame sent just before
// shutdown reaches the peer.
func (s *Server) flush(ctx context.Context, c *conn) {
	for {
		select {
		case msg := <-c.out:
			if err := s.write(ctx, c, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) write(ctx context.Context, c *conn, msg []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	err := c.ws.Write(wctx, websocket.MessageText, msg)
	if err != nil {
		s.logger.Warn("ws_write_failed", zap.Uint64("player_id", uint64(c.id)), zap.Error(err))
	}
	return err
}

func (s *Server) pingLoop(ctx context.Context, c *conn) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				s.logger.Warn("ws_ping_failed", zap.Uint64("player_id", uint64(c.id)), zap.Error(err))
				c.shutdown(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Conns reports the number of open connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes every connection with GoingAway and waits
// for their handlers to finish Leave.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.http
	open := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	var firstErr error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	for _, c := range open {
		c.shutdown(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	s.logger.Info("ws_shutdown", zap.Int("closed", len(open)))
	return firstErr
}
