package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

func validConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			Path:         "/game",
			SendBuffer:   64,
			ReadLimit:    4096,
			PingInterval: 30 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Admin:    AdminConfig{Addr: "127.0.0.1:8081"},
		Redis:    RedisConfig{TTL: time.Hour},
		Observer: ObserverConfig{Buffer: 16, Timeout: time.Second},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "/game", cfg.Server.Path)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.PingInterval)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "legacy", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lobby.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 127.0.0.1:9000
  path: /ws
  allowed_origins: ["example.com", "*.example.org"]
  send_buffer: 8
redis:
  url: redis://localhost:6379/1
  ttl: 10m
logging:
  level: DEBUG
  format: console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Server.SendBuffer)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Redis.URL)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOBBY_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/lobby?sslmode=disable")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "postgres://u:p@localhost/lobby?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://legacy:6379/0")
	t.Setenv("LOBBY_REDIS_URL", "redis://primary:6379/0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://primary:6379/0", cfg.Redis.URL)
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Addr = "nope"
	cfg.Server.Path = "game"
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr")
	assert.Contains(t, err.Error(), "server.path")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestOverrideListen(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.OverrideListen("127.0.0.1", ""))
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	require.NoError(t, cfg.OverrideListen("", "9090"))
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)

	assert.Error(t, cfg.OverrideListen("not-an-ip", ""))
	assert.True(t, errors.Is(cfg.OverrideListen("", "70000"), ErrInvalidPort))
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
}

func TestYAMLDump(t *testing.T) {
	cfg := validConfig()
	raw, err := cfg.YAML()
	require.NoError(t, err)

	var back map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, "0.0.0.0:8080", back["server"]["addr"])
	assert.Equal(t, "30s", back["server"]["ping_interval"])
}

func TestParsePortProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(-100000, 100000).Draw(t, "port")
		got, err := ParsePort(fmt.Sprint(n))
		if n >= 1 && n <= 65535 {
			if err != nil || got != n {
				t.Fatalf("ParsePort(%d) = %d, %v", n, got, err)
			}
			return
		}
		if !errors.Is(err, ErrInvalidPort) {
			t.Fatalf("ParsePort(%d) accepted", n)
		}
	})
}
