// Package config loads lobby server settings from defaults, an optional YAML
// file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	// Addr is the websocket listen address, host:port.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Path is the route clients upgrade on.
	Path string `mapstructure:"path" yaml:"path"`
	// AllowedOrigins are host patterns for the Origin check. Empty allows any origin.
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	ReadLimit      int64         `mapstructure:"read_limit" yaml:"read_limit"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type AdminConfig struct {
	// Addr of the admin HTTP listener; empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type RedisConfig struct {
	// URL enables the lobby mirror when set.
	URL      string        `mapstructure:"url" yaml:"url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Instance string        `mapstructure:"instance" yaml:"instance"`
}

type DatabaseConfig struct {
	// URL enables the session archive when set.
	URL     string `mapstructure:"url" yaml:"url"`
	Migrate bool   `mapstructure:"migrate" yaml:"migrate"`
}

type ObserverConfig struct {
	Buffer  int           `mapstructure:"buffer" yaml:"buffer"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	Console bool   `mapstructure:"console" yaml:"console"`
	File    string `mapstructure:"file" yaml:"file"`
	Caller  bool   `mapstructure:"caller" yaml:"caller"`
}

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Admin    AdminConfig    `mapstructure:"admin" yaml:"admin"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Observer ObserverConfig `mapstructure:"observer" yaml:"observer"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// legacyEnv maps keys to the unprefixed variable names used by older deployments.
var legacyEnv = map[string]string{
	"redis.url":      "REDIS_URL",
	"database.url":   "DATABASE_URL",
	"logging.level":  "LOG_LEVEL",
	"logging.format": "LOG_FORMAT",
	"logging.file":   "LOG_FILE",
}

// Load reads path (optional) and the environment. LOBBY_SERVER_ADDR overrides
// server.addr and so on.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "LOBBY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

func LoadFromViper(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.path", "/game")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.read_limit", 4096)
	v.SetDefault("server.ping_interval", "30s")
	v.SetDefault("server.write_timeout", "5s")

	v.SetDefault("admin.addr", "127.0.0.1:8081")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("redis.instance", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)

	v.SetDefault("observer.buffer", 1024)
	v.SetDefault("observer.timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "legacy")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.caller", false)
}

// Validate returns nil or one error listing every violation.
func (c AppConfig) Validate() error {
	var errs []string
	if err := validateAddr("server.addr", c.Server.Addr); err != nil {
		errs = append(errs, err.Error())
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Sprintf("server.path must start with /, got %q", c.Server.Path))
	}
	if c.Server.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("server.send_buffer must be >= 1, got %d", c.Server.SendBuffer))
	}
	if c.Server.ReadLimit < 64 {
		errs = append(errs, fmt.Sprintf("server.read_limit must be >= 64, got %d", c.Server.ReadLimit))
	}
	if c.Server.PingInterval < 0 {
		errs = append(errs, "server.ping_interval must not be negative")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Admin.Addr != "" {
		if err := validateAddr("admin.addr", c.Admin.Addr); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Redis.TTL <= 0 {
		errs = append(errs, "redis.ttl must be positive")
	}
	if c.Observer.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("observer.buffer must be >= 1, got %d", c.Observer.Buffer))
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAddr(key, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s must be host:port, got %q", key, addr)
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("%s host must be an IP address, got %q", key, host)
	}
	if _, err := ParsePort(port); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"legacy": true, "json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [legacy, json, console], got %q", l.Format)
	}
	return nil
}

var ErrInvalidPort = errors.New("port must be 1-65535")

func ParsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w, got %q", ErrInvalidPort, s)
	}
	return n, nil
}

// OverrideListen applies the positional "ip port" arguments of the server
// binary. Either may be empty.
func (c *AppConfig) OverrideListen(ip, port string) error {
	host, p, err := net.SplitHostPort(c.Server.Addr)
	if err != nil {
		return err
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid ip address %q", ip)
		}
		host = ip
	}
	if port = strings.TrimSpace(port); port != "" {
		if _, err := ParsePort(port); err != nil {
			return err
		}
		p = port
	}
	c.Server.Addr = net.JoinHostPort(host, p)
	return nil
}

// YAML renders the effective configuration.
func (c *AppConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
