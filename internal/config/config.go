// Package config loads PICORadar server configuration using koanf/v2.
//
// Supports JSON and YAML files plus environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Auth      AuthConfig      `koanf:"auth"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Session   SessionConfig   `koanf:"session"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the service listener configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `koanf:"host"`
	// Port is the service port.
	Port int `koanf:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DiscoveryConfig holds the LAN discovery responder configuration.
type DiscoveryConfig struct {
	// UDPPort is the discovery responder port.
	UDPPort int `koanf:"udp_port"`
}

// AuthConfig holds the shared-secret authentication configuration.
type AuthConfig struct {
	// Token is the shared authentication secret. Required.
	Token string `koanf:"token"`
}

// BroadcastConfig holds the roster fan-out configuration.
type BroadcastConfig struct {
	// IntervalMS is the broadcaster period in milliseconds.
	IntervalMS int `koanf:"interval_ms"`
}

// Interval returns the broadcaster period as a duration.
func (b BroadcastConfig) Interval() time.Duration {
	return time.Duration(b.IntervalMS) * time.Millisecond
}

// SessionConfig holds the per-session policy knobs.
type SessionConfig struct {
	// AuthTimeoutMS is the authentication deadline in milliseconds.
	AuthTimeoutMS int `koanf:"auth_timeout_ms"`
	// QueueCapacity is the per-session outbound queue size in messages.
	QueueCapacity int `koanf:"queue_capacity"`
}

// AuthTimeout returns the authentication deadline as a duration.
func (s SessionConfig) AuthTimeout() time.Duration {
	return time.Duration(s.AuthTimeoutMS) * time.Millisecond
}

// LoggingConfig holds the logging configuration.
type LoggingConfig struct {
	// Level is the minimum emitted level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "text" or "json".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// Default ports for the PICORadar service.
const (
	DefaultServicePort   = 11451
	DefaultDiscoveryPort = 11450
)

// DefaultConfig returns a Config populated with the documented defaults.
// The auth token has no default; startup fails without one.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: DefaultServicePort,
		},
		Discovery: DiscoveryConfig{
			UDPPort: DefaultDiscoveryPort,
		},
		Broadcast: BroadcastConfig{
			IntervalMS: 50,
		},
		Session: SessionConfig{
			AuthTimeoutMS: 5000,
			QueueCapacity: 16,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for overrides.
// PICORADAR_AUTH_TOKEN -> auth.token, PICORADAR_PORT -> server.port.
const envPrefix = "PICORADAR_"

// Load reads configuration from the file at path (optional; empty path
// skips the file layer), overlays PICORADAR_* environment overrides, and
// merges on top of DefaultConfig(). Missing keys inherit defaults.
//
// The file format follows the extension: .json, .yaml, or .yml.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// parserFor picks the file parser from the path extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser(), nil
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	default:
		return nil, fmt.Errorf("config file %s: %w", path, ErrUnknownFormat)
	}
}

// envKeyMapper transforms PICORADAR_AUTH_TOKEN -> auth.token. The short
// form PICORADAR_PORT is an alias for server.port.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	if s == "port" {
		return "server.port"
	}
	// Section and key are joined by the first underscore; keys keep any
	// remaining underscores (auth_timeout_ms -> session.auth_timeout_ms).
	section, key, found := strings.Cut(s, "_")
	if !found {
		return s
	}
	return section + "." + key
}

// loadDefaults seeds koanf with the default values as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.host":             defaults.Server.Host,
		"server.port":             defaults.Server.Port,
		"discovery.udp_port":      defaults.Discovery.UDPPort,
		"auth.token":              defaults.Auth.Token,
		"broadcast.interval_ms":   defaults.Broadcast.IntervalMS,
		"session.auth_timeout_ms": defaults.Session.AuthTimeoutMS,
		"session.queue_capacity":  defaults.Session.QueueCapacity,
		"logging.level":           defaults.Logging.Level,
		"logging.format":          defaults.Logging.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrUnknownFormat indicates a config file with an unsupported extension.
	ErrUnknownFormat = errors.New("unsupported config file format")

	// ErrMissingAuthToken indicates no auth token was configured.
	ErrMissingAuthToken = errors.New("auth.token is required")

	// ErrInvalidPort indicates a port outside 1-65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidInterval indicates a non-positive broadcast interval.
	ErrInvalidInterval = errors.New("broadcast.interval_ms must be >= 1")

	// ErrInvalidQueueCapacity indicates a non-positive queue capacity.
	ErrInvalidQueueCapacity = errors.New("session.queue_capacity must be >= 1")

	// ErrInvalidAuthTimeout indicates a non-positive auth deadline.
	ErrInvalidAuthTimeout = errors.New("session.auth_timeout_ms must be >= 1")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Auth.Token == "" {
		return ErrMissingAuthToken
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d: %w", cfg.Server.Port, ErrInvalidPort)
	}
	if cfg.Discovery.UDPPort < 1 || cfg.Discovery.UDPPort > 65535 {
		return fmt.Errorf("discovery.udp_port %d: %w", cfg.Discovery.UDPPort, ErrInvalidPort)
	}
	if cfg.Broadcast.IntervalMS < 1 {
		return ErrInvalidInterval
	}
	if cfg.Session.AuthTimeoutMS < 1 {
		return ErrInvalidAuthTimeout
	}
	if cfg.Session.QueueCapacity < 1 {
		return ErrInvalidQueueCapacity
	}
	return nil
}

// ParseLogLevel maps the logging.level string to a slog.Level.
// Unrecognized values fall back to Info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
