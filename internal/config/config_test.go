package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/picoradar/picoradar/internal/config"
)

// writeConfig drops a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 11451 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 11451)
	}
	if cfg.Discovery.UDPPort != 11450 {
		t.Errorf("Discovery.UDPPort = %d, want %d", cfg.Discovery.UDPPort, 11450)
	}
	if cfg.Auth.Token != "" {
		t.Errorf("Auth.Token = %q, want empty", cfg.Auth.Token)
	}
	if cfg.Broadcast.Interval() != 50*time.Millisecond {
		t.Errorf("Broadcast.Interval() = %v, want %v", cfg.Broadcast.Interval(), 50*time.Millisecond)
	}
	if cfg.Session.AuthTimeout() != 5*time.Second {
		t.Errorf("Session.AuthTimeout() = %v, want %v", cfg.Session.AuthTimeout(), 5*time.Second)
	}
	if cfg.Session.QueueCapacity != 16 {
		t.Errorf("Session.QueueCapacity = %d, want %d", cfg.Session.QueueCapacity, 16)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "INFO")
	}
}

func TestLoadNoFileRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := config.Load("")
	if !errors.Is(err, config.ErrMissingAuthToken) {
		t.Fatalf("Load(\"\") error = %v, want ErrMissingAuthToken", err)
	}
}

func TestLoadJSONFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"server": {"host": "127.0.0.1", "port": 9000},
		"auth": {"token": "secret"},
		"broadcast": {"interval_ms": 100}
	}`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "127.0.0.1:9000")
	}
	if cfg.Auth.Token != "secret" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret")
	}
	if cfg.Broadcast.IntervalMS != 100 {
		t.Errorf("Broadcast.IntervalMS = %d, want %d", cfg.Broadcast.IntervalMS, 100)
	}
	// Untouched keys keep their defaults.
	if cfg.Discovery.UDPPort != config.DefaultDiscoveryPort {
		t.Errorf("Discovery.UDPPort = %d, want default %d", cfg.Discovery.UDPPort, config.DefaultDiscoveryPort)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
server:
  port: 8443
auth:
  token: hunter2
session:
  queue_capacity: 32
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8443)
	}
	if cfg.Session.QueueCapacity != 32 {
		t.Errorf("Session.QueueCapacity = %d, want %d", cfg.Session.QueueCapacity, 32)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.toml", `token = "x"`)

	_, err := config.Load(path)
	if !errors.Is(err, config.ErrUnknownFormat) {
		t.Fatalf("Load() error = %v, want ErrUnknownFormat", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("Load() error = nil, want read failure")
	}
}

// Env override tests mutate the process environment via t.Setenv and must
// not run in parallel.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PICORADAR_AUTH_TOKEN", "from-env")
	t.Setenv("PICORADAR_SERVER_PORT", "7777")
	t.Setenv("PICORADAR_LOGGING_LEVEL", "DEBUG")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.Token != "from-env" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "from-env")
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 7777)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "DEBUG")
	}
}

func TestLoadEnvPortAlias(t *testing.T) {
	t.Setenv("PICORADAR_AUTH_TOKEN", "x")
	t.Setenv("PICORADAR_PORT", "12000")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 12000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 12000)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{"auth": {"token": "from-file"}, "server": {"port": 9000}}`)

	t.Setenv("PICORADAR_AUTH_TOKEN", "from-env")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.Token != "from-env" {
		t.Errorf("Auth.Token = %q, want env value %q", cfg.Auth.Token, "from-env")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want file value %d", cfg.Server.Port, 9000)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "valid",
			mutate:  func(c *config.Config) {},
			wantErr: nil,
		},
		{
			name:    "missing token",
			mutate:  func(c *config.Config) { c.Auth.Token = "" },
			wantErr: config.ErrMissingAuthToken,
		},
		{
			name:    "port zero",
			mutate:  func(c *config.Config) { c.Server.Port = 0 },
			wantErr: config.ErrInvalidPort,
		},
		{
			name:    "port too large",
			mutate:  func(c *config.Config) { c.Server.Port = 70000 },
			wantErr: config.ErrInvalidPort,
		},
		{
			name:    "discovery port negative",
			mutate:  func(c *config.Config) { c.Discovery.UDPPort = -1 },
			wantErr: config.ErrInvalidPort,
		},
		{
			name:    "zero interval",
			mutate:  func(c *config.Config) { c.Broadcast.IntervalMS = 0 },
			wantErr: config.ErrInvalidInterval,
		},
		{
			name:    "zero auth timeout",
			mutate:  func(c *config.Config) { c.Session.AuthTimeoutMS = 0 },
			wantErr: config.ErrInvalidAuthTimeout,
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *config.Config) { c.Session.QueueCapacity = 0 },
			wantErr: config.ErrInvalidQueueCapacity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.Auth.Token = "secret"
			tt.mutate(cfg)

			err := config.Validate(cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
