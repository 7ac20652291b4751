package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
server:
  addr: ":9000"
database:
  host: localhost
  port: 5432
  name: wstool
  user: wstool
  password: testpass
connections:
  handshake_timeout: 3s
  send_rate: 20
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9000")
	}
	if cfg.Database.Name != "wstool" {
		t.Errorf("Database.Name = %q, want %q", cfg.Database.Name, "wstool")
	}
	if cfg.Connections.HandshakeTimeout != 3*time.Second {
		t.Errorf("Connections.HandshakeTimeout = %v, want 3s", cfg.Connections.HandshakeTimeout)
	}
	if cfg.Connections.SendRate != 20 {
		t.Errorf("Connections.SendRate = %v, want 20", cfg.Connections.SendRate)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
database:
  host: localhost
  name: wstool
  user: wstool
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
database:
  host: localhost
  name: wstool
  user: wstool
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Addr != DefaultServerAddr {
		t.Errorf("Server.Addr = %q, want default %q", cfg.Server.Addr, DefaultServerAddr)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Connections.ProbeResponseTimeout != DefaultProbeResponseTimeout {
		t.Errorf("Connections.ProbeResponseTimeout = %v, want default %v", cfg.Connections.ProbeResponseTimeout, DefaultProbeResponseTimeout)
	}
	if cfg.Connections.ReconnectAttempts != DefaultReconnectAttempts {
		t.Errorf("Connections.ReconnectAttempts = %d, want default %d", cfg.Connections.ReconnectAttempts, DefaultReconnectAttempts)
	}
	if cfg.Connections.StatusSyncInterval != DefaultStatusSyncInterval {
		t.Errorf("Connections.StatusSyncInterval = %v, want default %v", cfg.Connections.StatusSyncInterval, DefaultStatusSyncInterval)
	}
	if cfg.Writer.BatchSize != DefaultBatchSize {
		t.Errorf("Writer.BatchSize = %d, want default %d", cfg.Writer.BatchSize, DefaultBatchSize)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadDisablesReadTimeoutAndPings(t *testing.T) {
	yaml := `
database:
  host: localhost
  name: wstool
  user: wstool
  password: testpass
connections:
  read_timeout: -1s
  ping_interval: -1s
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Connections.ReadTimeout >= 0 {
		t.Errorf("Connections.ReadTimeout = %v, want negative (disabled)", cfg.Connections.ReadTimeout)
	}
	if cfg.Connections.PingInterval >= 0 {
		t.Errorf("Connections.PingInterval = %v, want negative (disabled)", cfg.Connections.PingInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() ServiceConfig {
		cfg := ServiceConfig{
			Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr string
	}{
		{
			name:    "missing database host",
			mutate:  func(c *ServiceConfig) { c.Database.Host = "" },
			wantErr: "database.host is required",
		},
		{
			name:    "missing database password",
			mutate:  func(c *ServiceConfig) { c.Database.Password = "" },
			wantErr: "database.password is required",
		},
		{
			name:    "min_conns exceeds max_conns",
			mutate:  func(c *ServiceConfig) { c.Database.MaxConns = 2; c.Database.MinConns = 4 },
			wantErr: "database.min_conns (4) cannot exceed max_conns (2)",
		},
		{
			name:    "ping interval not shorter than read timeout",
			mutate:  func(c *ServiceConfig) { c.Connections.PingInterval = time.Minute; c.Connections.ReadTimeout = time.Minute },
			wantErr: "connections.ping_interval (1m0s) must be shorter than read_timeout (1m0s)",
		},
		{
			name:    "base delay exceeds max delay",
			mutate:  func(c *ServiceConfig) { c.Connections.ReconnectBaseDelay = time.Minute },
			wantErr: "connections.reconnect_base_delay (1m0s) cannot exceed reconnect_max_delay (30s)",
		},
		{
			name:    "negative send rate",
			mutate:  func(c *ServiceConfig) { c.Connections.SendRate = -1 },
			wantErr: "connections.send_rate must be >= 0",
		},
		{
			name:    "bad log level",
			mutate:  func(c *ServiceConfig) { c.Log.Level = "trace" },
			wantErr: `log.level must be one of debug, info, warn, error, got "trace"`,
		},
		{
			name:    "metrics path without slash",
			mutate:  func(c *ServiceConfig) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" },
			wantErr: `metrics.path must start with /, got "metrics"`,
		},
		{
			name:   "valid config",
			mutate: func(c *ServiceConfig) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
