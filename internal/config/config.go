package config

import "time"

// ServiceConfig is the root configuration for a wstool instance.
type ServiceConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DBConfig          `yaml:"database"`
	Connections ConnectionsConfig `yaml:"connections"`
	Writer      WriterConfig      `yaml:"writer"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 keeps SSE streams open
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DBConfig holds the PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ConnectionsConfig holds WebSocket connection manager settings.
type ConnectionsConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`  // negative disables the stale-read deadline
	PingInterval         time.Duration `yaml:"ping_interval"` // negative disables keepalive pings
	ProbeResponseTimeout time.Duration `yaml:"probe_response_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectAttempts    int           `yaml:"reconnect_attempts"`
	SendBufferSize       int           `yaml:"send_buffer_size"`
	SendRate             float64       `yaml:"send_rate"` // messages/sec per connection, 0 = unlimited
	RestoreActive        bool          `yaml:"restore_active"`
	StatusSyncInterval   time.Duration `yaml:"status_sync_interval"`
}

// WriterConfig holds message history writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	MaxBuffer     int           `yaml:"max_buffer"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
