package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	conns := c.Connections
	if conns.HandshakeTimeout <= 0 {
		return errors.New("connections.handshake_timeout must be > 0")
	}
	if conns.WriteTimeout <= 0 {
		return errors.New("connections.write_timeout must be > 0")
	}
	// Negative read_timeout or ping_interval switches that check off.
	if conns.ReadTimeout > 0 && conns.PingInterval > 0 && conns.PingInterval >= conns.ReadTimeout {
		return fmt.Errorf("connections.ping_interval (%s) must be shorter than read_timeout (%s)", conns.PingInterval, conns.ReadTimeout)
	}
	if conns.ReconnectBaseDelay > conns.ReconnectMaxDelay {
		return fmt.Errorf("connections.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)", conns.ReconnectBaseDelay, conns.ReconnectMaxDelay)
	}
	if conns.ReconnectAttempts < 1 {
		return errors.New("connections.reconnect_attempts must be >= 1")
	}
	if conns.SendBufferSize < 1 {
		return errors.New("connections.send_buffer_size must be >= 1")
	}
	if conns.SendRate < 0 {
		return errors.New("connections.send_rate must be >= 0")
	}
	if conns.StatusSyncInterval < 0 {
		return errors.New("connections.status_sync_interval must be >= 0")
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}
	if c.Writer.MaxBuffer < c.Writer.BufferSize {
		return fmt.Errorf("writer.max_buffer (%d) cannot be below buffer_size (%d)", c.Writer.MaxBuffer, c.Writer.BufferSize)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
