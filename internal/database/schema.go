package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is applied in order. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS websocket_config (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT,
		ws_url           TEXT NOT NULL,
		config_type      TEXT NOT NULL CHECK (config_type IN ('sender', 'subscriber')),
		headers          TEXT,
		auth_token       TEXT,
		message_template TEXT,
		auto_reconnect   BOOLEAN NOT NULL DEFAULT TRUE,
		status           TEXT NOT NULL DEFAULT 'inactive' CHECK (status IN ('active', 'inactive', 'error')),
		created_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL
	)`,
	// No foreign key: history for a deleted config is kept, and one unknown
	// config_id must not fail a whole batch.
	`CREATE TABLE IF NOT EXISTS websocket_message (
		id            UUID PRIMARY KEY,
		config_id     TEXT NOT NULL,
		message_type  TEXT NOT NULL CHECK (message_type IN ('sent', 'received')),
		content       TEXT NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL DEFAULT 'success' CHECK (status IN ('success', 'failed', 'pending')),
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_websocket_config_type ON websocket_config (config_type)`,
	`CREATE INDEX IF NOT EXISTS idx_websocket_config_status ON websocket_config (status)`,
	`CREATE INDEX IF NOT EXISTS idx_websocket_message_config_ts ON websocket_message (config_id, timestamp DESC)`,
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
