package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/wstool/internal/model"
)

// ErrNotFound is returned when no connection definition has the given ID.
var ErrNotFound = errors.New("connection config not found")

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind   model.Kind
	Status model.ConfigStatus
}

// ConfigStore supplies connection definitions and history pages.
type ConfigStore struct {
	db     Querier
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ConfigStore.
func New(db Querier, logger *slog.Logger) *ConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigStore{db: db, logger: logger, now: time.Now}
}

const configColumns = `id, name, description, ws_url, config_type, headers,
	auth_token, message_template, auto_reconnect, status, created_at, updated_at`

// Get loads one connection definition.
func (s *ConfigStore) Get(ctx context.Context, id string) (model.ConnectionConfig, error) {
	row := s.db.QueryRow(ctx, `SELECT `+configColumns+` FROM websocket_config WHERE id = $1`, id)

	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ConnectionConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("get config %s: %w", id, err)
	}
	return cfg, nil
}

// List returns definitions matching f, newest first.
func (s *ConfigStore) List(ctx context.Context, f Filter) ([]model.ConnectionConfig, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("config_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + configColumns + ` FROM websocket_config`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}

	configs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ConnectionConfig, error) {
		return scanConfig(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	return configs, nil
}

// SetStatus records the run status of a definition.
func (s *ConfigStore) SetStatus(ctx context.Context, id string, status model.ConfigStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE websocket_config SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.logger.Debug("config status updated", "conn_id", id, "status", status)
	return nil
}

// Messages returns one page of a connection's history, newest first.
func (s *ConfigStore) Messages(ctx context.Context, id string, limit, offset int) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, config_id, message_type, content, timestamp, status, error_message
		FROM websocket_message
		WHERE config_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`,
		id, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages %s: %w", id, err)
	}

	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("query messages %s: %w", id, err)
	}
	return msgs, nil
}

// CountMessages returns the size of a connection's history.
func (s *ConfigStore) CountMessages(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM websocket_message WHERE config_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages %s: %w", id, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(row scanner) (model.ConnectionConfig, error) {
	var (
		c                                     model.ConnectionConfig
		description, headers, token, template *string
		kind, status                          string
	)
	err := row.Scan(
		&c.ID, &c.Name, &description, &c.URL, &kind, &headers,
		&token, &template, &c.AutoReconnect, &status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.ConnectionConfig{}, err
	}

	c.Kind = model.Kind(kind)
	c.Status = model.ConfigStatus(status)
	c.Description = deref(description)
	c.AuthToken = deref(token)
	c.MessageTemplate = deref(template)

	c.Headers, err = model.ParseHeaders(deref(headers))
	if err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("config %s: %w", c.ID, err)
	}
	return c, nil
}

func scanMessage(row pgx.CollectableRow) (model.Message, error) {
	var (
		m                 model.Message
		direction, status string
		errMsg            *string
	)
	if err := row.Scan(&m.ID, &m.ConnectionID, &direction, &m.Content, &m.Timestamp, &status, &errMsg); err != nil {
		return model.Message{}, err
	}
	m.Direction = model.Direction(direction)
	m.Status = model.MessageStatus(status)
	m.Error = deref(errMsg)
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
