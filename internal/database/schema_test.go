package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	stmts  []string
	failAt int // 1-based, 0 = never
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if r.failAt == len(r.stmts) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func TestMigrate(t *testing.T) {
	db := &recordingExecer{}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if len(db.stmts) != len(schema) {
		t.Fatalf("executed %d statements, want %d", len(db.stmts), len(schema))
	}
	for _, s := range db.stmts {
		if !strings.Contains(s, "IF NOT EXISTS") {
			t.Errorf("statement is not idempotent: %s", s)
		}
	}
}

func TestMigrate_StopsOnError(t *testing.T) {
	db := &recordingExecer{failAt: 2}
	err := Migrate(context.Background(), db)
	if err == nil {
		t.Fatal("Migrate() should fail")
	}
	if !strings.Contains(err.Error(), "migrate step 2") {
		t.Errorf("error = %v, want step number", err)
	}
	if len(db.stmts) != 2 {
		t.Errorf("executed %d statements after failure, want 2", len(db.stmts))
	}
}
