// Package sqldb is the SQL-backed journal. It runs against SQLite for the
// single-operator case and PostgreSQL when the journal is shared, behind
// the same queries via sqlx bindvar rebinding.
package sqldb

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mbergkamp/ratchet/internal/infra/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config holds SQL journal settings.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the connection string: a file path (or :memory:) for
	// SQLite, a URL for PostgreSQL.
	DSN string `yaml:"dsn"`

	MaxConns int `yaml:"max_conns"`
}

// Journal implements storage.Journal over a SQL database.
type Journal struct {
	db *sqlx.DB
}

// Open connects, applies migrations, and returns a ready journal.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	driver, dialect, err := driverNames(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect journal db: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	return &Journal{db: db}, nil
}

func driverNames(driver string) (sqlDriver, gooseDialect string, err error) {
	switch driver {
	case "sqlite", "":
		return "sqlite", "sqlite3", nil
	case "postgres":
		return "pgx", "postgres", nil
	default:
		return "", "", fmt.Errorf("unsupported journal driver %q", driver)
	}
}

// Close releases the underlying connections.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) RecordAttempt(ctx context.Context, rec *storage.AttemptRecord) error {
	q := j.db.Rebind(`
		INSERT INTO attempts (id, session_id, item_key, attempt, duration_ns, success, classification, error_msg, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := j.db.ExecContext(ctx, q,
		rec.ID, rec.SessionID, rec.ItemKey, rec.Attempt,
		int64(rec.Duration), rec.Success, rec.Classification, rec.Error, rec.At)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (j *Journal) RecordTransition(ctx context.Context, rec *storage.TransitionRecord) error {
	q := j.db.Rebind(`
		INSERT INTO transitions (id, session_id, item_key, from_state, to_state, error_msg, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := j.db.ExecContext(ctx, q,
		rec.ID, rec.SessionID, rec.ItemKey, rec.From, rec.To, rec.Error, rec.At)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (j *Journal) ItemHistory(ctx context.Context, sessionID, itemKey string) ([]storage.TransitionRecord, error) {
	var out []storage.TransitionRecord
	q := j.db.Rebind(`
		SELECT id, session_id, item_key, from_state, to_state, error_msg, at
		FROM transitions
		WHERE session_id = ? AND item_key = ?
		ORDER BY at ASC
	`)
	if err := j.db.SelectContext(ctx, &out, q, sessionID, itemKey); err != nil {
		return nil, fmt.Errorf("select item history: %w", err)
	}
	return out, nil
}

func (j *Journal) SessionAttempts(ctx context.Context, sessionID string) ([]storage.AttemptRecord, error) {
	var out []storage.AttemptRecord
	q := j.db.Rebind(`
		SELECT id, session_id, item_key, attempt, duration_ns, success, classification, error_msg, at
		FROM attempts
		WHERE session_id = ?
		ORDER BY at ASC
	`)
	if err := j.db.SelectContext(ctx, &out, q, sessionID); err != nil {
		return nil, fmt.Errorf("select session attempts: %w", err)
	}
	return out, nil
}
