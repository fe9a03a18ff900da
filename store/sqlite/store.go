// Package sqlite implements store.Store on SQLite via database/sql and
// the cgo-free modernc.org/sqlite driver. Suited for single-node
// deployments and integration tests; timestamps are stored as
// RFC 3339 text so rows stay portable and human-readable. Every
// caller-supplied value is bound as a statement parameter.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// Compile-time interface checks.
var (
	_ job.Store          = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
	_ dlq.Store          = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New opens (or creates) a SQLite database at path. Use ":memory:" for
// an ephemeral database.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("herald/sqlite: open %q: %w", path, err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromDB wraps an existing *sql.DB. The caller owns its lifecycle.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// migration pairs a name with its DDL. Applied in slice order, each at
// most once.
type migration struct {
	name string
	stmt string
}

var migrations = []migration{
	{
		name: "001_create_notifications",
		stmt: `CREATE TABLE IF NOT EXISTS herald_notifications (
			id          TEXT PRIMARY KEY,
			channel     TEXT NOT NULL,
			recipient   TEXT NOT NULL,
			subject     TEXT NOT NULL DEFAULT '',
			message     TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'pending',
			last_error  TEXT NOT NULL DEFAULT '',
			metadata    TEXT,
			sent_at     TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
	},
	{
		name: "002_index_notifications",
		stmt: `CREATE INDEX IF NOT EXISTS idx_herald_notifications_channel
			ON herald_notifications (channel, status)`,
	},
	{
		name: "003_create_jobs",
		stmt: `CREATE TABLE IF NOT EXISTS herald_jobs (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL DEFAULT 'notification',
			notification_id TEXT REFERENCES herald_notifications(id),
			template        TEXT NOT NULL DEFAULT '',
			data            TEXT,
			state           TEXT NOT NULL DEFAULT 'pending',
			priority        INTEGER NOT NULL DEFAULT 0,
			retries         INTEGER NOT NULL DEFAULT 0,
			max_retries     INTEGER NOT NULL DEFAULT 3,
			last_error      TEXT NOT NULL DEFAULT '',
			on_success      TEXT NOT NULL DEFAULT '',
			on_failure      TEXT NOT NULL DEFAULT '',
			run_at          TEXT NOT NULL,
			started_at      TEXT,
			completed_at    TEXT,
			timeout_ns      INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		)`,
	},
	{
		name: "004_index_jobs_runnable",
		stmt: `CREATE INDEX IF NOT EXISTS idx_herald_jobs_runnable
			ON herald_jobs (run_at, created_at)
			WHERE state IN ('pending', 'retry_scheduled')`,
	},
	{
		name: "005_create_dlq",
		stmt: `CREATE TABLE IF NOT EXISTS herald_dlq (
			id           TEXT PRIMARY KEY,
			job_id       TEXT NOT NULL,
			channel      TEXT NOT NULL DEFAULT '',
			notification TEXT,
			template     TEXT NOT NULL DEFAULT '',
			data         TEXT,
			error        TEXT NOT NULL,
			retries      INTEGER NOT NULL,
			max_retries  INTEGER NOT NULL DEFAULT 3,
			failed_at    TEXT NOT NULL,
			replayed_at  TEXT,
			created_at   TEXT NOT NULL
		)`,
	},
	{
		name: "006_index_dlq_channel",
		stmt: `CREATE INDEX IF NOT EXISTS idx_herald_dlq_channel
			ON herald_dlq (channel, failed_at DESC)`,
	},
}

// Migrate applies all pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS herald_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("herald/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM herald_migrations WHERE name = ?)`, m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("herald/sqlite: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		if _, execErr := s.db.ExecContext(ctx, m.stmt); execErr != nil {
			return fmt.Errorf("herald/sqlite: execute migration %s: %w", m.name, execErr)
		}
		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO herald_migrations (name, applied_at) VALUES (?, ?)`,
			m.name, fmtTime(time.Now().UTC()),
		); recErr != nil {
			return fmt.Errorf("herald/sqlite: record migration %s: %w", m.name, recErr)
		}

		s.logger.Info("applied migration", slog.String("name", m.name))
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ── time helpers ─────────────────────────────────────

// fmtTime formats a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fmtTimePtr formats an optional timestamp, nil stays NULL.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseTimePtr parses an optional stored timestamp.
func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// isNoRows reports whether err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
