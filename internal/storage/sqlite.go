package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Options configures storage behaviour.
type Options struct {
	// CheckResultRetention keeps at most N results per product; zero keeps all.
	CheckResultRetention int
	// NotificationRetention keeps at most N notification log rows.
	NotificationRetention int
}

// Store wraps sqlite persistence for products, check results and notifications.
type Store struct {
	db                *sql.DB
	resultLimit       int
	notificationLimit int
	now               func() time.Time
}

// Open initialises a sqlite store with WAL enabled and required schema.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	notificationLimit := opts.NotificationRetention
	if notificationLimit <= 0 {
		notificationLimit = 1000
	}

	store := &Store{
		db:                db,
		resultLimit:       opts.CheckResultRetention,
		notificationLimit: notificationLimit,
		now:               time.Now,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage not configured")
	}
	return s.db.PingContext(ctx)
}

func configureSQLite(db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			type TEXT NOT NULL,
			custom_fields_json TEXT,
			expires_at TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			last_checked TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS check_results (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			response_time_ms INTEGER,
			status_code INTEGER,
			error_code TEXT,
			details_json TEXT,
			checked_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_check_results_product ON check_results (product_id, checked_at DESC);`,
		`CREATE TABLE IF NOT EXISTS notification_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			notifier_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			user_id TEXT,
			product_id TEXT,
			title TEXT,
			message TEXT,
			status TEXT NOT NULL,
			error TEXT,
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notification_logs_occurred ON notification_logs (occurred_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func nullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
