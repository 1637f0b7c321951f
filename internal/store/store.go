// Package store provides the durable SQLite persistence layer for the sync
// engine: the operation queue, the bounded read cache, and engine metadata.
//
// The database runs in embedded mode using the pure-Go ncruces driver with
// WAL enabled so the UI thread (enqueue, status reads) and the sync worker
// (dequeue, mark) can touch the store concurrently. All mutations go through
// single statements or transactions, so concurrent callers never observe a
// torn read.
//
// Layout:
//   - operations:    the durable operation queue (survives restarts)
//   - cache_entries: bounded local mirror of remote reads
//   - engine_meta:   key/value metadata (last synced at, ...)
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeFormat is how timestamps are stored: RFC 3339 in UTC with a
// fixed-width nanosecond fraction, so ordering comparisons stay correct as
// plain string comparisons in SQL. (RFC3339Nano trims trailing zeros,
// which breaks lexicographic ordering of sub-second fractions.)
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection with queue, cache, and metadata operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the file doesn't exist it is created; call InitSchema before use.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".sproutsync/queue.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// Useful for integrating with other libraries that expect *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Best effort: flush the WAL into the main database file.
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")

	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
//
// Safe to call on every startup; uses IF NOT EXISTS throughout.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id              TEXT PRIMARY KEY,
		op_type         TEXT NOT NULL,
		model_name      TEXT NOT NULL,
		record_id       TEXT NOT NULL,
		payload         BLOB,
		enqueued_at     TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		state           TEXT NOT NULL DEFAULT 'pending',
		error_kind      TEXT NOT NULL DEFAULT '',
		last_error      TEXT NOT NULL DEFAULT '',
		last_attempt_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_operations_state
		ON operations(state, enqueued_at);

	CREATE INDEX IF NOT EXISTS idx_operations_target
		ON operations(model_name, record_id);

	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB,
		fetched_at TEXT NOT NULL,
		size_bytes INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_fetched
		ON cache_entries(fetched_at);

	CREATE TABLE IF NOT EXISTS engine_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// formatTime encodes a timestamp for storage. The zero time is stored as
// the empty string so NULL handling stays out of the scan paths.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

// parseTime decodes a stored timestamp; the empty string is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
