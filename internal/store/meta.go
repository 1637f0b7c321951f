package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metaLastSyncedAt = "last_synced_at"

// LastSyncedAt returns when the most recent sync pass finished.
// Returns the zero time if no pass has completed yet.
func (db *DB) LastSyncedAt() (time.Time, error) {
	var raw string
	err := db.conn.QueryRow(`SELECT value FROM engine_meta WHERE key = ?`,
		metaLastSyncedAt).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last synced at: %w", err)
	}
	return parseTime(raw)
}

// SetLastSyncedAt records the completion time of a sync pass. This is
// written whether or not the pass aborted early.
func (db *DB) SetLastSyncedAt(t time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO engine_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastSyncedAt, formatTime(t))
	if err != nil {
		return fmt.Errorf("failed to set last synced at: %w", err)
	}
	return nil
}
