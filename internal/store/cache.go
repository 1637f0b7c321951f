package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoEntry is returned when a cache key is not present.
var ErrNoEntry = errors.New("no cache entry")

// CacheEntry is one row of the bounded read cache.
type CacheEntry struct {
	Key       string
	Value     []byte
	FetchedAt time.Time
	SizeBytes int64
}

// PutCacheEntry inserts or replaces a cache entry.
func (db *DB) PutCacheEntry(e CacheEntry) error {
	_, err := db.conn.Exec(`
		INSERT INTO cache_entries (key, value, fetched_at, size_bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			fetched_at = excluded.fetched_at,
			size_bytes = excluded.size_bytes`,
		e.Key, e.Value, formatTime(e.FetchedAt), e.SizeBytes)
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", e.Key, err)
	}
	return nil
}

// GetCacheEntry returns the entry for key, or ErrNoEntry.
func (db *DB) GetCacheEntry(key string) (CacheEntry, error) {
	var (
		e       CacheEntry
		fetched string
	)
	err := db.conn.QueryRow(`
		SELECT key, value, fetched_at, size_bytes FROM cache_entries WHERE key = ?`,
		key).Scan(&e.Key, &e.Value, &fetched, &e.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, ErrNoEntry
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if e.FetchedAt, err = parseTime(fetched); err != nil {
		return CacheEntry{}, err
	}
	return e, nil
}

// DeleteCacheEntry removes an entry. Deleting a missing key is a no-op.
func (db *DB) DeleteCacheEntry(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// CacheUsage returns the total size of all cache entries in bytes.
func (db *DB) CacheUsage() (int64, error) {
	var total int64
	err := db.conn.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute cache usage: %w", err)
	}
	return total, nil
}

// EvictOldestCache removes the single oldest entry (by fetched_at) and
// returns its freed size. Returns ErrNoEntry when the cache is empty.
func (db *DB) EvictOldestCache() (string, int64, error) {
	var (
		key  string
		size int64
	)
	err := db.conn.QueryRow(`
		SELECT key, size_bytes FROM cache_entries
		ORDER BY fetched_at ASC, key ASC LIMIT 1`).Scan(&key, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNoEntry
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to find oldest cache entry: %w", err)
	}
	if err := db.DeleteCacheEntry(key); err != nil {
		return "", 0, err
	}
	return key, size, nil
}
