// Package cache manages the bounded local mirror of remote reads and the
// quota discipline over it.
//
// Entries are written on successful remote fetches and consulted when the
// network monitor reports offline or a fetch fails. The quota manager
// evicts oldest-fetched-first once usage exceeds the configured limit and
// emits an edge-triggered warning when usage crosses the warning
// percentage.
package cache

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
	"github.com/sproutlabs/sproutsync/internal/store"
)

// Manager enforces the cache quota and retention policy.
type Manager struct {
	db     *store.DB
	pol    func() policy.Policy
	logger *log.Logger

	mu        sync.Mutex
	warned    bool // true while usage sits above the warning threshold
	onWarning func(usagePercent float64)
}

// New creates a Manager. pol supplies the current policy so administrator
// edits to the quota apply without reconstructing the manager.
func New(db *store.DB, pol func() policy.Policy, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Manager{
		db:     db,
		pol:    pol,
		logger: logger,
	}
}

// OnWarning registers the callback fired when usage crosses the warning
// percentage. Fired once per upward crossing; re-arms when usage drops
// back below the threshold.
func (m *Manager) OnWarning(fn func(usagePercent float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarning = fn
}

// RecordWrite stores a fetched snapshot and enforces the quota.
//
// Quota overruns are handled silently via eviction; the only outward
// signal is the warning event. A value larger than the whole quota is
// rejected with op.ErrQuotaExceeded rather than evicting every other
// entry just to hold it.
func (m *Manager) RecordWrite(key string, value []byte, fetchedAt time.Time) error {
	if int64(len(value)) > m.pol().MaxCacheBytes {
		return fmt.Errorf("%w: %s is %d bytes", op.ErrQuotaExceeded, key, len(value))
	}

	entry := store.CacheEntry{
		Key:       key,
		Value:     value,
		FetchedAt: fetchedAt,
		SizeBytes: int64(len(value)),
	}
	if err := m.db.PutCacheEntry(entry); err != nil {
		return err
	}

	m.checkWarning()

	if _, err := m.EvictIfNeeded(); err != nil {
		return err
	}
	return nil
}

// Read returns the cached snapshot for key, or store.ErrNoEntry.
func (m *Manager) Read(key string) (store.CacheEntry, error) {
	return m.db.GetCacheEntry(key)
}

// Usage returns the total cached bytes.
func (m *Manager) Usage() (int64, error) {
	return m.db.CacheUsage()
}

// EvictIfNeeded removes oldest-fetched entries until usage is within
// quota. Returns the number of entries evicted.
func (m *Manager) EvictIfNeeded() (int, error) {
	quota := m.pol().MaxCacheBytes

	usage, err := m.db.CacheUsage()
	if err != nil {
		return 0, err
	}

	evicted := 0
	for usage > quota {
		key, size, err := m.db.EvictOldestCache()
		if err != nil {
			return evicted, fmt.Errorf("failed to evict cache entry: %w", err)
		}
		m.logger.Printf("Evicted %s (%d bytes)", key, size)
		usage -= size
		evicted++
	}

	if evicted > 0 {
		m.checkWarning()
	}
	return evicted, nil
}

// Invalidate drops the entry mirroring a record that was just written
// remotely; the next read fetches the authoritative version.
func (m *Manager) Invalidate(key string) error {
	return m.db.DeleteCacheEntry(key)
}

// checkWarning fires the quota warning on upward crossings of the warning
// threshold and re-arms once usage drops back below it.
func (m *Manager) checkWarning() {
	pol := m.pol()

	usage, err := m.db.CacheUsage()
	if err != nil {
		m.logger.Printf("Warning check failed: %v", err)
		return
	}

	percent := float64(usage) / float64(pol.MaxCacheBytes) * 100
	threshold := float64(pol.WarnPercent)

	m.mu.Lock()
	var notify func(float64)
	switch {
	case percent >= threshold && !m.warned:
		m.warned = true
		notify = m.onWarning
	case percent < threshold && m.warned:
		m.warned = false
	}
	m.mu.Unlock()

	if notify != nil {
		m.logger.Printf("Cache usage at %.1f%% of quota", percent)
		notify(percent)
	}
}
