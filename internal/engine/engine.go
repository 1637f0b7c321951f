// Package engine wires the sync components together and exposes the
// public surface consumed by UI and domain logic: enqueueing operations,
// status for display, explicit sync, degraded reads, and events.
//
// The engine owns the durable store and the background goroutines
// (network monitor, scheduler, policy watcher). Nothing in here raises an
// unhandled fault toward the caller; every remote failure is converted
// into the op error taxonomy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sproutlabs/sproutsync/internal/cache"
	"github.com/sproutlabs/sproutsync/internal/netmon"
	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/scheduler"
	"github.com/sproutlabs/sproutsync/internal/store"
	"github.com/sproutlabs/sproutsync/internal/worker"
)

// Config configures an Engine.
type Config struct {
	// DBPath is the SQLite file backing the queue and cache.
	DBPath string

	// Policy supplies the sync policy; the engine starts its file
	// watcher when Run is called.
	Policy *policy.Manager

	// Deliverer applies mutations to the remote store.
	Deliverer remote.Deliverer

	// Fetcher reads snapshots for cache population. Optional; without
	// it ReadThrough serves cache hits only.
	Fetcher remote.Fetcher

	// Monitor observes connectivity. Required.
	Monitor *netmon.Monitor

	// DeliveryTimeout bounds each remote delivery call.
	DeliveryTimeout time.Duration

	// Retry overrides the scheduler's backoff policy (optional).
	Retry scheduler.RetryPolicy

	Logger *log.Logger
}

// Engine is the offline mutation-sync engine.
type Engine struct {
	db     *store.DB
	cache  *cache.Manager
	sched  *scheduler.Scheduler
	mon    *netmon.Monitor
	pol    *policy.Manager
	fetch  remote.Fetcher
	logger *log.Logger

	events chan Event

	wg sync.WaitGroup
}

// New opens the store, recovers crash state, and assembles the engine.
//
// Any operation left in flight by a previous process is reset to pending
// with its attempt count preserved; the delivery outcome is unknown and
// at-least-once semantics make re-delivery acceptable.
func New(cfg Config) (*Engine, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy manager is required")
	}
	if cfg.Deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if cfg.Monitor == nil {
		return nil, fmt.Errorf("network monitor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	reset, err := db.ResetInFlight()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if reset > 0 {
		cfg.Logger.Printf("Recovered %d in-flight operations from previous run", reset)
	}

	e := &Engine{
		db:     db,
		mon:    cfg.Monitor,
		pol:    cfg.Policy,
		fetch:  cfg.Fetcher,
		logger: cfg.Logger,
		events: make(chan Event, 128),
	}

	e.cache = cache.New(db, cfg.Policy.Current, nil)
	e.cache.OnWarning(func(pct float64) {
		e.emit(Event{Kind: EventQuotaWarning, UsagePercent: pct})
	})

	w := worker.New(worker.Config{
		DB:        db,
		Deliverer: cfg.Deliverer,
		Cache:     e.cache,
		Policy:    cfg.Policy.Current,
		Timeout:   cfg.DeliveryTimeout,
	})

	e.sched = scheduler.New(scheduler.Config{
		Worker:  w,
		DB:      db,
		Monitor: cfg.Monitor,
		Policy:  cfg.Policy.Current,
		Retry:   cfg.Retry,
		OnCompleted: func(res worker.Result) {
			e.emit(Event{Kind: EventSyncCompleted, Sync: &res})
			e.emitQueueChanged()
		},
	})

	cfg.Monitor.Subscribe(func(st netmon.Status) {
		e.emit(Event{Kind: EventNetState, NetState: string(st.State)})
	})

	return e, nil
}

// Run starts the background goroutines and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		_ = e.mon.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		if err := e.pol.Watch(ctx.Done()); err != nil {
			e.logger.Printf("Policy watcher stopped: %v", err)
		}
	}()

	err := e.sched.Run(ctx)

	e.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the durable store. Call after Run has returned.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Store exposes the underlying store for status surfaces (CLI, dashboard).
func (e *Engine) Store() *store.DB {
	return e.db
}

// EnqueueOperation queues a mutation for delivery and returns its id.
//
// Always succeeds locally regardless of connectivity; that is the point
// of the queue. An enqueued operation is never silently lost: it leaves
// the queue only via delivery, conflict resolution, or explicit
// cancellation.
func (e *Engine) EnqueueOperation(typ op.Type, modelName, recordID string, payload []byte) (string, error) {
	rec := op.Record{
		ID:         uuid.NewString(),
		Type:       typ,
		ModelName:  modelName,
		RecordID:   recordID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := e.db.EnqueueOp(rec); err != nil {
		return "", err
	}

	e.emitQueueChanged()
	return rec.ID, nil
}

// PendingCount returns how many operations await delivery.
func (e *Engine) PendingCount() (int, error) {
	return e.db.PendingCount()
}

// FailedOperations returns the operations needing a person's attention:
// conflicts deferred for manual review and records that exhausted their
// retry budget.
//
// Transport failures still inside their retry budget are the recovery
// timer's business and stay hidden until they exhaust it.
func (e *Engine) FailedOperations() ([]op.Record, error) {
	failed, err := e.db.ListFailed()
	if err != nil {
		return nil, err
	}

	var out []op.Record
	for _, rec := range failed {
		if rec.ErrorKind == op.ErrKindTransport {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// LastSyncedAt returns when the most recent sync pass finished, or the
// zero time if none has.
func (e *Engine) LastSyncedAt() (time.Time, error) {
	return e.db.LastSyncedAt()
}

// SyncNow runs an explicit sync pass.
//
// Rejects immediately with op.ErrOfflineRejected while offline or while
// the network-class restriction blocks the current link.
func (e *Engine) SyncNow(ctx context.Context) (worker.Result, error) {
	res, err := e.sched.RequestSync(ctx)
	if err == nil && !res.Coalesced {
		e.emitQueueChanged()
	}
	return res, err
}

// CancelOperation removes a pending operation from the queue.
//
// Rejected with op.ErrNotPending once the record is in flight or failed:
// an in-flight delivery may already have taken effect remotely, and
// failed records are resolved through RetryOperation or left for review.
func (e *Engine) CancelOperation(id string) error {
	if err := e.db.CancelOp(id); err != nil {
		return err
	}
	e.emitQueueChanged()
	return nil
}

// RetryOperation moves a failed operation back to pending immediately,
// bypassing the backoff cooldown. This is the manual-resolution path for
// deferred conflicts and exhausted records.
func (e *Engine) RetryOperation(id string) error {
	if err := e.db.RequeueOp(id); err != nil {
		return err
	}
	e.sched.Kick()
	e.emitQueueChanged()
	return nil
}

// ReadThrough returns the snapshot for resourceKey, preferring a fresh
// remote fetch and falling back to the cache when offline or when the
// fetch fails. Fetch failures never touch the operation queue.
func (e *Engine) ReadThrough(ctx context.Context, resourceKey string) ([]byte, error) {
	if e.fetch != nil && e.mon.Online() {
		data, err := e.fetch.Fetch(ctx, resourceKey)
		if err == nil {
			if cerr := e.cache.RecordWrite(resourceKey, data, time.Now()); cerr != nil {
				e.logger.Printf("Failed to cache %s: %v", resourceKey, cerr)
			}
			return data, nil
		}
		e.logger.Printf("Fetch failed for %s, trying cache: %v", resourceKey, err)
	}

	entry, err := e.cache.Read(resourceKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s unavailable offline", op.ErrOfflineRejected, resourceKey)
	}
	return entry.Value, nil
}

// CacheUsage returns the total cached bytes.
func (e *Engine) CacheUsage() (int64, error) {
	return e.cache.Usage()
}

// NetworkStatus returns the monitor's current view.
func (e *Engine) NetworkStatus() netmon.Status {
	return e.mon.Status()
}

// Events returns the engine's event stream. The channel is buffered;
// events are dropped (with a log line) if the consumer falls behind.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emitQueueChanged() {
	count, err := e.db.PendingCount()
	if err != nil {
		e.logger.Printf("Failed to count pending operations: %v", err)
		return
	}
	e.emit(Event{Kind: EventQueueChanged, PendingCount: count})
}

func (e *Engine) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case e.events <- ev:
	default:
		e.logger.Printf("Event dropped (consumer behind): %s", ev.Kind)
	}
}
