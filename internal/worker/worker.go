// Package worker executes sync passes: draining the operation queue
// against the remote store with ordering, retry accounting, and circuit
// breaking.
//
// A pass is strictly sequential. The worker suspends only at the remote
// delivery call, and no other engine logic runs between issuing a delivery
// and observing its outcome, which is what makes the ordering guarantees
// trivial to reason about. Parallel delivery is an explicit non-goal;
// ordering is worth more than throughput at this volume.
package worker

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/sproutlabs/sproutsync/internal/cache"
	"github.com/sproutlabs/sproutsync/internal/conflict"
	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/store"
)

const (
	// breakerThreshold is how many consecutive delivery failures abort
	// the rest of a pass. Further attempts against an unreachable remote
	// store would only burn the retry budget of every queued operation.
	breakerThreshold = 3

	// batchSize bounds how many pending records are pulled per queue
	// read within a pass.
	batchSize = 100

	// defaultTimeout bounds each remote delivery call.
	defaultTimeout = 10 * time.Second
)

// Result summarizes one sync pass.
type Result struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Delivered counts operations confirmed by the remote store,
	// including forced re-submissions after a conflict.
	Delivered int `json:"delivered"`

	// ConflictsResolved counts conflicts settled automatically
	// (accept-remote drops and force-local overrides).
	ConflictsResolved int `json:"conflicts_resolved"`

	// Deferred counts conflicts handed to the user for manual choice.
	Deferred int `json:"deferred"`

	// Failed counts transport/server failures.
	Failed int `json:"failed"`

	// Aborted is true when the circuit breaker cut the pass short.
	// Remaining records were left untouched.
	Aborted bool `json:"aborted"`

	// Coalesced is true when no pass ran because one was already in
	// progress; the scheduler folded this request into a rerun.
	Coalesced bool `json:"coalesced"`
}

// Duration returns the pass wall time.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Worker drains the operation queue against the remote store.
type Worker struct {
	db        *store.DB
	deliverer remote.Deliverer
	cache     *cache.Manager
	pol       func() policy.Policy
	timeout   time.Duration
	logger    *log.Logger
}

// Config configures a Worker.
type Config struct {
	DB        *store.DB
	Deliverer remote.Deliverer
	Cache     *cache.Manager
	Policy    func() policy.Policy

	// Timeout bounds each remote delivery call (default: 10s).
	// A timeout counts as a transport error.
	Timeout time.Duration

	Logger *log.Logger
}

// New creates a Worker.
func New(cfg Config) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[worker] ", log.LstdFlags)
	}
	return &Worker{
		db:        cfg.DB,
		deliverer: cfg.Deliverer,
		cache:     cfg.Cache,
		pol:       cfg.Policy,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// outcome classifies what one delivery attempt did to its record.
type outcome int

const (
	// outcomeSkipped left the record untouched (cancelled underneath us,
	// or another record is stuck in flight).
	outcomeSkipped outcome = iota
	// outcomeSettled removed the record: delivered, forced through, or
	// dropped in favor of the remote version.
	outcomeSettled
	// outcomeFailed marked the record failed with a transport error.
	outcomeFailed
	// outcomeDeferred parked the record for manual conflict resolution.
	outcomeDeferred
)

// RunPass executes exactly one sync pass.
//
// Records are delivered in (priority weight, enqueued_at) order, one at a
// time. When a record fails or is parked, later operations for the same
// (model, record id) target are held back for the rest of the pass: an
// earlier write must never be retried after a later one has already been
// committed remotely. The pass records its completion time whether or not
// it aborted early, so status displays always show when the engine last
// tried.
//
// Callers must ensure mutual exclusion; the scheduler enforces the
// single-pass invariant process-wide.
func (w *Worker) RunPass(ctx context.Context) (Result, error) {
	res := Result{StartedAt: time.Now()}
	pol := w.pol()
	consecutiveFailures := 0

	// Targets whose earliest operation failed or was parked this pass.
	blocked := make(map[string]bool)

drain:
	for {
		batch, err := w.db.DequeueBatch(batchSize, pol.WeightFor)
		if err != nil {
			w.finish(&res)
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		attempted := 0
		progressed := false
		for _, rec := range batch {
			if ctx.Err() != nil {
				res.Aborted = true
				break drain
			}
			if blocked[rec.CacheKey()] {
				continue
			}
			attempted++

			switch w.deliverOne(ctx, rec, pol, &res) {
			case outcomeSettled:
				consecutiveFailures = 0
				progressed = true
			case outcomeFailed:
				consecutiveFailures++
				blocked[rec.CacheKey()] = true
				progressed = true
			case outcomeDeferred:
				consecutiveFailures = 0
				blocked[rec.CacheKey()] = true
				progressed = true
			case outcomeSkipped:
			}

			if consecutiveFailures >= breakerThreshold {
				w.logger.Printf("Circuit breaker tripped after %d consecutive failures, aborting pass",
					consecutiveFailures)
				res.Aborted = true
				break drain
			}
		}

		// Every remaining pending record is blocked behind an earlier
		// failure; there is nothing left this pass can deliver.
		if attempted == 0 {
			break
		}

		// Records were attempted but none changed state (a record stuck
		// in flight makes every MarkInFlight a no-op). Re-querying would
		// return the same batch forever.
		if !progressed {
			w.logger.Printf("No progress on a batch of %d records, aborting pass", len(batch))
			res.Aborted = true
			break
		}
	}

	w.finish(&res)
	w.logger.Printf("Pass complete: delivered=%d conflicts=%d deferred=%d failed=%d aborted=%v (%v)",
		res.Delivered, res.ConflictsResolved, res.Deferred, res.Failed, res.Aborted,
		res.Duration().Round(time.Millisecond))
	return res, nil
}

// deliverOne attempts a single record and classifies the result.
func (w *Worker) deliverOne(ctx context.Context, rec op.Record, pol policy.Policy, res *Result) outcome {
	if err := w.db.MarkInFlight(rec.ID); err != nil {
		// Cancelled or otherwise gone between dequeue and delivery.
		w.logger.Printf("Skipping %s: %v", rec.ID, err)
		return outcomeSkipped
	}

	err := w.deliver(ctx, rec, false)

	switch {
	case err == nil:
		w.complete(rec)
		res.Delivered++
		return outcomeSettled

	case errors.Is(err, op.ErrConflict):
		return w.resolveConflict(ctx, rec, err, pol, res)

	default:
		w.fail(rec, err, res)
		return outcomeFailed
	}
}

// resolveConflict applies the configured conflict policy to a local
// operation the remote store rejected with a version mismatch.
//
// Conflicts are not bare failures: only a forced re-submission that itself
// fails counts toward the circuit breaker.
func (w *Worker) resolveConflict(ctx context.Context, rec op.Record, cause error, pol policy.Policy, res *Result) outcome {
	var ce *remote.ConflictError
	if !errors.As(cause, &ce) {
		ce = &remote.ConflictError{}
	}

	resolution := conflict.Resolve(rec, ce.RemoteVersion, pol.ConflictMode)
	w.logger.Printf("Conflict on %s (%s): %s", rec.ID, rec.CacheKey(), resolution)

	switch resolution {
	case conflict.AcceptRemote:
		// Drop the local op; the remote version stands. The mirrored
		// cache entry is stale either way.
		w.complete(rec)
		res.ConflictsResolved++
		return outcomeSettled

	case conflict.ForceLocal:
		if err := w.deliver(ctx, rec, true); err != nil {
			if errors.Is(err, op.ErrConflict) {
				// Still conflicting despite the override; a person
				// has to look at this one.
				w.park(rec, err, res)
				return outcomeDeferred
			}
			w.fail(rec, err, res)
			return outcomeFailed
		}
		w.complete(rec)
		res.Delivered++
		res.ConflictsResolved++
		return outcomeSettled

	default:
		w.park(rec, cause, res)
		return outcomeDeferred
	}
}

// deliver calls the remote store with the per-call timeout applied.
func (w *Worker) deliver(ctx context.Context, rec op.Record, force bool) error {
	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.deliverer.Deliver(dctx, rec, force)
}

// complete removes a settled record and invalidates its cache mirror.
func (w *Worker) complete(rec op.Record) {
	if err := w.db.MarkDelivered(rec.ID); err != nil {
		w.logger.Printf("Failed to remove delivered operation %s: %v", rec.ID, err)
		return
	}
	if w.cache != nil {
		if err := w.cache.Invalidate(rec.CacheKey()); err != nil {
			w.logger.Printf("Failed to invalidate cache for %s: %v", rec.CacheKey(), err)
		}
	}
}

// fail records a transport failure.
func (w *Worker) fail(rec op.Record, cause error, res *Result) {
	if err := w.db.MarkFailed(rec.ID, op.ErrKindTransport, cause.Error(), time.Now()); err != nil {
		w.logger.Printf("Failed to mark operation %s failed: %v", rec.ID, err)
	}
	res.Failed++
}

// park holds a conflicting record for manual resolution.
func (w *Worker) park(rec op.Record, cause error, res *Result) {
	if err := w.db.MarkFailed(rec.ID, op.ErrKindConflict, cause.Error(), time.Now()); err != nil {
		w.logger.Printf("Failed to defer operation %s: %v", rec.ID, err)
	}
	res.Deferred++
}

// finish stamps the pass completion time, aborted or not.
func (w *Worker) finish(res *Result) {
	res.FinishedAt = time.Now()
	if err := w.db.SetLastSyncedAt(res.FinishedAt); err != nil {
		w.logger.Printf("Failed to record pass completion: %v", err)
	}
}
