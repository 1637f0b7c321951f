// Package scheduler decides when sync passes run and enforces that only
// one runs at a time process-wide.
//
// Triggers, in order of precedence:
//  1. explicit user-requested sync
//  2. offline -> online transition
//  3. periodic timer at the configured interval while online
//  4. recovery timer re-examining failed records
//
// A trigger arriving during an active pass is coalesced into a single
// "run again after this one" rather than queued N times.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sproutlabs/sproutsync/internal/netmon"
	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
	"github.com/sproutlabs/sproutsync/internal/store"
	"github.com/sproutlabs/sproutsync/internal/worker"
)

// recoveryInterval is how often failed records are re-examined for
// retry eligibility.
const recoveryInterval = 15 * time.Second

// PassRunner executes one sync pass. Satisfied by *worker.Worker.
type PassRunner interface {
	RunPass(ctx context.Context) (worker.Result, error)
}

// Config configures a Scheduler.
type Config struct {
	Worker  PassRunner
	DB      *store.DB
	Monitor *netmon.Monitor
	Policy  func() policy.Policy

	// Retry decides how long failed records cool down between attempts
	// (default: FixedBackoff with the 30s floor).
	Retry RetryPolicy

	// OnCompleted is invoked after every pass (optional).
	OnCompleted func(worker.Result)

	Logger *log.Logger
}

// Scheduler arbitrates sync triggers.
type Scheduler struct {
	worker      PassRunner
	db          *store.DB
	monitor     *netmon.Monitor
	pol         func() policy.Policy
	retry       RetryPolicy
	onCompleted func(worker.Result)
	logger      *log.Logger

	mu      sync.Mutex
	running bool
	rerun   bool

	kick chan struct{}
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Retry == nil {
		cfg.Retry = FixedBackoff{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		worker:      cfg.Worker,
		db:          cfg.DB,
		monitor:     cfg.Monitor,
		pol:         cfg.Policy,
		retry:       cfg.Retry,
		onCompleted: cfg.OnCompleted,
		logger:      cfg.Logger,
		kick:        make(chan struct{}, 1),
	}
}

// Run drives the scheduled triggers until ctx is cancelled.
//
// The reconnect trigger is registered with the network monitor here, so
// Run must be called before transitions are expected to schedule passes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.monitor.Subscribe(func(st netmon.Status) {
		if st.State == netmon.StateOnline {
			s.logger.Printf("Reconnect detected, scheduling sync pass")
			s.Kick()
		}
	})

	interval := time.NewTimer(s.pol().SyncInterval)
	defer interval.Stop()

	recovery := time.NewTicker(recoveryInterval)
	defer recovery.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.kick:
			if s.scheduledAllowed() {
				s.runPass(ctx)
			}

		case <-interval.C:
			if s.pol().BackgroundSync && s.scheduledAllowed() {
				s.runPass(ctx)
			}
			// Re-read the interval each cycle so administrator edits
			// apply without a restart.
			interval.Reset(s.pol().SyncInterval)

		case <-recovery.C:
			s.recoverFailed()
		}
	}
}

// Kick schedules a pass at the next opportunity. Multiple kicks before
// the loop services the channel collapse into one.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RequestSync runs an explicit, user-requested pass.
//
// Rejects immediately with op.ErrOfflineRejected while offline or while
// the network-class restriction blocks the current link. If a pass is
// already running the request coalesces: the active pass is followed by
// one more, and the returned Result has Coalesced set.
func (s *Scheduler) RequestSync(ctx context.Context) (worker.Result, error) {
	st := s.monitor.Status()
	if st.State != netmon.StateOnline {
		return worker.Result{}, op.ErrOfflineRejected
	}
	if !s.linkAllowed(st) {
		return worker.Result{}, fmt.Errorf("%w: link class %s blocked by policy",
			op.ErrOfflineRejected, st.Link)
	}
	return s.runPass(ctx)
}

// scheduledAllowed gates non-explicit triggers on connectivity and the
// network-class restriction.
func (s *Scheduler) scheduledAllowed() bool {
	st := s.monitor.Status()
	return st.State == netmon.StateOnline && s.linkAllowed(st)
}

func (s *Scheduler) linkAllowed(st netmon.Status) bool {
	if s.pol().NetworkRestriction == policy.NetworkUnmeteredOnly {
		return st.Link == netmon.LinkUnmetered
	}
	return true
}

// runPass executes passes under mutual exclusion, honoring coalesced
// rerun requests before releasing the single-flight flag.
func (s *Scheduler) runPass(ctx context.Context) (worker.Result, error) {
	s.mu.Lock()
	if s.running {
		s.rerun = true
		s.mu.Unlock()
		return worker.Result{Coalesced: true}, nil
	}
	s.running = true
	s.mu.Unlock()

	for {
		res, err := s.worker.RunPass(ctx)
		if err != nil {
			s.logger.Printf("Sync pass error: %v", err)
		} else if s.onCompleted != nil {
			s.onCompleted(res)
		}

		s.mu.Lock()
		if !s.rerun {
			s.running = false
			s.mu.Unlock()
			return res, err
		}
		s.rerun = false
		s.mu.Unlock()
	}
}

// recoverFailed re-examines failed records.
//
// A record becomes eligible for re-queueing only if its attempt budget is
// not exhausted and the backoff cooldown has elapsed. Records out of
// budget are flagged exhausted and left in the queue for manual
// intervention; deferred conflicts are skipped entirely (they wait for a
// person, not a timer).
func (s *Scheduler) recoverFailed() {
	failed, err := s.db.ListFailed()
	if err != nil {
		s.logger.Printf("Recovery scan failed: %v", err)
		return
	}

	pol := s.pol()
	now := time.Now()
	requeued := 0

	for _, rec := range failed {
		if rec.ErrorKind != op.ErrKindTransport {
			continue
		}

		if rec.Attempts >= pol.MaxRetries {
			if err := s.db.MarkExhausted(rec.ID); err != nil {
				s.logger.Printf("Failed to mark %s exhausted: %v", rec.ID, err)
				continue
			}
			s.logger.Printf("Giving up on %s: %v (%d attempts)", rec.ID, op.ErrRetriesExhausted, rec.Attempts)
			continue
		}

		if now.Sub(rec.LastAttemptAt) < s.retry.Cooldown(rec.Attempts) {
			continue
		}

		if err := s.db.RequeueOp(rec.ID); err != nil {
			s.logger.Printf("Failed to requeue %s: %v", rec.ID, err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Printf("Requeued %d failed operations", requeued)
		if s.scheduledAllowed() {
			s.Kick()
		}
	}
}
