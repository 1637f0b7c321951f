package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sproutlabs/sproutsync/internal/netmon"
	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
)

// stubRemote is an in-memory remote store for engine tests.
type stubRemote struct {
	mu        sync.Mutex
	delivered []string
	failing   bool
	resources map[string][]byte
}

func (s *stubRemote) Deliver(_ context.Context, rec op.Record, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("%w: unreachable", op.ErrTransport)
	}
	s.delivered = append(s.delivered, rec.ID)
	return nil
}

func (s *stubRemote) Fetch(_ context.Context, resourceKey string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, fmt.Errorf("%w: unreachable", op.ErrTransport)
	}
	data, ok := s.resources[resourceKey]
	if !ok {
		return nil, fmt.Errorf("%w: no such resource", op.ErrTransport)
	}
	return data, nil
}

func (s *stubRemote) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

type testEngine struct {
	*Engine
	remote *stubRemote
	mon    *netmon.Monitor
	dbPath string
}

func setupEngine(t *testing.T) *testEngine {
	t.Helper()
	return setupEngineAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func setupEngineAt(t *testing.T, dbPath string) *testEngine {
	t.Helper()

	rem := &stubRemote{resources: map[string][]byte{}}
	mon := netmon.New(netmon.Config{})

	pol := policy.NewManager("", nil)

	e, err := New(Config{
		DBPath:    dbPath,
		Policy:    pol,
		Deliverer: rem,
		Fetcher:   rem,
		Monitor:   mon,
		Logger:    log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	return &testEngine{Engine: e, remote: rem, mon: mon, dbPath: dbPath}
}

func TestEnqueueWhileOffline(t *testing.T) {
	te := setupEngine(t)

	id, err := te.EnqueueOperation(op.TypeCreate, "attendance_log", "att-1", []byte(`{"state":"in"}`))
	if err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated operation id")
	}

	count, err := te.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 pending while offline, got %d", count)
	}
}

func TestSyncNowRejectedOffline(t *testing.T) {
	te := setupEngine(t)

	if _, err := te.EnqueueOperation(op.TypeCreate, "m", "r", nil); err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}

	if _, err := te.SyncNow(context.Background()); !errors.Is(err, op.ErrOfflineRejected) {
		t.Errorf("expected ErrOfflineRejected, got %v", err)
	}

	// Rejection must not touch the queue.
	count, _ := te.PendingCount()
	if count != 1 {
		t.Errorf("rejected sync must leave the queue intact, got %d", count)
	}
}

func TestSyncNowDrainsQueue(t *testing.T) {
	te := setupEngine(t)

	for i := 0; i < 3; i++ {
		if _, err := te.EnqueueOperation(op.TypeUpdate, "m", fmt.Sprintf("r-%d", i), []byte(`{}`)); err != nil {
			t.Fatalf("EnqueueOperation failed: %v", err)
		}
	}

	te.mon.Observe(netmon.StateOnline)

	res, err := te.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if res.Delivered != 3 {
		t.Errorf("expected 3 delivered, got %d", res.Delivered)
	}

	count, _ := te.PendingCount()
	if count != 0 {
		t.Errorf("queue should be empty, got %d", count)
	}

	ts, err := te.LastSyncedAt()
	if err != nil {
		t.Fatalf("LastSyncedAt failed: %v", err)
	}
	if ts.IsZero() {
		t.Error("last synced at should be set after a pass")
	}
}

func TestCancelOperation(t *testing.T) {
	te := setupEngine(t)

	id, err := te.EnqueueOperation(op.TypeDelete, "m", "r", nil)
	if err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}
	if err := te.CancelOperation(id); err != nil {
		t.Fatalf("CancelOperation failed: %v", err)
	}

	count, _ := te.PendingCount()
	if count != 0 {
		t.Errorf("cancelled op still counted, got %d", count)
	}

	if err := te.CancelOperation("missing"); !errors.Is(err, op.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryOperationRequeuesFailed(t *testing.T) {
	te := setupEngine(t)

	id, err := te.EnqueueOperation(op.TypeUpdate, "m", "r", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}

	te.remote.setFailing(true)
	te.mon.Observe(netmon.StateOnline)
	if _, err := te.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	failed, err := te.Store().ListFailed()
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != id {
		t.Fatalf("expected the operation in the failed list, got %+v", failed)
	}

	if err := te.RetryOperation(id); err != nil {
		t.Fatalf("RetryOperation failed: %v", err)
	}

	rec, err := te.Store().GetOp(id)
	if err != nil {
		t.Fatalf("GetOp failed: %v", err)
	}
	if rec.State != op.StatePending {
		t.Errorf("retried op should be pending, got %q", rec.State)
	}
}

func TestFailedOperationsHidesRetryableTransport(t *testing.T) {
	te := setupEngine(t)

	id, err := te.EnqueueOperation(op.TypeUpdate, "m", "r", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}

	te.remote.setFailing(true)
	te.mon.Observe(netmon.StateOnline)
	if _, err := te.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	// A transport failure inside its retry budget is the recovery
	// timer's business, not the user's.
	failed, err := te.FailedOperations()
	if err != nil {
		t.Fatalf("FailedOperations failed: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("retryable transport failure must stay hidden, got %+v", failed)
	}

	// Once the budget is gone the record surfaces.
	if err := te.Store().MarkExhausted(id); err != nil {
		t.Fatalf("MarkExhausted failed: %v", err)
	}
	failed, err = te.FailedOperations()
	if err != nil {
		t.Fatalf("FailedOperations failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorKind != op.ErrKindExhausted {
		t.Fatalf("expected the exhausted record surfaced, got %+v", failed)
	}
}

func TestReadThroughFetchesAndCaches(t *testing.T) {
	te := setupEngine(t)
	te.remote.resources["roster"] = []byte(`{"children":3}`)
	te.mon.Observe(netmon.StateOnline)

	data, err := te.ReadThrough(context.Background(), "roster")
	if err != nil {
		t.Fatalf("ReadThrough failed: %v", err)
	}
	if string(data) != `{"children":3}` {
		t.Errorf("unexpected data: %s", data)
	}

	// Now offline: the cached copy serves the read.
	te.mon.Observe(netmon.StateOffline)
	data, err = te.ReadThrough(context.Background(), "roster")
	if err != nil {
		t.Fatalf("offline ReadThrough failed: %v", err)
	}
	if string(data) != `{"children":3}` {
		t.Errorf("cache fallback mismatch: %s", data)
	}
}

func TestReadThroughMissOfflineRejected(t *testing.T) {
	te := setupEngine(t)

	if _, err := te.ReadThrough(context.Background(), "never-fetched"); !errors.Is(err, op.ErrOfflineRejected) {
		t.Errorf("expected ErrOfflineRejected for an uncached offline read, got %v", err)
	}
}

func TestReadThroughFallsBackOnFetchFailure(t *testing.T) {
	te := setupEngine(t)
	te.remote.resources["roster"] = []byte(`{"v":1}`)
	te.mon.Observe(netmon.StateOnline)

	if _, err := te.ReadThrough(context.Background(), "roster"); err != nil {
		t.Fatalf("ReadThrough failed: %v", err)
	}

	// Remote starts failing while the monitor still says online; the
	// cached copy must still serve.
	te.remote.setFailing(true)
	data, err := te.ReadThrough(context.Background(), "roster")
	if err != nil {
		t.Fatalf("ReadThrough with failing fetch failed: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("unexpected data: %s", data)
	}

	// Fetch failures never create queue work.
	count, _ := te.PendingCount()
	if count != 0 {
		t.Errorf("fetch failure must not touch the queue, got %d pending", count)
	}
}

func TestRestartRecoversInFlight(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "restart.db")

	first := setupEngineAt(t, dbPath)
	id, err := first.EnqueueOperation(op.TypeUpdate, "m", "r", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}
	if err := first.Store().MarkInFlight(id); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := setupEngineAt(t, dbPath)
	rec, err := second.Store().GetOp(id)
	if err != nil {
		t.Fatalf("GetOp failed: %v", err)
	}
	if rec.State != op.StatePending {
		t.Errorf("in-flight op should be pending after restart, got %q", rec.State)
	}
}

func TestEventsEmittedOnEnqueue(t *testing.T) {
	te := setupEngine(t)

	if _, err := te.EnqueueOperation(op.TypeCreate, "m", "r", nil); err != nil {
		t.Fatalf("EnqueueOperation failed: %v", err)
	}

	select {
	case ev := <-te.Events():
		if ev.Kind != EventQueueChanged {
			t.Errorf("expected queue_changed, got %s", ev.Kind)
		}
		if ev.PendingCount != 1 {
			t.Errorf("expected pending count 1, got %d", ev.PendingCount)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted on enqueue")
	}
}

func TestNetworkTransitionEvent(t *testing.T) {
	te := setupEngine(t)

	te.mon.Observe(netmon.StateOnline)

	select {
	case ev := <-te.Events():
		if ev.Kind != EventNetState || ev.NetState != "online" {
			t.Errorf("expected online net_state event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted on network transition")
	}
}
