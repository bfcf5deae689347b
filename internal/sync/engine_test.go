package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"weelo/internal/config"
	"weelo/internal/database"
	"weelo/internal/events"
	"weelo/internal/models"

	"github.com/rs/zerolog"
)

type fakeConnectivity struct {
	online atomic.Bool
	ch     chan bool
}

func newFakeConnectivity(online bool) *fakeConnectivity {
	f := &fakeConnectivity{ch: make(chan bool, 8)}
	f.online.Store(online)
	return f
}

func (f *fakeConnectivity) IsCurrentlyOnline() bool { return f.online.Load() }

func (f *fakeConnectivity) Subscribe() <-chan bool { return f.ch }

func (f *fakeConnectivity) flip(online bool) {
	f.online.Store(online)
	f.ch <- online
}

func newTestEngine(t *testing.T, conn *fakeConnectivity, backend *fakeBackend) (*Engine, *database.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	nop := zerolog.Nop()

	store, err := database.NewStore(path, &nop)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.SyncConfig{
		BatchSize:            10,
		MaxRetries:           5,
		ConnectivityDebounce: 20 * time.Millisecond,
		QueueCoalesceDelay:   10 * time.Millisecond,
		Retention:            7 * 24 * time.Hour,
	}

	bus := events.NewEventBus()
	dispatcher := NewDispatcher(backend, &nop)
	tracker := NewStatusTracker(bus)
	return NewEngine(store, dispatcher, conn, tracker, nil, bus, cfg, &nop), store
}

func queueTestOp(t *testing.T, engine *Engine, kind models.OperationKind) *models.PendingOperation {
	t.Helper()
	op := &models.PendingOperation{Kind: kind, Payload: `{}`}
	if err := engine.QueueOperation(context.Background(), op); err != nil {
		t.Fatalf("queue operation: %v", err)
	}
	// Keep creation timestamps strictly ordered for FIFO assertions.
	time.Sleep(2 * time.Millisecond)
	return op
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func opStatus(t *testing.T, store *database.Store, id string) models.OperationStatus {
	t.Helper()
	op, err := store.GetOperation(context.Background(), id)
	if err != nil {
		t.Fatalf("get operation %s: %v", id, err)
	}
	return op.Status
}

func TestSyncNowWhileOffline(t *testing.T) {
	conn := newFakeConnectivity(false)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	first := queueTestOp(t, engine, models.KindCreateBooking)
	second := queueTestOp(t, engine, models.KindSyncLocation)

	if engine.SyncNow(ctx) {
		t.Fatalf("expected offline run to report failure")
	}
	if got := engine.Status(); got != models.SyncOffline {
		t.Fatalf("expected status offline, got %s", got)
	}
	if n := len(backend.callIDs()); n != 0 {
		t.Fatalf("expected no dispatches while offline, got %d", n)
	}
	if got := opStatus(t, store, first.ID); got != models.OpStatusPending {
		t.Fatalf("expected first op pending, got %s", got)
	}
	if got := opStatus(t, store, second.ID); got != models.OpStatusPending {
		t.Fatalf("expected second op pending, got %s", got)
	}
}

func TestSyncNowDrainsQueueInOrder(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	ops := []*models.PendingOperation{
		queueTestOp(t, engine, models.KindCreateBooking),
		queueTestOp(t, engine, models.KindUpdateProfile),
		queueTestOp(t, engine, models.KindSyncLocation),
	}

	if !engine.SyncNow(ctx) {
		t.Fatalf("expected run to succeed")
	}
	if got := engine.Status(); got != models.SyncSynced {
		t.Fatalf("expected status synced, got %s", got)
	}

	calls := backend.callIDs()
	if len(calls) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(calls))
	}
	for i, op := range ops {
		if calls[i] != op.ID {
			t.Fatalf("dispatch %d: expected %s, got %s", i, op.ID, calls[i])
		}
		if got := opStatus(t, store, op.ID); got != models.OpStatusCompleted {
			t.Fatalf("expected op %s completed, got %s", op.ID, got)
		}
	}
}

func TestSyncNowRejectedWhileSyncing(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	backend.started = make(chan string, 1)
	backend.block = make(chan struct{})
	engine, _ := newTestEngine(t, conn, backend)
	ctx := context.Background()

	queueTestOp(t, engine, models.KindSyncLocation)

	result := make(chan bool, 1)
	go func() { result <- engine.SyncNow(ctx) }()

	<-backend.started
	if engine.SyncNow(ctx) {
		t.Fatalf("expected second call to be rejected while a run is active")
	}
	close(backend.block)

	if !<-result {
		t.Fatalf("expected the first run to succeed")
	}
}

func TestFailingOperationReachesRetryCeiling(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	backend.err = errors.New("remote down")
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	op := queueTestOp(t, engine, models.KindCreateBooking)

	for i := 1; i <= 5; i++ {
		if engine.SyncNow(ctx) {
			t.Fatalf("run %d: expected failure", i)
		}
		if got := engine.Status(); got != models.SyncFailed {
			t.Fatalf("run %d: expected status failed, got %s", i, got)
		}

		got, err := store.GetOperation(ctx, op.ID)
		if err != nil {
			t.Fatalf("get operation: %v", err)
		}
		if got.RetryCount != i {
			t.Fatalf("run %d: expected retry count %d, got %d", i, i, got.RetryCount)
		}
	}

	// The fifth run's maintenance sweep moved the record to failed.
	if got := opStatus(t, store, op.ID); got != models.OpStatusFailed {
		t.Fatalf("expected failed after exhausting retries, got %s", got)
	}

	// No further automatic attempts.
	if !engine.SyncNow(ctx) {
		t.Fatalf("expected empty run to resolve synced")
	}
	if n := len(backend.callIDs()); n != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", n)
	}
}

func TestBatchCeiling(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		op := &models.PendingOperation{Kind: models.KindSyncLocation, Payload: `{}`}
		if err := engine.QueueOperation(ctx, op); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}

	if !engine.SyncNow(ctx) {
		t.Fatalf("expected run to succeed")
	}
	if n := len(backend.callIDs()); n != 10 {
		t.Fatalf("expected batch ceiling of 10 dispatches, got %d", n)
	}

	pending, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if pending != 5 {
		t.Fatalf("expected 5 operations left pending, got %d", pending)
	}
}

func TestFailingOperationDoesNotStarveBatch(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	failing := queueTestOp(t, engine, models.KindCreateBooking)
	trailing := queueTestOp(t, engine, models.KindSyncLocation)
	backend.failOn(failing.ID)

	if engine.SyncNow(ctx) {
		t.Fatalf("expected a run with a failing operation to resolve failed")
	}
	if got := engine.Status(); got != models.SyncFailed {
		t.Fatalf("expected status failed, got %s", got)
	}

	// The failing operation gets one attempt; everything queued behind it
	// is still drained in the same run.
	calls := backend.callIDs()
	if len(calls) != 2 || calls[0] != failing.ID || calls[1] != trailing.ID {
		t.Fatalf("expected both operations dispatched in order, got %v", calls)
	}
	if got := opStatus(t, store, trailing.ID); got != models.OpStatusCompleted {
		t.Fatalf("expected trailing op completed, got %s", got)
	}

	got, err := store.GetOperation(ctx, failing.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if got.Status != models.OpStatusPending || got.RetryCount != 1 {
		t.Fatalf("expected failing op pending with 1 attempt, got %s retry %d", got.Status, got.RetryCount)
	}
}

func TestInFlightDispatchSurvivesRunCancellation(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	backend.started = make(chan string, 2)
	backend.block = make(chan struct{})
	engine, store := newTestEngine(t, conn, backend)

	inflight := queueTestOp(t, engine, models.KindSyncLocation)
	waiting := queueTestOp(t, engine, models.KindUpdateProfile)

	runCtx, cancelRun := context.WithCancel(context.Background())
	result := make(chan bool, 1)
	go func() { result <- engine.SyncNow(runCtx) }()

	<-backend.started
	cancelRun()
	close(backend.block)
	<-result

	// The already-claimed item finished its call and completed cleanly,
	// with no failed attempt recorded.
	got, err := store.GetOperation(context.Background(), inflight.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if got.Status != models.OpStatusCompleted {
		t.Fatalf("expected in-flight op completed, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("expected no failed attempt on the in-flight op, got retry count %d", got.RetryCount)
	}

	// Cancellation takes effect before the next pull.
	if got := opStatus(t, store, waiting.ID); got != models.OpStatusPending {
		t.Fatalf("expected waiting op untouched, got %s", got)
	}
	if n := len(backend.callIDs()); n != 1 {
		t.Fatalf("expected only the in-flight dispatch, got %d", n)
	}
}

func TestCancelledOperationNeverDispatched(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	first := queueTestOp(t, engine, models.KindCreateBooking)
	second := queueTestOp(t, engine, models.KindSyncLocation)

	if err := engine.CancelOperation(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if !engine.SyncNow(ctx) {
		t.Fatalf("expected run to succeed")
	}

	calls := backend.callIDs()
	if len(calls) != 1 || calls[0] != second.ID {
		t.Fatalf("expected only the second operation dispatched, got %v", calls)
	}
	if got := opStatus(t, store, first.ID); got != models.OpStatusCancelled {
		t.Fatalf("expected first op cancelled, got %s", got)
	}
}

func TestCancelDuringInFlightDispatch(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	backend.started = make(chan string, 1)
	backend.block = make(chan struct{})
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	op := queueTestOp(t, engine, models.KindUpdateBooking)

	result := make(chan bool, 1)
	go func() { result <- engine.SyncNow(ctx) }()

	<-backend.started
	if err := engine.CancelOperation(ctx, op.ID); err != nil {
		t.Fatalf("cancel in-flight: %v", err)
	}
	close(backend.block)
	<-result

	// The remote call finished, but cancelled stays the final state.
	if got := opStatus(t, store, op.ID); got != models.OpStatusCancelled {
		t.Fatalf("expected cancelled to win the race, got %s", got)
	}
}

func TestQueueOperationTriggersAutoSync(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.StartAutoSync(ctx)
	defer engine.StopAutoSync()

	op := queueTestOp(t, engine, models.KindSyncLocation)

	waitFor(t, 2*time.Second, "queued operation to complete", func() bool {
		return opStatus(t, store, op.ID) == models.OpStatusCompleted
	})
}

func TestConnectivityRecoveryDrainsBacklog(t *testing.T) {
	conn := newFakeConnectivity(false)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.StartAutoSync(ctx)
	defer engine.StopAutoSync()

	ops := []*models.PendingOperation{
		queueTestOp(t, engine, models.KindCreateBooking),
		queueTestOp(t, engine, models.KindUpdateProfile),
		queueTestOp(t, engine, models.KindSyncLocation),
	}
	if n := len(backend.callIDs()); n != 0 {
		t.Fatalf("expected no dispatches while offline, got %d", n)
	}

	conn.flip(true)

	waitFor(t, 2*time.Second, "backlog to drain after recovery", func() bool {
		for _, op := range ops {
			if opStatus(t, store, op.ID) != models.OpStatusCompleted {
				return false
			}
		}
		return true
	})

	calls := backend.callIDs()
	for i, op := range ops {
		if calls[i] != op.ID {
			t.Fatalf("dispatch %d: expected %s, got %s", i, op.ID, calls[i])
		}
	}
	if got := engine.Status(); got != models.SyncSynced {
		t.Fatalf("expected status synced after recovery, got %s", got)
	}
}

func TestStartAutoSyncIdempotent(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	engine, store := newTestEngine(t, conn, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.StartAutoSync(ctx)
	engine.StartAutoSync(ctx)
	defer engine.StopAutoSync()

	op := queueTestOp(t, engine, models.KindSyncLocation)

	waitFor(t, 2*time.Second, "operation to complete", func() bool {
		return opStatus(t, store, op.ID) == models.OpStatusCompleted
	})

	// Replaced loops must not produce duplicate dispatches.
	time.Sleep(50 * time.Millisecond)
	if n := len(backend.callIDs()); n != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", n)
	}
}

func TestRetryFailedOperations(t *testing.T) {
	conn := newFakeConnectivity(true)
	backend := newFakeBackend()
	backend.err = errors.New("remote down")
	engine, store := newTestEngine(t, conn, backend)
	ctx := context.Background()

	op := queueTestOp(t, engine, models.KindCreateBooking)
	for i := 0; i < 5; i++ {
		engine.SyncNow(ctx)
	}
	if got := opStatus(t, store, op.ID); got != models.OpStatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}

	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()

	reset, err := engine.RetryFailedOperations(ctx)
	if err != nil {
		t.Fatalf("retry failed operations: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset operation, got %d", reset)
	}

	if !engine.SyncNow(ctx) {
		t.Fatalf("expected run to succeed after reset")
	}
	if got := opStatus(t, store, op.ID); got != models.OpStatusCompleted {
		t.Fatalf("expected completed after reset, got %s", got)
	}
}

func TestQueueOperationRejectsUnknownKind(t *testing.T) {
	conn := newFakeConnectivity(true)
	engine, _ := newTestEngine(t, conn, newFakeBackend())

	op := &models.PendingOperation{Kind: "teleport", Payload: `{}`}
	if err := engine.QueueOperation(context.Background(), op); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
