package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"weelo/internal/config"
	"weelo/internal/database"
	"weelo/internal/domain"
	"weelo/internal/events"
	"weelo/internal/metrics"
	"weelo/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type opResult int

const (
	resultCompleted opResult = iota
	resultFailed
	resultSkipped
)

// Engine is the single authority deciding when and how the pending-operation
// queue is drained. It owns the SyncStatus, enforces single-flight runs and
// performs post-batch maintenance.
type Engine struct {
	store        *database.Store
	dispatcher   *Dispatcher
	connectivity domain.Connectivity
	tracker      *StatusTracker
	reports      domain.ReportRepository
	bus          domain.EventPublisher
	cfg          config.SyncConfig
	logger       *zerolog.Logger

	kick chan struct{}

	mu         stdsync.Mutex
	loopCancel context.CancelFunc
	loopWG     *stdsync.WaitGroup
}

func NewEngine(
	store *database.Store,
	dispatcher *Dispatcher,
	conn domain.Connectivity,
	tracker *StatusTracker,
	reports domain.ReportRepository,
	bus domain.EventPublisher,
	cfg config.SyncConfig,
	logger *zerolog.Logger,
) *Engine {
	return &Engine{
		store:        store,
		dispatcher:   dispatcher,
		connectivity: conn,
		tracker:      tracker,
		reports:      reports,
		bus:          bus,
		cfg:          cfg,
		logger:       logger,
		kick:         make(chan struct{}, 1),
	}
}

// Status returns the current observable sync status.
func (e *Engine) Status() models.SyncStatus {
	return e.tracker.Status()
}

// PendingCount reports the current queue depth.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.PendingCount(ctx)
}

// StartAutoSync launches the connectivity and queue observation loops.
// Calling it again replaces any previous loops; they are cancelled first and
// never left running concurrently.
func (e *Engine) StartAutoSync(ctx context.Context) {
	e.mu.Lock()
	if e.loopCancel != nil {
		e.loopCancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	wg := &stdsync.WaitGroup{}
	e.loopCancel = cancel
	e.loopWG = wg
	e.mu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		e.connectivityLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		e.queueLoop(loopCtx)
	}()

	e.logger.Info().Msg("auto sync started")
}

// StopAutoSync cancels both observation loops. An in-flight run finishes its
// current batch item before the loops exit.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	cancel := e.loopCancel
	wg := e.loopWG
	e.loopCancel = nil
	e.loopWG = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	e.logger.Info().Msg("auto sync stopped")
}

// SyncNow requests a run synchronously and reports whether it succeeded.
// A run already in progress rejects the request immediately.
func (e *Engine) SyncNow(ctx context.Context) bool {
	return e.runOnce(ctx, "manual")
}

// QueueOperation persists a new pending operation and, when connectivity is
// available, schedules a coalesced run.
func (e *Engine) QueueOperation(ctx context.Context, op *models.PendingOperation) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("invalid operation kind: %s", op.Kind)
	}

	if err := e.store.InsertOperation(ctx, op); err != nil {
		return err
	}

	e.logger.Debug().Str("operation_id", op.ID).Str("kind", string(op.Kind)).Msg("operation queued")
	_ = e.bus.PublishJSON(events.EventOperationQueued, op)
	e.publishPendingDepth(ctx)

	if e.connectivity.IsCurrentlyOnline() {
		e.requestRun()
	}
	return nil
}

// CancelOperation marks a pending or in-progress operation cancelled. It is
// cooperative: an already-issued remote call is not interrupted, but its
// outcome will not overwrite the cancelled state.
func (e *Engine) CancelOperation(ctx context.Context, id string) error {
	if err := e.store.CancelOperation(ctx, id); err != nil {
		return err
	}
	e.logger.Info().Str("operation_id", id).Msg("operation cancelled")
	e.publishPendingDepth(ctx)
	return nil
}

// RetryFailedOperations resets failed records to pending and requests a run.
func (e *Engine) RetryFailedOperations(ctx context.Context) (int64, error) {
	reset, err := e.store.ResetFailedOperations(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		e.logger.Info().Int64("count", reset).Msg("failed operations reset for retry")
		e.publishPendingDepth(ctx)
		e.requestRun()
	}
	return reset, nil
}

// requestRun nudges the queue loop; drops when a nudge is already pending.
func (e *Engine) requestRun() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) connectivityLoop(ctx context.Context) {
	ch := e.connectivity.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-ch:
			if !online {
				e.tracker.Apply(TriggerOffline)
				continue
			}

			// Quiet-period debounce: a flapping network keeps resetting
			// the timer; only a stable recovery triggers a run.
			timer := time.NewTimer(e.cfg.ConnectivityDebounce)
		quiet:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case online = <-ch:
					if !online {
						e.tracker.Apply(TriggerOffline)
					}
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(e.cfg.ConnectivityDebounce)
				case <-timer.C:
					break quiet
				}
			}

			if e.connectivity.IsCurrentlyOnline() {
				e.runOnce(ctx, "connectivity")
			}
		}
	}
}

func (e *Engine) queueLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
			// Fixed coalescing window: operations submitted in the same
			// burst ride along with the first one.
			timer := time.NewTimer(e.cfg.QueueCoalesceDelay)
		coalesce:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-e.kick:
				case <-timer.C:
					break coalesce
				}
			}

			if e.connectivity.IsCurrentlyOnline() {
				e.runOnce(ctx, "queue")
			} else {
				e.tracker.Apply(TriggerOffline)
			}
		}
	}
}

// runOnce executes one sync run end to end. It returns true only when the
// run was claimed and every processed operation completed.
func (e *Engine) runOnce(ctx context.Context, trigger string) bool {
	if !e.tracker.BeginRun() {
		e.logger.Debug().Str("trigger", trigger).Msg("sync already in progress, run rejected")
		return false
	}

	if !e.connectivity.IsCurrentlyOnline() {
		e.tracker.Apply(TriggerRunOffline)
		e.logger.Debug().Str("trigger", trigger).Msg("offline, sync run skipped")
		return false
	}

	runID := uuid.NewString()
	start := time.Now()
	e.logger.Info().Str("run_id", runID).Str("trigger", trigger).Msg("sync run started")
	_ = e.bus.PublishJSON(events.EventSyncStarted, map[string]string{"run_id": runID, "trigger": trigger})

	attempted := make(map[string]bool)
	var attemptedIDs []string
	var processed, completed, failed int
	var engineErr error

	for processed < e.cfg.BatchSize {
		if ctx.Err() != nil {
			engineErr = ctx.Err()
			break
		}

		// Each record gets exactly one attempt per run: a failed attempt
		// reverts it to pending, so the pull excludes everything already
		// attempted and keeps draining the operations queued behind it.
		op, err := e.store.GetNextOperation(ctx, attemptedIDs...)
		if err != nil {
			engineErr = err
			break
		}
		if op == nil {
			break
		}
		if attempted[op.ID] {
			// Backstop; the exclusion above should make this unreachable.
			break
		}
		attempted[op.ID] = true
		attemptedIDs = append(attemptedIDs, op.ID)
		processed++

		switch e.processOperation(ctx, op) {
		case resultCompleted:
			completed++
		case resultFailed:
			failed++
		case resultSkipped:
			processed--
		}
	}

	if err := e.maintenance(ctx); err != nil {
		e.logger.Error().Err(err).Str("run_id", runID).Msg("post-batch maintenance failed")
		if engineErr == nil {
			engineErr = err
		}
	}

	success := engineErr == nil && failed == 0
	outcome := models.SyncFailed
	if success {
		outcome = models.SyncSynced
		e.tracker.Apply(TriggerRunSynced)
	} else {
		e.tracker.Apply(TriggerRunFailed)
	}
	metrics.IncRun(string(outcome))

	report := &models.SyncReport{
		RunID:      runID,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Processed:  processed,
		Completed:  completed,
		Failed:     failed,
		Outcome:    outcome,
	}
	if e.reports != nil {
		if err := e.reports.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			e.logger.Warn().Err(err).Str("run_id", runID).Msg("failed to save sync report")
		}
	}
	_ = e.bus.PublishJSON(events.EventSyncFinished, report)
	e.publishPendingDepth(context.WithoutCancel(ctx))

	e.logger.Info().
		Str("run_id", runID).
		Str("outcome", string(outcome)).
		Int("processed", processed).
		Int("completed", completed).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("sync run finished")

	return success
}

// processOperation applies one attempt for one operation. Failures are
// absorbed into the record; nothing here aborts the batch loop.
func (e *Engine) processOperation(ctx context.Context, op *models.PendingOperation) opResult {
	// A claimed item runs to completion even when the run context is
	// cancelled mid-item: the remote call finishes and the bookkeeping
	// lands, so no record is left stuck in_progress and no spurious failed
	// attempt is recorded. The batch loop observes cancellation before the
	// next pull instead.
	opCtx := context.WithoutCancel(ctx)

	claimed, err := e.store.ClaimOperation(opCtx, op.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to claim operation")
		return resultFailed
	}
	if !claimed {
		// Cancelled (or otherwise moved on) between the pull and the claim.
		e.logger.Debug().Str("operation_id", op.ID).Msg("operation no longer pending, skipped")
		return resultSkipped
	}

	if err := e.dispatcher.Dispatch(opCtx, op); err != nil {
		marked, merr := e.store.MarkAttemptFailed(opCtx, op.ID, err.Error())
		if merr != nil {
			e.logger.Error().Err(merr).Str("operation_id", op.ID).Msg("failed to record attempt failure")
			return resultFailed
		}
		if !marked {
			// Cancelled while the call was in flight; cancelled wins.
			return resultSkipped
		}

		metrics.IncDispatch(string(op.Kind), "failed")
		_ = e.bus.PublishJSON(events.EventOperationFailed, map[string]string{
			"operation_id": op.ID,
			"kind":         string(op.Kind),
			"error":        err.Error(),
		})
		e.logger.Warn().Err(err).
			Str("operation_id", op.ID).
			Str("kind", string(op.Kind)).
			Int("retry_count", op.RetryCount+1).
			Msg("operation dispatch failed")
		return resultFailed
	}

	done, cerr := e.store.CompleteOperation(opCtx, op.ID)
	if cerr != nil {
		e.logger.Error().Err(cerr).Str("operation_id", op.ID).Msg("failed to mark operation completed")
		return resultFailed
	}
	if !done {
		// Cancelled while the call was in flight; cancelled wins.
		return resultSkipped
	}

	metrics.IncDispatch(string(op.Kind), "completed")
	_ = e.bus.PublishJSON(events.EventOperationCompleted, map[string]string{
		"operation_id": op.ID,
		"kind":         string(op.Kind),
	})
	return resultCompleted
}

// maintenance sweeps over-ceiling retries into failed and purges terminal
// records past the retention window.
func (e *Engine) maintenance(ctx context.Context) error {
	swept, err := e.store.MarkFailedOperations(ctx, e.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("mark failed operations: %w", err)
	}
	if swept > 0 {
		e.logger.Warn().Int64("count", swept).Msg("operations moved to failed after exhausting retries")
		e.pushDeadLetters(ctx, swept)
	}

	cutoff := time.Now().Add(-e.cfg.Retention)
	purged, err := e.store.ClearOldCompletedOperations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("clear old operations: %w", err)
	}
	if purged > 0 {
		e.logger.Info().Int64("count", purged).Msg("old terminal operations purged")
	}
	return nil
}

func (e *Engine) pushDeadLetters(ctx context.Context, n int64) {
	if e.reports == nil {
		return
	}
	ops, err := e.store.ListOperations(ctx, models.OpStatusFailed, int(n))
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to list operations for dead-lettering")
		return
	}
	for i := range ops {
		if err := e.reports.PushDeadLetter(ctx, &ops[i]); err != nil {
			e.logger.Warn().Err(err).Str("operation_id", ops[i].ID).Msg("failed to push dead letter")
			return
		}
	}
}

func (e *Engine) publishPendingDepth(ctx context.Context) {
	count, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.Debug().Err(err).Msg("failed to read pending count")
		return
	}
	metrics.SetPendingDepth(count)
}
