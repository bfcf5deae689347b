package sync

import (
	stdsync "sync"

	"weelo/internal/domain"
	"weelo/internal/events"
	"weelo/internal/models"
)

// Trigger is an input to the status transition function.
type Trigger string

const (
	TriggerOffline    Trigger = "offline"
	TriggerRunOffline Trigger = "run_offline"
	TriggerRunClaim   Trigger = "run_claim"
	TriggerRunSynced  Trigger = "run_synced"
	TriggerRunFailed  Trigger = "run_failed"
	TriggerReset      Trigger = "reset"
)

// nextStatus is the pure transition function for the engine-wide status.
// A run claim is refused (status unchanged) while a run is active; that
// refusal is the single-flight guard.
func nextStatus(current models.SyncStatus, trigger Trigger) models.SyncStatus {
	switch trigger {
	case TriggerOffline:
		if current == models.SyncSyncing {
			// An active run resolves itself; offline applies afterwards.
			return current
		}
		return models.SyncOffline
	case TriggerRunOffline:
		// The claimed run itself found connectivity absent.
		return models.SyncOffline
	case TriggerRunClaim:
		if current == models.SyncSyncing {
			return current
		}
		return models.SyncSyncing
	case TriggerRunSynced:
		return models.SyncSynced
	case TriggerRunFailed:
		return models.SyncFailed
	case TriggerReset:
		return models.SyncIdle
	}
	return current
}

// StatusTracker owns the observable SyncStatus. It is the sole writer; all
// transitions funnel through Apply/BeginRun under one lock, which makes the
// claim check-and-set atomic relative to run start.
type StatusTracker struct {
	mu          stdsync.Mutex
	status      models.SyncStatus
	subscribers []chan models.SyncStatus
	bus         domain.EventPublisher
}

func NewStatusTracker(bus domain.EventPublisher) *StatusTracker {
	return &StatusTracker{status: models.SyncIdle, bus: bus}
}

func (t *StatusTracker) Status() models.SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// BeginRun atomically claims a sync run. It returns false when a run is
// already active, without queueing the request.
func (t *StatusTracker) BeginRun() bool {
	t.mu.Lock()
	if t.status == models.SyncSyncing {
		t.mu.Unlock()
		return false
	}
	t.status = models.SyncSyncing
	t.mu.Unlock()

	t.notify(models.SyncSyncing)
	return true
}

// Apply feeds a trigger through the transition function and publishes the
// result when it changed.
func (t *StatusTracker) Apply(trigger Trigger) models.SyncStatus {
	t.mu.Lock()
	next := nextStatus(t.status, trigger)
	changed := next != t.status
	t.status = next
	t.mu.Unlock()

	if changed {
		t.notify(next)
	}
	return next
}

// Subscribe returns a channel receiving status changes. Buffered; slow
// consumers miss intermediate states rather than blocking the engine.
func (t *StatusTracker) Subscribe() <-chan models.SyncStatus {
	ch := make(chan models.SyncStatus, 8)
	t.mu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.mu.Unlock()
	return ch
}

func (t *StatusTracker) notify(status models.SyncStatus) {
	t.mu.Lock()
	subs := append([]chan models.SyncStatus(nil), t.subscribers...)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}

	if t.bus != nil {
		_ = t.bus.PublishJSON(events.EventStatusChanged, map[string]string{"status": string(status)})
	}
}
