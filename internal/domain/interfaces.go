package domain

import (
	"context"

	"weelo/internal/models"
)

// Connectivity is the live network signal consumed by the sync engine.
type Connectivity interface {
	IsCurrentlyOnline() bool
	Subscribe() <-chan bool
}

// ReportRepository persists run reports and dead-lettered operations for
// diagnostics. Implementations: redis, memory, failover.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *models.SyncReport) error
	LastReport(ctx context.Context) (*models.SyncReport, error)
	PushDeadLetter(ctx context.Context, op *models.PendingOperation) error
	DeadLetters(ctx context.Context, limit int64) ([]models.PendingOperation, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
