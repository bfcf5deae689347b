package repository

import (
	"context"
	"sync"

	"weelo/internal/models"
)

// MemoryReportRepository is the in-process fallback used when redis is
// disabled or unreachable. Dead letters are capped to avoid unbounded growth.
type MemoryReportRepository struct {
	mu          sync.Mutex
	lastReport  *models.SyncReport
	deadLetters []models.PendingOperation
	maxLetters  int
}

func NewMemoryReportRepository(maxLetters int) *MemoryReportRepository {
	if maxLetters <= 0 {
		maxLetters = 1000
	}
	return &MemoryReportRepository{maxLetters: maxLetters}
}

func (r *MemoryReportRepository) SaveReport(ctx context.Context, report *models.SyncReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *report
	r.lastReport = &copied
	return nil
}

func (r *MemoryReportRepository) LastReport(ctx context.Context) (*models.SyncReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReport == nil {
		return nil, nil
	}
	copied := *r.lastReport
	return &copied, nil
}

func (r *MemoryReportRepository) PushDeadLetter(ctx context.Context, op *models.PendingOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append([]models.PendingOperation{*op}, r.deadLetters...)
	if len(r.deadLetters) > r.maxLetters {
		r.deadLetters = r.deadLetters[:r.maxLetters]
	}
	return nil
}

func (r *MemoryReportRepository) DeadLetters(ctx context.Context, limit int64) ([]models.PendingOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > int64(len(r.deadLetters)) {
		limit = int64(len(r.deadLetters))
	}
	out := make([]models.PendingOperation, limit)
	copy(out, r.deadLetters[:limit])
	return out, nil
}
