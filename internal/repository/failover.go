package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"weelo/internal/domain"
	"weelo/internal/models"

	"github.com/rs/zerolog"
)

// FailoverReportRepository prefers the primary (redis) repository and falls
// back to the in-memory one when the primary errors. After a cooldown the
// primary is probed again.
type FailoverReportRepository struct {
	primary  domain.ReportRepository
	fallback domain.ReportRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

const recoveryInterval = time.Minute

func NewFailoverReportRepository(primary, fallback domain.ReportRepository, logger *zerolog.Logger) *FailoverReportRepository {
	return &FailoverReportRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverReportRepository) markDown() {
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// shouldProbe reports whether the cooldown since the last primary failure
// has elapsed.
func (r *FailoverReportRepository) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) < recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverReportRepository) SaveReport(ctx context.Context, report *models.SyncReport) error {
	if !r.isDown.Load() || r.shouldProbe() {
		err := r.primary.SaveReport(ctx, report)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.logger.Error().Err(err).Msg("primary report repository failed, falling back to memory")
		r.markDown()
	}
	return r.fallback.SaveReport(ctx, report)
}

func (r *FailoverReportRepository) LastReport(ctx context.Context) (*models.SyncReport, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		report, err := r.primary.LastReport(ctx)
		if err == nil {
			r.isDown.Store(false)
			return report, nil
		}
		r.logger.Error().Err(err).Msg("primary report repository failed, falling back to memory")
		r.markDown()
	}
	return r.fallback.LastReport(ctx)
}

func (r *FailoverReportRepository) PushDeadLetter(ctx context.Context, op *models.PendingOperation) error {
	if !r.isDown.Load() || r.shouldProbe() {
		err := r.primary.PushDeadLetter(ctx, op)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.logger.Error().Err(err).Msg("primary report repository failed, falling back to memory")
		r.markDown()
	}
	return r.fallback.PushDeadLetter(ctx, op)
}

func (r *FailoverReportRepository) DeadLetters(ctx context.Context, limit int64) ([]models.PendingOperation, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		ops, err := r.primary.DeadLetters(ctx, limit)
		if err == nil {
			r.isDown.Store(false)
			return ops, nil
		}
		r.logger.Error().Err(err).Msg("primary report repository failed, falling back to memory")
		r.markDown()
	}
	return r.fallback.DeadLetters(ctx, limit)
}
