package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"weelo/internal/models"

	"github.com/google/uuid"
)

var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrNotCancellable    = errors.New("operation is not cancellable")
)

const operationColumns = `id, kind, payload, status, retry_count, last_error, created_at, completed_at`

// InsertOperation persists a new pending operation. The ID is assigned here
// when the producer did not set one; CreatedAt always is.
func (s *Store) InsertOperation(ctx context.Context, op *models.PendingOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Status == "" {
		op.Status = models.OpStatusPending
	}
	op.CreatedAt = time.Now()

	query := `INSERT INTO pending_operations (id, kind, payload, status, retry_count, last_error, created_at, completed_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.ExecContext(ctx, query,
		op.ID,
		op.Kind,
		op.Payload,
		op.Status,
		op.RetryCount,
		op.LastError,
		op.CreatedAt,
		op.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

// GetNextOperation returns the oldest pending operation, or nil when the
// queue has no ready work. Ordering is FIFO by created_at. excludeIDs holds
// back records that already had their attempt this run: a failed attempt
// reverts the record to pending with its original created_at, and without
// the exclusion it would shadow everything queued behind it.
func (s *Store) GetNextOperation(ctx context.Context, excludeIDs ...string) (*models.PendingOperation, error) {
	query := `SELECT ` + operationColumns + `
              FROM pending_operations
              WHERE status = ?`
	args := make([]interface{}, 0, len(excludeIDs)+1)
	args = append(args, models.OpStatusPending)
	if len(excludeIDs) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(",?", len(excludeIDs)-1) + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT 1`
	row := s.QueryRowContext(ctx, query, args...)

	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next operation: %w", err)
	}
	return op, nil
}

func (s *Store) GetOperation(ctx context.Context, id string) (*models.PendingOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM pending_operations WHERE id = ?`
	op, err := scanOperation(s.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// UpdateOperationStatus writes a new status; terminal statuses also stamp
// completed_at so retention sweeps can age them out.
func (s *Store) UpdateOperationStatus(ctx context.Context, id string, status models.OperationStatus, errMsg string) error {
	var lastError interface{}
	if errMsg != "" {
		lastError = errMsg
	}

	var result sql.Result
	var err error
	if status.Terminal() {
		query := `UPDATE pending_operations SET status = ?, last_error = ?, completed_at = ? WHERE id = ?`
		result, err = s.ExecContext(ctx, query, status, lastError, time.Now(), id)
	} else {
		query := `UPDATE pending_operations SET status = ?, last_error = ? WHERE id = ?`
		result, err = s.ExecContext(ctx, query, status, lastError, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update operation status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOperationNotFound
	}
	return nil
}

func (s *Store) IncrementRetryCount(ctx context.Context, id string) error {
	query := `UPDATE pending_operations SET retry_count = retry_count + 1 WHERE id = ?`
	if _, err := s.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

// ClaimOperation moves a pending record to in_progress. It reports false
// when the record is no longer pending, which is how a cancellation that
// lands between the batch pull and the dispatch is detected.
func (s *Store) ClaimOperation(ctx context.Context, id string) (bool, error) {
	query := `UPDATE pending_operations SET status = ? WHERE id = ? AND status = ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusInProgress, id, models.OpStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteOperation writes the completed outcome, but only while the record
// is still in_progress; a concurrent cancellation keeps cancelled as the
// final state.
func (s *Store) CompleteOperation(ctx context.Context, id string) (bool, error) {
	query := `UPDATE pending_operations SET status = ?, last_error = NULL, completed_at = ?
              WHERE id = ? AND status = ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusCompleted, time.Now(), id, models.OpStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to complete operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkAttemptFailed records one unsuccessful attempt: retry count goes up by
// exactly one and the record returns to pending for a future run. As with
// CompleteOperation, a concurrent cancellation wins.
func (s *Store) MarkAttemptFailed(ctx context.Context, id string, errMsg string) (bool, error) {
	query := `UPDATE pending_operations SET status = ?, retry_count = retry_count + 1, last_error = ?
              WHERE id = ? AND status = ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusPending, errMsg, id, models.OpStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// CancelOperation marks a pending or in-progress record cancelled. The sync
// engine re-checks for this status before dispatching and before writing any
// terminal outcome, so cancelled always wins the race with an in-flight call.
func (s *Store) CancelOperation(ctx context.Context, id string) error {
	query := `UPDATE pending_operations SET status = ?, completed_at = ?
              WHERE id = ? AND status IN (?, ?)`
	result, err := s.ExecContext(ctx, query,
		models.OpStatusCancelled, time.Now(), id,
		models.OpStatusPending, models.OpStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetOperation(ctx, id); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

// MarkFailedOperations sweeps pending records past the retry ceiling into
// failed, excluding them from future batch pulls.
func (s *Store) MarkFailedOperations(ctx context.Context, maxRetries int) (int64, error) {
	query := `UPDATE pending_operations SET status = ?, completed_at = NULL
              WHERE status = ? AND retry_count >= ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusFailed, models.OpStatusPending, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to mark failed operations: %w", err)
	}
	return result.RowsAffected()
}

// ClearOldCompletedOperations purges terminal records older than the cutoff.
func (s *Store) ClearOldCompletedOperations(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM pending_operations
              WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusCompleted, models.OpStatusCancelled, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clear old operations: %w", err)
	}
	return result.RowsAffected()
}

// ReclaimInProgressOperations returns crash-orphaned in-progress records to
// pending so a restart can retry them.
func (s *Store) ReclaimInProgressOperations(ctx context.Context) (int64, error) {
	query := `UPDATE pending_operations SET status = ? WHERE status = ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusPending, models.OpStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim in-progress operations: %w", err)
	}
	return result.RowsAffected()
}

// ResetFailedOperations is the administrative failed->pending reset backing
// RetryFailedOperations. Retry counts start over from zero.
func (s *Store) ResetFailedOperations(ctx context.Context) (int64, error) {
	query := `UPDATE pending_operations SET status = ?, retry_count = 0, last_error = NULL, completed_at = NULL
              WHERE status = ?`
	result, err := s.ExecContext(ctx, query, models.OpStatusPending, models.OpStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed operations: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM pending_operations WHERE status = ?`
	if err := s.QueryRowContext(ctx, query, models.OpStatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.OperationStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM pending_operations GROUP BY status`
	rows, err := s.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OperationStatus]int)
	for rows.Next() {
		var status models.OperationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ListOperations returns records with the given status, newest first. An
// empty status lists everything.
func (s *Store) ListOperations(ctx context.Context, status models.OperationStatus, limit int) ([]models.PendingOperation, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		query := `SELECT ` + operationColumns + ` FROM pending_operations ORDER BY created_at DESC LIMIT ?`
		rows, err = s.QueryContext(ctx, query, limit)
	} else {
		query := `SELECT ` + operationColumns + ` FROM pending_operations WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		rows, err = s.QueryContext(ctx, query, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		op, err := scanOperationRows(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*models.PendingOperation, error) {
	var op models.PendingOperation
	err := row.Scan(
		&op.ID, &op.Kind, &op.Payload, &op.Status, &op.RetryCount, &op.LastError, &op.CreatedAt, &op.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func scanOperationRows(rows *sql.Rows) (*models.PendingOperation, error) {
	op, err := scanOperation(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}
	return op, nil
}
