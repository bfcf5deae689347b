package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"weelo/internal/models"

	"github.com/rs/zerolog"
)

// BackendClient is what the dispatcher needs from the remote layer. Each
// call must be idempotent for a given operation id.
type BackendClient interface {
	CreateBooking(ctx context.Context, opID string, p models.BookingPayload) error
	UpdateBooking(ctx context.Context, opID string, p models.BookingPayload) error
	CancelBooking(ctx context.Context, opID string, p models.CancelBookingPayload) error
	UpdateProfile(ctx context.Context, opID string, p models.ProfilePayload) error
	SyncLocation(ctx context.Context, opID string, p models.LocationPayload) error
	Custom(ctx context.Context, opID string, p models.CustomPayload) error
}

// Dispatcher routes an operation to the remote call for its kind. It never
// lets anything escape the Dispatch boundary: payload decode failures and
// panics come back as ordinary failure outcomes.
type Dispatcher struct {
	client BackendClient
	logger *zerolog.Logger
}

func NewDispatcher(client BackendClient, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{client: client, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, op *models.PendingOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch %s: panic: %v", op.Kind, r)
			d.logger.Error().Str("operation_id", op.ID).Str("kind", string(op.Kind)).Interface("panic", r).Msg("dispatch panicked")
		}
	}()

	switch op.Kind {
	case models.KindCreateBooking:
		var p models.BookingPayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.client.CreateBooking(ctx, op.ID, p)

	case models.KindUpdateBooking:
		var p models.BookingPayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.client.UpdateBooking(ctx, op.ID, p)

	case models.KindCancelBooking:
		var p models.CancelBookingPayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.client.CancelBooking(ctx, op.ID, p)

	case models.KindUpdateProfile:
		var p models.ProfilePayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.client.UpdateProfile(ctx, op.ID, p)

	case models.KindSyncLocation:
		var p models.LocationPayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.client.SyncLocation(ctx, op.ID, p)

	case models.KindCustom:
		var p models.CustomPayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.client.Custom(ctx, op.ID, p)

	default:
		return fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
}
