package models

import "time"

// OperationKind enumerates the mutations the sync engine knows how to replay.
type OperationKind string

const (
	KindCreateBooking OperationKind = "create_booking"
	KindUpdateBooking OperationKind = "update_booking"
	KindCancelBooking OperationKind = "cancel_booking"
	KindUpdateProfile OperationKind = "update_profile"
	KindSyncLocation  OperationKind = "sync_location"
	KindCustom        OperationKind = "custom"
)

// Valid reports whether the kind is one of the closed set.
func (k OperationKind) Valid() bool {
	switch k {
	case KindCreateBooking, KindUpdateBooking, KindCancelBooking,
		KindUpdateProfile, KindSyncLocation, KindCustom:
		return true
	}
	return false
}

type OperationStatus string

const (
	OpStatusPending    OperationStatus = "pending"
	OpStatusInProgress OperationStatus = "in_progress"
	OpStatusCompleted  OperationStatus = "completed"
	OpStatusFailed     OperationStatus = "failed"
	OpStatusCancelled  OperationStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s OperationStatus) Terminal() bool {
	return s == OpStatusCompleted || s == OpStatusCancelled
}

// PendingOperation is a durable record of one not-yet-confirmed user
// mutation awaiting remote execution. Status and RetryCount are written
// only by the sync engine; producers insert records and read for display.
type PendingOperation struct {
	ID          string          `json:"id"`
	Kind        OperationKind   `json:"kind"`
	Payload     string          `json:"payload"`
	Status      OperationStatus `json:"status"`
	RetryCount  int             `json:"retry_count"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
