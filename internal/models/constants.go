package models

import "time"

const (
	// DefaultBatchSize maximum operations drained in one sync run
	DefaultBatchSize = 10

	// DefaultMaxRetries attempts before an operation is swept to failed
	DefaultMaxRetries = 5

	// DefaultConnectivityDebounce quiet period after a connectivity flip
	DefaultConnectivityDebounce = 5 * time.Second

	// DefaultQueueCoalesceDelay delay before reacting to new queue entries
	DefaultQueueCoalesceDelay = 1 * time.Second

	// DefaultRetention age after which terminal records are purged
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultProbeInterval connectivity probe period
	DefaultProbeInterval = 10 * time.Second

	// DefaultProbeFailures consecutive probe failures before reporting offline
	DefaultProbeFailures = 2

	// DefaultRemoteTimeout per-attempt timeout for one remote call
	DefaultRemoteTimeout = 15 * time.Second
)

// SyncReport is the compact summary of one finished run, persisted for
// diagnostics in the report repository.
type SyncReport struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Processed  int        `json:"processed"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Outcome    SyncStatus `json:"outcome"`
}
