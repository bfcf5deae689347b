package models

// SyncStatus is the engine-wide ephemeral state exposed to observers.
// It is recomputed each run and never persisted.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
	SyncOffline SyncStatus = "offline"
)
