package domain

import (
	"encoding/json"
	"time"
)

// SyncConflict describes one unresolved concurrent-update conflict recorded
// against an entity's sync status.
type SyncConflict struct {
	Source          Source    `json:"source"`
	ExpectedVersion int64     `json:"expected_version"`
	ActualVersion   int64     `json:"actual_version"`
	Resolution      string    `json:"resolution"` // e.g. "last_write_wins"
	OccurredAt      time.Time `json:"occurred_at"`
}

// EntitySyncStatus tracks the last successful synchronization point for one
// entity from one source. Unique per (entity_type, entity_id, source).
// SyncVersion increments strictly on every successful apply and backs
// optimistic-concurrency conflict detection when two sources race.
type EntitySyncStatus struct {
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Source        Source          `json:"source"`
	ExternalID    string          `json:"external_id"`
	Data          json.RawMessage `json:"data"` // last applied payload
	SyncVersion   int64           `json:"sync_version"`
	SyncEnabled   bool            `json:"is_sync_enabled"`
	SyncConflicts []SyncConflict  `json:"sync_conflicts,omitempty"`
	LastSyncedAt  time.Time       `json:"last_synced_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
