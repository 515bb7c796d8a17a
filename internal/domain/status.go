package domain

import "time"

// SyncState is the coordinator's per-(integration, entity type) state.
type SyncState string

const (
	StateIdle        SyncState = "idle"
	StateInProgress  SyncState = "in_progress"
	StateCoolingDown SyncState = "cooling_down"
)

// SyncStatus is the externally visible coordination state for one
// (integration, entity type) pair. Mutated exclusively by the sync
// coordinator.
type SyncStatus struct {
	State         SyncState `json:"state"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	NextAllowedAt time.Time `json:"next_allowed_at,omitempty"`
}
