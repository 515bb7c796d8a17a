package domain

import (
	"fmt"
	"time"
)

// Window bounds an incremental fetch. A zero window means a full listing.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether the window is unbounded.
func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Equal reports whether two windows bound the same range. Times are
// compared with time.Equal so values survive serialization round-trips.
func (w Window) Equal(other Window) bool {
	return w.From.Equal(other.From) && w.To.Equal(other.To)
}

// Clamp limits the window's lookback so it never exceeds the platform's
// maximum. A zero maxLookback leaves the window untouched.
func (w Window) Clamp(now time.Time, maxLookback time.Duration) Window {
	if maxLookback <= 0 {
		return w
	}
	earliest := now.Add(-maxLookback)
	if w.From.Before(earliest) {
		w.From = earliest
	}
	return w
}

// TaskOutcome is the terminal state of a consumed sync task.
type TaskOutcome string

const (
	OutcomeSucceeded TaskOutcome = "succeeded"
	OutcomeFailed    TaskOutcome = "failed"
	OutcomeSkipped   TaskOutcome = "skipped"
)

// SyncTask is one unit of synchronization work for an
// (integration, entity type) pair. Retry state lives on the task itself
// (attempt count, next-eligible time) so retries are resumable and
// testable without sleeping.
type SyncTask struct {
	ID            string        `json:"id"`
	IntegrationID string        `json:"integration_id"`
	EntityType    EntityType    `json:"entity_type"`
	Trigger       TriggerSource `json:"trigger"`
	Window        Window        `json:"window"`
	EntityKey     string        `json:"entity_key,omitempty"` // set for single-entity (webhook / reconcile) tasks
	EventKind     ChangeKind    `json:"event_kind,omitempty"` // webhook hint: what happened to EntityKey
	Attempt       int           `json:"attempt"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// LaneKey identifies the ordered lane this task belongs to. Tasks that
// share a lane are processed strictly in submission order.
func (t *SyncTask) LaneKey() string {
	return t.IntegrationID + "/" + string(t.EntityType)
}

// DedupKey identifies duplicate submissions within the dedup horizon:
// same integration, entity type, trigger and window-or-entity-key.
func (t *SyncTask) DedupKey() string {
	scope := t.EntityKey
	if scope == "" {
		scope = fmt.Sprintf("%d-%d", t.Window.From.Unix(), t.Window.To.Unix())
	}
	return fmt.Sprintf("%s/%s/%s/%s", t.IntegrationID, t.EntityType, t.Trigger, scope)
}

// TaskEvent is emitted on the status bus when a task reaches a terminal
// state.
type TaskEvent struct {
	TaskID        string        `json:"task_id"`
	IntegrationID string        `json:"integration_id"`
	EntityType    EntityType    `json:"entity_type"`
	Trigger       TriggerSource `json:"trigger"`
	Outcome       TaskOutcome   `json:"outcome"`
	Error         string        `json:"error,omitempty"`
	Fetched       int           `json:"fetched"`
	Published     int           `json:"published"`
	Skipped       int           `json:"skipped"`
	At            time.Time     `json:"at"`
}

// SyncRun is the journal record persisted for every terminal task.
type SyncRun struct {
	TaskID        string        `json:"task_id"`
	IntegrationID string        `json:"integration_id"`
	EntityType    EntityType    `json:"entity_type"`
	Trigger       TriggerSource `json:"trigger"`
	Outcome       TaskOutcome   `json:"outcome"`
	Error         string        `json:"error,omitempty"`
	Fetched       int           `json:"fetched"`
	Published     int           `json:"published"`
	Skipped       int           `json:"skipped"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}
