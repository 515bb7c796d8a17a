package application

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

// RejectReason explains a coordinator rejection. Rejections are admission
// outcomes, not failures.
type RejectReason string

const (
	RejectAlreadyInProgress RejectReason = "already_in_progress"
	RejectCoolingDown       RejectReason = "cooling_down"
)

// Rejection is returned by TryAdmit when a sync may not proceed.
// RetryAfter is only set for cooldown rejections.
type Rejection struct {
	Reason     RejectReason
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("sync rejected: %s (retry after %s)", r.Reason, r.RetryAfter)
	}
	return fmt.Sprintf("sync rejected: %s", r.Reason)
}

type laneState struct {
	state         domain.SyncState
	lastSuccessAt time.Time
	nextAllowedAt time.Time
}

// Coordinator owns the per-(integration, entity type) sync state machine:
//
//	Idle --admit--> InProgress --success--> CoolingDown --elapsed--> Idle
//	                InProgress --failure--> Idle
//
// Failure returns to Idle with no cooldown penalty so an outage is not
// amplified by a freeze window. The state map is owned by the coordinator
// and mutated only through TryAdmit and Complete.
type Coordinator struct {
	mu              sync.Mutex
	states          map[string]*laneState
	cooldowns       map[domain.EntityType]time.Duration
	defaultCooldown time.Duration
	clock           ports.Clock
	logger          zerolog.Logger
}

// NewCoordinator creates a coordinator with per-entity-type cooldowns.
func NewCoordinator(cooldowns map[domain.EntityType]time.Duration, defaultCooldown time.Duration, clock ports.Clock, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		states:          make(map[string]*laneState),
		cooldowns:       cooldowns,
		defaultCooldown: defaultCooldown,
		clock:           clock,
		logger:          logger,
	}
}

func laneKey(integrationID string, entityType domain.EntityType) string {
	return integrationID + "/" + string(entityType)
}

func (c *Coordinator) cooldownFor(entityType domain.EntityType) time.Duration {
	if d, ok := c.cooldowns[entityType]; ok {
		return d
	}
	return c.defaultCooldown
}

// TryAdmit is the sole gate preventing duplicate concurrent syncs for
// one (integration, entity type) pair. Reconciliation-triggered syncs
// bypass the cooldown window but never the in-progress exclusivity.
// Returns nil when admitted, *Rejection otherwise.
func (c *Coordinator) TryAdmit(integrationID string, entityType domain.EntityType, trigger domain.TriggerSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := laneKey(integrationID, entityType)
	st, ok := c.states[key]
	if !ok {
		st = &laneState{state: domain.StateIdle}
		c.states[key] = st
	}

	now := c.clock.Now()
	if st.state == domain.StateCoolingDown && !now.Before(st.nextAllowedAt) {
		st.state = domain.StateIdle
	}

	switch st.state {
	case domain.StateInProgress:
		return &Rejection{Reason: RejectAlreadyInProgress}
	case domain.StateCoolingDown:
		if trigger == domain.TriggerReconcile {
			break
		}
		return &Rejection{Reason: RejectCoolingDown, RetryAfter: st.nextAllowedAt.Sub(now)}
	}

	st.state = domain.StateInProgress
	c.logger.Debug().
		Str("integrationId", integrationID).
		Str("entityType", string(entityType)).
		Str("trigger", string(trigger)).
		Msg("Sync admitted")
	return nil
}

// CanAdmit is the read-only peek used by the synchronous trigger API.
// The authoritative gate stays in TryAdmit, which the worker calls.
func (c *Coordinator) CanAdmit(integrationID string, entityType domain.EntityType, trigger domain.TriggerSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[laneKey(integrationID, entityType)]
	if !ok {
		return nil
	}

	now := c.clock.Now()
	switch st.state {
	case domain.StateInProgress:
		return &Rejection{Reason: RejectAlreadyInProgress}
	case domain.StateCoolingDown:
		if trigger == domain.TriggerReconcile || !now.Before(st.nextAllowedAt) {
			return nil
		}
		return &Rejection{Reason: RejectCoolingDown, RetryAfter: st.nextAllowedAt.Sub(now)}
	}
	return nil
}

// Complete transitions a lane out of InProgress. Success starts the
// cooldown window and records the last-success time; failure returns the
// lane to Idle for immediate retry eligibility.
func (c *Coordinator) Complete(integrationID string, entityType domain.EntityType, outcome domain.TaskOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := laneKey(integrationID, entityType)
	st, ok := c.states[key]
	if !ok || st.state != domain.StateInProgress {
		c.logger.Warn().
			Str("integrationId", integrationID).
			Str("entityType", string(entityType)).
			Msg("Complete called for a lane that is not in progress")
		return
	}

	now := c.clock.Now()
	if outcome == domain.OutcomeSucceeded {
		st.state = domain.StateCoolingDown
		st.lastSuccessAt = now
		st.nextAllowedAt = now.Add(c.cooldownFor(entityType))
	} else {
		st.state = domain.StateIdle
	}

	c.logger.Debug().
		Str("integrationId", integrationID).
		Str("entityType", string(entityType)).
		Str("outcome", string(outcome)).
		Msg("Sync completed")
}

// Status returns the current coordination state for one pair.
func (c *Coordinator) Status(integrationID string, entityType domain.EntityType) domain.SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[laneKey(integrationID, entityType)]
	if !ok {
		return domain.SyncStatus{State: domain.StateIdle}
	}

	state := st.state
	if state == domain.StateCoolingDown && !c.clock.Now().Before(st.nextAllowedAt) {
		state = domain.StateIdle
	}
	return domain.SyncStatus{
		State:         state,
		LastSuccessAt: st.lastSuccessAt,
		NextAllowedAt: st.nextAllowedAt,
	}
}
