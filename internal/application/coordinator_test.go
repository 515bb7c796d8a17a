package application_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-sync-core/internal/application"
	"channel-sync-core/internal/domain"
)

func newTestCoordinator(clock *fakeClock, cooldown time.Duration) *application.Coordinator {
	return application.NewCoordinator(
		map[domain.EntityType]time.Duration{domain.EntityInventory: cooldown},
		cooldown,
		clock,
		testLogger(),
	)
}

func TestCoordinatorCooldownWindow(t *testing.T) {
	clock := newFakeClock()
	coord := newTestCoordinator(clock, 120*time.Second)

	// First sync is admitted and completes successfully.
	require.NoError(t, coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerManual))
	coord.Complete("int-1", domain.EntityInventory, domain.OutcomeSucceeded)

	// A trigger right after completion lands inside the cooldown window.
	err := coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerManual)
	var rej *application.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, application.RejectCoolingDown, rej.Reason)
	assert.Equal(t, 120*time.Second, rej.RetryAfter)

	// After the window has elapsed the next trigger proceeds.
	clock.Advance(121 * time.Second)
	assert.NoError(t, coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerManual))
}

func TestCoordinatorExclusivityUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	coord := newTestCoordinator(clock, time.Minute)

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if coord.TryAdmit("int-1", domain.EntityProduct, domain.TriggerWebhook) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted, "exactly one concurrent trigger may win admission")
}

func TestCoordinatorFailureReturnsToIdle(t *testing.T) {
	clock := newFakeClock()
	coord := newTestCoordinator(clock, time.Minute)

	require.NoError(t, coord.TryAdmit("int-1", domain.EntityOrder, domain.TriggerScheduled))
	coord.Complete("int-1", domain.EntityOrder, domain.OutcomeFailed)

	// No cooldown penalty after a failure.
	assert.NoError(t, coord.TryAdmit("int-1", domain.EntityOrder, domain.TriggerScheduled))
}

func TestCoordinatorReconcileBypassesCooldownOnly(t *testing.T) {
	clock := newFakeClock()
	coord := newTestCoordinator(clock, time.Minute)

	require.NoError(t, coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerManual))
	coord.Complete("int-1", domain.EntityInventory, domain.OutcomeSucceeded)

	// Cooling down: manual stays out, reconcile gets through.
	require.Error(t, coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerManual))
	require.NoError(t, coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerReconcile))

	// In progress now: reconcile never bypasses exclusivity.
	err := coord.TryAdmit("int-1", domain.EntityInventory, domain.TriggerReconcile)
	var rej *application.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, application.RejectAlreadyInProgress, rej.Reason)
}

func TestCoordinatorPairsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	coord := newTestCoordinator(clock, time.Minute)

	require.NoError(t, coord.TryAdmit("int-1", domain.EntityProduct, domain.TriggerManual))

	// Same integration, other entity type; other integration, same type.
	assert.NoError(t, coord.TryAdmit("int-1", domain.EntityOrder, domain.TriggerManual))
	assert.NoError(t, coord.TryAdmit("int-2", domain.EntityProduct, domain.TriggerManual))
}

func TestCoordinatorStatus(t *testing.T) {
	clock := newFakeClock()
	coord := newTestCoordinator(clock, time.Minute)

	assert.Equal(t, domain.StateIdle, coord.Status("int-1", domain.EntityProduct).State)

	require.NoError(t, coord.TryAdmit("int-1", domain.EntityProduct, domain.TriggerManual))
	assert.Equal(t, domain.StateInProgress, coord.Status("int-1", domain.EntityProduct).State)

	done := clock.Now()
	coord.Complete("int-1", domain.EntityProduct, domain.OutcomeSucceeded)
	status := coord.Status("int-1", domain.EntityProduct)
	assert.Equal(t, domain.StateCoolingDown, status.State)
	assert.Equal(t, done, status.LastSuccessAt)
	assert.Equal(t, done.Add(time.Minute), status.NextAllowedAt)

	// The window lapses without any explicit transition call.
	clock.Advance(2 * time.Minute)
	assert.Equal(t, domain.StateIdle, coord.Status("int-1", domain.EntityProduct).State)
}
