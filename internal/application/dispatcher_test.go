package application_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-sync-core/internal/application"
	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/infrastructure/dedup"
	"channel-sync-core/internal/infrastructure/repository"
	"channel-sync-core/internal/ports"
)

// chanRunner forwards every task it is asked to run onto a channel so
// the test can observe execution order.
type chanRunner struct {
	tasks chan *domain.SyncTask
}

func (r *chanRunner) Run(_ context.Context, task *domain.SyncTask) time.Duration {
	r.tasks <- task
	return 0
}

// blockingRunner parks until released, keeping its lane busy.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, _ *domain.SyncTask) time.Duration {
	r.started <- struct{}{}
	<-r.release
	return 0
}

// cooldownOnceRunner defers int-1's first task once, then records
// every completed run.
type cooldownOnceRunner struct {
	mu       sync.Mutex
	deferred map[string]bool
	delay    time.Duration
	ran      chan *domain.SyncTask
}

func (r *cooldownOnceRunner) Run(_ context.Context, task *domain.SyncTask) time.Duration {
	r.mu.Lock()
	first := !r.deferred[task.LaneKey()]
	r.deferred[task.LaneKey()] = true
	r.mu.Unlock()
	if first && r.delay > 0 && task.IntegrationID == "int-1" {
		return r.delay
	}
	r.ran <- task
	return 0
}

// stallClock keeps After waits pending until the test releases them,
// so a cooldown requeue stays parked deterministically. Once released,
// every wait fires immediately.
type stallClock struct {
	ports.Clock
	mu       sync.Mutex
	released bool
	waits    []chan time.Time
}

func (c *stallClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	if c.released {
		ch <- c.Now()
	} else {
		c.waits = append(c.waits, ch)
	}
	c.mu.Unlock()
	return ch
}

func (c *stallClock) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	for _, ch := range c.waits {
		ch <- c.Now()
	}
	c.waits = nil
}

type dispatcherFixture struct {
	clock       ports.Clock
	coordinator *application.Coordinator
	adapter     *stubAdapter
	dispatcher  *application.Dispatcher
}

func newDispatcherFixture(t *testing.T, runner application.TaskRunner, cfg application.DispatcherConfig) *dispatcherFixture {
	return newDispatcherFixtureWithClock(t, runner, cfg, newFakeClock())
}

func newDispatcherFixtureWithClock(t *testing.T, runner application.TaskRunner, cfg application.DispatcherConfig, clock ports.Clock) *dispatcherFixture {
	t.Helper()

	adapter := &stubAdapter{platform: "stub"}
	integrationStore := repository.NewMemoryIntegrationStore()
	credStore := repository.NewMemoryCredentialStore()
	registry := ports.NewAdapterRegistry(adapter)

	require.NoError(t, integrationStore.Create(context.Background(), &domain.Integration{
		ID:       "int-1",
		Platform: "stub",
		Status:   domain.IntegrationActive,
	}))
	require.NoError(t, credStore.Save(context.Background(), &domain.Credential{
		IntegrationID: "int-1",
		Scheme:        domain.SchemeOAuth2,
		AccessToken:   "tok",
		WebhookSecret: "whsec",
	}))

	credentials := application.NewCredentialManager(credStore, integrationStore, registry, clock, time.Minute, testLogger())
	coordinator := application.NewCoordinator(nil, 2*time.Minute, clock, testLogger())

	if cfg.DedupHorizon == 0 {
		cfg.DedupHorizon = 30 * time.Second
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	if cfg.LaneQueueSize == 0 {
		cfg.LaneQueueSize = 16
	}

	dispatcher := application.NewDispatcher(
		dedup.NewMemoryStore(clock),
		integrationStore,
		credentials,
		registry,
		coordinator,
		runner,
		clock,
		cfg,
		testLogger(),
	)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	return &dispatcherFixture{
		clock:       clock,
		coordinator: coordinator,
		adapter:     adapter,
		dispatcher:  dispatcher,
	}
}

func waitTask(t *testing.T, ch chan *domain.SyncTask) *domain.SyncTask {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a task to run")
		return nil
	}
}

func TestSubmitDropsDuplicateWithinHorizon(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})

	task := func() *domain.SyncTask {
		return &domain.SyncTask{
			IntegrationID: "int-1",
			EntityType:    domain.EntityProduct,
			Trigger:       domain.TriggerWebhook,
			EntityKey:     "p-1",
		}
	}

	accepted, err := f.dispatcher.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = f.dispatcher.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.False(t, accepted, "redelivery within the horizon must be dropped")

	got := waitTask(t, runner.tasks)
	assert.Equal(t, "p-1", got.EntityKey)
	select {
	case extra := <-runner.tasks:
		t.Fatalf("duplicate task ran: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLaneIsFIFO(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})

	for i, key := range []string{"p-1", "p-2", "p-3"} {
		accepted, err := f.dispatcher.Submit(context.Background(), &domain.SyncTask{
			IntegrationID: "int-1",
			EntityType:    domain.EntityProduct,
			Trigger:       domain.TriggerWebhook,
			EntityKey:     key,
		})
		require.NoError(t, err, "task %d", i)
		require.True(t, accepted)
	}

	assert.Equal(t, "p-1", waitTask(t, runner.tasks).EntityKey)
	assert.Equal(t, "p-2", waitTask(t, runner.tasks).EntityKey)
	assert.Equal(t, "p-3", waitTask(t, runner.tasks).EntityKey)
}

func TestSubmitRejectsSaturatedLane(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 8), release: make(chan struct{})}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{LaneQueueSize: 1})
	defer close(runner.release)

	submit := func(key string) (bool, error) {
		return f.dispatcher.Submit(context.Background(), &domain.SyncTask{
			IntegrationID: "int-1",
			EntityType:    domain.EntityProduct,
			Trigger:       domain.TriggerWebhook,
			EntityKey:     key,
		})
	}

	// First task occupies the consumer, second fills the queue slot.
	accepted, err := submit("p-1")
	require.NoError(t, err)
	require.True(t, accepted)
	<-runner.started

	accepted, err = submit("p-2")
	require.NoError(t, err)
	require.True(t, accepted)

	_, err = submit("p-3")
	assert.ErrorIs(t, err, application.ErrLaneSaturated)
}

func TestRequestSyncRejectsDuringCooldown(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})

	require.NoError(t, f.coordinator.TryAdmit("int-1", domain.EntityInventory, domain.TriggerManual))
	f.coordinator.Complete("int-1", domain.EntityInventory, domain.OutcomeSucceeded)

	err := f.dispatcher.RequestSync(context.Background(), "int-1", domain.EntityInventory, domain.Window{})
	var rej *application.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, application.RejectCoolingDown, rej.Reason)
	assert.Greater(t, rej.RetryAfter, time.Duration(0))
}

func TestRequestSyncAcceptsAndEnqueues(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})

	require.NoError(t, f.dispatcher.RequestSync(context.Background(), "int-1", domain.EntityProduct, domain.Window{}))

	got := waitTask(t, runner.tasks)
	assert.Equal(t, domain.TriggerManual, got.Trigger)
	assert.Equal(t, domain.EntityProduct, got.EntityType)
	assert.NotEmpty(t, got.ID)
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})
	f.adapter.verifySignature = func(_ []byte, _ http.Header, _ string) bool { return false }

	err := f.dispatcher.IngestWebhook(context.Background(), "stub", "int-1", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, application.ErrSignatureInvalid)
}

func TestIngestWebhookRejectsUnknownIntegration(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})

	err := f.dispatcher.IngestWebhook(context.Background(), "stub", "int-nope", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, application.ErrSignatureInvalid)
}

func TestIngestWebhookRejectsMalformedPayload(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})
	f.adapter.parseWebhook = func(_ []byte, _ http.Header) (*ports.ParsedWebhook, error) {
		return nil, domain.NewMalformedPayload("parse webhook", errors.New("no id field"))
	}

	err := f.dispatcher.IngestWebhook(context.Background(), "stub", "int-1", []byte(`{"oops":true}`), http.Header{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindMalformedPayload, domain.KindOf(err))
}

func TestIngestWebhookEnqueuesParsedTask(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})
	f.adapter.parseWebhook = func(_ []byte, _ http.Header) (*ports.ParsedWebhook, error) {
		return &ports.ParsedWebhook{
			EntityType: domain.EntityOrder,
			ExternalID: "o-42",
			Kind:       domain.ChangeUpdated,
		}, nil
	}

	require.NoError(t, f.dispatcher.IngestWebhook(context.Background(), "stub", "int-1", []byte(`{"id":42}`), http.Header{}))

	got := waitTask(t, runner.tasks)
	assert.Equal(t, domain.TriggerWebhook, got.Trigger)
	assert.Equal(t, domain.EntityOrder, got.EntityType)
	assert.Equal(t, "o-42", got.EntityKey)
	assert.Equal(t, domain.ChangeUpdated, got.EventKind)
}

func TestCooldownWaitDoesNotHoldPoolSlot(t *testing.T) {
	clock := &stallClock{Clock: newFakeClock()}
	runner := &cooldownOnceRunner{
		deferred: make(map[string]bool),
		delay:    2 * time.Second,
		ran:      make(chan *domain.SyncTask, 8),
	}
	f := newDispatcherFixtureWithClock(t, runner, application.DispatcherConfig{PoolSize: 1}, clock)

	submit := func(integrationID string) {
		accepted, err := f.dispatcher.Submit(context.Background(), &domain.SyncTask{
			IntegrationID: integrationID,
			EntityType:    domain.EntityProduct,
			Trigger:       domain.TriggerWebhook,
			EntityKey:     "p-1",
		})
		require.NoError(t, err)
		require.True(t, accepted)
	}

	// int-1's lane parks on its cooldown wait. With a pool of one, an
	// unrelated integration must still get the slot immediately.
	submit("int-1")
	submit("int-2")
	assert.Equal(t, "int-2", waitTask(t, runner.ran).IntegrationID)

	// Releasing the wait lets int-1's task run to completion.
	clock.Release()
	assert.Equal(t, "int-1", waitTask(t, runner.ran).IntegrationID)
}

func TestSubmitAfterStopFails(t *testing.T) {
	runner := &chanRunner{tasks: make(chan *domain.SyncTask, 8)}
	f := newDispatcherFixture(t, runner, application.DispatcherConfig{})

	f.dispatcher.Stop()

	_, err := f.dispatcher.Submit(context.Background(), &domain.SyncTask{
		IntegrationID: "int-1",
		EntityType:    domain.EntityProduct,
		Trigger:       domain.TriggerWebhook,
		EntityKey:     "p-1",
	})
	assert.ErrorIs(t, err, application.ErrDispatcherStopped)
}
