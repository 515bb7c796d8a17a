package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
	"channel-sync-core/pkg/metrics"
)

// ErrSignatureInvalid rejects a webhook whose HMAC does not match.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// ErrLaneSaturated rejects a submission when a lane's queue is full.
var ErrLaneSaturated = errors.New("lane queue saturated")

// ErrDispatcherStopped rejects submissions before Start or after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// TaskRunner executes one sync task. A zero return means the task
// reached a terminal state; a positive duration asks the caller to run
// the task again after that delay. Implemented by the sync worker.
type TaskRunner interface {
	Run(ctx context.Context, task *domain.SyncTask) time.Duration
}

// DispatcherConfig tunes lane queueing and deduplication.
type DispatcherConfig struct {
	DedupHorizon  time.Duration
	PoolSize      int
	LaneQueueSize int
}

type lane struct {
	key   string
	tasks chan *domain.SyncTask
}

// Dispatcher routes inbound webhook events and sync requests onto
// ordered per-(integration, entity type) lanes. Within one lane tasks
// run FIFO on a single consumer goroutine; across lanes a shared
// semaphore bounds parallelism. Duplicate submissions inside the dedup
// horizon are dropped before they ever reach a lane.
type Dispatcher struct {
	dedup        ports.DedupStore
	integrations ports.IntegrationStore
	creds        *CredentialManager
	adapters     *ports.AdapterRegistry
	coordinator  *Coordinator
	runner       TaskRunner
	clock        ports.Clock
	cfg          DispatcherConfig
	logger       zerolog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher builds a dispatcher. Start must be called before Submit.
func NewDispatcher(
	dedup ports.DedupStore,
	integrations ports.IntegrationStore,
	creds *CredentialManager,
	adapters *ports.AdapterRegistry,
	coordinator *Coordinator,
	runner TaskRunner,
	clock ports.Clock,
	cfg DispatcherConfig,
	logger zerolog.Logger,
) *Dispatcher {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.LaneQueueSize < 1 {
		cfg.LaneQueueSize = 1
	}
	return &Dispatcher{
		dedup:        dedup,
		integrations: integrations,
		creds:        creds,
		adapters:     adapters,
		coordinator:  coordinator,
		runner:       runner,
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
		lanes:        make(map[string]*lane),
		sem:          make(chan struct{}, cfg.PoolSize),
	}
}

// Start prepares the dispatcher for submissions. Lane consumers are
// spawned lazily on first submission to a lane.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx, d.cancel = context.WithCancel(ctx)
}

// Stop cancels all lane consumers and waits for in-flight tasks. Lane
// channels are never closed: a Submit racing Stop gets
// ErrDispatcherStopped or parks its task on an abandoned queue, but can
// never send on a closed channel.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit enqueues a task onto its lane. Returns false when the task is a
// duplicate within the dedup horizon; ErrLaneSaturated when the lane's
// queue is full.
func (d *Dispatcher) Submit(ctx context.Context, task *domain.SyncTask) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = d.clock.Now()
	}

	// Lane lookup first: a stopped dispatcher must not mark the dedup
	// horizon for a task it will never run.
	l, err := d.laneFor(task.LaneKey())
	if err != nil {
		return false, err
	}

	first, err := d.dedup.Remember(ctx, task.DedupKey(), d.cfg.DedupHorizon)
	if err != nil {
		return false, fmt.Errorf("failed to check dedup horizon: %w", err)
	}
	if !first {
		metrics.TasksDeduplicated.Inc()
		d.logger.Debug().
			Str("taskId", task.ID).
			Str("dedupKey", task.DedupKey()).
			Msg("Dropped duplicate task submission")
		return false, nil
	}

	select {
	case l.tasks <- task:
		return true, nil
	default:
		return false, ErrLaneSaturated
	}
}

func (d *Dispatcher) laneFor(key string) (*lane, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil || d.ctx.Err() != nil {
		return nil, ErrDispatcherStopped
	}

	l, ok := d.lanes[key]
	if ok {
		return l, nil
	}

	l = &lane{key: key, tasks: make(chan *domain.SyncTask, d.cfg.LaneQueueSize)}
	d.lanes[key] = l

	d.wg.Add(1)
	metrics.LanesActive.Inc()
	go d.consume(l)
	return l, nil
}

// consume is the single consumer for one lane: strict FIFO within the
// lane, global parallelism bounded by the pool semaphore.
func (d *Dispatcher) consume(l *lane) {
	defer d.wg.Done()
	defer metrics.LanesActive.Dec()

	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-l.tasks:
			if !d.runToCompletion(task) {
				return
			}
		}
	}
}

// runToCompletion runs one task, re-running it after any cooldown delay
// the runner reports. The lane stays held through the wait so FIFO order
// survives, but the pool slot is released first: a cooling-down lane
// must not starve unrelated lanes of worker capacity.
func (d *Dispatcher) runToCompletion(task *domain.SyncTask) bool {
	for {
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return false
		}
		delay := d.runner.Run(d.ctx, task)
		<-d.sem

		if delay <= 0 {
			return true
		}
		select {
		case <-d.clock.After(delay):
		case <-d.ctx.Done():
			return false
		}
	}
}

// RequestSync is the synchronous trigger contract: an immediate
// accept/reject. The peek at the coordinator is advisory; the worker's
// TryAdmit remains the authoritative gate.
func (d *Dispatcher) RequestSync(ctx context.Context, integrationID string, entityType domain.EntityType, window domain.Window) error {
	if err := d.coordinator.CanAdmit(integrationID, entityType, domain.TriggerManual); err != nil {
		return err
	}

	task := &domain.SyncTask{
		IntegrationID: integrationID,
		EntityType:    entityType,
		Trigger:       domain.TriggerManual,
		Window:        window,
	}
	accepted, err := d.Submit(ctx, task)
	if err != nil {
		return err
	}
	if !accepted {
		// A duplicate means an equivalent sync is already queued.
		return &Rejection{Reason: RejectAlreadyInProgress}
	}
	return nil
}

// IngestWebhook verifies, parses and enqueues one inbound webhook
// delivery. It must respond fast: no platform API calls happen here,
// processing is deferred to the lane.
func (d *Dispatcher) IngestWebhook(ctx context.Context, platformTag, integrationID string, rawBody []byte, headers http.Header) error {
	integration, err := d.integrations.Get(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("failed to load integration: %w", err)
	}
	if integration == nil || integration.Platform != platformTag {
		metrics.WebhooksRejected.WithLabelValues("unknown_integration").Inc()
		return ErrSignatureInvalid
	}

	adapter, err := d.adapters.Lookup(platformTag)
	if err != nil {
		return err
	}

	secret, err := d.creds.WebhookSecret(ctx, integrationID)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues("signature").Inc()
		return ErrSignatureInvalid
	}

	if !adapter.VerifyWebhookSignature(rawBody, headers, secret) {
		metrics.WebhooksRejected.WithLabelValues("signature").Inc()
		d.logger.Warn().
			Str("integrationId", integrationID).
			Str("platform", platformTag).
			Msg("Webhook signature verification failed")
		return ErrSignatureInvalid
	}

	parsed, err := adapter.ParseWebhook(rawBody, headers)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues("payload").Inc()
		d.logger.Warn().
			Err(err).
			Str("integrationId", integrationID).
			Str("platform", platformTag).
			Msg("Webhook payload rejected")
		return err
	}

	task := &domain.SyncTask{
		IntegrationID: integrationID,
		EntityType:    parsed.EntityType,
		Trigger:       domain.TriggerWebhook,
		EntityKey:     parsed.ExternalID,
		EventKind:     parsed.Kind,
	}
	if _, err := d.Submit(ctx, task); err != nil {
		return err
	}
	return nil
}
