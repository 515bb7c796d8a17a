package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
	"channel-sync-core/pkg/backoff"
	"channel-sync-core/pkg/metrics"
)

// WorkerConfig tunes per-task retry and timeout behavior.
type WorkerConfig struct {
	// MaxAttempts is the total number of tries for a failing platform
	// call before the task fails terminally.
	MaxAttempts int
	// CallTimeout bounds one platform call; TaskTimeout bounds the whole
	// task, pagination included, and must be generously larger.
	CallTimeout time.Duration
	TaskTimeout time.Duration
	Backoff     backoff.Policy
}

// Worker consumes sync tasks: it passes the coordinator's admission
// gate, pages through the platform adapter, hash-compares each canonical
// entity against the mapping table and publishes only real changes
// downstream. Transient failures retry in-task with jittered backoff;
// cancellation is honored between attempts, never mid-call.
type Worker struct {
	coordinator  *Coordinator
	credentials  *CredentialManager
	adapters     *ports.AdapterRegistry
	integrations ports.IntegrationStore
	entities     ports.EntityStore
	checkpoints  ports.CheckpointStore
	journal      ports.RunJournal
	publisher    ports.Publisher
	events       ports.EventSink
	clock        ports.Clock
	cfg          WorkerConfig
	logger       zerolog.Logger
}

// NewWorker wires a worker. events may be nil when no status subscribers
// exist (tests).
func NewWorker(
	coordinator *Coordinator,
	credentials *CredentialManager,
	adapters *ports.AdapterRegistry,
	integrations ports.IntegrationStore,
	entities ports.EntityStore,
	checkpoints ports.CheckpointStore,
	journal ports.RunJournal,
	publisher ports.Publisher,
	events ports.EventSink,
	clock ports.Clock,
	cfg WorkerConfig,
	logger zerolog.Logger,
) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.Default()
	}
	return &Worker{
		coordinator:  coordinator,
		credentials:  credentials,
		adapters:     adapters,
		integrations: integrations,
		entities:     entities,
		checkpoints:  checkpoints,
		journal:      journal,
		publisher:    publisher,
		events:       events,
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
	}
}

// runStats accumulates counters for the journal and the status bus.
type runStats struct {
	fetched   int
	published int
	skipped   int
}

// Run drives one task. A zero return means the task reached a terminal
// state. A positive return means the coordinator deferred admission by a
// cooldown: the caller should run the task again after that delay,
// without tying up a pool slot while it waits.
func (w *Worker) Run(ctx context.Context, task *domain.SyncTask) time.Duration {
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	startedAt := w.clock.Now()

	// Admission gate. A cooldown hands the wait back to the lane
	// consumer; a concurrent-sync rejection drops the task since one is
	// already handling the pair.
	if err := w.coordinator.TryAdmit(task.IntegrationID, task.EntityType, task.Trigger); err != nil {
		var rej *Rejection
		if errors.As(err, &rej) && rej.Reason == RejectCoolingDown {
			return rej.RetryAfter
		}
		w.logger.Debug().
			Str("taskId", task.ID).
			Str("lane", task.LaneKey()).
			Msg("Dropping task, sync already in progress")
		w.finish(ctx, task, startedAt, domain.OutcomeSkipped, nil, runStats{})
		return 0
	}

	stats, err := w.execute(ctx, task)
	if err != nil {
		w.coordinator.Complete(task.IntegrationID, task.EntityType, domain.OutcomeFailed)
		metrics.TaskFailures.Inc()
		w.logger.Error().
			Err(err).
			Str("taskId", task.ID).
			Str("lane", task.LaneKey()).
			Int("attempts", task.Attempt).
			Msg("Sync task failed terminally")
		w.finish(ctx, task, startedAt, domain.OutcomeFailed, err, stats)
		return 0
	}

	w.coordinator.Complete(task.IntegrationID, task.EntityType, domain.OutcomeSucceeded)
	w.finish(ctx, task, startedAt, domain.OutcomeSucceeded, nil, stats)
	return 0
}

func (w *Worker) finish(ctx context.Context, task *domain.SyncTask, startedAt time.Time, outcome domain.TaskOutcome, cause error, stats runStats) {
	metrics.TasksProcessed.WithLabelValues(string(outcome), string(task.EntityType)).Inc()

	errText := ""
	if cause != nil {
		errText = cause.Error()
	}

	run := &domain.SyncRun{
		TaskID:        task.ID,
		IntegrationID: task.IntegrationID,
		EntityType:    task.EntityType,
		Trigger:       task.Trigger,
		Outcome:       outcome,
		Error:         errText,
		Fetched:       stats.fetched,
		Published:     stats.published,
		Skipped:       stats.skipped,
		StartedAt:     startedAt,
		FinishedAt:    w.clock.Now(),
	}
	if err := w.journal.Record(context.WithoutCancel(ctx), run); err != nil {
		w.logger.Error().Err(err).Str("taskId", task.ID).Msg("Failed to journal sync run")
	}

	if w.events != nil {
		w.events.Publish(&domain.TaskEvent{
			TaskID:        task.ID,
			IntegrationID: task.IntegrationID,
			EntityType:    task.EntityType,
			Trigger:       task.Trigger,
			Outcome:       outcome,
			Error:         errText,
			Fetched:       stats.fetched,
			Published:     stats.published,
			Skipped:       stats.skipped,
			At:            run.FinishedAt,
		})
	}
}

func (w *Worker) execute(ctx context.Context, task *domain.SyncTask) (runStats, error) {
	var stats runStats

	integration, err := w.integrations.Get(ctx, task.IntegrationID)
	if err != nil {
		return stats, fmt.Errorf("failed to load integration: %w", err)
	}
	if integration == nil {
		return stats, fmt.Errorf("integration %s not found", task.IntegrationID)
	}

	adapter, err := w.adapters.Lookup(integration.Platform)
	if err != nil {
		return stats, err
	}

	if task.EntityKey != "" {
		return w.syncOne(ctx, task, integration, adapter)
	}
	return w.syncWindow(ctx, task, integration, adapter)
}

// syncWindow pages through FetchEntities, checkpointing the cursor after
// every page so a crash resumes where it stopped.
func (w *Worker) syncWindow(ctx context.Context, task *domain.SyncTask, integration *domain.Integration, adapter ports.PlatformAdapter) (runStats, error) {
	var stats runStats

	window := task.Window.Clamp(w.clock.Now(), adapter.MaxLookback())

	cursor := ""
	cp, err := w.checkpoints.Load(ctx, task.LaneKey())
	if err != nil {
		return stats, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp != nil {
		if cp.Window.Equal(task.Window) {
			cursor = cp.Cursor
			w.logger.Info().
				Str("taskId", task.ID).
				Str("cursor", cursor).
				Msg("Resuming fetch from checkpoint")
		} else {
			// A cursor from a differently-windowed fetch would silently
			// skip everything below it; this window starts clean.
			if err := w.checkpoints.Clear(ctx, task.LaneKey()); err != nil {
				w.logger.Warn().Err(err).Str("lane", task.LaneKey()).Msg("Failed to clear stale checkpoint")
			}
		}
	}

	for {
		page, err := w.fetchPage(ctx, task, integration, adapter, window, cursor)
		if err != nil {
			return stats, err
		}

		stats.fetched += len(page.Entities)
		for i := range page.Entities {
			if err := w.applyEntity(ctx, task, integration, &page.Entities[i], &stats); err != nil {
				return stats, err
			}
		}

		cursor = page.Cursor
		if err := w.checkpoints.Save(ctx, task.LaneKey(), ports.Checkpoint{Cursor: cursor, Window: task.Window}); err != nil {
			return stats, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if !page.HasMore {
			break
		}
	}

	if err := w.checkpoints.Clear(ctx, task.LaneKey()); err != nil {
		w.logger.Warn().Err(err).Str("lane", task.LaneKey()).Msg("Failed to clear checkpoint")
	}
	return stats, nil
}

// syncOne handles single-entity tasks derived from webhooks and
// reconciliation reports.
func (w *Worker) syncOne(ctx context.Context, task *domain.SyncTask, integration *domain.Integration, adapter ports.PlatformAdapter) (runStats, error) {
	var stats runStats

	if task.EventKind == domain.ChangeDeleted {
		mapping, err := w.entities.Get(ctx, integration.ID, task.EntityType, task.EntityKey)
		if err != nil {
			return stats, fmt.Errorf("failed to load entity mapping: %w", err)
		}
		if mapping == nil {
			// Never seen, nothing downstream to retract.
			stats.skipped++
			return stats, nil
		}
		gone := &domain.CanonicalEntity{
			InternalID: mapping.InternalID,
			ExternalID: mapping.ExternalID,
			Platform:   integration.Platform,
			Type:       task.EntityType,
		}
		if err := w.publishWithRetry(ctx, task, gone, domain.ChangeDeleted); err != nil {
			return stats, err
		}
		stats.published++
		if err := w.entities.Delete(ctx, integration.ID, task.EntityType, task.EntityKey); err != nil {
			return stats, fmt.Errorf("failed to delete entity mapping: %w", err)
		}
		return stats, nil
	}

	entity, err := w.fetchEntity(ctx, task, integration, adapter)
	if err != nil {
		if domain.KindOf(err) == domain.ErrKindNotFound {
			// The entity vanished between the event and the fetch.
			stats.skipped++
			return stats, nil
		}
		return stats, err
	}

	stats.fetched++
	if err := w.applyEntity(ctx, task, integration, entity, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// applyEntity publishes an entity downstream when its content hash
// differs from the last recorded one, then updates the mapping. The
// hash is written only after a successful publish, keeping delivery
// at-least-once.
func (w *Worker) applyEntity(ctx context.Context, task *domain.SyncTask, integration *domain.Integration, entity *domain.CanonicalEntity, stats *runStats) error {
	if entity.Hash == "" {
		entity.Hash = entity.ComputeHash()
	}

	mapping, err := w.entities.Get(ctx, integration.ID, entity.Type, entity.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to load entity mapping: %w", err)
	}

	kind := domain.ChangeCreated
	if mapping != nil {
		if mapping.Hash == entity.Hash {
			stats.skipped++
			metrics.EntitiesSkipped.Inc()
			return nil
		}
		kind = domain.ChangeUpdated
		entity.InternalID = mapping.InternalID
	}

	if err := w.publishWithRetry(ctx, task, entity, kind); err != nil {
		return err
	}
	stats.published++

	next := &domain.EntityMapping{
		IntegrationID: integration.ID,
		ExternalID:    entity.ExternalID,
		InternalID:    entity.InternalID,
		EntityType:    entity.Type,
		Hash:          entity.Hash,
	}
	if err := w.entities.Put(ctx, next); err != nil {
		return fmt.Errorf("failed to record entity hash: %w", err)
	}
	return nil
}

// fetchPage wraps one FetchEntities call with the retry policy.
func (w *Worker) fetchPage(ctx context.Context, task *domain.SyncTask, integration *domain.Integration, adapter ports.PlatformAdapter, window domain.Window, cursor string) (*ports.FetchPage, error) {
	var page *ports.FetchPage
	err := w.withRetry(ctx, task, func(callCtx context.Context) error {
		auth, err := w.credentials.Authorize(callCtx, integration)
		if err != nil {
			return err
		}
		start := w.clock.Now()
		page, err = adapter.FetchEntities(callCtx, integration, auth, task.EntityType, window, cursor)
		metrics.FetchDuration.WithLabelValues(integration.Platform, string(task.EntityType)).
			Observe(w.clock.Now().Sub(start).Seconds())
		return err
	})
	return page, err
}

func (w *Worker) fetchEntity(ctx context.Context, task *domain.SyncTask, integration *domain.Integration, adapter ports.PlatformAdapter) (*domain.CanonicalEntity, error) {
	var entity *domain.CanonicalEntity
	err := w.withRetry(ctx, task, func(callCtx context.Context) error {
		auth, err := w.credentials.Authorize(callCtx, integration)
		if err != nil {
			return err
		}
		entity, err = adapter.FetchEntity(callCtx, integration, auth, task.EntityType, task.EntityKey)
		return err
	})
	return entity, err
}

func (w *Worker) publishWithRetry(ctx context.Context, task *domain.SyncTask, entity *domain.CanonicalEntity, kind domain.ChangeKind) error {
	err := w.withRetry(ctx, task, func(callCtx context.Context) error {
		return w.publisher.Publish(callCtx, entity, kind)
	})
	if err != nil {
		return err
	}
	metrics.EntitiesPublished.WithLabelValues(string(kind)).Inc()
	return nil
}

// withRetry runs fn under the per-call timeout, retrying transient and
// rate-limited failures with backoff up to the attempt budget. The
// attempt count lives on the task. Non-transient errors fail
// immediately; cancellation is checked before each retry.
func (w *Worker) withRetry(ctx context.Context, task *domain.SyncTask, fn func(ctx context.Context) error) error {
	for {
		callCtx := ctx
		var cancel context.CancelFunc
		if w.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}

		task.Attempt++
		if task.Attempt >= w.cfg.MaxAttempts {
			return fmt.Errorf("retries exhausted after %d attempts: %w", task.Attempt, err)
		}

		delay := w.cfg.Backoff.Delay(task.Attempt)
		if ra := domain.RetryAfterOf(err); ra > delay {
			delay = ra
		}
		task.NextAttemptAt = w.clock.Now().Add(delay)
		metrics.RetryAttempts.WithLabelValues(string(domain.KindOf(err))).Inc()

		w.logger.Warn().
			Err(err).
			Str("taskId", task.ID).
			Int("attempt", task.Attempt).
			Dur("delay", delay).
			Msg("Platform call failed, retrying")

		select {
		case <-w.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
