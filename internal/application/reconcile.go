package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

// DiffReport lists the divergence between two snapshots of the same
// entity set, keyed by external ID.
type DiffReport struct {
	Added   []string `json:"added"`   // present in target, absent from source
	Removed []string `json:"removed"` // present in source, absent from target
	Changed []string `json:"changed"` // present in both with differing hashes
}

// Empty reports whether the two snapshots were identical.
func (r *DiffReport) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Diff compares two snapshots by content hash. Hash comparison, not deep
// payload equality, keeps this linear in the snapshot sizes.
func Diff(source, target domain.Snapshot) *DiffReport {
	report := &DiffReport{}

	for id, hash := range target {
		srcHash, ok := source[id]
		if !ok {
			report.Added = append(report.Added, id)
			continue
		}
		if srcHash != hash {
			report.Changed = append(report.Changed, id)
		}
	}
	for id := range source {
		if _, ok := target[id]; !ok {
			report.Removed = append(report.Removed, id)
		}
	}

	sort.Strings(report.Added)
	sort.Strings(report.Removed)
	sort.Strings(report.Changed)
	return report
}

// TaskSubmitter is the slice of the dispatcher the reconciler needs.
type TaskSubmitter interface {
	Submit(ctx context.Context, task *domain.SyncTask) (bool, error)
}

// Reconciler detects divergence between the platform's current full
// listing and the locally recorded entity set. Used for user-triggered
// catalog comparison and for post-outage catch-up: a full diff
// guarantees eventual consistency despite any missed webhook events.
// Derived tasks carry the reconcile trigger, which bypasses the cooldown
// gate but not the in-progress exclusivity.
type Reconciler struct {
	adapters     *ports.AdapterRegistry
	integrations ports.IntegrationStore
	credentials  *CredentialManager
	entities     ports.EntityStore
	submitter    TaskSubmitter
	logger       zerolog.Logger
}

// NewReconciler wires a reconciler. submitter may be nil for
// comparison-only use.
func NewReconciler(
	adapters *ports.AdapterRegistry,
	integrations ports.IntegrationStore,
	credentials *CredentialManager,
	entities ports.EntityStore,
	submitter TaskSubmitter,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		adapters:     adapters,
		integrations: integrations,
		credentials:  credentials,
		entities:     entities,
		submitter:    submitter,
		logger:       logger,
	}
}

// Compare fetches the platform's full current listing and diffs it
// against the recorded local snapshot.
func (r *Reconciler) Compare(ctx context.Context, integrationID string, entityType domain.EntityType) (*DiffReport, error) {
	integration, err := r.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}
	if integration == nil {
		return nil, fmt.Errorf("integration %s not found", integrationID)
	}

	adapter, err := r.adapters.Lookup(integration.Platform)
	if err != nil {
		return nil, err
	}

	remote := make(domain.Snapshot)
	cursor := ""
	for {
		auth, err := r.credentials.Authorize(ctx, integration)
		if err != nil {
			return nil, err
		}
		// Zero window: full listing, not a delta-by-time fetch.
		page, err := adapter.FetchEntities(ctx, integration, auth, entityType, domain.Window{}, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch full listing: %w", err)
		}
		for i := range page.Entities {
			e := &page.Entities[i]
			if e.Hash == "" {
				e.Hash = e.ComputeHash()
			}
			remote[e.ExternalID] = e.Hash
		}
		cursor = page.Cursor
		if !page.HasMore {
			break
		}
	}

	local, err := r.entities.Snapshot(ctx, integrationID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot local entities: %w", err)
	}

	report := Diff(local, remote)
	r.logger.Info().
		Str("integrationId", integrationID).
		Str("entityType", string(entityType)).
		Int("added", len(report.Added)).
		Int("removed", len(report.Removed)).
		Int("changed", len(report.Changed)).
		Msg("Reconciliation diff computed")
	return report, nil
}

// CatchUp runs Compare and feeds one derived sync task per divergent
// entity back into the dispatcher. Returns the report plus the number of
// tasks actually enqueued (duplicates inside the dedup horizon are
// dropped by the dispatcher).
func (r *Reconciler) CatchUp(ctx context.Context, integrationID string, entityType domain.EntityType) (*DiffReport, int, error) {
	report, err := r.Compare(ctx, integrationID, entityType)
	if err != nil {
		return nil, 0, err
	}
	if r.submitter == nil {
		return report, 0, nil
	}

	enqueued := 0
	submit := func(externalID string, kind domain.ChangeKind) error {
		task := &domain.SyncTask{
			IntegrationID: integrationID,
			EntityType:    entityType,
			Trigger:       domain.TriggerReconcile,
			EntityKey:     externalID,
			EventKind:     kind,
		}
		accepted, err := r.submitter.Submit(ctx, task)
		if err != nil {
			return err
		}
		if accepted {
			enqueued++
		}
		return nil
	}

	for _, id := range report.Added {
		if err := submit(id, domain.ChangeCreated); err != nil {
			return report, enqueued, err
		}
	}
	for _, id := range report.Changed {
		if err := submit(id, domain.ChangeUpdated); err != nil {
			return report, enqueued, err
		}
	}
	for _, id := range report.Removed {
		if err := submit(id, domain.ChangeDeleted); err != nil {
			return report, enqueued, err
		}
	}

	return report, enqueued, nil
}
