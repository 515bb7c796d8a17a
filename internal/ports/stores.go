package ports

import (
	"context"

	"channel-sync-core/internal/domain"
)

// CredentialStore persists the active credential per integration.
// Durable persistence is an external collaborator; the credential
// manager saves every refreshed credential here before handing it to
// any caller.
type CredentialStore interface {
	Load(ctx context.Context, integrationID string) (*domain.Credential, error)
	Save(ctx context.Context, cred *domain.Credential) error
}

// IntegrationStore persists integrations. Integrations are never
// physically deleted, only status-transitioned.
type IntegrationStore interface {
	Get(ctx context.Context, id string) (*domain.Integration, error)
	// FindByAccount returns the integration connecting the given external
	// account on a platform, or nil when none exists.
	FindByAccount(ctx context.Context, platform, externalAccount string) (*domain.Integration, error)
	Create(ctx context.Context, integration *domain.Integration) error
	UpdateStatus(ctx context.Context, id string, status domain.IntegrationStatus) error
}

// EntityStore is the lookup table keyed by (integration ID, entity type,
// external ID) that maps external representations to internal IDs and
// remembers the last published content hash. The entity type is part of
// the key because two types on the same platform may share one external
// ID space, such as returns carried on order records.
type EntityStore interface {
	// Get returns nil without error when no mapping exists yet.
	Get(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) (*domain.EntityMapping, error)
	Put(ctx context.Context, mapping *domain.EntityMapping) error
	Delete(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) error
	// Snapshot returns externalID→hash for one (integration, entity type)
	// set, used by the reconciliation engine.
	Snapshot(ctx context.Context, integrationID string, entityType domain.EntityType) (domain.Snapshot, error)
}

// Checkpoint is a persisted pagination cursor plus the window the fetch
// was scoped to. A cursor only makes sense inside the window that
// produced it, so the worker resumes from a checkpoint only when the
// windows match.
type Checkpoint struct {
	Cursor string
	Window domain.Window
}

// CheckpointStore persists the pagination cursor of an in-progress fetch
// per lane, so a crash mid-fetch resumes from the last cursor instead of
// restarting from zero.
type CheckpointStore interface {
	// Load returns nil without error when no checkpoint exists.
	Load(ctx context.Context, laneKey string) (*Checkpoint, error)
	Save(ctx context.Context, laneKey string, cp Checkpoint) error
	Clear(ctx context.Context, laneKey string) error
}

// RunJournal records one document per terminal sync task for the status
// surface.
type RunJournal interface {
	Record(ctx context.Context, run *domain.SyncRun) error
	// Latest returns nil without error when the pair has never synced.
	Latest(ctx context.Context, integrationID string, entityType domain.EntityType) (*domain.SyncRun, error)
}
