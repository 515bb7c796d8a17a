package ports

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"channel-sync-core/internal/domain"
)

// FetchPage is one page of a paginated fetch. Cursor is opaque to the
// caller and is checkpointed so a crashed fetch resumes where it stopped.
type FetchPage struct {
	Entities []domain.CanonicalEntity
	Cursor   string
	HasMore  bool
}

// ParsedWebhook is the normalized result of decoding a platform webhook
// body.
type ParsedWebhook struct {
	EntityType domain.EntityType
	ExternalID string
	Kind       domain.ChangeKind
}

// PlatformAdapter translates fetch/push operations for one external
// platform into the uniform request/response shape used by the sync
// core. Implementations are stateless aside from app-level credentials;
// per-integration auth arrives on every call.
//
// Errors cross this boundary as *domain.SyncError so the worker can
// decide retryability without knowing the platform.
type PlatformAdapter interface {
	// Platform returns the tag adapters are registered under.
	Platform() string

	// MaxLookback is the furthest back a fetch window may reach. Zero
	// means the platform imposes no limit.
	MaxLookback() time.Duration

	// FetchEntities returns one page of entities changed inside window.
	// An empty cursor starts from the beginning. Returns a rate-limit
	// error carrying retry-after when the platform throttles.
	FetchEntities(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, window domain.Window, cursor string) (*FetchPage, error)

	// FetchEntity retrieves a single entity by its external ID.
	FetchEntity(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, externalID string) (*domain.CanonicalEntity, error)

	// PushInventory sets the remote available quantity. Idempotent:
	// pushing the same quantity twice never double-decrements anything
	// remote. Errors include not-found and conflict (stale version).
	PushInventory(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, externalID string, quantity int) error

	// RefreshCredential exchanges the current credential for a fresh one
	// at the platform's token endpoint.
	RefreshCredential(ctx context.Context, integration *domain.Integration, current *domain.Credential) (*domain.Credential, error)

	// RegisterWebhook subscribes the callback URL to the platform's
	// change notifications.
	RegisterWebhook(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, callbackURL string) error

	// VerifyWebhookSignature checks the payload signature in constant
	// time. A failed check is a boolean, not an error.
	VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool

	// ParseWebhook decodes a webhook body into its entity reference.
	// Returns a malformed-payload error when the body does not match the
	// platform's schema; never partially mutates caller state.
	ParseWebhook(rawBody []byte, headers http.Header) (*ParsedWebhook, error)
}

// AdapterRegistry resolves platform tags to adapters. Built once at
// startup; lookups are read-only afterwards.
type AdapterRegistry struct {
	adapters map[string]PlatformAdapter
}

// NewAdapterRegistry indexes the given adapters by platform tag.
func NewAdapterRegistry(adapters ...PlatformAdapter) *AdapterRegistry {
	m := make(map[string]PlatformAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &AdapterRegistry{adapters: m}
}

// Lookup returns the adapter for the platform tag.
func (r *AdapterRegistry) Lookup(platform string) (PlatformAdapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}
	return a, nil
}
