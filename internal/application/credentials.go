package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
	"channel-sync-core/pkg/metrics"
)

// CredentialManager holds per-integration auth state and exposes the
// single "authorize a request" capability adapters rely on. Refresh is
// single-writer per integration: a per-integration lock serializes it,
// and the refreshed credential is persisted before any caller sees it.
type CredentialManager struct {
	creds        ports.CredentialStore
	integrations ports.IntegrationStore
	adapters     *ports.AdapterRegistry
	clock        ports.Clock
	margin       time.Duration
	logger       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCredentialManager creates a credential manager. margin is the
// expiry safety window: credentials expiring within it are refreshed
// synchronously before being handed out.
func NewCredentialManager(
	creds ports.CredentialStore,
	integrations ports.IntegrationStore,
	adapters *ports.AdapterRegistry,
	clock ports.Clock,
	margin time.Duration,
	logger zerolog.Logger,
) *CredentialManager {
	return &CredentialManager{
		creds:        creds,
		integrations: integrations,
		adapters:     adapters,
		clock:        clock,
		margin:       margin,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *CredentialManager) lockFor(integrationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[integrationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[integrationID] = l
	}
	return l
}

// Authorize returns the current valid credential as a request header.
// If the credential expires within the safety margin, a synchronous
// refresh runs first. Suspended integrations surface auth-expired until
// manual re-authentication.
func (m *CredentialManager) Authorize(ctx context.Context, integration *domain.Integration) (domain.AuthHeader, error) {
	if !integration.IsActive() {
		return domain.AuthHeader{}, domain.NewAuthExpired("authorize", fmt.Errorf("integration %s is %s", integration.ID, integration.Status))
	}

	cred, err := m.creds.Load(ctx, integration.ID)
	if err != nil {
		return domain.AuthHeader{}, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return domain.AuthHeader{}, domain.NewAuthExpired("authorize", fmt.Errorf("no credential for integration %s", integration.ID))
	}

	if cred.ExpiresWithin(m.clock.Now(), m.margin) {
		cred, err = m.Refresh(ctx, integration)
		if err != nil {
			return domain.AuthHeader{}, err
		}
	}

	return cred.Header(), nil
}

// Refresh exchanges the active credential at the platform's token
// endpoint and atomically replaces it. On success the new credential is
// saved before being returned (durability precedes use). On failure the
// integration is suspended and auth-expired surfaces to every caller.
func (m *CredentialManager) Refresh(ctx context.Context, integration *domain.Integration) (*domain.Credential, error) {
	lock := m.lockFor(integration.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	current, err := m.creds.Load(ctx, integration.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if current == nil {
		return nil, domain.NewAuthExpired("refresh", fmt.Errorf("no credential for integration %s", integration.ID))
	}
	if !current.ExpiresWithin(m.clock.Now(), m.margin) {
		return current, nil
	}

	adapter, err := m.adapters.Lookup(integration.Platform)
	if err != nil {
		return nil, err
	}

	fresh, err := adapter.RefreshCredential(ctx, integration, current)
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("failure").Inc()
		m.logger.Error().
			Err(err).
			Str("integrationId", integration.ID).
			Str("platform", integration.Platform).
			Msg("Credential refresh failed, suspending integration")

		if suspendErr := m.integrations.UpdateStatus(ctx, integration.ID, domain.IntegrationSuspended); suspendErr != nil {
			m.logger.Error().Err(suspendErr).Str("integrationId", integration.ID).Msg("Failed to suspend integration")
		}
		integration.Status = domain.IntegrationSuspended
		return nil, domain.NewAuthExpired("refresh", err)
	}

	fresh.IntegrationID = integration.ID
	fresh.UpdatedAt = m.clock.Now()
	if err := m.creds.Save(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	metrics.CredentialRefreshes.WithLabelValues("success").Inc()
	m.logger.Info().
		Str("integrationId", integration.ID).
		Str("platform", integration.Platform).
		Time("expiresAt", fresh.ExpiresAt).
		Msg("Credential refreshed")
	return fresh, nil
}

// WebhookSecret returns the shared secret used to verify inbound
// webhook signatures for the integration.
func (m *CredentialManager) WebhookSecret(ctx context.Context, integrationID string) (string, error) {
	cred, err := m.creds.Load(ctx, integrationID)
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil || cred.WebhookSecret == "" {
		return "", fmt.Errorf("no webhook secret for integration %s", integrationID)
	}
	return cred.WebhookSecret, nil
}
