package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

// IntegrationService manages the integration lifecycle: created on
// successful authentication, suspended on credential failure, revoked
// (soft-deactivated) on disconnect. Never physically deleted.
type IntegrationService struct {
	integrations   ports.IntegrationStore
	credentials    *CredentialManager
	creds          ports.CredentialStore
	adapters       *ports.AdapterRegistry
	clock          ports.Clock
	webhookBaseURL string
	logger         zerolog.Logger
}

// NewIntegrationService creates an integration service.
func NewIntegrationService(
	integrations ports.IntegrationStore,
	credentials *CredentialManager,
	creds ports.CredentialStore,
	adapters *ports.AdapterRegistry,
	clock ports.Clock,
	webhookBaseURL string,
	logger zerolog.Logger,
) *IntegrationService {
	return &IntegrationService{
		integrations:   integrations,
		credentials:    credentials,
		creds:          creds,
		adapters:       adapters,
		clock:          clock,
		webhookBaseURL: webhookBaseURL,
		logger:         logger,
	}
}

// ConnectInput carries everything a successful external authentication
// produced.
type ConnectInput struct {
	SellerID        string
	Platform        string
	ExternalAccount string
	Credential      domain.Credential
}

// Connect creates an active integration, persists its credential and
// registers the platform webhooks pointing back at this service.
func (s *IntegrationService) Connect(ctx context.Context, input ConnectInput) (*domain.Integration, error) {
	adapter, err := s.adapters.Lookup(input.Platform)
	if err != nil {
		return nil, err
	}

	existing, err := s.integrations.FindByAccount(ctx, input.Platform, input.ExternalAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing integration: %w", err)
	}
	if existing != nil && existing.IsActive() {
		return nil, domain.NewConflict("connect",
			fmt.Errorf("account %s on %s is already connected as integration %s", input.ExternalAccount, input.Platform, existing.ID))
	}

	now := s.clock.Now()
	integration := &domain.Integration{
		ID:              uuid.NewString(),
		SellerID:        input.SellerID,
		Platform:        input.Platform,
		ExternalAccount: input.ExternalAccount,
		Status:          domain.IntegrationActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.integrations.Create(ctx, integration); err != nil {
		return nil, fmt.Errorf("failed to create integration: %w", err)
	}

	cred := input.Credential
	cred.IntegrationID = integration.ID
	cred.UpdatedAt = now
	if err := s.creds.Save(ctx, &cred); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}

	callbackURL := fmt.Sprintf("%s/webhooks/%s/%s", s.webhookBaseURL, integration.Platform, integration.ID)
	if err := adapter.RegisterWebhook(ctx, integration, cred.Header(), callbackURL); err != nil {
		// Webhook registration failing does not undo the connect; polling
		// and reconciliation still cover the integration.
		s.logger.Warn().
			Err(err).
			Str("integrationId", integration.ID).
			Str("callbackUrl", callbackURL).
			Msg("Webhook registration failed")
	}

	s.logger.Info().
		Str("integrationId", integration.ID).
		Str("sellerId", input.SellerID).
		Str("platform", input.Platform).
		Str("externalAccount", input.ExternalAccount).
		Msg("Integration connected")
	return integration, nil
}

// Get returns an integration by ID.
func (s *IntegrationService) Get(ctx context.Context, id string) (*domain.Integration, error) {
	integration, err := s.integrations.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	if integration == nil {
		return nil, fmt.Errorf("integration %s not found", id)
	}
	return integration, nil
}

// Revoke soft-deactivates an integration.
func (s *IntegrationService) Revoke(ctx context.Context, id string) error {
	if err := s.integrations.UpdateStatus(ctx, id, domain.IntegrationRevoked); err != nil {
		return fmt.Errorf("failed to revoke integration: %w", err)
	}
	s.logger.Info().Str("integrationId", id).Msg("Integration revoked")
	return nil
}

// PushInventory forwards an internal quantity change to the external
// platform. Idempotent from this caller's perspective: the adapter sets
// an absolute quantity, so repeating the same push never
// double-decrements anything remote.
func (s *IntegrationService) PushInventory(ctx context.Context, integrationID, externalID string, quantity int) error {
	integration, err := s.Get(ctx, integrationID)
	if err != nil {
		return err
	}

	adapter, err := s.adapters.Lookup(integration.Platform)
	if err != nil {
		return err
	}

	auth, err := s.credentials.Authorize(ctx, integration)
	if err != nil {
		return err
	}

	if err := adapter.PushInventory(ctx, integration, auth, externalID, quantity); err != nil {
		return err
	}

	s.logger.Info().
		Str("integrationId", integrationID).
		Str("externalId", externalID).
		Int("quantity", quantity).
		Msg("Inventory pushed to platform")
	return nil
}
