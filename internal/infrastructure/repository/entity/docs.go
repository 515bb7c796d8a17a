package entity

import (
	"time"

	"channel-sync-core/internal/domain"
)

// CredentialDoc represents an integration's active credential in MongoDB.
type CredentialDoc struct {
	IntegrationID string    `bson:"_id"`
	Scheme        string    `bson:"scheme"`
	AccessToken   string    `bson:"accessToken"`
	RefreshToken  string    `bson:"refreshToken,omitempty"`
	WebhookSecret string    `bson:"webhookSecret,omitempty"`
	ExpiresAt     time.Time `bson:"expiresAt,omitempty"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain credential.
func (d *CredentialDoc) ToDomain() *domain.Credential {
	return &domain.Credential{
		IntegrationID: d.IntegrationID,
		Scheme:        domain.AuthScheme(d.Scheme),
		AccessToken:   d.AccessToken,
		RefreshToken:  d.RefreshToken,
		WebhookSecret: d.WebhookSecret,
		ExpiresAt:     d.ExpiresAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// CredentialDocFromDomain converts a domain credential to a MongoDB document.
func CredentialDocFromDomain(cred *domain.Credential) *CredentialDoc {
	return &CredentialDoc{
		IntegrationID: cred.IntegrationID,
		Scheme:        string(cred.Scheme),
		AccessToken:   cred.AccessToken,
		RefreshToken:  cred.RefreshToken,
		WebhookSecret: cred.WebhookSecret,
		ExpiresAt:     cred.ExpiresAt,
		UpdatedAt:     cred.UpdatedAt,
	}
}

// IntegrationDoc represents an integration in MongoDB.
type IntegrationDoc struct {
	ID              string    `bson:"_id"`
	SellerID        string    `bson:"sellerId"`
	Platform        string    `bson:"platform"`
	ExternalAccount string    `bson:"externalAccount"`
	Status          string    `bson:"status"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain integration.
func (d *IntegrationDoc) ToDomain() *domain.Integration {
	return &domain.Integration{
		ID:              d.ID,
		SellerID:        d.SellerID,
		Platform:        d.Platform,
		ExternalAccount: d.ExternalAccount,
		Status:          domain.IntegrationStatus(d.Status),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// IntegrationDocFromDomain converts a domain integration to a MongoDB document.
func IntegrationDocFromDomain(integration *domain.Integration) *IntegrationDoc {
	return &IntegrationDoc{
		ID:              integration.ID,
		SellerID:        integration.SellerID,
		Platform:        integration.Platform,
		ExternalAccount: integration.ExternalAccount,
		Status:          string(integration.Status),
		CreatedAt:       integration.CreatedAt,
		UpdatedAt:       integration.UpdatedAt,
	}
}

// EntityMappingDoc is one row of the external→internal lookup table.
type EntityMappingDoc struct {
	ID            string    `bson:"_id"` // integrationID + "/" + entityType + "/" + externalID
	IntegrationID string    `bson:"integrationId"`
	ExternalID    string    `bson:"externalId"`
	InternalID    string    `bson:"internalId,omitempty"`
	EntityType    string    `bson:"entityType"`
	Hash          string    `bson:"hash"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

// MappingDocID builds the composite document key. The entity type is
// part of the key: types sharing an external ID space must not clobber
// each other's hashes.
func MappingDocID(integrationID string, entityType domain.EntityType, externalID string) string {
	return integrationID + "/" + string(entityType) + "/" + externalID
}

// ToDomain converts the MongoDB document to a domain mapping.
func (d *EntityMappingDoc) ToDomain() *domain.EntityMapping {
	return &domain.EntityMapping{
		IntegrationID: d.IntegrationID,
		ExternalID:    d.ExternalID,
		InternalID:    d.InternalID,
		EntityType:    domain.EntityType(d.EntityType),
		Hash:          d.Hash,
	}
}

// EntityMappingDocFromDomain converts a domain mapping to a MongoDB document.
func EntityMappingDocFromDomain(m *domain.EntityMapping) *EntityMappingDoc {
	return &EntityMappingDoc{
		ID:            MappingDocID(m.IntegrationID, m.EntityType, m.ExternalID),
		IntegrationID: m.IntegrationID,
		ExternalID:    m.ExternalID,
		InternalID:    m.InternalID,
		EntityType:    string(m.EntityType),
		Hash:          m.Hash,
	}
}

// CheckpointDoc persists a lane's in-progress fetch cursor together with
// the window the fetch covered.
type CheckpointDoc struct {
	LaneKey    string    `bson:"_id"`
	Cursor     string    `bson:"cursor"`
	WindowFrom time.Time `bson:"windowFrom,omitempty"`
	WindowTo   time.Time `bson:"windowTo,omitempty"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// SyncRunDoc is one journal entry per terminal sync task.
type SyncRunDoc struct {
	TaskID        string    `bson:"_id"`
	IntegrationID string    `bson:"integrationId"`
	EntityType    string    `bson:"entityType"`
	Trigger       string    `bson:"trigger"`
	Outcome       string    `bson:"outcome"`
	Error         string    `bson:"error,omitempty"`
	Fetched       int       `bson:"fetched"`
	Published     int       `bson:"published"`
	Skipped       int       `bson:"skipped"`
	StartedAt     time.Time `bson:"startedAt"`
	FinishedAt    time.Time `bson:"finishedAt"`
}

// ToDomain converts the MongoDB document to a domain sync run.
func (d *SyncRunDoc) ToDomain() *domain.SyncRun {
	return &domain.SyncRun{
		TaskID:        d.TaskID,
		IntegrationID: d.IntegrationID,
		EntityType:    domain.EntityType(d.EntityType),
		Trigger:       domain.TriggerSource(d.Trigger),
		Outcome:       domain.TaskOutcome(d.Outcome),
		Error:         d.Error,
		Fetched:       d.Fetched,
		Published:     d.Published,
		Skipped:       d.Skipped,
		StartedAt:     d.StartedAt,
		FinishedAt:    d.FinishedAt,
	}
}

// SyncRunDocFromDomain converts a domain sync run to a MongoDB document.
func SyncRunDocFromDomain(run *domain.SyncRun) *SyncRunDoc {
	return &SyncRunDoc{
		TaskID:        run.TaskID,
		IntegrationID: run.IntegrationID,
		EntityType:    string(run.EntityType),
		Trigger:       string(run.Trigger),
		Outcome:       string(run.Outcome),
		Error:         run.Error,
		Fetched:       run.Fetched,
		Published:     run.Published,
		Skipped:       run.Skipped,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}
