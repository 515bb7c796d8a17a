package domain

import "time"

// IntegrationStatus is the connection state of a seller's integration.
type IntegrationStatus string

const (
	IntegrationActive    IntegrationStatus = "active"
	IntegrationSuspended IntegrationStatus = "suspended"
	IntegrationRevoked   IntegrationStatus = "revoked"
)

// Integration represents one seller's connection to one external
// sales-channel platform. Integrations are created on successful
// authentication and soft-deactivated, never physically deleted.
type Integration struct {
	ID              string            `json:"id"`
	SellerID        string            `json:"seller_id"`
	Platform        string            `json:"platform"`
	ExternalAccount string            `json:"external_account"` // e.g. the shop domain on Shopify
	Status          IntegrationStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsActive reports whether the integration may authorize platform calls.
func (i *Integration) IsActive() bool {
	return i.Status == IntegrationActive
}

// EntityType identifies which kind of records a sync operates on.
type EntityType string

const (
	EntityProduct   EntityType = "product"
	EntityOrder     EntityType = "order"
	EntityInventory EntityType = "inventory"
	EntityReturn    EntityType = "return"
)

// ValidEntityType reports whether s names a known entity type.
func ValidEntityType(s string) bool {
	switch EntityType(s) {
	case EntityProduct, EntityOrder, EntityInventory, EntityReturn:
		return true
	}
	return false
}

// TriggerSource identifies what caused a sync task to be created.
type TriggerSource string

const (
	TriggerWebhook   TriggerSource = "webhook"
	TriggerManual    TriggerSource = "manual"
	TriggerScheduled TriggerSource = "scheduled"
	TriggerReconcile TriggerSource = "reconcile"
)
