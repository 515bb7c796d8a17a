package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ChangeKind describes what happened to an entity.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// CanonicalEntity is the platform-agnostic representation of a product,
// order or inventory record after adapter transformation.
type CanonicalEntity struct {
	InternalID string         `json:"internal_id,omitempty"` // set once the mapping table knows this entity
	ExternalID string         `json:"external_id"`
	Platform   string         `json:"platform"`
	Type       EntityType     `json:"type"`
	Payload    map[string]any `json:"payload"`
	Hash       string         `json:"hash"`
	Sequence   int64          `json:"sequence,omitempty"`
}

// ComputeHash derives the content hash from the payload. It is a pure
// function of the payload: encoding/json sorts map keys, so the same
// payload always produces the same hash. Downstream consumers use it to
// skip no-op updates.
func (e *CanonicalEntity) ComputeHash() string {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		// Payloads are built from decoded JSON and cannot fail to re-encode.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Snapshot maps external IDs to content hashes for one
// (integration, entity type) set. Used by the reconciliation engine.
type Snapshot map[string]string

// EntityMapping is one row of the lookup table keyed by
// (integration ID, external ID). It remembers the internal ID and the
// last published content hash.
type EntityMapping struct {
	IntegrationID string     `json:"integration_id"`
	ExternalID    string     `json:"external_id"`
	InternalID    string     `json:"internal_id"`
	EntityType    EntityType `json:"entity_type"`
	Hash          string     `json:"hash"`
}
