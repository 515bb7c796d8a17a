package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/infrastructure/repository/entity"
	"channel-sync-core/internal/ports"
)

// MongoEntityStore implements the (integration ID, entity type,
// external ID) → internal ID lookup table with last-published content
// hashes.
type MongoEntityStore struct {
	collection *mongo.Collection
}

// NewMongoEntityStore creates a new MongoDB entity store.
func NewMongoEntityStore(db *mongo.Database) ports.EntityStore {
	return &MongoEntityStore{
		collection: db.Collection("entity_mappings"),
	}
}

// Get retrieves the mapping for one external entity, nil when unseen.
func (r *MongoEntityStore) Get(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) (*domain.EntityMapping, error) {
	var doc entity.EntityMappingDoc
	filter := bson.M{"_id": entity.MappingDocID(integrationID, entityType, externalID)}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity mapping: %w", err)
	}

	return doc.ToDomain(), nil
}

// Put upserts the mapping.
func (r *MongoEntityStore) Put(ctx context.Context, mapping *domain.EntityMapping) error {
	doc := entity.EntityMappingDocFromDomain(mapping)
	doc.UpdatedAt = time.Now()

	filter := bson.M{"_id": doc.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to put entity mapping: %w", err)
	}
	return nil
}

// Delete removes the mapping after a deletion has been published.
func (r *MongoEntityStore) Delete(ctx context.Context, integrationID string, entityType domain.EntityType, externalID string) error {
	filter := bson.M{"_id": entity.MappingDocID(integrationID, entityType, externalID)}
	if _, err := r.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete entity mapping: %w", err)
	}
	return nil
}

// Snapshot returns externalID→hash for one (integration, entity type) set.
func (r *MongoEntityStore) Snapshot(ctx context.Context, integrationID string, entityType domain.EntityType) (domain.Snapshot, error) {
	filter := bson.M{
		"integrationId": integrationID,
		"entityType":    string(entityType),
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot entity mappings: %w", err)
	}
	defer cursor.Close(ctx)

	snapshot := make(domain.Snapshot)
	for cursor.Next(ctx) {
		var doc entity.EntityMappingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode entity mapping: %w", err)
		}
		snapshot[doc.ExternalID] = doc.Hash
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity mappings: %w", err)
	}
	return snapshot, nil
}
