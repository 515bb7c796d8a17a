package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/infrastructure/repository/entity"
	"channel-sync-core/internal/ports"
)

// MongoIntegrationStore implements IntegrationStore using MongoDB.
type MongoIntegrationStore struct {
	collection *mongo.Collection
}

// NewMongoIntegrationStore creates a new MongoDB integration store.
func NewMongoIntegrationStore(db *mongo.Database) ports.IntegrationStore {
	return &MongoIntegrationStore{
		collection: db.Collection("integrations"),
	}
}

// Get retrieves an integration by ID.
func (r *MongoIntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	var doc entity.IntegrationDoc
	filter := bson.M{"_id": id}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	return doc.ToDomain(), nil
}

// FindByAccount retrieves the integration for one external account on a
// platform.
func (r *MongoIntegrationStore) FindByAccount(ctx context.Context, platform, externalAccount string) (*domain.Integration, error) {
	var doc entity.IntegrationDoc
	filter := bson.M{"platform": platform, "externalAccount": externalAccount}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find integration by account: %w", err)
	}

	return doc.ToDomain(), nil
}

// Create inserts a new integration.
func (r *MongoIntegrationStore) Create(ctx context.Context, integration *domain.Integration) error {
	doc := entity.IntegrationDocFromDomain(integration)
	doc.UpdatedAt = time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

// UpdateStatus transitions an integration's connection status.
// Integrations are never deleted, only status-transitioned.
func (r *MongoIntegrationStore) UpdateStatus(ctx context.Context, id string, status domain.IntegrationStatus) error {
	filter := bson.M{"_id": id}
	update := bson.M{"$set": bson.M{
		"status":    string(status),
		"updatedAt": time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update integration status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("integration not found")
	}
	return nil
}
