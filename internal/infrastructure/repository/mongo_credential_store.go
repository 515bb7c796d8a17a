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

// MongoCredentialStore implements CredentialStore using MongoDB. The
// document is keyed by integration ID, so a save replaces the active
// credential rather than appending a second one.
type MongoCredentialStore struct {
	collection *mongo.Collection
}

// NewMongoCredentialStore creates a new MongoDB credential store.
func NewMongoCredentialStore(db *mongo.Database) ports.CredentialStore {
	return &MongoCredentialStore{
		collection: db.Collection("credentials"),
	}
}

// Load retrieves the active credential for an integration.
func (r *MongoCredentialStore) Load(ctx context.Context, integrationID string) (*domain.Credential, error) {
	var doc entity.CredentialDoc
	filter := bson.M{"_id": integrationID}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	return doc.ToDomain(), nil
}

// Save upserts the active credential for an integration.
func (r *MongoCredentialStore) Save(ctx context.Context, cred *domain.Credential) error {
	doc := entity.CredentialDocFromDomain(cred)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}

	filter := bson.M{"_id": doc.IntegrationID}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}
