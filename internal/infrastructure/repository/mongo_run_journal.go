package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/infrastructure/repository/entity"
	"channel-sync-core/internal/ports"
)

// MongoRunJournal records one document per terminal sync task.
type MongoRunJournal struct {
	collection *mongo.Collection
}

// NewMongoRunJournal creates a new MongoDB run journal.
func NewMongoRunJournal(db *mongo.Database) ports.RunJournal {
	return &MongoRunJournal{
		collection: db.Collection("sync_runs"),
	}
}

// Record upserts the journal entry for a task.
func (r *MongoRunJournal) Record(ctx context.Context, run *domain.SyncRun) error {
	doc := entity.SyncRunDocFromDomain(run)

	filter := bson.M{"_id": doc.TaskID}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// Latest returns the most recent run for a pair, nil when it never synced.
func (r *MongoRunJournal) Latest(ctx context.Context, integrationID string, entityType domain.EntityType) (*domain.SyncRun, error) {
	var doc entity.SyncRunDoc
	filter := bson.M{
		"integrationId": integrationID,
		"entityType":    string(entityType),
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "finishedAt", Value: -1}})

	err := r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest sync run: %w", err)
	}
	return doc.ToDomain(), nil
}
