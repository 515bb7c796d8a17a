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

// MongoCheckpointStore persists per-lane fetch cursors so an interrupted
// paginated fetch resumes from the last page instead of restarting.
type MongoCheckpointStore struct {
	collection *mongo.Collection
}

// NewMongoCheckpointStore creates a new MongoDB checkpoint store.
func NewMongoCheckpointStore(db *mongo.Database) ports.CheckpointStore {
	return &MongoCheckpointStore{
		collection: db.Collection("sync_checkpoints"),
	}
}

// Load returns the lane's saved checkpoint, nil when none exists.
func (r *MongoCheckpointStore) Load(ctx context.Context, laneKey string) (*ports.Checkpoint, error) {
	var doc entity.CheckpointDoc
	filter := bson.M{"_id": laneKey}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return &ports.Checkpoint{
		Cursor: doc.Cursor,
		Window: domain.Window{From: doc.WindowFrom, To: doc.WindowTo},
	}, nil
}

// Save upserts the lane's cursor and window.
func (r *MongoCheckpointStore) Save(ctx context.Context, laneKey string, cp ports.Checkpoint) error {
	doc := entity.CheckpointDoc{
		LaneKey:    laneKey,
		Cursor:     cp.Cursor,
		WindowFrom: cp.Window.From,
		WindowTo:   cp.Window.To,
		UpdatedAt:  time.Now(),
	}

	filter := bson.M{"_id": laneKey}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Clear drops the lane's checkpoint after a fetch completes.
func (r *MongoCheckpointStore) Clear(ctx context.Context, laneKey string) error {
	filter := bson.M{"_id": laneKey}
	if _, err := r.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
