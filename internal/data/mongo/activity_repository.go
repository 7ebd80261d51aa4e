package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/escrow-settlement/internal/domain/activity"
)

const (
	// ActivityCollectionName is the name of the activity log collection in MongoDB
	ActivityCollectionName = "activity_logs"
)

// ActivityRepository implements the activity.Repository interface for MongoDB
type ActivityRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewActivityRepository creates a new MongoDB activity repository
func NewActivityRepository(logger *slog.Logger, db *mongo.Database) activity.Repository {
	return &ActivityRepository{
		db:     db,
		logger: logger,
	}
}

// ActivityIndexes lists the indexes the activity collection relies on.
func ActivityIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "entity_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "entity_id", Value: 1}, {Key: "action", Value: 1}}},
	}
}

func (r *ActivityRepository) Create(ctx context.Context, entry *activity.Entry) error {
	collection := r.db.Collection(ActivityCollectionName)

	if _, err := collection.InsertOne(ctx, entry); err != nil {
		r.logger.Error("Failed to create activity entry",
			"entity_id", entry.EntityID,
			"action", string(entry.Action),
			"error", err)
		return fmt.Errorf("failed to create activity entry: %w", err)
	}

	return nil
}

// CreateOnce upserts on (entity_id, action) so a replayed event leaves a
// single entry behind.
func (r *ActivityRepository) CreateOnce(ctx context.Context, entry *activity.Entry) (bool, error) {
	collection := r.db.Collection(ActivityCollectionName)

	filter := bson.M{"entity_id": entry.EntityID, "action": entry.Action}
	update := bson.M{"$setOnInsert": entry}
	opts := options.Update().SetUpsert(true)

	result, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		r.logger.Error("Failed to record activity entry",
			"entity_id", entry.EntityID,
			"action", string(entry.Action),
			"error", err)
		return false, fmt.Errorf("failed to record activity entry: %w", err)
	}

	return result.UpsertedCount > 0, nil
}

// ListByEntity retrieves paginated entries for an entity, newest first.
func (r *ActivityRepository) ListByEntity(ctx context.Context, entityID string, limit, offset int) ([]*activity.Entry, error) {
	collection := r.db.Collection(ActivityCollectionName)

	filter := bson.M{"entity_id": entityID}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get activity entries",
			"entity_id", entityID,
			"error", err)
		return nil, fmt.Errorf("failed to get activity entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*activity.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode activity entries",
			"entity_id", entityID,
			"error", err)
		return nil, fmt.Errorf("failed to decode activity entries: %w", err)
	}

	return entries, nil
}

func (r *ActivityRepository) CountByEntity(ctx context.Context, entityID string) (int64, error) {
	collection := r.db.Collection(ActivityCollectionName)

	count, err := collection.CountDocuments(ctx, bson.M{"entity_id": entityID})
	if err != nil {
		r.logger.Error("Failed to count activity entries",
			"entity_id", entityID,
			"error", err)
		return 0, fmt.Errorf("failed to count activity entries: %w", err)
	}

	return count, nil
}
