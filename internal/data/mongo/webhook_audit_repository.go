package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/escrow-settlement/internal/domain/webhook"
)

const (
	// WebhookCollectionName is the name of the webhook delivery audit collection
	WebhookCollectionName = "webhook_events"
)

// WebhookAuditRepository implements webhook.AuditRepository for MongoDB
type WebhookAuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

func NewWebhookAuditRepository(logger *slog.Logger, db *mongo.Database) webhook.AuditRepository {
	return &WebhookAuditRepository{
		db:     db,
		logger: logger,
	}
}

// WebhookIndexes lists the indexes the webhook audit collection relies on.
func WebhookIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}, {Key: "event", Value: 1}}},
		{Keys: bson.D{{Key: "received_at", Value: -1}}},
	}
}

func (r *WebhookAuditRepository) Create(ctx context.Context, record *webhook.Record) error {
	collection := r.db.Collection(WebhookCollectionName)

	if _, err := collection.InsertOne(ctx, record); err != nil {
		r.logger.Error("Failed to store webhook delivery",
			"event", record.Event,
			"reference", record.Reference,
			"error", err)
		return fmt.Errorf("failed to store webhook delivery: %w", err)
	}

	return nil
}

// UpdateOutcome records how a delivery was handled. A missing record is
// logged and ignored since the audit trail never gates settlement.
func (r *WebhookAuditRepository) UpdateOutcome(ctx context.Context, id string, outcome webhook.Outcome, errMsg string) error {
	collection := r.db.Collection(WebhookCollectionName)

	set := bson.M{
		"outcome":      outcome,
		"processed_at": time.Now(),
	}
	if errMsg != "" {
		set["error"] = errMsg
	}

	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		r.logger.Error("Failed to update webhook delivery outcome",
			"record_id", id,
			"outcome", string(outcome),
			"error", err)
		return fmt.Errorf("failed to update webhook delivery outcome: %w", err)
	}

	if result.MatchedCount == 0 {
		r.logger.Warn("Webhook delivery record not found", "record_id", id)
	}

	return nil
}
