package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
	"github.com/escrow-settlement/internal/reconciliation"
)

const dlqSource = "webhook"

// EnvelopeProcessor applies one queued provider delivery
type EnvelopeProcessor interface {
	HandleEnvelope(ctx context.Context, env webhook.Envelope) error
}

// WebhookEventHandler handles queued webhook deliveries from Kafka
type WebhookEventHandler struct {
	processor EnvelopeProcessor
	producer  producers.DeadLetterPublisher
	logger    *slog.Logger
}

func NewWebhookEventHandler(
	logger *slog.Logger,
	processor EnvelopeProcessor,
	producer producers.DeadLetterPublisher,
) *WebhookEventHandler {
	return &WebhookEventHandler{
		processor: processor,
		producer:  producer,
		logger:    logger,
	}
}

// HandleMessage processes one Kafka message. A nil return commits the offset.
// Deliveries another worker is handling and deliveries rejected as invalid
// are acknowledged; signature and infrastructure failures are returned so the
// consumer parks the message.
func (h *WebhookEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var env webhook.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		unmarshalErrorMsg := "Failed to unmarshal webhook envelope from Kafka message"
		h.logger.Error(unmarshalErrorMsg,
			"error", err,
			"message_key", string(key),
		)

		if h.producer != nil {
			dlqReason := fmt.Sprintf("%s: %s", unmarshalErrorMsg, err.Error())
			if dlqErr := h.producer.PublishToDLQ(ctx, dlqSource, string(key), value, dlqReason); dlqErr != nil {
				h.logger.Error("Failed to publish message to DLQ after unmarshal error",
					"dlq_error", dlqErr,
					"original_error", err,
					"message_key", string(key),
				)
			} else {
				return nil
			}
		}
		return fmt.Errorf("failed to unmarshal message value: %w", err)
	}

	logger := h.logger.With("record_id", env.RecordID, "message_key", string(key))
	logger.Info("Received webhook delivery for reconciliation", "received_at", env.ReceivedAt)

	err := h.processor.HandleEnvelope(ctx, env)
	switch {
	case err == nil:
		logger.Info("Webhook delivery reconciled")
		return nil
	case errors.Is(err, reconciliation.ErrDeliveryInProgress):
		logger.Info("Webhook delivery handled by another worker")
		return nil
	case shared.KindOf(err) == shared.KindExpected:
		logger.Warn("Webhook delivery rejected", "error", err)
		return nil
	default:
		logger.Error("Failed to reconcile webhook delivery", "kind", shared.KindOf(err).String(), "error", err)
		return fmt.Errorf("reconciling webhook delivery %s failed: %w", env.RecordID, err)
	}
}
