// Package notification delivers user-facing escrow notifications. Delivery is
// best-effort: failures are logged and counted, never returned to the caller.
package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
)

// Type names a notification template
type Type string

const (
	TypeEscrowInvitation    Type = "escrow.invitation"
	TypeDepositReceived     Type = "escrow.deposit_received"
	TypeReleaseCode         Type = "escrow.release_code"
	TypeEscrowCompleted     Type = "escrow.completed"
	TypeEscrowExpired       Type = "escrow.expired"
	TypeWithdrawalRequested Type = "withdrawal.requested"
)

// Notification is one message addressed to a user or an email address
type Notification struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	RecipientID string            `json:"recipient_id,omitempty"`
	Email       string            `json:"email,omitempty"`
	EscrowID    string            `json:"escrow_id,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func New(t Type, escrowID string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Type:      t,
		EscrowID:  escrowID,
		Data:      map[string]string{},
		CreatedAt: time.Now(),
	}
}

// To addresses the notification.
func (n *Notification) To(recipientID, email string) *Notification {
	n.RecipientID = recipientID
	n.Email = email
	return n
}

// With attaches a template value.
func (n *Notification) With(key, value string) *Notification {
	n.Data[key] = value
	return n
}

// Notifier sends notifications without blocking the caller
type Notifier interface {
	Notify(ctx context.Context, n *Notification)
}

// Submitter runs a task in the background
type Submitter interface {
	Go(task func()) error
}

const defaultPublishTimeout = 5 * time.Second

// KafkaNotifier publishes notifications to the notification topic from the worker pool
type KafkaNotifier struct {
	logger    *slog.Logger
	pool      Submitter
	publisher producers.MessagePublisher
	timeout   time.Duration
}

func NewKafkaNotifier(logger *slog.Logger, pool Submitter, publisher producers.MessagePublisher) *KafkaNotifier {
	return &KafkaNotifier{
		logger:    logger,
		pool:      pool,
		publisher: publisher,
		timeout:   defaultPublishTimeout,
	}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n *Notification) {
	if n == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	err := k.pool.Go(func() {
		publishCtx, cancel := context.WithTimeout(ctx, k.timeout)
		defer cancel()

		key := n.EscrowID
		if key == "" {
			key = n.RecipientID
		}
		if err := k.publisher.Publish(publishCtx, key, n); err != nil {
			k.logger.Warn("Failed to send notification",
				"notification_id", n.ID,
				"type", string(n.Type),
				"escrow_id", n.EscrowID,
				"error", err,
			)
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			return
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	})
	if err != nil {
		k.logger.Warn("Notification dropped, worker pool unavailable",
			"notification_id", n.ID,
			"type", string(n.Type),
			"error", err,
		)
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
	}
}
