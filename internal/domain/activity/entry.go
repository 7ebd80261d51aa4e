// Package activity records the audit trail of escrow and withdrawal events.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names an audited event
type Action string

const (
	ActionEscrowCreated         Action = "escrow.created"
	ActionEscrowDepositPending  Action = "escrow.deposit.pending"
	ActionEscrowDepositSuccess  Action = "escrow.deposit.success"
	ActionEscrowDepositMismatch Action = "escrow.deposit.amount_mismatch"
	ActionEscrowCompleted       Action = "escrow.completed"
	ActionEscrowExpired         Action = "escrow.expired"
	ActionWithdrawalRequested   Action = "withdrawal.requested"
	ActionWithdrawalSettled     Action = "withdrawal.settled"
)

// StatusAction names the audit action of a plain status change.
func StatusAction(status string) Action {
	return Action("escrow.status." + status)
}

// Entry is one audited event
type Entry struct {
	ID          string            `json:"id" bson:"_id"`
	EntityType  string            `json:"entity_type" bson:"entity_type"`
	EntityID    string            `json:"entity_id" bson:"entity_id"`
	Action      Action            `json:"action" bson:"action"`
	ActorID     string            `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Description string            `json:"description" bson:"description"`
	Metadata    map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at" bson:"created_at"`
}

func NewEntry(entityType string, entityID uuid.UUID, action Action, description string) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		EntityID:    entityID.String(),
		Action:      action,
		Description: description,
		CreatedAt:   time.Now(),
	}
}

// WithActor sets the acting user
func (e *Entry) WithActor(actorID uuid.UUID) *Entry {
	e.ActorID = actorID.String()
	return e
}

// Repository manages activity entries with pagination support
type Repository interface {
	Create(ctx context.Context, entry *Entry) error

	// CreateOnce stores entry unless one with the same entity and action exists.
	// It reports whether the entry was inserted.
	CreateOnce(ctx context.Context, entry *Entry) (bool, error)
	ListByEntity(ctx context.Context, entityID string, limit, offset int) ([]*Entry, error)
	CountByEntity(ctx context.Context, entityID string) (int64, error)
}

const (
	EntityEscrow     = "escrow"
	EntityWithdrawal = "withdrawal"
)
