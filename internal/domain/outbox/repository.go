package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/jackc/pgx/v5"
)

// Repository manages settlement intent persistence
type Repository interface {
	// Reserve inserts message unless an intent with the same kind and reference
	// exists. It returns the stored intent and whether it was created by this call.
	Reserve(ctx context.Context, message *Message) (*Message, bool, error)
	GetByReference(ctx context.Context, kind Kind, reference string) (*Message, error)
	GetStale(ctx context.Context, olderThan time.Time, limit int) ([]*Message, error)
	UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error
	IncrementAttempts(ctx context.Context, id int64) error
	WithTx(tx pgx.Tx) Repository
}

// ErrMessageNotFound indicates missing outbox message
type ErrMessageNotFound struct {
	ID        int64
	Reference string
}

func (e ErrMessageNotFound) Error() string {
	if e.Reference != "" {
		return "outbox message not found: " + e.Reference
	}
	return "outbox message not found: " + strconv.FormatInt(e.ID, 10)
}
