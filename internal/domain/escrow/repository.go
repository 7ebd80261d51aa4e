package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepository persists escrow transactions
type TransactionRepository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*Transaction, error)
	CountByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) (int64, error)

	// UpdateStatus moves the transaction from the observed status to the next one.
	// It fails with ErrConcurrentModification when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	UpdateStatusWithReleaseCode(ctx context.Context, id uuid.UUID, from, to Status, releaseCodeHash string) error
	WithTx(tx pgx.Tx) TransactionRepository
}

// RequestRepository persists counterparty invitations
type RequestRepository interface {
	Create(ctx context.Context, req *Request) error
	GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*Request, error)
	SetSession(ctx context.Context, escrowID uuid.UUID, accessCode, authorizationURL string) error
	MarkAccepted(ctx context.Context, escrowID uuid.UUID, at time.Time) error
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListExpiredUnprocessed returns requests whose window closed at or before now,
	// that were never processed, and whose escrow is in one of statuses.
	ListExpiredUnprocessed(ctx context.Context, now time.Time, statuses []Status, limit int) ([]*Request, error)
	WithTx(tx pgx.Tx) RequestRepository
}

// ParticipantRepository persists escrow participants
type ParticipantRepository interface {
	// Add is a no-op when the role is already taken for the escrow.
	Add(ctx context.Context, p *Participant) error
	ListByEscrowID(ctx context.Context, escrowID uuid.UUID) (Participants, error)
	WithTx(tx pgx.Tx) ParticipantRepository
}

// PaymentRepository persists escrow deposits
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*Payment, error)
	UpdateSettlement(ctx context.Context, escrowID uuid.UUID, status PaymentStatus, userID uuid.UUID, method string) error
	WithTx(tx pgx.Tx) PaymentRepository
}

// WalletRepository persists escrow wallets
type WalletRepository interface {
	Create(ctx context.Context, w *Wallet) error
	GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*Wallet, error)
	WithTx(tx pgx.Tx) WalletRepository
}

// ErrNotFound indicates a missing escrow entity
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// Is matches any ErrNotFound when the target carries no entity.
func (e ErrNotFound) Is(target error) bool {
	t, ok := target.(ErrNotFound)
	if !ok {
		return false
	}
	if t.Entity == "" {
		return true
	}
	return t.Entity == e.Entity && (t.Key == "" || t.Key == e.Key)
}

// ErrConcurrentModification indicates that the stored status changed under the caller
type ErrConcurrentModification struct {
	EscrowID uuid.UUID
	Expected Status
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for escrow " + e.EscrowID.String() + ": expected status " + string(e.Expected)
}
