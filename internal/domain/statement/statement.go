package statement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type classifies a statement line. Values are persisted verbatim.
type Type string

const (
	TypeEscrowDeposit  Type = "escrow.deposit"
	TypeWalletDeposit  Type = "wallet.deposit"
	TypeWalletWithdraw Type = "wallet.withdraw"
)

// Status of a statement line
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Party names one side of a movement
type Party struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
}

// Metadata describes the movement behind a statement line
type Metadata struct {
	EscrowID    string `json:"escrowId,omitempty"`
	From        Party  `json:"from"`
	To          Party  `json:"to"`
	Description string `json:"description,omitempty"`
}

// Statement is the user-visible record of one ledger transfer
type Statement struct {
	ID            uuid.UUID        `json:"id"`
	Amount        decimal.Decimal  `json:"amount"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	Type          Type             `json:"type"`
	Status        Status           `json:"status"`
	CreatorID     uuid.UUID        `json:"creator_id"`
	RelatedUserID *uuid.UUID       `json:"related_user_id,omitempty"`
	TransferID    string           `json:"tigerbeetle_transfer_id"`
	Metadata      Metadata         `json:"metadata"`
	CreatedAt     time.Time        `json:"created_at"`
}

func NewStatement(t Type, status Status, amount decimal.Decimal, creatorID uuid.UUID, transferID string, metadata Metadata) *Statement {
	return &Statement{
		ID:         uuid.New(),
		Amount:     amount,
		Type:       t,
		Status:     status,
		CreatorID:  creatorID,
		TransferID: transferID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}
}

// WithRelatedUser sets the counterparty of the movement
func (s *Statement) WithRelatedUser(userID uuid.UUID) *Statement {
	s.RelatedUserID = &userID
	return s
}

// WithBalance sets the balance left after the movement
func (s *Statement) WithBalance(balance decimal.Decimal) *Statement {
	s.Balance = &balance
	return s
}

// Repository persists statements, keyed uniquely by ledger transfer id
type Repository interface {
	// Create reports false when a statement for the same transfer id already exists.
	Create(ctx context.Context, s *Statement) (bool, error)
	UpdateStatusByTransferID(ctx context.Context, transferID string, status Status) error
	DeleteByTransferID(ctx context.Context, transferID string) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Statement, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// ErrStatementNotFound indicates a missing statement
type ErrStatementNotFound struct {
	TransferID string
}

func (e ErrStatementNotFound) Error() string {
	return "statement not found for transfer: " + e.TransferID
}
