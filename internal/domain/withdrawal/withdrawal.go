package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrAlreadySettled = errors.New("withdrawal already settled on the ledger")

// Status mirrors the provider's transfer status
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusReversed Status = "reversed"
)

// LedgerState tracks the pending ledger reservation behind a withdrawal
type LedgerState string

const (
	LedgerPending LedgerState = "pending"
	LedgerPosted  LedgerState = "posted"
	LedgerVoided  LedgerState = "voided"
)

// Withdrawal is a payout from a user wallet to a bank account
type Withdrawal struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	BankAccountID uuid.UUID       `json:"bank_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceCode string          `json:"reference_code"`
	TransferID    string          `json:"tigerbeetle_transfer_id"`
	TransferCode  string          `json:"transfer_code,omitempty"`
	Status        Status          `json:"status"`
	LedgerState   LedgerState     `json:"ledger_state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func NewWithdrawal(userID, bankAccountID uuid.UUID, amount decimal.Decimal, referenceCode, transferID string) *Withdrawal {
	now := time.Now()
	return &Withdrawal{
		ID:            uuid.New(),
		UserID:        userID,
		BankAccountID: bankAccountID,
		Amount:        amount,
		ReferenceCode: referenceCode,
		TransferID:    transferID,
		Status:        StatusPending,
		LedgerState:   LedgerPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Settle applies a terminal provider status and returns the ledger state the
// reservation must move to. Only a pending reservation can be settled.
func (w *Withdrawal) Settle(status Status) (LedgerState, error) {
	if w.LedgerState != LedgerPending {
		return w.LedgerState, ErrAlreadySettled
	}
	next := LedgerVoided
	if status == StatusSuccess {
		next = LedgerPosted
	}
	w.Status = status
	w.LedgerState = next
	w.UpdatedAt = time.Now()
	return next, nil
}

// Repository persists withdrawals
type Repository interface {
	Create(ctx context.Context, w *Withdrawal) error
	GetByReference(ctx context.Context, referenceCode string) (*Withdrawal, error)
	UpdateSettlement(ctx context.Context, id uuid.UUID, status Status, state LedgerState) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Withdrawal, error)
}

// ErrWithdrawalNotFound indicates a missing withdrawal
type ErrWithdrawalNotFound struct {
	ReferenceCode string
}

func (e ErrWithdrawalNotFound) Error() string {
	return "withdrawal not found: " + e.ReferenceCode
}

// Is matches any ErrWithdrawalNotFound when the target carries no reference.
func (e ErrWithdrawalNotFound) Is(target error) bool {
	t, ok := target.(ErrWithdrawalNotFound)
	if !ok {
		return false
	}
	return t.ReferenceCode == "" || t.ReferenceCode == e.ReferenceCode
}
