// Package wallet holds the per-user ledger wallets and the bank accounts
// withdrawals are paid out to.
package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserWallet is the ledger-backed balance of one user
type UserWallet struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	LedgerAccountID string    `json:"ledger_account_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// BankAccount is a payout destination registered with the payment provider
type BankAccount struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	AccountNumber   string    `json:"account_number"`
	AccountName     string    `json:"account_name"`
	BankCode        string    `json:"bank_code"`
	RecipientCode   string    `json:"-"`
	LedgerAccountID string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Bank is a payout bank supported by the payment provider
type Bank struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Slug     string `json:"slug"`
	Currency string `json:"currency"`
	Active   bool   `json:"active"`
}

// BankCache keeps the provider bank list between lookups. A miss returns
// nil banks and no error.
type BankCache interface {
	Get(ctx context.Context, currency string) ([]Bank, error)
	Set(ctx context.Context, currency string, banks []Bank) error
}

// Repository persists user wallets
type Repository interface {
	// Create is a no-op when the user already owns a wallet; the stored wallet is returned.
	Create(ctx context.Context, w *UserWallet) (*UserWallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*UserWallet, error)
	WithTx(tx pgx.Tx) Repository
}

// BankAccountRepository persists payout destinations
type BankAccountRepository interface {
	Create(ctx context.Context, b *BankAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*BankAccount, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*BankAccount, error)
	// SoftDelete hides the user's bank account from lookups. Withdrawals that
	// already reference it keep pointing at the row.
	SoftDelete(ctx context.Context, id, userID uuid.UUID, at time.Time) error
}

// ErrWalletNotFound indicates a missing wallet or bank account
type ErrWalletNotFound struct {
	Entity string
	Key    string
}

func (e ErrWalletNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// Is matches any ErrWalletNotFound when the target carries no entity.
func (e ErrWalletNotFound) Is(target error) bool {
	t, ok := target.(ErrWalletNotFound)
	if !ok {
		return false
	}
	return t.Entity == "" || t.Entity == e.Entity
}
