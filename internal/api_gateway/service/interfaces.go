// Package service declares the operations the HTTP layer calls. The settlement
// orchestrator and the webhook reconciler implement them.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/platform/payment"
	"github.com/escrow-settlement/internal/settlement"
)

// EscrowService defines the escrow lifecycle operations
type EscrowService interface {
	// CreateEscrowTransaction opens an escrow and invites the counterparty
	CreateEscrowTransaction(ctx context.Context, in settlement.CreateEscrowInput, creator user.Actor) (*escrow.Transaction, error)

	// ListUserEscrowTransactions returns a page of the user's escrows and their total count
	ListUserEscrowTransactions(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) ([]*escrow.Transaction, int64, error)

	// GetEscrowTransactionDetails returns an escrow to one of its parties
	GetEscrowTransactionDetails(ctx context.Context, escrowID uuid.UUID, viewer user.Actor) (*settlement.EscrowDetails, error)

	ListEscrowActivity(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]*activity.Entry, int64, error)

	// GetEscrowRequestDetails shows a pending invitation; viewer is nil for guests
	GetEscrowRequestDetails(ctx context.Context, escrowID uuid.UUID, viewer *user.Actor) (*settlement.RequestDetails, error)

	// InitializeEscrowDeposit returns the payment session of the escrow deposit
	InitializeEscrowDeposit(ctx context.Context, in settlement.DepositInput, viewer *user.Actor) (*payment.Session, error)

	UpdateEscrowTransactionStatus(ctx context.Context, escrowID uuid.UUID, status escrow.Status, actor user.Actor) (*settlement.StatusChange, error)

	ReleaseFundsInfo(ctx context.Context, escrowID uuid.UUID, actor user.Actor) (*settlement.ReleaseInfo, error)

	// ReleaseFunds pays the seller once the buyer presents the release code
	ReleaseFunds(ctx context.Context, escrowID uuid.UUID, code string, actor user.Actor) error
}

// WalletService defines the user wallet and payout operations
type WalletService interface {
	GetWallet(ctx context.Context, actor user.Actor) (*settlement.WalletView, error)
	ListStatements(ctx context.Context, actor user.Actor, limit, offset int) ([]*statement.Statement, int64, error)

	// WithdrawFromWallet pays out to a registered bank account
	// Returns an InsufficientBalance error before any payout when funds are short
	WithdrawFromWallet(ctx context.Context, in settlement.WithdrawInput, actor user.Actor) (*withdrawal.Withdrawal, error)

	AddBankAccount(ctx context.Context, in settlement.BankAccountInput, actor user.Actor) (*wallet.BankAccount, error)
	ListBankAccounts(ctx context.Context, actor user.Actor) ([]*wallet.BankAccount, error)
	ResolveBankAccount(ctx context.Context, in settlement.BankAccountInput) (*payment.ResolvedAccount, error)
	DeleteBankAccount(ctx context.Context, id uuid.UUID, actor user.Actor) error
	ListBanks(ctx context.Context, currency string) ([]wallet.Bank, error)
}

// WebhookService accepts raw payment provider deliveries
type WebhookService interface {
	// HandleWebhook verifies signature over payload before applying it
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

var (
	_ EscrowService = (*settlement.Orchestrator)(nil)
	_ WalletService = (*settlement.Orchestrator)(nil)
)
