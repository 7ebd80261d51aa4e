// Package settlement coordinates the escrow lifecycle across the relational
// store, the ledger and the payment provider. Each operation runs its steps
// sequentially in the order ledger, statement, status so that a replay after
// a partial failure converges on the same end state.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/platform/payment"
	"github.com/escrow-settlement/internal/platform/persistence"
)

// Ledger is the subset of the ledger gateway the orchestrator books through
type Ledger interface {
	NewID() string
	CreateAccount(ctx context.Context, accountID string, code ledger.AccountCode, ledgerName string) error
	CreateTransfer(ctx context.Context, t ledger.Transfer) error
	GetBalance(ctx context.Context, accountID string) (int64, error)
}

// PaymentProvider is the subset of the payment client the orchestrator calls
type PaymentProvider interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
	ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*payment.ResolvedAccount, error)
	ListBanks(ctx context.Context, currency string) ([]wallet.Bank, error)
	CreateTransferRecipient(ctx context.Context, req payment.RecipientRequest) (*payment.Recipient, error)
	InitiateTransfer(ctx context.Context, req payment.TransferRequest) (*payment.TransferResult, error)
	VerifyTransfer(ctx context.Context, reference string) (*payment.TransferResult, error)
}

// Config carries the settings the orchestrator reads at call time
type Config struct {
	LedgerName   string
	OrgAccountID string
	RequestTTL   time.Duration
	CallbackURL  string
	Currency     string
}

// Dependencies wires the orchestrator. Every field is required.
type Dependencies struct {
	Logger        *slog.Logger
	DB            persistence.TxRunner
	Transactions  escrow.TransactionRepository
	Requests      escrow.RequestRepository
	Participants  escrow.ParticipantRepository
	Payments      escrow.PaymentRepository
	EscrowWallets escrow.WalletRepository
	Users         user.Repository
	Wallets       wallet.Repository
	BankAccounts  wallet.BankAccountRepository
	Banks         wallet.BankCache
	Statements    statement.Repository
	Withdrawals   withdrawal.Repository
	Outbox        outbox.Repository
	Activity      activity.Repository
	Ledger        Ledger
	Payment       PaymentProvider
	Notifier      notification.Notifier
	Config        Config
}

// Orchestrator implements the escrow settlement operations
type Orchestrator struct {
	Dependencies
	logger         *slog.Logger
	now            func() time.Time
	newReleaseCode func() (string, error)
	newReference   func() string
}

func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		Dependencies:   deps,
		logger:         deps.Logger.With("component", "settlement"),
		now:            time.Now,
		newReleaseCode: GenerateReleaseCode,
		newReference:   uuid.NewString,
	}
}

// wrap keeps errors already classified and marks the rest as infrastructure failures.
func wrap(message string, err error) error {
	var classified *shared.Error
	if errors.As(err, &classified) {
		return err
	}
	return shared.Infrastructure(message, err)
}

func (o *Orchestrator) loadTransaction(ctx context.Context, escrowID uuid.UUID) (*escrow.Transaction, error) {
	tx, err := o.Transactions.GetByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound{}) {
			return nil, shared.NotFound("invalid escrow id: no escrow transaction found")
		}
		return nil, wrap("failed to load escrow transaction", err)
	}
	return tx, nil
}

func (o *Orchestrator) loadEscrowWallet(ctx context.Context, escrowID uuid.UUID) (*escrow.Wallet, error) {
	w, err := o.EscrowWallets.GetByEscrowID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound{}) {
			return nil, shared.Expected("Invalid escrow id: wallet not found")
		}
		return nil, wrap("failed to load escrow wallet", err)
	}
	return w, nil
}

// buyerAndSeller returns both active parties of the escrow.
func (o *Orchestrator) buyerAndSeller(ctx context.Context, escrowID uuid.UUID) (buyer, seller *escrow.Participant, err error) {
	participants, err := o.Participants.ListByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, nil, wrap("failed to load escrow participants", err)
	}
	buyer = participants.ByRole(shared.RoleBuyer)
	seller = participants.ByRole(shared.RoleSeller)
	if buyer == nil || seller == nil {
		return nil, nil, shared.Expected("Invalid participants. Seller or buyer not found.")
	}
	return buyer, seller, nil
}

// casStatus moves the escrow from the observed status and records the transition.
func (o *Orchestrator) casStatus(ctx context.Context, escrowID uuid.UUID, from, to escrow.Status) error {
	if err := o.Transactions.UpdateStatus(ctx, escrowID, from, to); err != nil {
		return statusWriteError(err)
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

func statusWriteError(err error) error {
	var conflict escrow.ErrConcurrentModification
	if errors.As(err, &conflict) {
		return shared.Expected("escrow status changed concurrently")
	}
	return wrap("failed to update escrow status", err)
}

// ensureUserWallet returns the user's wallet, opening it on the ledger first
// when the user has none yet.
func (o *Orchestrator) ensureUserWallet(ctx context.Context, userID uuid.UUID) (*wallet.UserWallet, error) {
	existing, err := o.Wallets.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, wallet.ErrWalletNotFound{}) {
		return nil, wrap("failed to load user wallet", err)
	}

	accountID := o.Ledger.NewID()
	if err := o.Ledger.CreateAccount(ctx, accountID, ledger.CodeUserWallet, o.Config.LedgerName); err != nil {
		return nil, err
	}

	created, err := o.Wallets.Create(ctx, &wallet.UserWallet{
		ID:              uuid.New(),
		UserID:          userID,
		LedgerAccountID: accountID,
		CreatedAt:       o.now(),
	})
	if err != nil {
		return nil, wrap("failed to create user wallet", err)
	}

	o.logger.Info("Opened user wallet", "user_id", userID.String(), "ledger_account_id", created.LedgerAccountID)
	return created, nil
}

// logActivity records an audit entry. Audit failures never fail the operation.
func (o *Orchestrator) logActivity(ctx context.Context, entry *activity.Entry) {
	if err := o.Activity.Create(ctx, entry); err != nil {
		o.logger.Warn("Failed to record activity",
			"entity_id", entry.EntityID,
			"action", string(entry.Action),
			"error", err,
		)
	}
}

func (o *Orchestrator) logActivityOnce(ctx context.Context, entry *activity.Entry) {
	if _, err := o.Activity.CreateOnce(ctx, entry); err != nil {
		o.logger.Warn("Failed to record activity",
			"entity_id", entry.EntityID,
			"action", string(entry.Action),
			"error", err,
		)
	}
}

// EnsureOrganizationAccount opens the platform account deposits are debited from.
func (o *Orchestrator) EnsureOrganizationAccount(ctx context.Context) error {
	if err := o.Ledger.CreateAccount(ctx, o.Config.OrgAccountID, ledger.CodeCompanyAccount, o.Config.LedgerName); err != nil {
		o.logger.Error("Failed to ensure organization account", "account_id", o.Config.OrgAccountID, "error", err)
		return err
	}
	o.logger.Info("Organization account ready", "account_id", o.Config.OrgAccountID)
	return nil
}
