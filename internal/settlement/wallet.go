package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/money"
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
)

// WalletView is a user wallet with its spendable balance in major units
type WalletView struct {
	Wallet  *wallet.UserWallet `json:"wallet"`
	Balance decimal.Decimal    `json:"balance"`
}

// WithdrawInput requests a payout to one of the user's bank accounts
type WithdrawInput struct {
	BankAccountID uuid.UUID
	Amount        decimal.Decimal
}

// BankAccountInput registers a payout destination
type BankAccountInput struct {
	AccountNumber string
	BankCode      string
}

// withdrawIntent is the payload of a wallet.withdraw settlement intent
type withdrawIntent struct {
	WithdrawalID        uuid.UUID         `json:"withdrawal_id"`
	UserID              uuid.UUID         `json:"user_id"`
	BankAccountID       uuid.UUID         `json:"bank_account_id"`
	WalletAccountID     string            `json:"wallet_account_id"`
	BankLedgerAccountID string            `json:"bank_ledger_account_id"`
	RecipientCode       string            `json:"recipient_code"`
	Amount              uint64            `json:"amount"`
	Remaining           int64             `json:"remaining"`
	Reference           string            `json:"reference"`
	TransferCode        string            `json:"transfer_code"`
	Status              withdrawal.Status `json:"status"`
}

// GetWallet returns the user's wallet, opening it on first use.
func (o *Orchestrator) GetWallet(ctx context.Context, actor user.Actor) (*WalletView, error) {
	w, err := o.ensureUserWallet(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	balance, err := o.Ledger.GetBalance(ctx, w.LedgerAccountID)
	if err != nil {
		return nil, err
	}

	return &WalletView{Wallet: w, Balance: money.ToMajorUnit(balance)}, nil
}

// ListStatements returns a page of the user's statement lines and their total.
func (o *Orchestrator) ListStatements(ctx context.Context, actor user.Actor, limit, offset int) ([]*statement.Statement, int64, error) {
	items, err := o.Statements.ListByUser(ctx, actor.ID, limit, offset)
	if err != nil {
		return nil, 0, wrap("failed to list statements", err)
	}

	total, err := o.Statements.CountByUser(ctx, actor.ID)
	if err != nil {
		return nil, 0, wrap("failed to count statements", err)
	}

	return items, total, nil
}

// WithdrawFromWallet pays out from the user's wallet to a registered bank
// account. The balance is checked before the payout; the amount is then held
// by a pending ledger transfer until the provider reports the outcome.
func (o *Orchestrator) WithdrawFromWallet(ctx context.Context, in WithdrawInput, actor user.Actor) (w *withdrawal.Withdrawal, err error) {
	defer func() { metrics.ObserveSettlement("withdraw", err) }()

	if !in.Amount.IsPositive() {
		return nil, shared.Expected("amount must be greater than zero")
	}
	amount, err := money.ToMinorUnit(in.Amount)
	if err != nil {
		if errors.Is(err, money.ErrAmountTooLarge) {
			return nil, shared.Expected("amount is too large")
		}
		return nil, shared.Expected("amount must have at most two decimal places")
	}

	bank, err := o.BankAccounts.GetByID(ctx, in.BankAccountID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound{}) {
			return nil, shared.NotFound("Invalid account number id")
		}
		return nil, wrap("failed to load bank account", err)
	}
	if bank.UserID != actor.ID {
		return nil, shared.NotFound("Invalid account number id")
	}

	userWallet, err := o.Wallets.GetByUserID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound{}) {
			return nil, shared.NotFound("wallet not found")
		}
		return nil, wrap("failed to load wallet", err)
	}

	balance, err := o.Ledger.GetBalance(ctx, userWallet.LedgerAccountID)
	if err != nil {
		return nil, err
	}
	if balance < int64(amount) {
		return nil, shared.InsufficientBalance("")
	}

	reference := o.newReference()
	payload := withdrawIntent{
		WithdrawalID:        uuid.New(),
		UserID:              actor.ID,
		BankAccountID:       bank.ID,
		WalletAccountID:     userWallet.LedgerAccountID,
		BankLedgerAccountID: bank.LedgerAccountID,
		RecipientCode:       bank.RecipientCode,
		Amount:              amount,
		Remaining:           balance - int64(amount),
		Reference:           reference,
		Status:              withdrawal.StatusPending,
	}
	msg, err := outbox.NewMessage(outbox.KindWalletWithdraw, reference, o.Ledger.NewID(), payload)
	if err != nil {
		return nil, shared.Infrastructure("failed to encode withdrawal intent", err)
	}
	intent, _, err := o.Outbox.Reserve(ctx, msg)
	if err != nil {
		return nil, wrap("failed to reserve withdrawal intent", err)
	}

	return o.payOut(ctx, intent, payload)
}

// payOut asks the provider to pay the reserved withdrawal and books it once
// the provider accepted. A rejected payout fails the intent; an unreachable
// provider leaves it pending so the poller retries with the same reference.
func (o *Orchestrator) payOut(ctx context.Context, intent *outbox.Message, p withdrawIntent) (*withdrawal.Withdrawal, error) {
	result, err := o.Payment.InitiateTransfer(ctx, payment.TransferRequest{
		Amount:        p.Amount,
		Reference:     p.Reference,
		RecipientCode: p.RecipientCode,
	})
	if err != nil {
		o.logger.Error("Payout initiation failed", "user_id", p.UserID.String(), "reference", p.Reference, "error", err)
		if shared.KindOf(err) == shared.KindExpected {
			if err := o.Outbox.UpdateStatus(ctx, intent.ID, shared.OutboxStatusFailed); err != nil {
				o.logger.Warn("Failed to close rejected withdrawal intent", "intent_id", intent.ID, "error", err)
			}
			return nil, shared.Expected("Unable to initiate transfer")
		}
		return nil, wrap("failed to initiate transfer", err)
	}

	p.TransferCode = result.TransferCode
	p.Status = withdrawalStatus(result.Status)
	return o.bookWithdrawal(ctx, intent, p)
}

// resumeWithdrawal finishes a withdrawal whose intent was left pending. The
// provider is asked first so a payout that already went out is booked rather
// than initiated twice.
func (o *Orchestrator) resumeWithdrawal(ctx context.Context, intent *outbox.Message, p withdrawIntent) error {
	result, err := o.Payment.VerifyTransfer(ctx, p.Reference)
	switch {
	case err == nil:
		p.TransferCode = result.TransferCode
		p.Status = withdrawalStatus(result.Status)
		_, err = o.bookWithdrawal(ctx, intent, p)
		return err
	case shared.KindOf(err) == shared.KindNotFound:
		o.logger.Info("Payout never reached the provider, initiating", "reference", p.Reference)
		_, err = o.payOut(ctx, intent, p)
		return err
	default:
		return wrap("failed to verify payout", err)
	}
}

// bookWithdrawal records the withdrawal and holds its amount with a pending
// ledger transfer, then adds the pending statement line.
func (o *Orchestrator) bookWithdrawal(ctx context.Context, intent *outbox.Message, p withdrawIntent) (*withdrawal.Withdrawal, error) {
	w := withdrawal.NewWithdrawal(p.UserID, p.BankAccountID, money.ToMajorUnit(int64(p.Amount)), p.Reference, intent.TransferID)
	w.ID = p.WithdrawalID
	w.TransferCode = p.TransferCode
	w.Status = p.Status

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.Withdrawals.Create(gctx, w)
	})
	g.Go(func() error {
		return o.Ledger.CreateTransfer(gctx, ledger.Transfer{
			ID:     intent.TransferID,
			Debit:  p.WalletAccountID,
			Credit: p.BankLedgerAccountID,
			Amount: p.Amount,
			Code:   ledger.CodeWalletWithdrawal,
			Ledger: o.Config.LedgerName,
			Shape:  ledger.ShapePending,
		})
	})
	if err := g.Wait(); err != nil {
		o.logger.Error("Failed to book withdrawal", "reference", p.Reference, "transfer_id", intent.TransferID, "error", err)
		return nil, wrap("failed to book withdrawal", err)
	}

	line := statement.NewStatement(statement.TypeWalletWithdraw, statement.StatusPending, w.Amount, p.UserID, intent.TransferID, statement.Metadata{
		From:        statement.Party{AccountID: p.WalletAccountID, Name: "user wallet"},
		To:          statement.Party{AccountID: p.BankAccountID.String(), Name: "user bank account"},
		Description: "withdrawing N" + w.Amount.StringFixed(2) + " from wallet to bank account",
	}).WithBalance(money.ToMajorUnit(p.Remaining))
	if _, err := o.Statements.Create(ctx, line); err != nil {
		return nil, wrap("failed to record withdrawal statement", err)
	}

	o.logActivityOnce(ctx, activity.NewEntry(activity.EntityWithdrawal, w.ID, activity.ActionWithdrawalRequested, "Withdrawal requested").WithActor(p.UserID))

	if err := o.Outbox.UpdateStatus(ctx, intent.ID, shared.OutboxStatusProcessed); err != nil {
		o.logger.Warn("Failed to mark withdrawal intent processed", "intent_id", intent.ID, "error", err)
	}

	o.Notifier.Notify(ctx, notification.New(notification.TypeWithdrawalRequested, "").
		To(p.UserID.String(), "").
		With("amount", w.Amount.StringFixed(2)).
		With("reference", p.Reference))

	o.logger.Info("Withdrawal booked",
		"withdrawal_id", w.ID.String(),
		"reference", p.Reference,
		"transfer_id", intent.TransferID,
		"amount", p.Amount,
	)
	return w, nil
}

func withdrawalStatus(providerStatus string) withdrawal.Status {
	switch withdrawal.Status(providerStatus) {
	case withdrawal.StatusSuccess, withdrawal.StatusFailed, withdrawal.StatusReversed:
		return withdrawal.Status(providerStatus)
	default:
		return withdrawal.StatusPending
	}
}

// AddBankAccount verifies the account with the provider, registers it as a
// transfer recipient and opens its ledger account.
func (o *Orchestrator) AddBankAccount(ctx context.Context, in BankAccountInput, actor user.Actor) (*wallet.BankAccount, error) {
	accountNumber := strings.TrimSpace(in.AccountNumber)
	bankCode := strings.TrimSpace(in.BankCode)
	if accountNumber == "" || bankCode == "" {
		return nil, shared.Expected("account number and bank code are required")
	}

	resolved, err := o.Payment.ResolveBankAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return nil, wrap("failed to resolve bank account", err)
	}

	recipient, err := o.Payment.CreateTransferRecipient(ctx, payment.RecipientRequest{
		Name:          resolved.AccountName,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      o.Config.Currency,
	})
	if err != nil {
		return nil, wrap("failed to create transfer recipient", err)
	}

	accountID := o.Ledger.NewID()
	if err := o.Ledger.CreateAccount(ctx, accountID, ledger.CodeBankAccount, o.Config.LedgerName); err != nil {
		return nil, err
	}

	account := &wallet.BankAccount{
		ID:              uuid.New(),
		UserID:          actor.ID,
		AccountNumber:   accountNumber,
		AccountName:     resolved.AccountName,
		BankCode:        bankCode,
		RecipientCode:   recipient.RecipientCode,
		LedgerAccountID: accountID,
		CreatedAt:       o.now(),
	}
	if err := o.BankAccounts.Create(ctx, account); err != nil {
		return nil, wrap("failed to store bank account", err)
	}

	o.logger.Info("Bank account added", "user_id", actor.ID.String(), "bank_account_id", account.ID.String())
	return account, nil
}

// ListBankAccounts returns the user's payout destinations.
func (o *Orchestrator) ListBankAccounts(ctx context.Context, actor user.Actor) ([]*wallet.BankAccount, error) {
	accounts, err := o.BankAccounts.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, wrap("failed to list bank accounts", err)
	}
	return accounts, nil
}

// ResolveBankAccount looks up the holder of a bank account so the user can
// confirm it before registering.
func (o *Orchestrator) ResolveBankAccount(ctx context.Context, in BankAccountInput) (*payment.ResolvedAccount, error) {
	accountNumber := strings.TrimSpace(in.AccountNumber)
	bankCode := strings.TrimSpace(in.BankCode)
	if accountNumber == "" || bankCode == "" {
		return nil, shared.Expected("account number and bank code are required")
	}

	resolved, err := o.Payment.ResolveBankAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return nil, wrap("failed to resolve bank account", err)
	}
	return resolved, nil
}

// DeleteBankAccount removes one of the user's payout destinations. Past
// withdrawals keep their reference to it.
func (o *Orchestrator) DeleteBankAccount(ctx context.Context, id uuid.UUID, actor user.Actor) error {
	bank, err := o.BankAccounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound{}) {
			return shared.NotFound("Invalid bank account id")
		}
		return wrap("failed to load bank account", err)
	}
	if bank.UserID != actor.ID {
		return shared.Permission("Unauthorized action: cannot delete bank account")
	}

	if err := o.BankAccounts.SoftDelete(ctx, id, actor.ID, o.now()); err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound{}) {
			return shared.NotFound("Invalid bank account id")
		}
		return wrap("failed to delete bank account", err)
	}

	o.logger.Info("Bank account deleted", "user_id", actor.ID.String(), "bank_account_id", id.String())
	return nil
}

// ListBanks returns the provider's payout banks, served from cache when possible.
func (o *Orchestrator) ListBanks(ctx context.Context, currency string) ([]wallet.Bank, error) {
	if currency == "" {
		currency = o.Config.Currency
	}

	cached, err := o.Banks.Get(ctx, currency)
	if err != nil {
		o.logger.Warn("Bank cache unavailable", "currency", currency, "error", err)
	} else if cached != nil {
		return cached, nil
	}

	banks, err := o.Payment.ListBanks(ctx, currency)
	if err != nil {
		return nil, wrap("failed to list banks", err)
	}

	if err := o.Banks.Set(ctx, currency, banks); err != nil {
		o.logger.Warn("Failed to cache bank list", "currency", currency, "error", err)
	}
	return banks, nil
}
