// Package ledger wraps the TigerBeetle double-entry ledger that holds the
// authoritative balances of escrow, user and bank accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/metrics"
)

// Transfer describes one ledger movement in minor units. PendingID is
// required for ShapePostPending and ShapeVoidPending.
type Transfer struct {
	ID        string
	Debit     string
	Credit    string
	Amount    uint64
	Code      TransferCode
	Ledger    string
	Shape     Shape
	PendingID string
}

// Account is a ledger account snapshot in minor units
type Account struct {
	ID             string
	Ledger         uint32
	Code           AccountCode
	DebitsPending  uint64
	DebitsPosted   uint64
	CreditsPending uint64
	CreditsPosted  uint64
}

// Balance is the spendable amount: posted credits less posted and pending debits.
func (a *Account) Balance() int64 {
	return int64(a.CreditsPosted) - int64(a.DebitsPosted) - int64(a.DebitsPending)
}

// TransferRecord is a stored ledger transfer
type TransferRecord struct {
	ID        string
	Debit     string
	Credit    string
	Amount    uint64
	PendingID string
	Code      TransferCode
	Pending   bool
}

// Gateway books accounts and transfers on the ledger
type Gateway struct {
	client         Client
	logger         *slog.Logger
	balanceTimeout time.Duration
}

func NewGateway(logger *slog.Logger, client Client, balanceTimeout time.Duration) *Gateway {
	return &Gateway{
		client:         client,
		logger:         logger,
		balanceTimeout: balanceTimeout,
	}
}

// NewID returns a fresh time-ordered ledger id as a decimal string.
func (g *Gateway) NewID() string {
	return formatID(types.ID())
}

// CreateAccount creates accountID on the named ledger. An account that
// already exists counts as success.
func (g *Gateway) CreateAccount(ctx context.Context, accountID string, code AccountCode, ledgerName string) (err error) {
	defer observe("create_account", time.Now(), &err)

	id, err := parseID(accountID)
	if err != nil {
		return err
	}
	ledgerID, err := LedgerID(ledgerName)
	if err != nil {
		return shared.Infrastructure("invalid ledger configuration", err)
	}

	flags := types.AccountFlags{History: true}
	if code != CodeCompanyAccount {
		flags.DebitsMustNotExceedCredits = true
	}

	results, err := g.client.CreateAccounts([]types.Account{{
		ID:     id,
		Ledger: ledgerID,
		Code:   uint16(code),
		Flags:  flags.ToUint16(),
	}})
	if err != nil {
		g.logger.Error("Ledger account creation failed", "account_id", accountID, "error", err)
		return shared.Infrastructure("ledger unavailable", err)
	}

	for _, result := range results {
		switch result.Result {
		case types.AccountOK, types.AccountExists:
		default:
			g.logger.Error("Ledger rejected account",
				"account_id", accountID,
				"code", uint16(code),
				"result", result.Result.String(),
			)
			return shared.Infrastructure("ledger rejected account", fmt.Errorf("create account %s: %s", accountID, result.Result))
		}
	}

	return nil
}

// CreateTransfer books t. A transfer id that was already booked counts as
// success, which makes retries with the same id safe.
func (g *Gateway) CreateTransfer(ctx context.Context, t Transfer) (err error) {
	defer observe("create_transfer", time.Now(), &err)

	transfer, err := toTransfer(t)
	if err != nil {
		return err
	}

	results, err := g.client.CreateTransfers([]types.Transfer{transfer})
	if err != nil {
		g.logger.Error("Ledger transfer failed", "transfer_id", t.ID, "error", err)
		return shared.Infrastructure("ledger unavailable", err)
	}

	for _, result := range results {
		switch result.Result {
		case types.TransferOK, types.TransferExists:
		case types.TransferExceedsCredits:
			g.logger.Warn("Ledger transfer exceeds credits",
				"transfer_id", t.ID,
				"debit", t.Debit,
				"amount", t.Amount,
			)
			return shared.InsufficientBalance("")
		default:
			g.logger.Error("Ledger rejected transfer",
				"transfer_id", t.ID,
				"shape", t.Shape.String(),
				"result", result.Result.String(),
			)
			return shared.Infrastructure("ledger rejected transfer", fmt.Errorf("create transfer %s: %s", t.ID, result.Result))
		}
	}

	g.logger.Debug("Ledger transfer booked",
		"transfer_id", t.ID,
		"shape", t.Shape.String(),
		"code", uint16(t.Code),
		"amount", t.Amount,
	)
	return nil
}

func toTransfer(t Transfer) (types.Transfer, error) {
	id, err := parseID(t.ID)
	if err != nil {
		return types.Transfer{}, err
	}
	debit, err := parseID(t.Debit)
	if err != nil {
		return types.Transfer{}, err
	}
	credit, err := parseID(t.Credit)
	if err != nil {
		return types.Transfer{}, err
	}
	ledgerID, err := LedgerID(t.Ledger)
	if err != nil {
		return types.Transfer{}, shared.Infrastructure("invalid ledger configuration", err)
	}

	transfer := types.Transfer{
		ID:              id,
		DebitAccountID:  debit,
		CreditAccountID: credit,
		Amount:          types.ToUint128(t.Amount),
		Ledger:          ledgerID,
		Code:            uint16(t.Code),
	}

	switch t.Shape {
	case ShapePosted:
	case ShapePending:
		transfer.Flags = types.TransferFlags{Pending: true}.ToUint16()
	case ShapePostPending, ShapeVoidPending:
		pendingID, err := parseID(t.PendingID)
		if err != nil {
			return types.Transfer{}, err
		}
		transfer.PendingID = pendingID
		if t.Shape == ShapePostPending {
			transfer.Flags = types.TransferFlags{PostPendingTransfer: true}.ToUint16()
		} else {
			transfer.Flags = types.TransferFlags{VoidPendingTransfer: true}.ToUint16()
		}
	default:
		return types.Transfer{}, shared.Infrastructure("invalid transfer shape", fmt.Errorf("shape %d", t.Shape))
	}

	return transfer, nil
}

func (g *Gateway) LookupAccount(ctx context.Context, accountID string) (account *Account, err error) {
	defer observe("lookup_account", time.Now(), &err)

	id, err := parseID(accountID)
	if err != nil {
		return nil, err
	}

	accounts, err := g.client.LookupAccounts([]types.Uint128{id})
	if err != nil {
		g.logger.Error("Ledger account lookup failed", "account_id", accountID, "error", err)
		return nil, shared.Infrastructure("ledger unavailable", err)
	}
	if len(accounts) == 0 {
		return nil, shared.NotFound("ledger account not found")
	}

	a := accounts[0]
	return &Account{
		ID:             accountID,
		Ledger:         a.Ledger,
		Code:           AccountCode(a.Code),
		DebitsPending:  toUint64(a.DebitsPending),
		DebitsPosted:   toUint64(a.DebitsPosted),
		CreditsPending: toUint64(a.CreditsPending),
		CreditsPosted:  toUint64(a.CreditsPosted),
	}, nil
}

type balanceResult struct {
	balance int64
	err     error
}

// GetBalance returns the spendable balance in minor units. The lookup is
// abandoned after the configured timeout.
func (g *Gateway) GetBalance(ctx context.Context, accountID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.balanceTimeout)
	defer cancel()

	done := make(chan balanceResult, 1)
	go func() {
		account, err := g.LookupAccount(ctx, accountID)
		if err != nil {
			done <- balanceResult{err: err}
			return
		}
		done <- balanceResult{balance: account.Balance()}
	}()

	select {
	case res := <-done:
		return res.balance, res.err
	case <-ctx.Done():
		g.logger.Warn("Ledger balance lookup timed out",
			"account_id", accountID,
			"timeout", g.balanceTimeout.String(),
		)
		return 0, shared.Timeout("balance lookup", ctx.Err())
	}
}

func (g *Gateway) LookupTransfer(ctx context.Context, transferID string) (record *TransferRecord, err error) {
	defer observe("lookup_transfer", time.Now(), &err)

	id, err := parseID(transferID)
	if err != nil {
		return nil, err
	}

	transfers, err := g.client.LookupTransfers([]types.Uint128{id})
	if err != nil {
		g.logger.Error("Ledger transfer lookup failed", "transfer_id", transferID, "error", err)
		return nil, shared.Infrastructure("ledger unavailable", err)
	}
	if len(transfers) == 0 {
		return nil, shared.NotFound("ledger transfer not found")
	}

	t := transfers[0]
	record = &TransferRecord{
		ID:      transferID,
		Debit:   formatID(t.DebitAccountID),
		Credit:  formatID(t.CreditAccountID),
		Amount:  toUint64(t.Amount),
		Code:    TransferCode(t.Code),
		Pending: t.TransferFlags().Pending,
	}
	if t.PendingID != (types.Uint128{}) {
		record.PendingID = formatID(t.PendingID)
	}
	return record, nil
}

func observe(operation string, started time.Time, err *error) {
	metrics.ObserveLedger(operation, started, *err)
}

func parseID(value string) (types.Uint128, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() <= 0 || n.BitLen() > 128 {
		return types.Uint128{}, shared.Infrastructure("invalid ledger id", errors.New("malformed ledger id: "+value))
	}
	return types.BigIntToUint128(*n), nil
}

func formatID(id types.Uint128) string {
	n := id.BigInt()
	return n.String()
}

func toUint64(value types.Uint128) uint64 {
	n := value.BigInt()
	return n.Uint64()
}
