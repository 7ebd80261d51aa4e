package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/money"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
)

// CreateEscrowInput describes a new escrow and the invited counterparty
type CreateEscrowInput struct {
	Title            string
	Description      string
	Amount           decimal.Decimal
	CreatorRole      shared.Role
	CustomerUsername string
	CustomerEmail    string
	CustomerPhone    string
}

func (in CreateEscrowInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return shared.Expected("title is required")
	}
	if !in.CreatorRole.Valid() {
		return shared.Expected("creator role must be buyer or seller")
	}
	if strings.TrimSpace(in.CustomerUsername) == "" || strings.TrimSpace(in.CustomerEmail) == "" {
		return shared.Expected("customer username and email are required")
	}
	if !in.Amount.IsPositive() {
		return shared.Expected("amount must be greater than zero")
	}
	if _, err := money.ToMinorUnit(in.Amount); err != nil {
		if errors.Is(err, money.ErrAmountTooLarge) {
			return shared.Expected("amount is too large")
		}
		return shared.Expected("amount must have at most two decimal places")
	}
	return nil
}

// EscrowDetails is an escrow with its deposit, wallet balance and parties
type EscrowDetails struct {
	Transaction  *escrow.Transaction `json:"transaction"`
	Payment      *escrow.Payment     `json:"payment"`
	Wallet       *escrow.Wallet      `json:"wallet"`
	Balance      decimal.Decimal     `json:"balance"`
	Participants escrow.Participants `json:"participants"`
}

// CreateEscrowTransaction opens an escrow with its ledger wallet and invites
// the counterparty. An escrow with oneself is rejected before any write.
func (o *Orchestrator) CreateEscrowTransaction(ctx context.Context, in CreateEscrowInput, creator user.Actor) (tx *escrow.Transaction, err error) {
	defer func() { metrics.ObserveSettlement("create_escrow", err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}

	customer, err := o.Users.GetByUsername(ctx, in.CustomerUsername)
	switch {
	case err == nil:
		if customer.ID == creator.ID {
			return nil, shared.Expected("You cannot create transaction with yourself")
		}
	case errors.Is(err, user.ErrUserNotFound{}):
	default:
		return nil, wrap("failed to look up customer", err)
	}

	tx = escrow.NewTransaction(in.Title, in.Description, creator.ID)
	accountID := o.Ledger.NewID()
	if err := o.Ledger.CreateAccount(ctx, accountID, ledger.CodeEscrowWallet, o.Config.LedgerName); err != nil {
		return nil, err
	}

	now := o.now()
	request := &escrow.Request{
		ID:               uuid.New(),
		EscrowID:         tx.ID,
		SenderID:         creator.ID,
		Amount:           in.Amount,
		CustomerRole:     in.CreatorRole.Opposite(),
		CustomerUsername: in.CustomerUsername,
		CustomerEmail:    in.CustomerEmail,
		CustomerPhone:    in.CustomerPhone,
		Status:           escrow.InvitationPending,
		ExpiresAt:        now.Add(o.Config.RequestTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = o.DB.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		if err := o.Transactions.WithTx(dbTx).Create(ctx, tx); err != nil {
			return err
		}
		if err := o.EscrowWallets.WithTx(dbTx).Create(ctx, &escrow.Wallet{
			ID:              uuid.New(),
			EscrowID:        tx.ID,
			LedgerAccountID: accountID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		if err := o.Participants.WithTx(dbTx).Add(ctx, escrow.NewParticipant(tx.ID, creator.ID, in.CreatorRole)); err != nil {
			return err
		}
		if err := o.Payments.WithTx(dbTx).Create(ctx, &escrow.Payment{
			ID:        uuid.New(),
			EscrowID:  tx.ID,
			Amount:    in.Amount,
			Fee:       decimal.Zero,
			Status:    escrow.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		return o.Requests.WithTx(dbTx).Create(ctx, request)
	})
	if err != nil {
		o.logger.Error("Failed to create escrow transaction", "escrow_id", tx.ID.String(), "error", err)
		return nil, wrap("failed to create escrow transaction", err)
	}

	o.logActivity(ctx, activity.NewEntry(activity.EntityEscrow, tx.ID, activity.ActionEscrowCreated, "Escrow transaction created").WithActor(creator.ID))
	metrics.EscrowTransitionsTotal.WithLabelValues(string(escrow.StatusCreated)).Inc()

	o.Notifier.Notify(ctx, notification.New(notification.TypeEscrowInvitation, tx.ID.String()).
		To("", in.CustomerEmail).
		With("title", tx.Title).
		With("amount", in.Amount.StringFixed(2)).
		With("sender", creator.Username).
		With("expires_at", request.ExpiresAt.Format(time.RFC3339)))

	o.logger.Info("Escrow transaction created",
		"escrow_id", tx.ID.String(),
		"creator_id", creator.ID.String(),
		"amount", in.Amount.String(),
	)
	return tx, nil
}

// ListUserEscrowTransactions returns a page of the escrows the user created and their total.
func (o *Orchestrator) ListUserEscrowTransactions(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) ([]*escrow.Transaction, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, shared.Expected("unknown escrow status " + string(filter.Status))
	}

	items, err := o.Transactions.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, 0, wrap("failed to list escrow transactions", err)
	}

	total, err := o.Transactions.CountByUser(ctx, userID, filter)
	if err != nil {
		return nil, 0, wrap("failed to count escrow transactions", err)
	}

	return items, total, nil
}

// GetEscrowTransactionDetails returns the escrow with its wallet balance in major units.
// Only the creator and participants may read it.
func (o *Orchestrator) GetEscrowTransactionDetails(ctx context.Context, escrowID uuid.UUID, viewer user.Actor) (*EscrowDetails, error) {
	tx, err := o.loadTransaction(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	participants, err := o.Participants.ListByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, wrap("failed to load escrow participants", err)
	}
	if tx.CreatedBy != viewer.ID && !isParticipant(participants, viewer.ID) {
		return nil, shared.Permission("Unauthorized: not a party to this escrow")
	}

	pay, err := o.Payments.GetByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, wrap("failed to load escrow payment", err)
	}

	w, err := o.loadEscrowWallet(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	balance, err := o.Ledger.GetBalance(ctx, w.LedgerAccountID)
	if err != nil {
		return nil, err
	}

	return &EscrowDetails{
		Transaction:  tx,
		Payment:      pay,
		Wallet:       w,
		Balance:      money.ToMajorUnit(balance),
		Participants: participants,
	}, nil
}

// ListEscrowActivity returns a page of the escrow's audit trail, newest first.
func (o *Orchestrator) ListEscrowActivity(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]*activity.Entry, int64, error) {
	entries, err := o.Activity.ListByEntity(ctx, escrowID.String(), limit, offset)
	if err != nil {
		return nil, 0, wrap("failed to list escrow activity", err)
	}

	total, err := o.Activity.CountByEntity(ctx, escrowID.String())
	if err != nil {
		return nil, 0, wrap("failed to count escrow activity", err)
	}

	return entries, total, nil
}

func isParticipant(participants escrow.Participants, userID uuid.UUID) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
