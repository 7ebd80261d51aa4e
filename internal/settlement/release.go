package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/money"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
)

// ReleaseInfo summarizes what a release would pay out
type ReleaseInfo struct {
	EscrowID   uuid.UUID       `json:"escrow_id"`
	Status     escrow.Status   `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	SellerID   uuid.UUID       `json:"seller_id"`
	CanRelease bool            `json:"can_release"`
}

// releaseIntent is the payload of an escrow.release settlement intent
type releaseIntent struct {
	EscrowID        uuid.UUID `json:"escrow_id"`
	BuyerID         uuid.UUID `json:"buyer_id"`
	SellerID        uuid.UUID `json:"seller_id"`
	EscrowAccountID string    `json:"escrow_account_id"`
	SellerAccountID string    `json:"seller_account_id"`
	Amount          uint64    `json:"amount"`
}

// ReleaseFundsInfo shows the buyer the amount held for the seller.
func (o *Orchestrator) ReleaseFundsInfo(ctx context.Context, escrowID uuid.UUID, actor user.Actor) (*ReleaseInfo, error) {
	tx, err := o.loadTransaction(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	buyer, seller, err := o.buyerAndSeller(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := authorizeStatus(buyer, seller, escrow.StatusCompleted, actor); err != nil {
		return nil, err
	}

	w, err := o.loadEscrowWallet(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	balance, err := o.Ledger.GetBalance(ctx, w.LedgerAccountID)
	if err != nil {
		return nil, err
	}

	return &ReleaseInfo{
		EscrowID:   escrowID,
		Status:     tx.Status,
		Amount:     money.ToMajorUnit(balance),
		SellerID:   seller.UserID,
		CanRelease: tx.ReleaseCodeHash != "" && escrow.CanTransition(tx.Status, escrow.StatusCompleted) && balance > 0,
	}, nil
}

// ReleaseFunds pays the full escrow wallet balance to the seller once the
// buyer presents the release code, then completes the escrow. A wrong code is
// rejected before anything is booked.
func (o *Orchestrator) ReleaseFunds(ctx context.Context, escrowID uuid.UUID, code string, actor user.Actor) (err error) {
	defer func() { metrics.ObserveSettlement("release_funds", err) }()

	tx, err := o.loadTransaction(ctx, escrowID)
	if err != nil {
		return err
	}

	if tx.ReleaseCodeHash == "" || !releaseCodeMatches(tx.ReleaseCodeHash, code) {
		o.logger.Warn("Release code rejected", "escrow_id", escrowID.String(), "actor_id", actor.ID.String())
		return shared.Permission("Invalid release code")
	}

	if tx.Status == escrow.StatusCompleted {
		return shared.Expected("This transaction has already been completed.")
	}
	if !escrow.CanTransition(tx.Status, escrow.StatusCompleted) {
		return shared.Expected("Cannot transition from " + string(tx.Status) + " to " + string(escrow.StatusCompleted))
	}

	buyer, seller, err := o.buyerAndSeller(ctx, escrowID)
	if err != nil {
		return err
	}
	if err := authorizeStatus(buyer, seller, escrow.StatusCompleted, actor); err != nil {
		return err
	}

	intent, payload, err := o.reserveRelease(ctx, escrowID, buyer, seller)
	if err != nil {
		return err
	}

	return o.completeRelease(ctx, intent, payload)
}

// reserveRelease returns the release intent of the escrow, reserving a new one
// with a fresh transfer id when no earlier attempt left one behind.
func (o *Orchestrator) reserveRelease(ctx context.Context, escrowID uuid.UUID, buyer, seller *escrow.Participant) (*outbox.Message, releaseIntent, error) {
	var payload releaseIntent

	existing, err := o.Outbox.GetByReference(ctx, outbox.KindEscrowRelease, escrowID.String())
	if err == nil {
		if err := existing.Decode(&payload); err != nil {
			return nil, payload, shared.Infrastructure("corrupt release intent", err)
		}
		o.logger.Info("Resuming earlier release", "escrow_id", escrowID.String(), "transfer_id", existing.TransferID)
		return existing, payload, nil
	}
	var notFound outbox.ErrMessageNotFound
	if !errors.As(err, &notFound) {
		return nil, payload, wrap("failed to load release intent", err)
	}

	escrowWallet, err := o.loadEscrowWallet(ctx, escrowID)
	if err != nil {
		return nil, payload, err
	}
	sellerWallet, err := o.ensureUserWallet(ctx, seller.UserID)
	if err != nil {
		return nil, payload, err
	}

	balance, err := o.Ledger.GetBalance(ctx, escrowWallet.LedgerAccountID)
	if err != nil {
		return nil, payload, err
	}
	if balance <= 0 {
		return nil, payload, shared.Expected("Escrow wallet has no funds to release")
	}

	payload = releaseIntent{
		EscrowID:        escrowID,
		BuyerID:         buyer.UserID,
		SellerID:        seller.UserID,
		EscrowAccountID: escrowWallet.LedgerAccountID,
		SellerAccountID: sellerWallet.LedgerAccountID,
		Amount:          uint64(balance),
	}
	msg, err := outbox.NewMessage(outbox.KindEscrowRelease, escrowID.String(), o.Ledger.NewID(), payload)
	if err != nil {
		return nil, payload, shared.Infrastructure("failed to encode release intent", err)
	}

	stored, created, err := o.Outbox.Reserve(ctx, msg)
	if err != nil {
		return nil, payload, wrap("failed to reserve release intent", err)
	}
	if !created {
		if err := stored.Decode(&payload); err != nil {
			return nil, payload, shared.Infrastructure("corrupt release intent", err)
		}
	}
	return stored, payload, nil
}

// completeRelease books the reserved transfer and applies every follow-up
// write. Each step is idempotent on the intent's transfer id.
func (o *Orchestrator) completeRelease(ctx context.Context, intent *outbox.Message, p releaseIntent) error {
	if err := o.Ledger.CreateTransfer(ctx, ledger.Transfer{
		ID:     intent.TransferID,
		Debit:  p.EscrowAccountID,
		Credit: p.SellerAccountID,
		Amount: p.Amount,
		Code:   ledger.CodeReleaseEscrowFunds,
		Ledger: o.Config.LedgerName,
		Shape:  ledger.ShapePosted,
	}); err != nil {
		o.logger.Error("Failed to release escrow funds", "escrow_id", p.EscrowID.String(), "transfer_id", intent.TransferID, "error", err)
		return err
	}

	amount := money.ToMajorUnit(int64(p.Amount))
	if _, err := o.Statements.Create(ctx, statement.NewStatement(statement.TypeWalletDeposit, statement.StatusCompleted, amount, p.BuyerID, intent.TransferID, statement.Metadata{
		EscrowID:    p.EscrowID.String(),
		From:        statement.Party{AccountID: p.EscrowAccountID, Name: "escrow wallet"},
		To:          statement.Party{AccountID: p.SellerAccountID, Name: "user wallet"},
		Description: "Release of funds from escrow to user wallet",
	}).WithRelatedUser(p.SellerID)); err != nil {
		return wrap("failed to record release statement", err)
	}

	tx, err := o.loadTransaction(ctx, p.EscrowID)
	if err != nil {
		return err
	}
	if tx.Status != escrow.StatusCompleted {
		if !escrow.CanTransition(tx.Status, escrow.StatusCompleted) {
			return shared.Expected(fmt.Sprintf("Cannot transition from %s to %s", tx.Status, escrow.StatusCompleted))
		}
		if err := o.casStatus(ctx, p.EscrowID, tx.Status, escrow.StatusCompleted); err != nil {
			return err
		}
	}

	o.logActivityOnce(ctx, activity.NewEntry(activity.EntityEscrow, p.EscrowID, activity.ActionEscrowCompleted, "Funds released to seller").WithActor(p.BuyerID))

	if err := o.Outbox.UpdateStatus(ctx, intent.ID, shared.OutboxStatusProcessed); err != nil {
		// The poller will find every step already applied.
		o.logger.Warn("Failed to mark release intent processed", "intent_id", intent.ID, "error", err)
	}

	for _, recipient := range []uuid.UUID{p.BuyerID, p.SellerID} {
		o.Notifier.Notify(ctx, notification.New(notification.TypeEscrowCompleted, p.EscrowID.String()).
			To(recipient.String(), "").
			With("amount", amount.StringFixed(2)))
	}

	o.logger.Info("Escrow funds released",
		"escrow_id", p.EscrowID.String(),
		"transfer_id", intent.TransferID,
		"amount", p.Amount,
	)
	return nil
}
