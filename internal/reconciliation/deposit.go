package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/money"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/settlement"
)

// depositIntent is the payload of an escrow.deposit settlement intent
type depositIntent struct {
	EscrowID        uuid.UUID               `json:"escrow_id"`
	EscrowAccountID string                  `json:"escrow_account_id"`
	Amount          uint64                  `json:"amount"`
	Status          string                  `json:"status"`
	Channel         string                  `json:"channel"`
	Customer        webhook.CustomerDetails `json:"customer"`
	RelatedUserID   string                  `json:"related_user_id"`
}

// applyCharge credits a confirmed deposit to the escrow wallet and finalizes
// the escrow. A replayed charge finds the processed intent and does nothing.
func (r *Reconciler) applyCharge(ctx context.Context, c webhook.Charge) (webhook.Outcome, error) {
	ref := c.Metadata.EscrowID
	if ref == "" {
		ref = c.Ref
	}
	escrowID, err := uuid.Parse(ref)
	if err != nil {
		return webhook.OutcomeFailed, shared.Expected("charge does not reference an escrow")
	}
	if c.Amount <= 0 {
		return webhook.OutcomeFailed, shared.Expected("charge amount must be positive")
	}
	if _, err := uuid.Parse(c.Metadata.CustomerDetails.UserID); err != nil {
		return webhook.OutcomeFailed, shared.Expected("charge metadata does not identify the payer")
	}

	intent, err := r.loadIntent(ctx, outbox.KindEscrowDeposit, escrowID.String())
	if err != nil {
		return webhook.OutcomeFailed, err
	}

	var payload depositIntent
	if intent == nil {
		intent, payload, err = r.reserveDeposit(ctx, escrowID, c)
		if err != nil {
			return webhook.OutcomeFailed, err
		}
	} else if err := intent.Decode(&payload); err != nil {
		return webhook.OutcomeFailed, shared.Infrastructure("corrupt deposit intent", err)
	}

	if intent.IsProcessed() {
		r.logger.Info("Charge already applied", "escrow_id", escrowID.String(), "transfer_id", intent.TransferID)
		return webhook.OutcomeIgnored, nil
	}

	if err := r.completeDeposit(ctx, intent, payload); err != nil {
		return webhook.OutcomeFailed, err
	}
	return webhook.OutcomeProcessed, nil
}

func (r *Reconciler) reserveDeposit(ctx context.Context, escrowID uuid.UUID, c webhook.Charge) (*outbox.Message, depositIntent, error) {
	var payload depositIntent

	w, err := r.EscrowWallets.GetByEscrowID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound{}) {
			return nil, payload, shared.Expected("Invalid escrow id: wallet not found")
		}
		return nil, payload, wrap("failed to load escrow wallet", err)
	}

	payload = depositIntent{
		EscrowID:        escrowID,
		EscrowAccountID: w.LedgerAccountID,
		Amount:          uint64(c.Amount),
		Status:          c.Status,
		Channel:         c.Channel,
		Customer:        c.Metadata.CustomerDetails,
		RelatedUserID:   c.Metadata.RelatedUserID,
	}
	msg, err := outbox.NewMessage(outbox.KindEscrowDeposit, escrowID.String(), r.Ledger.NewID(), payload)
	if err != nil {
		return nil, payload, shared.Infrastructure("failed to encode deposit intent", err)
	}

	stored, created, err := r.Outbox.Reserve(ctx, msg)
	if err != nil {
		return nil, payload, wrap("failed to reserve deposit intent", err)
	}
	if !created {
		if err := stored.Decode(&payload); err != nil {
			return nil, payload, shared.Infrastructure("corrupt deposit intent", err)
		}
		return stored, payload, nil
	}

	r.checkChargeAmount(ctx, escrowID, payload.Amount)
	return stored, payload, nil
}

// checkChargeAmount flags a charge that does not match the amount the escrow
// was requested for. The charge is still credited since the provider already
// holds the funds.
func (r *Reconciler) checkChargeAmount(ctx context.Context, escrowID uuid.UUID, charged uint64) {
	req, err := r.Requests.GetByEscrowID(ctx, escrowID)
	if err != nil {
		r.logger.Warn("Unable to verify charge amount", "escrow_id", escrowID.String(), "error", err)
		return
	}
	expected, err := money.ToMinorUnit(req.Amount)
	if err != nil {
		r.logger.Warn("Unable to verify charge amount", "escrow_id", escrowID.String(), "error", err)
		return
	}
	if expected == charged {
		return
	}

	r.logger.Warn("Charge amount differs from escrow request",
		"escrow_id", escrowID.String(),
		"expected", expected,
		"charged", charged,
	)
	entry := activity.NewEntry(activity.EntityEscrow, escrowID, activity.ActionEscrowDepositMismatch,
		fmt.Sprintf("Deposit of %s does not match requested amount %s",
			money.ToMajorUnit(int64(charged)).StringFixed(2), req.Amount.StringFixed(2)))
	entry.Metadata = map[string]string{
		"expected_amount": strconv.FormatUint(expected, 10),
		"charged_amount":  strconv.FormatUint(charged, 10),
	}
	r.logActivityOnce(ctx, entry)
}

// completeDeposit books the credit under the intent's transfer id, records the
// statement line and finalizes the escrow.
func (r *Reconciler) completeDeposit(ctx context.Context, intent *outbox.Message, p depositIntent) error {
	if err := r.Ledger.CreateTransfer(ctx, ledger.Transfer{
		ID:     intent.TransferID,
		Debit:  r.Config.OrgAccountID,
		Credit: p.EscrowAccountID,
		Amount: p.Amount,
		Code:   ledger.CodeEscrowPayment,
		Ledger: r.Config.LedgerName,
		Shape:  ledger.ShapePosted,
	}); err != nil {
		r.logger.Error("Failed to credit escrow deposit", "escrow_id", p.EscrowID.String(), "transfer_id", intent.TransferID, "error", err)
		return err
	}

	payerID, err := uuid.Parse(p.Customer.UserID)
	if err != nil {
		return shared.Expected("charge metadata does not identify the payer")
	}
	line := statement.NewStatement(statement.TypeEscrowDeposit, statement.StatusCompleted, money.ToMajorUnit(int64(p.Amount)), payerID, intent.TransferID, statement.Metadata{
		EscrowID:    p.EscrowID.String(),
		From:        statement.Party{AccountID: r.Config.OrgAccountID, Name: "payment provider"},
		To:          statement.Party{AccountID: p.EscrowAccountID, Name: "escrow wallet"},
		Description: "Deposit of funds into escrow wallet",
	})
	if related, err := uuid.Parse(p.RelatedUserID); err == nil {
		line.WithRelatedUser(related)
	}
	if _, err := r.Statements.Create(ctx, line); err != nil {
		return wrap("failed to record deposit statement", err)
	}

	if err := r.Finalizer.FinalizeEscrowTransaction(ctx, settlement.FinalizeParams{
		EscrowID:      p.EscrowID,
		Customer:      p.Customer,
		PaymentStatus: escrow.PaymentStatusFromProvider(p.Status),
		Method:        p.Channel,
	}); err != nil {
		return err
	}

	r.markProcessed(ctx, intent)
	r.logger.Info("Escrow deposit reconciled",
		"escrow_id", p.EscrowID.String(),
		"transfer_id", intent.TransferID,
		"amount", p.Amount,
	)
	return nil
}
