package reconciliation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/platform/ledger"
)

// settleIntent is the payload of a withdrawal.settle settlement intent
type settleIntent struct {
	WithdrawalID uuid.UUID              `json:"withdrawal_id"`
	UserID       uuid.UUID              `json:"user_id"`
	Reference    string                 `json:"reference"`
	Status       withdrawal.Status      `json:"status"`
	State        withdrawal.LedgerState `json:"state"`
	PendingID    string                 `json:"pending_id"`
	Debit        string                 `json:"debit"`
	Credit       string                 `json:"credit"`
	Amount       uint64                 `json:"amount"`
}

// applyTransferOutcome settles the pending reservation of a withdrawal: a
// successful payout posts it, a failed or reversed one voids it. Only a
// pending reservation is settled; later deliveries are acknowledged.
func (r *Reconciler) applyTransferOutcome(ctx context.Context, t webhook.Transfer, status withdrawal.Status) (webhook.Outcome, error) {
	if t.Ref == "" {
		return webhook.OutcomeFailed, shared.Expected("transfer does not carry a reference")
	}

	intent, err := r.loadIntent(ctx, outbox.KindWithdrawalSettle, t.Ref)
	if err != nil {
		return webhook.OutcomeFailed, err
	}

	var payload settleIntent
	if intent == nil {
		var settled bool
		intent, payload, settled, err = r.reserveSettlement(ctx, t.Ref, status)
		if err != nil {
			return webhook.OutcomeFailed, err
		}
		if settled {
			return webhook.OutcomeIgnored, nil
		}
	} else if err := intent.Decode(&payload); err != nil {
		return webhook.OutcomeFailed, shared.Infrastructure("corrupt settlement intent", err)
	}

	if intent.IsProcessed() {
		r.logger.Info("Transfer outcome already applied", "reference", t.Ref, "status", string(payload.Status))
		return webhook.OutcomeIgnored, nil
	}
	if payload.Status != status {
		r.logger.Warn("Transfer outcome differs from the settled one",
			"reference", t.Ref,
			"settled_status", string(payload.Status),
			"reported_status", string(status),
		)
	}

	if err := r.completeSettle(ctx, intent, payload); err != nil {
		return webhook.OutcomeFailed, err
	}
	return webhook.OutcomeProcessed, nil
}

// reserveSettlement reserves the settlement of the withdrawal behind
// reference. It reports settled when the reservation is no longer pending.
func (r *Reconciler) reserveSettlement(ctx context.Context, reference string, status withdrawal.Status) (*outbox.Message, settleIntent, bool, error) {
	var payload settleIntent

	w, err := r.Withdrawals.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, withdrawal.ErrWithdrawalNotFound{}) {
			return nil, payload, false, r.unbookedWithdrawal(ctx, reference, err)
		}
		return nil, payload, false, wrap("failed to load withdrawal", err)
	}

	state, err := w.Settle(status)
	if errors.Is(err, withdrawal.ErrAlreadySettled) {
		r.logger.Info("Withdrawal already settled", "reference", reference, "ledger_state", string(state))
		return nil, payload, true, nil
	}

	pending, err := r.Ledger.LookupTransfer(ctx, w.TransferID)
	if err != nil {
		return nil, payload, false, err
	}

	payload = settleIntent{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Reference:    reference,
		Status:       status,
		State:        state,
		PendingID:    w.TransferID,
		Debit:        pending.Debit,
		Credit:       pending.Credit,
		Amount:       pending.Amount,
	}
	msg, err := outbox.NewMessage(outbox.KindWithdrawalSettle, reference, r.Ledger.NewID(), payload)
	if err != nil {
		return nil, payload, false, shared.Infrastructure("failed to encode settlement intent", err)
	}

	stored, created, err := r.Outbox.Reserve(ctx, msg)
	if err != nil {
		return nil, payload, false, wrap("failed to reserve settlement intent", err)
	}
	if !created {
		if err := stored.Decode(&payload); err != nil {
			return nil, payload, false, shared.Infrastructure("corrupt settlement intent", err)
		}
	}
	return stored, payload, false, nil
}

// completeSettle posts or voids the pending transfer, then moves the
// withdrawal and its statement line to the outcome.
func (r *Reconciler) completeSettle(ctx context.Context, intent *outbox.Message, p settleIntent) error {
	shape := ledger.ShapeVoidPending
	if p.State == withdrawal.LedgerPosted {
		shape = ledger.ShapePostPending
	}

	if err := r.Ledger.CreateTransfer(ctx, ledger.Transfer{
		ID:        intent.TransferID,
		Debit:     p.Debit,
		Credit:    p.Credit,
		Amount:    p.Amount,
		Code:      ledger.CodeWalletWithdrawal,
		Ledger:    r.Config.LedgerName,
		Shape:     shape,
		PendingID: p.PendingID,
	}); err != nil {
		r.logger.Error("Failed to settle withdrawal reservation",
			"reference", p.Reference,
			"pending_id", p.PendingID,
			"shape", shape.String(),
			"error", err,
		)
		return err
	}

	err := r.Withdrawals.UpdateSettlement(ctx, p.WithdrawalID, p.Status, p.State)
	if err != nil && !errors.Is(err, withdrawal.ErrAlreadySettled) {
		return wrap("failed to update withdrawal", err)
	}

	if p.State == withdrawal.LedgerPosted {
		err = r.Statements.UpdateStatusByTransferID(ctx, p.PendingID, statement.StatusCompleted)
	} else {
		err = r.Statements.DeleteByTransferID(ctx, p.PendingID)
	}
	var missing statement.ErrStatementNotFound
	if errors.As(err, &missing) {
		r.logger.Warn("Withdrawal statement missing", "reference", p.Reference, "pending_id", p.PendingID)
	} else if err != nil {
		return wrap("failed to settle withdrawal statement", err)
	}

	r.logActivityOnce(ctx, activity.NewEntry(activity.EntityWithdrawal, p.WithdrawalID, activity.ActionWithdrawalSettled,
		"Withdrawal "+string(p.Status)).WithActor(p.UserID))
	r.markProcessed(ctx, intent)

	r.logger.Info("Withdrawal settled",
		"reference", p.Reference,
		"status", string(p.Status),
		"ledger_state", string(p.State),
		"transfer_id", intent.TransferID,
	)
	return nil
}

// unbookedWithdrawal classifies a transfer outcome whose withdrawal row is
// missing. A payout still being booked is retried by the provider; a
// reference no withdrawal intent knows is rejected.
func (r *Reconciler) unbookedWithdrawal(ctx context.Context, reference string, notFound error) error {
	intent, err := r.loadIntent(ctx, outbox.KindWalletWithdraw, reference)
	if err != nil {
		return err
	}
	if intent == nil {
		return shared.Expected("unknown withdrawal reference " + reference)
	}

	r.logger.Warn("Transfer outcome arrived before the withdrawal was booked",
		"reference", reference,
		"intent_id", intent.ID,
	)
	return shared.Infrastructure("withdrawal "+reference+" is not booked yet", notFound)
}
