package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
)

// StatusChange reports an applied transition
type StatusChange struct {
	EscrowID uuid.UUID     `json:"escrow_id"`
	From     escrow.Status `json:"from"`
	To       escrow.Status `json:"to"`
}

// sellerStatuses may only be requested by the service provider; buyerStatuses
// only by the service consumer.
var (
	sellerStatuses = map[escrow.Status]bool{escrow.StatusServicePending: true}
	buyerStatuses  = map[escrow.Status]bool{escrow.StatusServiceConfirmed: true, escrow.StatusCompleted: true}
)

// authorizeStatus checks that actor holds the role allowed to request status.
func authorizeStatus(buyer, seller *escrow.Participant, status escrow.Status, actor user.Actor) error {
	if sellerStatuses[status] && actor.ID != seller.UserID {
		return shared.Permission("Unauthorized operation: service provider operation")
	}
	if buyerStatuses[status] && actor.ID != buyer.UserID {
		return shared.Permission("Unauthorized operation: service consumer operation")
	}
	return nil
}

// UpdateEscrowTransactionStatus moves the escrow along the lifecycle on behalf
// of a party. Entering service.pending issues a release code that only the
// buyer receives; its bcrypt hash is stored with the status.
func (o *Orchestrator) UpdateEscrowTransactionStatus(ctx context.Context, escrowID uuid.UUID, status escrow.Status, actor user.Actor) (change *StatusChange, err error) {
	defer func() { metrics.ObserveSettlement("update_status", err) }()

	if !status.Valid() {
		return nil, shared.Expected("unknown escrow status " + string(status))
	}

	tx, err := o.loadTransaction(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	if !escrow.CanTransition(tx.Status, status) {
		return nil, shared.Expected("Cannot transition from " + string(tx.Status) + " to " + string(status))
	}

	buyer, seller, err := o.buyerAndSeller(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := authorizeStatus(buyer, seller, status, actor); err != nil {
		return nil, err
	}

	if status == escrow.StatusServicePending {
		if err := o.issueReleaseCode(ctx, tx, buyer); err != nil {
			return nil, err
		}
	} else if err := o.casStatus(ctx, escrowID, tx.Status, status); err != nil {
		return nil, err
	}

	o.logActivity(ctx, activity.NewEntry(activity.EntityEscrow, escrowID, activity.StatusAction(string(status)),
		"Status updated from "+string(tx.Status)+" to "+string(status)).WithActor(actor.ID))

	o.logger.Info("Escrow status updated",
		"escrow_id", escrowID.String(),
		"from", string(tx.Status),
		"to", string(status),
		"actor_id", actor.ID.String(),
	)
	return &StatusChange{EscrowID: escrowID, From: tx.Status, To: status}, nil
}

func (o *Orchestrator) issueReleaseCode(ctx context.Context, tx *escrow.Transaction, buyer *escrow.Participant) error {
	code, err := o.newReleaseCode()
	if err != nil {
		return shared.Infrastructure("failed to generate release code", err)
	}
	hash, err := hashReleaseCode(code)
	if err != nil {
		return shared.Infrastructure("failed to hash release code", err)
	}

	if err := o.Transactions.UpdateStatusWithReleaseCode(ctx, tx.ID, tx.Status, escrow.StatusServicePending, hash); err != nil {
		return statusWriteError(err)
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(string(escrow.StatusServicePending)).Inc()

	o.Notifier.Notify(ctx, notification.New(notification.TypeReleaseCode, tx.ID.String()).
		To(buyer.UserID.String(), "").
		With("title", tx.Title).
		With("release_code", code))
	return nil
}
