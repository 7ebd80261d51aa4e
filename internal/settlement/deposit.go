package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/money"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/payment"
)

// RequestDetails is the invitation as shown to the counterparty
type RequestDetails struct {
	Request         *escrow.Request `json:"request"`
	Sender          *user.User      `json:"sender"`
	Status          escrow.Status   `json:"status"`
	IsAuthenticated bool            `json:"is_authenticated"`
}

// DepositInput identifies the payer of an escrow deposit. The customer
// fields are used only when the caller is not signed in.
type DepositInput struct {
	EscrowID         uuid.UUID
	CustomerUsername string
	CustomerEmail    string
	CustomerPhone    string
}

// FinalizeParams is the confirmed deposit reported by the payment provider
type FinalizeParams struct {
	EscrowID      uuid.UUID
	Customer      webhook.CustomerDetails
	PaymentStatus escrow.PaymentStatus
	Method        string
}

// finalizedStatuses are the states an escrow can only be in after its deposit landed.
var finalizedStatuses = map[escrow.Status]bool{
	escrow.StatusDepositSuccess:   true,
	escrow.StatusServicePending:   true,
	escrow.StatusServiceConfirmed: true,
	escrow.StatusCompleted:        true,
	escrow.StatusDispute:          true,
	escrow.StatusRefunded:         true,
}

func (o *Orchestrator) loadPendingRequest(ctx context.Context, escrowID uuid.UUID) (*escrow.Request, error) {
	req, err := o.Requests.GetByEscrowID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound{}) {
			return nil, shared.NotFound("Invalid escrow id")
		}
		return nil, wrap("failed to load escrow request", err)
	}
	if req.Status != escrow.InvitationPending {
		return nil, shared.NotFound("Invalid escrow id")
	}
	return req, nil
}

// GetEscrowRequestDetails shows a pending invitation and moves the escrow to
// deposit.pending when that transition is legal. Repeated views are no-ops.
func (o *Orchestrator) GetEscrowRequestDetails(ctx context.Context, escrowID uuid.UUID, viewer *user.Actor) (*RequestDetails, error) {
	req, err := o.loadPendingRequest(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	tx, err := o.loadTransaction(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	status := tx.Status
	if escrow.CanTransition(tx.Status, escrow.StatusDepositPending) {
		err := o.casStatus(ctx, escrowID, tx.Status, escrow.StatusDepositPending)
		switch {
		case err == nil:
			status = escrow.StatusDepositPending
			o.logActivityOnce(ctx, activity.NewEntry(activity.EntityEscrow, escrowID, activity.ActionEscrowDepositPending, "Escrow awaiting deposit"))
		case shared.KindOf(err) == shared.KindExpected:
			// A concurrent view already moved it.
			o.logger.Info("Escrow status moved concurrently", "escrow_id", escrowID.String())
		default:
			return nil, err
		}
	}

	sender, err := o.Users.GetByID(ctx, req.SenderID)
	if err != nil {
		return nil, wrap("failed to load escrow sender", err)
	}

	return &RequestDetails{
		Request:         req,
		Sender:          sender,
		Status:          status,
		IsAuthenticated: viewer != nil,
	}, nil
}

// InitializeEscrowDeposit returns the payment session for the escrow deposit,
// creating it on first call. Later calls return the stored session.
func (o *Orchestrator) InitializeEscrowDeposit(ctx context.Context, in DepositInput, viewer *user.Actor) (session *payment.Session, err error) {
	defer func() { metrics.ObserveSettlement("initialize_deposit", err) }()

	tx, err := o.loadTransaction(ctx, in.EscrowID)
	if err != nil {
		return nil, err
	}
	if tx.Status != escrow.StatusDepositPending {
		return nil, shared.Expected("Please click the link sent to you to proceed with payment")
	}

	req, err := o.loadPendingRequest(ctx, in.EscrowID)
	if err != nil {
		return nil, err
	}
	if req.IsExpired(o.now()) {
		return nil, shared.Expected("Escrow transaction request has expired")
	}

	if req.HasSession() {
		return &payment.Session{
			AuthorizationURL: req.AuthorizationURL,
			AccessCode:       req.AccessCode,
			Reference:        req.EscrowID.String(),
		}, nil
	}

	if viewer != nil && viewer.ID == req.SenderID {
		return nil, shared.Expected("Account associated with the escrow creation")
	}

	payer, err := o.resolvePayer(ctx, in, viewer)
	if err != nil {
		return nil, err
	}

	amount, err := money.ToMinorUnit(req.Amount)
	if err != nil {
		return nil, shared.Expected("invalid escrow amount")
	}

	session, err = o.Payment.CreateSession(ctx, payment.SessionRequest{
		Email:       payer.Email,
		Amount:      amount,
		Currency:    o.Config.Currency,
		Reference:   req.EscrowID.String(),
		CallbackURL: o.Config.CallbackURL,
		Metadata: webhook.ChargeMetadata{
			EscrowID: req.EscrowID.String(),
			CustomerDetails: webhook.CustomerDetails{
				UserID:   payer.ID.String(),
				Email:    payer.Email,
				Username: payer.Username,
				Phone:    payer.Phone,
				Role:     string(req.CustomerRole),
			},
			RelatedUserID: req.SenderID.String(),
		},
	})
	if err != nil {
		o.logger.Error("Failed to create payment session", "escrow_id", req.EscrowID.String(), "error", err)
		return nil, wrap("failed to create payment session", err)
	}

	if err := o.Requests.SetSession(ctx, req.EscrowID, session.AccessCode, session.AuthorizationURL); err != nil {
		return nil, wrap("failed to store payment session", err)
	}

	o.logger.Info("Payment session created",
		"escrow_id", req.EscrowID.String(),
		"payer_id", payer.ID.String(),
		"amount", amount,
	)
	return session, nil
}

// resolvePayer returns the signed-in user, or registers a guest from the
// customer details. An existing username must sign in instead.
func (o *Orchestrator) resolvePayer(ctx context.Context, in DepositInput, viewer *user.Actor) (*user.User, error) {
	if viewer != nil {
		u, err := o.Users.GetByID(ctx, viewer.ID)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound{}) {
				return nil, shared.NotFound("user not found")
			}
			return nil, wrap("failed to load payer", err)
		}
		return u, nil
	}

	if strings.TrimSpace(in.CustomerUsername) == "" || strings.TrimSpace(in.CustomerEmail) == "" {
		return nil, shared.Expected("customer username and email are required")
	}

	_, err := o.Users.GetByUsername(ctx, in.CustomerUsername)
	if err == nil {
		return nil, shared.Expected("Unauthorized: signin to continue")
	}
	if !errors.Is(err, user.ErrUserNotFound{}) {
		return nil, wrap("failed to look up customer", err)
	}

	guest := user.NewUser(in.CustomerUsername, in.CustomerEmail, in.CustomerPhone)
	if err := o.Users.Create(ctx, guest); err != nil {
		var duplicate user.ErrDuplicateUsername
		if errors.As(err, &duplicate) {
			return nil, shared.Expected("Username is already taken")
		}
		return nil, wrap("failed to create guest user", err)
	}

	if _, err := o.ensureUserWallet(ctx, guest.ID); err != nil {
		return nil, err
	}

	o.logger.Info("Guest payer registered", "user_id", guest.ID.String(), "username", guest.Username)
	return guest, nil
}

// FinalizeEscrowTransaction applies a confirmed deposit: the invitation is
// accepted and processed, the payer joins, the payment is settled and the
// escrow reaches deposit.success. Applying it twice is a no-op.
func (o *Orchestrator) FinalizeEscrowTransaction(ctx context.Context, params FinalizeParams) (err error) {
	defer func() { metrics.ObserveSettlement("finalize_deposit", err) }()

	tx, err := o.loadTransaction(ctx, params.EscrowID)
	if err != nil {
		return err
	}
	if finalizedStatuses[tx.Status] {
		o.logger.Info("Escrow deposit already finalized", "escrow_id", params.EscrowID.String(), "status", string(tx.Status))
		return nil
	}
	if !escrow.CanTransition(tx.Status, escrow.StatusDepositSuccess) {
		return shared.Expected("Cannot transition from " + string(tx.Status) + " to " + string(escrow.StatusDepositSuccess))
	}

	payerID, err := uuid.Parse(params.Customer.UserID)
	if err != nil {
		return shared.Expected("invalid payer id in payment metadata")
	}
	role := shared.Role(params.Customer.Role)
	if !role.Valid() {
		return shared.Expected("invalid payer role in payment metadata")
	}

	req, err := o.Requests.GetByEscrowID(ctx, params.EscrowID)
	if err != nil {
		return wrap("failed to load escrow request", err)
	}

	now := o.now()
	err = o.DB.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		requests := o.Requests.WithTx(dbTx)
		if err := requests.MarkAccepted(ctx, params.EscrowID, now); err != nil {
			return err
		}
		if err := requests.MarkProcessed(ctx, req.ID, now); err != nil {
			return err
		}
		if err := o.Participants.WithTx(dbTx).Add(ctx, escrow.NewParticipant(params.EscrowID, payerID, role)); err != nil {
			return err
		}
		if err := o.Payments.WithTx(dbTx).UpdateSettlement(ctx, params.EscrowID, params.PaymentStatus, payerID, params.Method); err != nil {
			return err
		}
		return o.Transactions.WithTx(dbTx).UpdateStatus(ctx, params.EscrowID, tx.Status, escrow.StatusDepositSuccess)
	})
	if err != nil {
		o.logger.Error("Failed to finalize escrow deposit", "escrow_id", params.EscrowID.String(), "error", err)
		return statusWriteError(err)
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(string(escrow.StatusDepositSuccess)).Inc()

	o.logActivityOnce(ctx, activity.NewEntry(activity.EntityEscrow, params.EscrowID, activity.ActionEscrowDepositSuccess, "Escrow deposit received").WithActor(payerID))

	o.Notifier.Notify(ctx, notification.New(notification.TypeDepositReceived, params.EscrowID.String()).
		To(req.SenderID.String(), "").
		With("amount", req.Amount.StringFixed(2)).
		With("payer", params.Customer.Username))

	o.logger.Info("Escrow deposit finalized", "escrow_id", params.EscrowID.String(), "payer_id", payerID.String())
	return nil
}
