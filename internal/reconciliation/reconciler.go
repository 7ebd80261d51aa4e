// Package reconciliation applies payment provider webhooks to the ledger and
// the relational store. Every delivery is safe to replay: ledger writes reuse
// the transfer id stored on the settlement intent, and follow-up writes are
// idempotent.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
	"github.com/escrow-settlement/internal/settlement"
)

// ErrDeliveryInProgress is returned while another worker handles the same delivery.
var ErrDeliveryInProgress = errors.New("webhook delivery already in progress")

// SignatureVerifier checks the provider signature of a raw payload
type SignatureVerifier interface {
	VerifyWebhook(payload []byte, signature string) bool
}

// Ledger is the subset of the ledger gateway the reconciler books through
type Ledger interface {
	NewID() string
	CreateTransfer(ctx context.Context, t ledger.Transfer) error
	LookupTransfer(ctx context.Context, transferID string) (*ledger.TransferRecord, error)
}

// Finalizer completes an escrow once its deposit is on the ledger
type Finalizer interface {
	FinalizeEscrowTransaction(ctx context.Context, params settlement.FinalizeParams) error
}

// DeliveryLock serializes deliveries of the same (event, reference). Acquire
// returns an empty token when the lock is held elsewhere.
type DeliveryLock interface {
	Acquire(ctx context.Context, event, reference string) (string, error)
	Release(ctx context.Context, event, reference, token string) error
}

// Config carries the settings the reconciler reads at call time
type Config struct {
	LedgerName   string
	OrgAccountID string
	DispatchMode string
}

// Dependencies wires the reconciler. Queue is only used in queued dispatch mode.
type Dependencies struct {
	Logger        *slog.Logger
	Verifier      SignatureVerifier
	Audit         webhook.AuditRepository
	Lock          DeliveryLock
	Queue         producers.MessagePublisher
	EscrowWallets escrow.WalletRepository
	Requests      escrow.RequestRepository
	Statements    statement.Repository
	Withdrawals   withdrawal.Repository
	Outbox        outbox.Repository
	Activity      activity.Repository
	Ledger        Ledger
	Finalizer     Finalizer
	Config        Config
}

// Reconciler turns verified provider notifications into settlement writes
type Reconciler struct {
	Dependencies
	logger *slog.Logger
}

func New(deps Dependencies) *Reconciler {
	return &Reconciler{
		Dependencies: deps,
		logger:       deps.Logger.With("component", "reconciler"),
	}
}

// HandleWebhook is the intake of one provider delivery. The signature is
// checked against the raw body before anything is parsed. In queued mode the
// delivery is handed to the webhook event topic and acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !r.Verifier.VerifyWebhook(payload, signature) {
		metrics.WebhookEventsTotal.WithLabelValues("unverified", string(webhook.OutcomeRejected)).Inc()
		r.logger.Warn("Webhook signature rejected", "payload_size", len(payload))
		return shared.Permission("Invalid webhook signature")
	}

	event := webhook.Resolve(payload)
	record := webhook.NewRecord(event, payload)
	if err := r.Audit.Create(ctx, record); err != nil {
		r.logger.Warn("Failed to audit webhook delivery", "event", event.Name(), "reference", event.Reference(), "error", err)
	}

	if r.Config.DispatchMode == config.DispatchQueued {
		return r.enqueue(ctx, record, event, payload, signature)
	}

	return r.process(ctx, record.ID, event)
}

func (r *Reconciler) enqueue(ctx context.Context, record *webhook.Record, event webhook.Event, payload []byte, signature string) error {
	key := event.Reference()
	if key == "" {
		key = record.ID
	}

	err := r.Queue.Publish(ctx, key, webhook.Envelope{
		RecordID:   record.ID,
		Signature:  signature,
		Payload:    payload,
		ReceivedAt: record.ReceivedAt,
	})
	if err != nil {
		r.logger.Error("Failed to enqueue webhook delivery", "event", event.Name(), "reference", event.Reference(), "error", err)
		r.recordOutcome(ctx, record.ID, event, webhook.OutcomeFailed, err)
		return shared.Infrastructure("failed to enqueue webhook delivery", err)
	}

	r.recordOutcome(ctx, record.ID, event, webhook.OutcomeQueued, nil)
	r.logger.Info("Webhook delivery queued", "event", event.Name(), "reference", event.Reference())
	return nil
}

// HandleEnvelope processes a delivery taken off the webhook event topic.
// The signature is verified again since the topic is not trusted.
func (r *Reconciler) HandleEnvelope(ctx context.Context, env webhook.Envelope) error {
	if !r.Verifier.VerifyWebhook(env.Payload, env.Signature) {
		metrics.WebhookEventsTotal.WithLabelValues("unverified", string(webhook.OutcomeRejected)).Inc()
		return shared.Permission("Invalid webhook signature")
	}
	return r.process(ctx, env.RecordID, webhook.Resolve(env.Payload))
}

// process runs one delivery under the (event, reference) lock.
func (r *Reconciler) process(ctx context.Context, recordID string, event webhook.Event) error {
	if ref := event.Reference(); ref != "" {
		token, err := r.Lock.Acquire(ctx, event.Name(), ref)
		if err != nil {
			return shared.Infrastructure("failed to acquire delivery lock", err)
		}
		if token == "" {
			r.logger.Info("Webhook delivery already in progress", "event", event.Name(), "reference", ref)
			return ErrDeliveryInProgress
		}
		defer func() {
			if err := r.Lock.Release(context.WithoutCancel(ctx), event.Name(), ref, token); err != nil {
				r.logger.Warn("Failed to release delivery lock", "event", event.Name(), "reference", ref, "error", err)
			}
		}()
	}

	outcome, err := r.Dispatch(ctx, event)
	r.recordOutcome(ctx, recordID, event, outcome, err)
	if err != nil {
		r.logger.Error("Webhook delivery failed",
			"event", event.Name(),
			"reference", event.Reference(),
			"kind", shared.KindOf(err).String(),
			"error", err,
		)
	}
	return err
}

func (r *Reconciler) recordOutcome(ctx context.Context, recordID string, event webhook.Event, outcome webhook.Outcome, cause error) {
	name := event.Name()
	if name == "" {
		name = "unknown"
	}
	metrics.WebhookEventsTotal.WithLabelValues(name, string(outcome)).Inc()

	if recordID == "" {
		return
	}
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.Audit.UpdateOutcome(ctx, recordID, outcome, msg); err != nil {
		r.logger.Warn("Failed to record webhook outcome", "record_id", recordID, "error", err)
	}
}

// Dispatch applies a resolved event. Unknown and failed-charge events are
// acknowledged without any write.
func (r *Reconciler) Dispatch(ctx context.Context, event webhook.Event) (webhook.Outcome, error) {
	switch e := event.(type) {
	case webhook.ChargeSuccess:
		return r.applyCharge(ctx, e.Charge)
	case webhook.ChargeFailed:
		r.logger.Info("Charge failed", "reference", e.Ref, "status", e.Status)
		return webhook.OutcomeIgnored, nil
	case webhook.TransferSuccess:
		return r.applyTransferOutcome(ctx, e.Transfer, withdrawal.StatusSuccess)
	case webhook.TransferFailed:
		return r.applyTransferOutcome(ctx, e.Transfer, withdrawal.StatusFailed)
	case webhook.TransferReversed:
		return r.applyTransferOutcome(ctx, e.Transfer, withdrawal.StatusReversed)
	case webhook.Unknown:
		r.logger.Info("Ignoring unhandled webhook event", "event", e.Event, "reference", e.Ref)
		return webhook.OutcomeIgnored, nil
	default:
		return webhook.OutcomeFailed, shared.Expected("unsupported webhook event " + event.Name())
	}
}

// Resume re-drives a deposit or withdrawal settlement intent left pending.
func (r *Reconciler) Resume(ctx context.Context, intent *outbox.Message) error {
	switch intent.Kind {
	case outbox.KindEscrowDeposit:
		var p depositIntent
		if err := intent.Decode(&p); err != nil {
			return shared.Infrastructure("corrupt deposit intent", err)
		}
		return r.completeDeposit(ctx, intent, p)
	case outbox.KindWithdrawalSettle:
		var p settleIntent
		if err := intent.Decode(&p); err != nil {
			return shared.Infrastructure("corrupt settlement intent", err)
		}
		return r.completeSettle(ctx, intent, p)
	default:
		return fmt.Errorf("reconciler cannot resume intent kind %q", intent.Kind)
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

func (r *Reconciler) logActivityOnce(ctx context.Context, entry *activity.Entry) {
	if _, err := r.Activity.CreateOnce(ctx, entry); err != nil {
		r.logger.Warn("Failed to record activity", "entity_id", entry.EntityID, "action", string(entry.Action), "error", err)
	}
}

func (r *Reconciler) markProcessed(ctx context.Context, intent *outbox.Message) {
	if err := r.Outbox.UpdateStatus(ctx, intent.ID, shared.OutboxStatusProcessed); err != nil {
		r.logger.Warn("Failed to mark intent processed", "intent_id", intent.ID, "kind", string(intent.Kind), "error", err)
	}
}

// loadIntent returns the stored intent of kind for reference, or nil when none exists.
func (r *Reconciler) loadIntent(ctx context.Context, kind outbox.Kind, reference string) (*outbox.Message, error) {
	intent, err := r.Outbox.GetByReference(ctx, kind, reference)
	if err == nil {
		return intent, nil
	}
	var notFound outbox.ErrMessageNotFound
	if errors.As(err, &notFound) {
		return nil, nil
	}
	return nil, wrap("failed to load settlement intent", err)
}
