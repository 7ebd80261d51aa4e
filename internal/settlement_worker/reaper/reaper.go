// Package reaper expires escrow invitations whose payment window closed
// without a deposit.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/persistence"
)

// Submitter runs a task in the background
type Submitter interface {
	Go(task func()) error
}

// Dependencies wires the reaper
type Dependencies struct {
	Logger       *slog.Logger
	TxRunner     persistence.TxRunner
	Requests     escrow.RequestRepository
	Transactions escrow.TransactionRepository
	Users        user.Repository
	Activity     activity.Repository
	Notifier     notification.Notifier
	Pool         Submitter
}

// Reaper moves unpaid escrows to expired once their request window closed
type Reaper struct {
	Dependencies
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func New(cfg config.ReaperConfig, deps Dependencies) *Reaper {
	return &Reaper{
		Dependencies: deps,
		logger:       deps.Logger.With("component", "reaper"),
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		now:          time.Now,
	}
}

// Start sweeps on every tick until ctx is canceled
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting expiry reaper",
		"interval", r.interval.String(),
		"batch_size", r.batchSize,
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Expiry reaper stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("Expiry sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires one batch of overdue requests and returns how many escrows
// moved to expired. A failing record never aborts the batch.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(metrics.ReaperRunDuration)
	defer timer.ObserveDuration()

	now := r.now()
	requests, err := r.Requests.ListExpiredUnprocessed(ctx, now, escrow.StatusesAllowing(escrow.StatusExpired), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired escrow requests: %w", err)
	}
	r.logger.Debug("Expired request count", "count", len(requests))

	var (
		wg      sync.WaitGroup
		expired atomic.Int64
	)
	for _, req := range requests {
		task := func() {
			defer wg.Done()
			ok, err := r.expire(ctx, req, now)
			if err != nil {
				r.logger.Error("Failed to expire escrow",
					"escrow_id", req.EscrowID.String(),
					"request_id", req.ID.String(),
					"error", err,
				)
				return
			}
			if ok {
				expired.Add(1)
			}
		}

		wg.Add(1)
		if err := r.Pool.Go(task); err != nil {
			task()
		}
	}
	wg.Wait()

	count := int(expired.Load())
	if count > 0 {
		r.logger.Info("Expiry sweep finished", "expired", count, "selected", len(requests))
	}
	return count, nil
}

// expire moves one escrow to expired and reports whether it did.
func (r *Reaper) expire(ctx context.Context, req *escrow.Request, now time.Time) (bool, error) {
	tx, err := r.Transactions.GetByID(ctx, req.EscrowID)
	if err != nil {
		return false, fmt.Errorf("failed to load escrow transaction: %w", err)
	}

	if !escrow.CanTransition(tx.Status, escrow.StatusExpired) {
		r.logger.Info("Skipping escrow that can no longer expire",
			"escrow_id", tx.ID.String(),
			"status", string(tx.Status),
		)
		return false, nil
	}

	entry := activity.NewEntry(activity.EntityEscrow, tx.ID, activity.ActionEscrowExpired, "Escrow transaction expired before payment")
	if _, err := r.Activity.CreateOnce(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to record expiry activity: %w", err)
	}

	err = r.TxRunner.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		if err := r.Transactions.WithTx(dbTx).UpdateStatus(ctx, tx.ID, tx.Status, escrow.StatusExpired); err != nil {
			return err
		}
		return r.Requests.WithTx(dbTx).MarkProcessed(ctx, req.ID, now)
	})
	if err != nil {
		var conflict escrow.ErrConcurrentModification
		if errors.As(err, &conflict) {
			r.logger.Info("Escrow status changed during expiry, retrying next sweep", "escrow_id", tx.ID.String())
			return false, nil
		}
		return false, fmt.Errorf("failed to mark escrow expired: %w", err)
	}

	metrics.ReaperExpiredTotal.Inc()
	metrics.EscrowTransitionsTotal.WithLabelValues(string(escrow.StatusExpired)).Inc()
	r.logger.Info("Escrow expired",
		"escrow_id", tx.ID.String(),
		"previous_status", string(tx.Status),
		"expired_at", req.ExpiresAt.Format(time.RFC3339),
	)

	r.notifyParties(ctx, tx, req)
	return true, nil
}

func (r *Reaper) notifyParties(ctx context.Context, tx *escrow.Transaction, req *escrow.Request) {
	escrowID := tx.ID.String()

	creator, err := r.Users.GetByID(ctx, tx.CreatedBy)
	if err != nil {
		r.logger.Warn("Failed to load escrow creator for expiry notice", "escrow_id", escrowID, "error", err)
	} else {
		r.Notifier.Notify(ctx, notification.New(notification.TypeEscrowExpired, escrowID).
			To(creator.ID.String(), creator.Email).
			With("receiver", "vendor").
			With("first_name", creator.FirstName))
	}

	if req.CustomerEmail != "" {
		r.Notifier.Notify(ctx, notification.New(notification.TypeEscrowExpired, escrowID).
			To("", req.CustomerEmail).
			With("receiver", "customer").
			With("first_name", req.CustomerUsername))
	}
}
