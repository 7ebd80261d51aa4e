package outbox_poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
)

const dlqSource = "outbox"

// Resumer completes the follow-up writes of a settlement intent and marks it
// processed. Resume must be safe to repeat.
type Resumer interface {
	Resume(ctx context.Context, intent *outbox.Message) error
}

// Poller re-drives settlement intents left pending
type Poller struct {
	outboxRepo       outbox.Repository
	resumers         map[outbox.Kind]Resumer
	dlq              producers.DeadLetterPublisher
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
	staleAfter       time.Duration
	now              func() time.Time
}

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	resumers map[outbox.Kind]Resumer,
	dlq producers.DeadLetterPublisher,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		resumers:         resumers,
		dlq:              dlq,
		logger:           logger,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
		staleAfter:       cfg.StaleAfter,
		now:              time.Now,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting Outbox Poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
		"stale_after", p.staleAfter.String(),
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox Poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.logger.Debug("Outbox Poller tick: re-driving stale settlement intents")
			if err := p.processStaleMessages(ctx); err != nil {
				p.logger.Error("Error during batch processing of stale settlement intents", "error", err)
			}
		}
	}
}

func (p *Poller) processStaleMessages(ctx context.Context) error {
	messages, err := p.outboxRepo.GetStale(ctx, p.now().Add(-p.staleAfter), p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get stale settlement intents: %w", err)
	}

	if len(messages) == 0 {
		p.logger.Debug("No stale settlement intents found.")
		return nil
	}

	p.logger.Info("Fetched stale settlement intents", "count", len(messages))

	for _, msg := range messages {
		logger := p.logger.With("outbox_id", msg.ID, "kind", string(msg.Kind), "reference", msg.Reference)

		resumer, ok := p.resumers[msg.Kind]
		if !ok {
			logger.Error("No resumer registered for settlement intent kind")
			p.fail(ctx, logger, msg, "no resumer registered for kind "+string(msg.Kind))
			continue
		}

		if err := resumer.Resume(ctx, msg); err != nil {
			logger.Error("Failed to re-drive settlement intent",
				"transfer_id", msg.TransferID,
				"current_attempts", msg.Attempts,
				"error", err,
			)

			if errInc := p.outboxRepo.IncrementAttempts(ctx, msg.ID); errInc != nil {
				logger.Error("Failed to increment attempts for settlement intent", "error", errInc)
				continue
			}

			if msg.Attempts+1 >= p.maxRetryAttempts {
				logger.Warn("Max retry attempts reached for settlement intent, marking as FAILED",
					"transfer_id", msg.TransferID,
					"attempts_made", msg.Attempts+1,
				)
				p.fail(ctx, logger, msg, err.Error())
				continue
			}
			metrics.OutboxRedrivesTotal.WithLabelValues(string(msg.Kind), "retry").Inc()
			continue
		}

		metrics.OutboxRedrivesTotal.WithLabelValues(string(msg.Kind), "processed").Inc()
		logger.Info("Successfully re-drove settlement intent", "transfer_id", msg.TransferID)
	}
	return nil
}

// fail parks an intent for manual repair.
func (p *Poller) fail(ctx context.Context, logger *slog.Logger, msg *outbox.Message, reason string) {
	metrics.OutboxRedrivesTotal.WithLabelValues(string(msg.Kind), "failed").Inc()

	if err := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusFailed); err != nil {
		logger.Error("Failed to update settlement intent status to FAILED", "error", err)
		return
	}

	if p.dlq == nil {
		return
	}
	value, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to encode settlement intent for DLQ", "error", err)
		return
	}
	if err := p.dlq.PublishToDLQ(ctx, dlqSource, msg.Reference, value, reason); err != nil {
		logger.Error("Failed to publish settlement intent to DLQ", "error", err)
	}
}
