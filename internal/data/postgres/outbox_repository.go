package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// OutboxRepository implements the outbox.Repository interface for PostgreSQL
type OutboxRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewOutboxRepository creates a new PostgreSQL settlement outbox repository
func NewOutboxRepository(logger *slog.Logger, db *persistence.PostgresDB) outbox.Repository {
	return &OutboxRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *OutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return &OutboxRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const outboxColumns = `id, kind, reference, transfer_id, payload, status, attempts, created_at, last_attempt_at`

func scanMessage(row pgx.Row) (*outbox.Message, error) {
	var message outbox.Message
	err := row.Scan(
		&message.ID,
		&message.Kind,
		&message.Reference,
		&message.TransferID,
		&message.Payload,
		&message.Status,
		&message.Attempts,
		&message.CreatedAt,
		&message.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// Reserve stores message in pending status unless an intent with the same kind
// and reference exists. The first reservation wins; later callers receive it
// and must reuse its transfer id.
func (r *OutboxRepository) Reserve(ctx context.Context, message *outbox.Message) (*outbox.Message, bool, error) {
	query := `
		INSERT INTO settlement_outbox (kind, reference, transfer_id, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, reference) DO NOTHING
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		message.Kind,
		message.Reference,
		message.TransferID,
		message.Payload,
		message.Status,
		message.Attempts,
		message.CreatedAt,
	).Scan(&message.ID)
	if err == nil {
		return message, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to reserve settlement intent",
			"kind", string(message.Kind),
			"reference", message.Reference,
			"error", err,
		)
		return nil, false, fmt.Errorf("failed to reserve settlement intent: %w", err)
	}

	existing, err := r.GetByReference(ctx, message.Kind, message.Reference)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *OutboxRepository) GetByReference(ctx context.Context, kind outbox.Kind, reference string) (*outbox.Message, error) {
	query := `SELECT ` + outboxColumns + ` FROM settlement_outbox WHERE kind = $1 AND reference = $2`

	message, err := scanMessage(r.querier.QueryRow(ctx, query, kind, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, outbox.ErrMessageNotFound{Reference: reference}
		}
		r.logger.Error("Failed to get settlement intent",
			"kind", string(kind),
			"reference", reference,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get settlement intent: %w", err)
	}

	return message, nil
}

// GetStale returns pending intents created before olderThan, oldest first.
func (r *OutboxRepository) GetStale(ctx context.Context, olderThan time.Time, limit int) ([]*outbox.Message, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM settlement_outbox
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, shared.OutboxStatusPending, olderThan, limit)
	if err != nil {
		r.logger.Error("Failed to get stale settlement intents", "error", err)
		return nil, fmt.Errorf("failed to get stale settlement intents: %w", err)
	}
	defer rows.Close()

	var messages []*outbox.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			r.logger.Error("Failed to scan settlement intent", "error", err)
			return nil, fmt.Errorf("failed to scan settlement intent: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over settlement intents", "error", err)
		return nil, fmt.Errorf("error iterating over settlement intents: %w", err)
	}

	return messages, nil
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	query := `
		UPDATE settlement_outbox
		SET status = $1, last_attempt_at = $2
		WHERE id = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update settlement intent status",
			"id", id,
			"status", string(status),
			"error", err,
		)
		return fmt.Errorf("failed to update settlement intent status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrMessageNotFound{ID: id}
	}

	return nil
}

func (r *OutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	query := `
		UPDATE settlement_outbox
		SET attempts = attempts + 1, last_attempt_at = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to increment settlement intent attempts",
			"id", id,
			"error", err,
		)
		return fmt.Errorf("failed to increment settlement intent attempts: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrMessageNotFound{ID: id}
	}

	return nil
}
