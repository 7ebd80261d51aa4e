package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowTransactionRepository implements escrow.TransactionRepository for PostgreSQL
type EscrowTransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewEscrowTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) escrow.TransactionRepository {
	return &EscrowTransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *EscrowTransactionRepository) WithTx(tx pgx.Tx) escrow.TransactionRepository {
	return &EscrowTransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *EscrowTransactionRepository) Create(ctx context.Context, tx *escrow.Transaction) error {
	query := `
		INSERT INTO escrow_transactions (id, title, description, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.querier.Exec(ctx, query,
		tx.ID,
		tx.Title,
		tx.Description,
		tx.Status,
		tx.CreatedBy,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create escrow transaction",
			"escrow_id", tx.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create escrow transaction: %w", err)
	}

	return nil
}

func (r *EscrowTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*escrow.Transaction, error) {
	query := `
		SELECT id, title, description, status, created_by, release_code_hash, created_at, updated_at
		FROM escrow_transactions
		WHERE id = $1
	`

	var tx escrow.Transaction
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&tx.ID,
		&tx.Title,
		&tx.Description,
		&tx.Status,
		&tx.CreatedBy,
		&tx.ReleaseCodeHash,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound{Entity: "escrow transaction", Key: id.String()}
		}
		r.logger.Error("Failed to get escrow transaction", "escrow_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get escrow transaction: %w", err)
	}

	return &tx, nil
}

// ListByUser returns escrows the user created or takes part in, newest first.
func (r *EscrowTransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) ([]*escrow.Transaction, error) {
	query := `
		SELECT t.id, t.title, t.description, t.status, t.created_by, t.release_code_hash, t.created_at, t.updated_at
		FROM escrow_transactions t
		WHERE (t.created_by = $1 OR EXISTS (
			SELECT 1 FROM escrow_participants p WHERE p.escrow_id = t.id AND p.user_id = $1
		))
		AND ($2 = '' OR t.status = $2)
		ORDER BY t.created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.querier.Query(ctx, query, userID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		r.logger.Error("Failed to list escrow transactions", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to list escrow transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*escrow.Transaction
	for rows.Next() {
		var tx escrow.Transaction
		if err := rows.Scan(
			&tx.ID,
			&tx.Title,
			&tx.Description,
			&tx.Status,
			&tx.CreatedBy,
			&tx.ReleaseCodeHash,
			&tx.CreatedAt,
			&tx.UpdatedAt,
		); err != nil {
			r.logger.Error("Failed to scan escrow transaction", "error", err)
			return nil, fmt.Errorf("failed to scan escrow transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over escrow transactions", "error", err)
		return nil, fmt.Errorf("error iterating over escrow transactions: %w", err)
	}

	return transactions, nil
}

func (r *EscrowTransactionRepository) CountByUser(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM escrow_transactions t
		WHERE (t.created_by = $1 OR EXISTS (
			SELECT 1 FROM escrow_participants p WHERE p.escrow_id = t.id AND p.user_id = $1
		))
		AND ($2 = '' OR t.status = $2)
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query, userID, string(filter.Status)).Scan(&count); err != nil {
		r.logger.Error("Failed to count escrow transactions", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to count escrow transactions: %w", err)
	}

	return count, nil
}

func (r *EscrowTransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to escrow.Status) error {
	query := `
		UPDATE escrow_transactions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.querier.Exec(ctx, query, to, time.Now(), id, from)
	if err != nil {
		r.logger.Error("Failed to update escrow status",
			"escrow_id", id.String(),
			"from", string(from),
			"to", string(to),
			"error", err,
		)
		return fmt.Errorf("failed to update escrow status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return escrow.ErrConcurrentModification{EscrowID: id, Expected: from}
	}

	return nil
}

func (r *EscrowTransactionRepository) UpdateStatusWithReleaseCode(ctx context.Context, id uuid.UUID, from, to escrow.Status, releaseCodeHash string) error {
	query := `
		UPDATE escrow_transactions
		SET status = $1, release_code_hash = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.querier.Exec(ctx, query, to, releaseCodeHash, time.Now(), id, from)
	if err != nil {
		r.logger.Error("Failed to update escrow status with release code",
			"escrow_id", id.String(),
			"to", string(to),
			"error", err,
		)
		return fmt.Errorf("failed to update escrow status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return escrow.ErrConcurrentModification{EscrowID: id, Expected: from}
	}

	return nil
}
