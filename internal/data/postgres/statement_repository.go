package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// StatementRepository implements statement.Repository for PostgreSQL
type StatementRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewStatementRepository(logger *slog.Logger, db *persistence.PostgresDB) statement.Repository {
	return &StatementRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Create inserts s keyed by its ledger transfer id. A replayed transfer id
// leaves the stored statement untouched and reports false.
func (r *StatementRepository) Create(ctx context.Context, s *statement.Statement) (bool, error) {
	query := `
		INSERT INTO account_statements (id, amount, balance, type, status, creator_id, related_user_id,
			tigerbeetle_transfer_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tigerbeetle_transfer_id) DO NOTHING
		RETURNING id
	`

	var balance decimal.NullDecimal
	if s.Balance != nil {
		balance = decimal.NewNullDecimal(*s.Balance)
	}

	var id uuid.UUID
	err := r.querier.QueryRow(ctx, query,
		s.ID,
		s.Amount,
		balance,
		s.Type,
		s.Status,
		s.CreatorID,
		s.RelatedUserID,
		s.TransferID,
		s.Metadata,
		s.CreatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Info("Statement already recorded for transfer", "transfer_id", s.TransferID)
			return false, nil
		}
		r.logger.Error("Failed to create statement",
			"transfer_id", s.TransferID,
			"type", string(s.Type),
			"error", err,
		)
		return false, fmt.Errorf("failed to create statement: %w", err)
	}

	return true, nil
}

func (r *StatementRepository) UpdateStatusByTransferID(ctx context.Context, transferID string, status statement.Status) error {
	query := `
		UPDATE account_statements
		SET status = $1
		WHERE tigerbeetle_transfer_id = $2
	`

	result, err := r.querier.Exec(ctx, query, status, transferID)
	if err != nil {
		r.logger.Error("Failed to update statement status", "transfer_id", transferID, "error", err)
		return fmt.Errorf("failed to update statement status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return statement.ErrStatementNotFound{TransferID: transferID}
	}

	return nil
}

// DeleteByTransferID removes the statement of a reversed movement. Deleting a
// missing statement is not an error.
func (r *StatementRepository) DeleteByTransferID(ctx context.Context, transferID string) error {
	query := `DELETE FROM account_statements WHERE tigerbeetle_transfer_id = $1`

	if _, err := r.querier.Exec(ctx, query, transferID); err != nil {
		r.logger.Error("Failed to delete statement", "transfer_id", transferID, "error", err)
		return fmt.Errorf("failed to delete statement: %w", err)
	}

	return nil
}

func (r *StatementRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*statement.Statement, error) {
	query := `
		SELECT id, amount, balance, type, status, creator_id, related_user_id, tigerbeetle_transfer_id, metadata, created_at
		FROM account_statements
		WHERE creator_id = $1 OR related_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list statements", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	defer rows.Close()

	var statements []*statement.Statement
	for rows.Next() {
		var (
			s       statement.Statement
			balance decimal.NullDecimal
		)
		if err := rows.Scan(
			&s.ID,
			&s.Amount,
			&balance,
			&s.Type,
			&s.Status,
			&s.CreatorID,
			&s.RelatedUserID,
			&s.TransferID,
			&s.Metadata,
			&s.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan statement", "error", err)
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		if balance.Valid {
			b := balance.Decimal
			s.Balance = &b
		}
		statements = append(statements, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over statements: %w", err)
	}

	return statements, nil
}

func (r *StatementRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM account_statements WHERE creator_id = $1 OR related_user_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		r.logger.Error("Failed to count statements", "user_id", userID.String(), "error", err)
		return 0, fmt.Errorf("failed to count statements: %w", err)
	}

	return count, nil
}
