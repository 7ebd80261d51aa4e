package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WithdrawalRepository implements withdrawal.Repository for PostgreSQL
type WithdrawalRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewWithdrawalRepository(logger *slog.Logger, db *persistence.PostgresDB) withdrawal.Repository {
	return &WithdrawalRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

const withdrawalColumns = `id, user_id, bank_account_id, amount, reference_code, tigerbeetle_transfer_id,
		transfer_code, status, ledger_state, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*withdrawal.Withdrawal, error) {
	var w withdrawal.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.BankAccountID,
		&w.Amount,
		&w.ReferenceCode,
		&w.TransferID,
		&w.TransferCode,
		&w.Status,
		&w.LedgerState,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *withdrawal.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (id, user_id, bank_account_id, amount, reference_code, tigerbeetle_transfer_id,
			transfer_code, status, ledger_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (reference_code) DO NOTHING
	`

	_, err := r.querier.Exec(ctx, query,
		w.ID,
		w.UserID,
		w.BankAccountID,
		w.Amount,
		w.ReferenceCode,
		w.TransferID,
		w.TransferCode,
		w.Status,
		w.LedgerState,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create withdrawal", "reference_code", w.ReferenceCode, "error", err)
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}

	return nil
}

func (r *WithdrawalRepository) GetByReference(ctx context.Context, referenceCode string) (*withdrawal.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE reference_code = $1`

	w, err := scanWithdrawal(r.querier.QueryRow(ctx, query, referenceCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, withdrawal.ErrWithdrawalNotFound{ReferenceCode: referenceCode}
		}
		r.logger.Error("Failed to get withdrawal", "reference_code", referenceCode, "error", err)
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}

	return w, nil
}

// UpdateSettlement records the provider outcome. Only a withdrawal still
// pending on the ledger is updated.
func (r *WithdrawalRepository) UpdateSettlement(ctx context.Context, id uuid.UUID, status withdrawal.Status, state withdrawal.LedgerState) error {
	query := `
		UPDATE withdrawals
		SET status = $1, ledger_state = $2, updated_at = $3
		WHERE id = $4 AND ledger_state = $5
	`

	result, err := r.querier.Exec(ctx, query, status, state, time.Now(), id, withdrawal.LedgerPending)
	if err != nil {
		r.logger.Error("Failed to update withdrawal", "withdrawal_id", id.String(), "error", err)
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}

	if result.RowsAffected() == 0 {
		return withdrawal.ErrAlreadySettled
	}

	return nil
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*withdrawal.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.querier.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list withdrawals", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []*withdrawal.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over withdrawals: %w", err)
	}

	return withdrawals, nil
}
