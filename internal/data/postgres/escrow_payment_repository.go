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

// EscrowPaymentRepository implements escrow.PaymentRepository for PostgreSQL
type EscrowPaymentRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewEscrowPaymentRepository(logger *slog.Logger, db *persistence.PostgresDB) escrow.PaymentRepository {
	return &EscrowPaymentRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *EscrowPaymentRepository) WithTx(tx pgx.Tx) escrow.PaymentRepository {
	return &EscrowPaymentRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *EscrowPaymentRepository) Create(ctx context.Context, p *escrow.Payment) error {
	query := `
		INSERT INTO escrow_payments (id, escrow_id, amount, fee, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.querier.Exec(ctx, query, p.ID, p.EscrowID, p.Amount, p.Fee, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create escrow payment", "escrow_id", p.EscrowID.String(), "error", err)
		return fmt.Errorf("failed to create escrow payment: %w", err)
	}

	return nil
}

func (r *EscrowPaymentRepository) GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*escrow.Payment, error) {
	query := `
		SELECT id, escrow_id, user_id, amount, fee, status, method, created_at, updated_at
		FROM escrow_payments
		WHERE escrow_id = $1
	`

	var p escrow.Payment
	err := r.querier.QueryRow(ctx, query, escrowID).Scan(
		&p.ID,
		&p.EscrowID,
		&p.UserID,
		&p.Amount,
		&p.Fee,
		&p.Status,
		&p.Method,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound{Entity: "escrow payment", Key: escrowID.String()}
		}
		r.logger.Error("Failed to get escrow payment", "escrow_id", escrowID.String(), "error", err)
		return nil, fmt.Errorf("failed to get escrow payment: %w", err)
	}

	return &p, nil
}

func (r *EscrowPaymentRepository) UpdateSettlement(ctx context.Context, escrowID uuid.UUID, status escrow.PaymentStatus, userID uuid.UUID, method string) error {
	query := `
		UPDATE escrow_payments
		SET status = $1, user_id = $2, method = $3, updated_at = $4
		WHERE escrow_id = $5
	`

	result, err := r.querier.Exec(ctx, query, status, userID, method, time.Now(), escrowID)
	if err != nil {
		r.logger.Error("Failed to update escrow payment", "escrow_id", escrowID.String(), "error", err)
		return fmt.Errorf("failed to update escrow payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return escrow.ErrNotFound{Entity: "escrow payment", Key: escrowID.String()}
	}

	return nil
}
