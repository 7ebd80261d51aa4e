package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowWalletRepository implements escrow.WalletRepository for PostgreSQL
type EscrowWalletRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewEscrowWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) escrow.WalletRepository {
	return &EscrowWalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *EscrowWalletRepository) WithTx(tx pgx.Tx) escrow.WalletRepository {
	return &EscrowWalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *EscrowWalletRepository) Create(ctx context.Context, w *escrow.Wallet) error {
	query := `
		INSERT INTO escrow_wallets (id, escrow_id, ledger_account_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.querier.Exec(ctx, query, w.ID, w.EscrowID, w.LedgerAccountID, w.CreatedAt); err != nil {
		r.logger.Error("Failed to create escrow wallet", "escrow_id", w.EscrowID.String(), "error", err)
		return fmt.Errorf("failed to create escrow wallet: %w", err)
	}

	return nil
}

func (r *EscrowWalletRepository) GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*escrow.Wallet, error) {
	query := `
		SELECT id, escrow_id, ledger_account_id, created_at
		FROM escrow_wallets
		WHERE escrow_id = $1
	`

	var w escrow.Wallet
	err := r.querier.QueryRow(ctx, query, escrowID).Scan(&w.ID, &w.EscrowID, &w.LedgerAccountID, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound{Entity: "escrow wallet", Key: escrowID.String()}
		}
		r.logger.Error("Failed to get escrow wallet", "escrow_id", escrowID.String(), "error", err)
		return nil, fmt.Errorf("failed to get escrow wallet: %w", err)
	}

	return &w, nil
}
