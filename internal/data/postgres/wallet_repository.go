package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository implements wallet.Repository for PostgreSQL
type WalletRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.Repository {
	return &WalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *WalletRepository) WithTx(tx pgx.Tx) wallet.Repository {
	return &WalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts the wallet unless the user already owns one, in which case
// the stored wallet is returned.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.UserWallet) (*wallet.UserWallet, error) {
	query := `
		INSERT INTO user_wallets (id, user_id, ledger_account_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id, user_id, ledger_account_id, created_at
	`

	var stored wallet.UserWallet
	err := r.querier.QueryRow(ctx, query, w.ID, w.UserID, w.LedgerAccountID, w.CreatedAt).Scan(
		&stored.ID,
		&stored.UserID,
		&stored.LedgerAccountID,
		&stored.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetByUserID(ctx, w.UserID)
		}
		r.logger.Error("Failed to create user wallet", "user_id", w.UserID.String(), "error", err)
		return nil, fmt.Errorf("failed to create user wallet: %w", err)
	}

	return &stored, nil
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*wallet.UserWallet, error) {
	query := `
		SELECT id, user_id, ledger_account_id, created_at
		FROM user_wallets
		WHERE user_id = $1
	`

	var w wallet.UserWallet
	err := r.querier.QueryRow(ctx, query, userID).Scan(&w.ID, &w.UserID, &w.LedgerAccountID, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{Entity: "user wallet", Key: userID.String()}
		}
		r.logger.Error("Failed to get user wallet", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to get user wallet: %w", err)
	}

	return &w, nil
}

// BankAccountRepository implements wallet.BankAccountRepository for PostgreSQL
type BankAccountRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewBankAccountRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.BankAccountRepository {
	return &BankAccountRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *BankAccountRepository) Create(ctx context.Context, b *wallet.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (id, user_id, account_number, account_name, bank_code, recipient_code,
			ledger_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		b.ID,
		b.UserID,
		b.AccountNumber,
		b.AccountName,
		b.BankCode,
		b.RecipientCode,
		b.LedgerAccountID,
		b.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create bank account", "user_id", b.UserID.String(), "error", err)
		return fmt.Errorf("failed to create bank account: %w", err)
	}

	return nil
}

func (r *BankAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.BankAccount, error) {
	query := `
		SELECT id, user_id, account_number, account_name, bank_code, recipient_code, ledger_account_id, created_at
		FROM bank_accounts
		WHERE id = $1 AND deleted_at IS NULL
	`

	var b wallet.BankAccount
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.UserID,
		&b.AccountNumber,
		&b.AccountName,
		&b.BankCode,
		&b.RecipientCode,
		&b.LedgerAccountID,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{Entity: "bank account", Key: id.String()}
		}
		r.logger.Error("Failed to get bank account", "bank_account_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get bank account: %w", err)
	}

	return &b, nil
}

func (r *BankAccountRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*wallet.BankAccount, error) {
	query := `
		SELECT id, user_id, account_number, account_name, bank_code, recipient_code, ledger_account_id, created_at
		FROM bank_accounts
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.querier.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list bank accounts", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*wallet.BankAccount
	for rows.Next() {
		var b wallet.BankAccount
		if err := rows.Scan(
			&b.ID,
			&b.UserID,
			&b.AccountNumber,
			&b.AccountName,
			&b.BankCode,
			&b.RecipientCode,
			&b.LedgerAccountID,
			&b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bank account: %w", err)
		}
		accounts = append(accounts, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bank accounts: %w", err)
	}

	return accounts, nil
}

func (r *BankAccountRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	query := `
		UPDATE bank_accounts
		SET deleted_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`

	tag, err := r.querier.Exec(ctx, query, id, userID, at)
	if err != nil {
		r.logger.Error("Failed to delete bank account", "bank_account_id", id.String(), "error", err)
		return fmt.Errorf("failed to delete bank account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrWalletNotFound{Entity: "bank account", Key: id.String()}
	}

	return nil
}
