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

// EscrowRequestRepository implements escrow.RequestRepository for PostgreSQL
type EscrowRequestRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewEscrowRequestRepository(logger *slog.Logger, db *persistence.PostgresDB) escrow.RequestRepository {
	return &EscrowRequestRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *EscrowRequestRepository) WithTx(tx pgx.Tx) escrow.RequestRepository {
	return &EscrowRequestRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const requestColumns = `id, escrow_id, sender_id, amount, customer_role, customer_username, customer_email,
		customer_phone, status, access_code, authorization_url, expires_at, processed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*escrow.Request, error) {
	var req escrow.Request
	err := row.Scan(
		&req.ID,
		&req.EscrowID,
		&req.SenderID,
		&req.Amount,
		&req.CustomerRole,
		&req.CustomerUsername,
		&req.CustomerEmail,
		&req.CustomerPhone,
		&req.Status,
		&req.AccessCode,
		&req.AuthorizationURL,
		&req.ExpiresAt,
		&req.ProcessedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *EscrowRequestRepository) Create(ctx context.Context, req *escrow.Request) error {
	query := `
		INSERT INTO escrow_requests (id, escrow_id, sender_id, amount, customer_role, customer_username,
			customer_email, customer_phone, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.querier.Exec(ctx, query,
		req.ID,
		req.EscrowID,
		req.SenderID,
		req.Amount,
		req.CustomerRole,
		req.CustomerUsername,
		req.CustomerEmail,
		req.CustomerPhone,
		req.Status,
		req.ExpiresAt,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create escrow request", "escrow_id", req.EscrowID.String(), "error", err)
		return fmt.Errorf("failed to create escrow request: %w", err)
	}

	return nil
}

func (r *EscrowRequestRepository) GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*escrow.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM escrow_requests WHERE escrow_id = $1`

	req, err := scanRequest(r.querier.QueryRow(ctx, query, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound{Entity: "escrow request", Key: escrowID.String()}
		}
		r.logger.Error("Failed to get escrow request", "escrow_id", escrowID.String(), "error", err)
		return nil, fmt.Errorf("failed to get escrow request: %w", err)
	}

	return req, nil
}

func (r *EscrowRequestRepository) SetSession(ctx context.Context, escrowID uuid.UUID, accessCode, authorizationURL string) error {
	query := `
		UPDATE escrow_requests
		SET access_code = $1, authorization_url = $2, updated_at = $3
		WHERE escrow_id = $4
	`

	result, err := r.querier.Exec(ctx, query, accessCode, authorizationURL, time.Now(), escrowID)
	if err != nil {
		r.logger.Error("Failed to store payment session", "escrow_id", escrowID.String(), "error", err)
		return fmt.Errorf("failed to store payment session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return escrow.ErrNotFound{Entity: "escrow request", Key: escrowID.String()}
	}

	return nil
}

func (r *EscrowRequestRepository) MarkAccepted(ctx context.Context, escrowID uuid.UUID, at time.Time) error {
	query := `
		UPDATE escrow_requests
		SET status = $1, processed_at = COALESCE(processed_at, $2), updated_at = $2
		WHERE escrow_id = $3
	`

	result, err := r.querier.Exec(ctx, query, escrow.InvitationAccepted, at, escrowID)
	if err != nil {
		r.logger.Error("Failed to accept escrow request", "escrow_id", escrowID.String(), "error", err)
		return fmt.Errorf("failed to accept escrow request: %w", err)
	}

	if result.RowsAffected() == 0 {
		return escrow.ErrNotFound{Entity: "escrow request", Key: escrowID.String()}
	}

	return nil
}

func (r *EscrowRequestRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE escrow_requests
		SET processed_at = $1, updated_at = $1
		WHERE id = $2 AND processed_at IS NULL
	`

	if _, err := r.querier.Exec(ctx, query, at, id); err != nil {
		r.logger.Error("Failed to mark escrow request processed", "request_id", id.String(), "error", err)
		return fmt.Errorf("failed to mark escrow request processed: %w", err)
	}

	return nil
}

func (r *EscrowRequestRepository) ListExpiredUnprocessed(ctx context.Context, now time.Time, statuses []escrow.Status, limit int) ([]*escrow.Request, error) {
	query := `
		SELECT r.id, r.escrow_id, r.sender_id, r.amount, r.customer_role, r.customer_username, r.customer_email,
			r.customer_phone, r.status, r.access_code, r.authorization_url, r.expires_at, r.processed_at,
			r.created_at, r.updated_at
		FROM escrow_requests r
		JOIN escrow_transactions t ON t.id = r.escrow_id
		WHERE r.expires_at <= $1 AND r.processed_at IS NULL AND t.status = ANY($2)
		ORDER BY r.expires_at ASC
		LIMIT $3
	`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.querier.Query(ctx, query, now, names, limit)
	if err != nil {
		r.logger.Error("Failed to list expired escrow requests", "error", err)
		return nil, fmt.Errorf("failed to list expired escrow requests: %w", err)
	}
	defer rows.Close()

	var requests []*escrow.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			r.logger.Error("Failed to scan escrow request", "error", err)
			return nil, fmt.Errorf("failed to scan escrow request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over escrow requests", "error", err)
		return nil, fmt.Errorf("error iterating over escrow requests: %w", err)
	}

	return requests, nil
}
