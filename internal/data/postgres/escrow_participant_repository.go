package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowParticipantRepository implements escrow.ParticipantRepository for PostgreSQL
type EscrowParticipantRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewEscrowParticipantRepository(logger *slog.Logger, db *persistence.PostgresDB) escrow.ParticipantRepository {
	return &EscrowParticipantRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *EscrowParticipantRepository) WithTx(tx pgx.Tx) escrow.ParticipantRepository {
	return &EscrowParticipantRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Add inserts the participant; a second participant for the same role is ignored.
func (r *EscrowParticipantRepository) Add(ctx context.Context, p *escrow.Participant) error {
	query := `
		INSERT INTO escrow_participants (id, escrow_id, user_id, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (escrow_id, role) DO NOTHING
	`

	_, err := r.querier.Exec(ctx, query, p.ID, p.EscrowID, p.UserID, p.Role, p.Status, p.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to add escrow participant",
			"escrow_id", p.EscrowID.String(),
			"user_id", p.UserID.String(),
			"role", string(p.Role),
			"error", err,
		)
		return fmt.Errorf("failed to add escrow participant: %w", err)
	}

	return nil
}

func (r *EscrowParticipantRepository) ListByEscrowID(ctx context.Context, escrowID uuid.UUID) (escrow.Participants, error) {
	query := `
		SELECT id, escrow_id, user_id, role, status, created_at
		FROM escrow_participants
		WHERE escrow_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.querier.Query(ctx, query, escrowID)
	if err != nil {
		r.logger.Error("Failed to list escrow participants", "escrow_id", escrowID.String(), "error", err)
		return nil, fmt.Errorf("failed to list escrow participants: %w", err)
	}
	defer rows.Close()

	var participants escrow.Participants
	for rows.Next() {
		var p escrow.Participant
		if err := rows.Scan(&p.ID, &p.EscrowID, &p.UserID, &p.Role, &p.Status, &p.CreatedAt); err != nil {
			r.logger.Error("Failed to scan escrow participant", "error", err)
			return nil, fmt.Errorf("failed to scan escrow participant: %w", err)
		}
		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over escrow participants: %w", err)
	}

	return participants, nil
}
