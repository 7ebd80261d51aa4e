package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository implements user.Repository for PostgreSQL
type UserRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewUserRepository(logger *slog.Logger, db *persistence.PostgresDB) user.Repository {
	return &UserRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *UserRepository) WithTx(tx pgx.Tx) user.Repository {
	return &UserRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (id, username, email, phone, first_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query, u.ID, u.Username, u.Email, u.Phone, u.FirstName, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.ErrDuplicateUsername{Username: u.Username}
		}
		r.logger.Error("Failed to create user", "username", u.Username, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	query := `
		SELECT id, username, email, phone, first_name, created_at
		FROM users
		WHERE id = $1
	`
	return r.getOne(ctx, query, id, id.String())
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	query := `
		SELECT id, username, email, phone, first_name, created_at
		FROM users
		WHERE username = $1
	`
	return r.getOne(ctx, query, username, username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}, key string) (*user.User, error) {
	var u user.User
	err := r.querier.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.FirstName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrUserNotFound{Key: key}
		}
		r.logger.Error("Failed to get user", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
