package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User is a platform account able to take part in escrows
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUser(username, email, phone string) *User {
	return &User{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		Phone:     phone,
		CreatedAt: time.Now(),
	}
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID       uuid.UUID
	Username string
	Email    string
}

// Repository persists users
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrUserNotFound indicates a missing user
type ErrUserNotFound struct {
	Key string
}

func (e ErrUserNotFound) Error() string {
	return "user not found: " + e.Key
}

// Is matches any ErrUserNotFound when the target carries no key.
func (e ErrUserNotFound) Is(target error) bool {
	t, ok := target.(ErrUserNotFound)
	if !ok {
		return false
	}
	return t.Key == "" || t.Key == e.Key
}

// ErrDuplicateUsername indicates a username uniqueness violation
type ErrDuplicateUsername struct {
	Username string
}

func (e ErrDuplicateUsername) Error() string {
	return "username already taken: " + e.Username
}
