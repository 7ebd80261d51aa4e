package escrow

import (
	"time"

	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvitationStatus is the state of the counterparty invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// PaymentStatus mirrors the provider's view of the deposit
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentStatusFromProvider maps a provider charge status onto the persisted set.
func PaymentStatusFromProvider(status string) PaymentStatus {
	switch status {
	case "success":
		return PaymentSuccess
	case "abandoned", "reversed":
		return PaymentCancelled
	case "failed":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// ParticipantStatus marks whether a participant still takes part in the escrow
type ParticipantStatus string

const (
	ParticipantActive   ParticipantStatus = "active"
	ParticipantInactive ParticipantStatus = "inactive"
)

// Transaction is the escrow agreement between a buyer and a seller
type Transaction struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Status          Status    `json:"status"`
	CreatedBy       uuid.UUID `json:"created_by"`
	ReleaseCodeHash string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewTransaction(title, description string, createdBy uuid.UUID) *Transaction {
	now := time.Now()
	return &Transaction{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Status:      StatusCreated,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Request is the invitation sent to the counterparty
type Request struct {
	ID               uuid.UUID        `json:"id"`
	EscrowID         uuid.UUID        `json:"escrow_id"`
	SenderID         uuid.UUID        `json:"sender_id"`
	Amount           decimal.Decimal  `json:"amount"`
	CustomerRole     shared.Role      `json:"customer_role"`
	CustomerUsername string           `json:"customer_username"`
	CustomerEmail    string           `json:"customer_email"`
	CustomerPhone    string           `json:"customer_phone"`
	Status           InvitationStatus `json:"status"`
	AccessCode       string           `json:"access_code,omitempty"`
	AuthorizationURL string           `json:"authorization_url,omitempty"`
	ExpiresAt        time.Time        `json:"expires_at"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsExpired reports whether the invitation window has closed at now.
func (r *Request) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HasSession reports whether a payment session was already created.
func (r *Request) HasSession() bool {
	return r.AccessCode != ""
}

// Participant binds a user to a role in an escrow
type Participant struct {
	ID        uuid.UUID         `json:"id"`
	EscrowID  uuid.UUID         `json:"escrow_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Role      shared.Role       `json:"role"`
	Status    ParticipantStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewParticipant(escrowID, userID uuid.UUID, role shared.Role) *Participant {
	return &Participant{
		ID:        uuid.New(),
		EscrowID:  escrowID,
		UserID:    userID,
		Role:      role,
		Status:    ParticipantActive,
		CreatedAt: time.Now(),
	}
}

// Participants is the set of users bound to one escrow
type Participants []*Participant

// ByRole returns the active participant holding role, or nil.
func (ps Participants) ByRole(role shared.Role) *Participant {
	for _, p := range ps {
		if p.Role == role && p.Status == ParticipantActive {
			return p
		}
	}
	return nil
}

// Payment tracks the deposit of one escrow transaction
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	EscrowID  uuid.UUID       `json:"escrow_id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Status    PaymentStatus   `json:"status"`
	Method    string          `json:"method,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Wallet is the ledger-backed holding account of one escrow
type Wallet struct {
	ID              uuid.UUID `json:"id"`
	EscrowID        uuid.UUID `json:"escrow_id"`
	LedgerAccountID string    `json:"ledger_account_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListFilter narrows a user's escrow listing
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
