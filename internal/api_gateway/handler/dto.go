package handler

import (
	"github.com/shopspring/decimal"
)

// CreateEscrowRequest represents a request to open a new escrow
type CreateEscrowRequest struct {
	Title            string          `json:"title" binding:"required"`
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	Role             string          `json:"role" binding:"required,oneof=buyer seller"`
	CustomerUsername string          `json:"customer_username" binding:"required"`
	CustomerEmail    string          `json:"customer_email" binding:"required,email"`
	CustomerPhone    string          `json:"customer_phone"`
}

// EscrowResponse represents an escrow in API responses
type EscrowResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// EscrowListParams filters the escrow listing
type EscrowListParams struct {
	PaginationParams
	Status string `form:"status"`
}

// DepositRequest identifies a guest payer. Signed-in payers send an empty body.
type DepositRequest struct {
	CustomerUsername string `json:"customer_username"`
	CustomerEmail    string `json:"customer_email" binding:"omitempty,email"`
	CustomerPhone    string `json:"customer_phone"`
}

// DepositResponse is the payment session the payer is redirected to
type DepositResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// UpdateStatusRequest requests an escrow status change
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ReleaseFundsRequest carries the release code the buyer received
type ReleaseFundsRequest struct {
	Code string `json:"code" binding:"required"`
}

// WithdrawRequest requests a payout from the wallet
type WithdrawRequest struct {
	BankAccountID string          `json:"bank_account_id" binding:"required,uuid"`
	Amount        decimal.Decimal `json:"amount"`
}

// WithdrawalResponse represents a withdrawal in API responses
type WithdrawalResponse struct {
	ID            string          `json:"id"`
	BankAccountID string          `json:"bank_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceCode string          `json:"reference_code"`
	Status        string          `json:"status"`
	LedgerState   string          `json:"ledger_state"`
	CreatedAt     string          `json:"created_at"`
}

// AddBankAccountRequest registers a payout destination
type AddBankAccountRequest struct {
	AccountNumber string `json:"account_number" binding:"required,numeric"`
	BankCode      string `json:"bank_code" binding:"required"`
}

// ResolveAccountParams identifies the bank account to look up
type ResolveAccountParams struct {
	AccountNumber string `form:"account_number" binding:"required,numeric,len=10"`
	BankCode      string `form:"bank_code" binding:"required"`
}

// BankListParams selects the currency of the bank list
type BankListParams struct {
	Currency string `form:"currency" binding:"omitempty,len=3"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}

// Offset returns the number of items before the requested page
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}
