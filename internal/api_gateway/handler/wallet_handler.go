package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/api_gateway/service"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/settlement"
)

// WalletHandler handles HTTP requests for wallet, payout and bank operations
type WalletHandler struct {
	walletService service.WalletService
	logger        *slog.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(logger *slog.Logger, walletService service.WalletService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		logger:        logger,
	}
}

// Get returns the caller's wallet and balance
func (h *WalletHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	view, err := h.walletService.GetWallet(c.Request.Context(), *actor)
	if err != nil {
		RespondError(c, h.logger, "get_wallet", err)
		return
	}

	RespondOK(c, view)
}

// Statements returns a page of the caller's statement lines
func (h *WalletHandler) Statements(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var params PaginationParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	items, total, err := h.walletService.ListStatements(c.Request.Context(), *actor, params.PerPage, params.Offset())
	if err != nil {
		RespondError(c, h.logger, "list_statements", err)
		return
	}

	RespondWithPaginatedData(c, http.StatusOK, items, params.Page, params.PerPage, int(total))
}

// Withdraw pays out from the caller's wallet to one of their bank accounts.
// The payout outcome arrives later through the provider webhook, so the
// withdrawal is returned as accepted.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	bankAccountID, err := uuid.Parse(req.BankAccountID)
	if err != nil {
		RespondBadRequest(c, "Invalid bank account ID")
		return
	}

	w, err := h.walletService.WithdrawFromWallet(c.Request.Context(), settlement.WithdrawInput{
		BankAccountID: bankAccountID,
		Amount:        req.Amount,
	}, *actor)
	if err != nil {
		RespondError(c, h.logger, "withdraw", err)
		return
	}

	RespondAccepted(c, mapWithdrawalToResponse(w))
}

// AddBankAccount registers a payout destination for the caller
func (h *WalletHandler) AddBankAccount(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req AddBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	account, err := h.walletService.AddBankAccount(c.Request.Context(), settlement.BankAccountInput{
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
	}, *actor)
	if err != nil {
		RespondError(c, h.logger, "add_bank_account", err)
		return
	}

	RespondCreated(c, account)
}

// ListBankAccounts returns the caller's payout destinations
func (h *WalletHandler) ListBankAccounts(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	accounts, err := h.walletService.ListBankAccounts(c.Request.Context(), *actor)
	if err != nil {
		RespondError(c, h.logger, "list_bank_accounts", err)
		return
	}

	RespondOK(c, accounts)
}

// ResolveBankAccount returns the account holder behind an account number
func (h *WalletHandler) ResolveBankAccount(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}

	var params ResolveAccountParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	resolved, err := h.walletService.ResolveBankAccount(c.Request.Context(), settlement.BankAccountInput{
		AccountNumber: params.AccountNumber,
		BankCode:      params.BankCode,
	})
	if err != nil {
		RespondError(c, h.logger, "resolve_bank_account", err)
		return
	}

	RespondOK(c, resolved)
}

// DeleteBankAccount removes one of the caller's payout destinations
func (h *WalletHandler) DeleteBankAccount(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid bank account ID")
		return
	}

	if err := h.walletService.DeleteBankAccount(c.Request.Context(), id, *actor); err != nil {
		RespondError(c, h.logger, "delete_bank_account", err)
		return
	}

	RespondNoContent(c)
}

// ListBanks returns the banks payouts can be sent to
func (h *WalletHandler) ListBanks(c *gin.Context) {
	var params BankListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	banks, err := h.walletService.ListBanks(c.Request.Context(), params.Currency)
	if err != nil {
		RespondError(c, h.logger, "list_banks", err)
		return
	}

	RespondOK(c, banks)
}

// mapWithdrawalToResponse maps a withdrawal to a withdrawal response DTO
func mapWithdrawalToResponse(w *withdrawal.Withdrawal) WithdrawalResponse {
	return WithdrawalResponse{
		ID:            w.ID.String(),
		BankAccountID: w.BankAccountID.String(),
		Amount:        w.Amount,
		ReferenceCode: w.ReferenceCode,
		Status:        string(w.Status),
		LedgerState:   string(w.LedgerState),
		CreatedAt:     w.CreatedAt.Format(time.RFC3339),
	}
}
