package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/api_gateway/middleware"
	"github.com/escrow-settlement/internal/api_gateway/service"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/settlement"
)

// EscrowHandler handles HTTP requests for escrow operations
type EscrowHandler struct {
	escrowService service.EscrowService
	logger        *slog.Logger
}

// NewEscrowHandler creates a new escrow handler
func NewEscrowHandler(logger *slog.Logger, escrowService service.EscrowService) *EscrowHandler {
	return &EscrowHandler{
		escrowService: escrowService,
		logger:        logger,
	}
}

// Create opens an escrow on behalf of the caller and invites the counterparty
func (h *EscrowHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tx, err := h.escrowService.CreateEscrowTransaction(c.Request.Context(), settlement.CreateEscrowInput{
		Title:            req.Title,
		Description:      req.Description,
		Amount:           req.Amount,
		CreatorRole:      shared.Role(req.Role),
		CustomerUsername: req.CustomerUsername,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
	}, *actor)
	if err != nil {
		RespondError(c, h.logger, "create_escrow", err)
		return
	}

	RespondCreated(c, mapEscrowToResponse(tx))
}

// List returns a page of the escrows the caller created
func (h *EscrowHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var params EscrowListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	items, total, err := h.escrowService.ListUserEscrowTransactions(c.Request.Context(), actor.ID, escrow.ListFilter{
		Status: escrow.Status(params.Status),
		Limit:  params.PerPage,
		Offset: params.Offset(),
	})
	if err != nil {
		RespondError(c, h.logger, "list_escrows", err)
		return
	}

	response := make([]EscrowResponse, 0, len(items))
	for _, tx := range items {
		response = append(response, mapEscrowToResponse(tx))
	}
	RespondWithPaginatedData(c, http.StatusOK, response, params.Page, params.PerPage, int(total))
}

// GetByID returns an escrow with its deposit, balance and parties
func (h *EscrowHandler) GetByID(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}

	details, err := h.escrowService.GetEscrowTransactionDetails(c.Request.Context(), escrowID, *actor)
	if err != nil {
		RespondError(c, h.logger, "get_escrow", err)
		return
	}

	RespondOK(c, details)
}

// Activity returns a page of the escrow audit trail. Only parties of the
// escrow may read it.
func (h *EscrowHandler) Activity(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}

	var params PaginationParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	if _, err := h.escrowService.GetEscrowTransactionDetails(c.Request.Context(), escrowID, *actor); err != nil {
		RespondError(c, h.logger, "list_escrow_activity", err)
		return
	}

	entries, total, err := h.escrowService.ListEscrowActivity(c.Request.Context(), escrowID, params.PerPage, params.Offset())
	if err != nil {
		RespondError(c, h.logger, "list_escrow_activity", err)
		return
	}

	RespondWithPaginatedData(c, http.StatusOK, entries, params.Page, params.PerPage, int(total))
}

// RequestDetails shows the invitation to the counterparty, signed in or not
func (h *EscrowHandler) RequestDetails(c *gin.Context) {
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}
	viewer, _ := middleware.GetActor(c)

	details, err := h.escrowService.GetEscrowRequestDetails(c.Request.Context(), escrowID, viewer)
	if err != nil {
		RespondError(c, h.logger, "get_escrow_request", err)
		return
	}

	RespondOK(c, details)
}

// InitializeDeposit returns the payment session for the escrow deposit
func (h *EscrowHandler) InitializeDeposit(c *gin.Context) {
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}
	viewer, _ := middleware.GetActor(c)

	var req DepositRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	session, err := h.escrowService.InitializeEscrowDeposit(c.Request.Context(), settlement.DepositInput{
		EscrowID:         escrowID,
		CustomerUsername: req.CustomerUsername,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
	}, viewer)
	if err != nil {
		RespondError(c, h.logger, "initialize_deposit", err)
		return
	}

	RespondOK(c, DepositResponse{
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
		Reference:        session.Reference,
	})
}

// UpdateStatus moves the escrow along its lifecycle
func (h *EscrowHandler) UpdateStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	change, err := h.escrowService.UpdateEscrowTransactionStatus(c.Request.Context(), escrowID, escrow.Status(req.Status), *actor)
	if err != nil {
		RespondError(c, h.logger, "update_escrow_status", err)
		return
	}

	RespondOK(c, change)
}

// ReleaseInfo shows the buyer what a release would pay out
func (h *EscrowHandler) ReleaseInfo(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}

	info, err := h.escrowService.ReleaseFundsInfo(c.Request.Context(), escrowID, *actor)
	if err != nil {
		RespondError(c, h.logger, "release_info", err)
		return
	}

	RespondOK(c, info)
}

// Release pays the seller against the release code
func (h *EscrowHandler) Release(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	escrowID, ok := escrowIDParam(c)
	if !ok {
		return
	}

	var req ReleaseFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	if err := h.escrowService.ReleaseFunds(c.Request.Context(), escrowID, req.Code, *actor); err != nil {
		RespondError(c, h.logger, "release_funds", err)
		return
	}

	RespondOK(c, gin.H{"escrow_id": escrowID.String(), "status": string(escrow.StatusCompleted)})
}

func requireActor(c *gin.Context) (*user.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		RespondUnauthorized(c, "")
		return nil, false
	}
	return actor, true
}

func escrowIDParam(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid escrow ID")
		return uuid.Nil, false
	}
	return id, true
}

// mapEscrowToResponse maps an escrow transaction to an escrow response DTO
func mapEscrowToResponse(tx *escrow.Transaction) EscrowResponse {
	return EscrowResponse{
		ID:          tx.ID.String(),
		Title:       tx.Title,
		Description: tx.Description,
		Status:      string(tx.Status),
		CreatedBy:   tx.CreatedBy.String(),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   tx.UpdatedAt.Format(time.RFC3339),
	}
}
