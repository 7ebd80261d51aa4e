package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/escrow-settlement/internal/api_gateway/service"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/reconciliation"
)

const (
	// SignatureHeader carries the provider HMAC of the raw request body
	SignatureHeader = "x-paystack-signature"

	maxWebhookBodyBytes = 1 << 20
)

// WebhookHandler receives payment provider deliveries
type WebhookHandler struct {
	webhookService service.WebhookService
	logger         *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(logger *slog.Logger, webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// Paystack accepts one delivery. The body is read raw since the signature
// covers the exact bytes sent. Any non-2xx response makes the provider retry,
// so rejected events are acknowledged with 200.
func (h *WebhookHandler) Paystack(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", "error", err)
		RespondBadRequest(c, "Unreadable request body")
		return
	}
	if len(payload) > maxWebhookBodyBytes {
		RespondWithError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Webhook payload too large")
		return
	}

	err = h.webhookService.HandleWebhook(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	switch {
	case err == nil:
		RespondOK(c, gin.H{"received": true})
	case errors.Is(err, reconciliation.ErrDeliveryInProgress):
		RespondConflict(c, "Delivery is being processed")
	case shared.KindOf(err) == shared.KindPermission:
		RespondUnauthorized(c, "Invalid signature")
	case shared.KindOf(err) == shared.KindExpected:
		h.logger.Info("Webhook delivery acknowledged without effect", "error", err)
		RespondOK(c, gin.H{"received": true})
	default:
		h.logger.Error("Webhook delivery failed", "error", err)
		RespondInternalError(c)
	}
}
