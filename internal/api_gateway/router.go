package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/escrow-settlement/internal/api_gateway/handler"
	"github.com/escrow-settlement/internal/api_gateway/middleware"
	"github.com/escrow-settlement/internal/metrics"
)

// handlers groups the route handlers of the gateway
type handlers struct {
	escrow  *handler.EscrowHandler
	wallet  *handler.WalletHandler
	webhook *handler.WebhookHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, jwtSecret string, h handlers) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	r.Use(metrics.Middleware())

	requireAuth := middleware.RequireAuth(jwtSecret, logger)
	optionalAuth := middleware.OptionalAuth(jwtSecret, logger)

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Escrow lifecycle
		escrows := v1.Group("/escrows")
		{
			escrows.POST("", requireAuth, h.escrow.Create)
			escrows.GET("", requireAuth, h.escrow.List)
			escrows.GET("/:id", requireAuth, h.escrow.GetByID)
			escrows.GET("/:id/activity", requireAuth, h.escrow.Activity)
			escrows.PATCH("/:id/status", requireAuth, h.escrow.UpdateStatus)
			escrows.GET("/:id/release", requireAuth, h.escrow.ReleaseInfo)
			escrows.POST("/:id/release", requireAuth, h.escrow.Release)

			// The counterparty may not have an account yet
			escrows.GET("/:id/request", optionalAuth, h.escrow.RequestDetails)
			escrows.POST("/:id/deposit", optionalAuth, h.escrow.InitializeDeposit)
		}

		// Wallet and payouts
		wallet := v1.Group("/wallet", requireAuth)
		{
			wallet.GET("", h.wallet.Get)
			wallet.GET("/statements", h.wallet.Statements)
			wallet.POST("/withdrawals", h.wallet.Withdraw)
		}

		bankAccounts := v1.Group("/bank-accounts", requireAuth)
		{
			bankAccounts.POST("", h.wallet.AddBankAccount)
			bankAccounts.GET("", h.wallet.ListBankAccounts)
			bankAccounts.GET("/resolve", h.wallet.ResolveBankAccount)
			bankAccounts.DELETE("/:id", h.wallet.DeleteBankAccount)
		}

		v1.GET("/banks", h.wallet.ListBanks)

		// Provider callbacks authenticate with their signature header
		v1.POST("/webhooks/paystack", h.webhook.Paystack)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET("/metrics", metrics.Handler())
}
