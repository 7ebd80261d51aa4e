package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrow-settlement/internal/api_gateway"
	"github.com/escrow-settlement/internal/components"
	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/logger"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
	"github.com/escrow-settlement/internal/platform/payment"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/escrow-settlement/internal/platform/workerpool"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting API Gateway",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"dispatch_mode", cfg.Webhook.DispatchMode,
	)

	// Initialize stores with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}
	if err := components.EnsureMongoIndexes(appCtx, mongoDB); err != nil {
		log.Error("Failed to create MongoDB indexes", "error", err)
		os.Exit(1)
	}

	redisClient, err := persistence.NewRedisClient(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	stores := components.Stores{
		Postgres: postgresDB,
		Mongo:    mongoDB,
		Redis:    redisClient,
	}
	repos := components.CreateRepositories(log, stores)

	// Initialize ledger and payment provider
	ledgerClient, err := ledger.NewTigerBeetleClient(&cfg.Ledger)
	if err != nil {
		log.Error("Failed to initialize ledger client", "error", err)
		os.Exit(1)
	}
	gateway := ledger.NewGateway(log, ledgerClient, cfg.Ledger.BalanceTimeout)
	paystack := payment.NewPaystackClient(log, &cfg.Paystack)

	// Initialize worker pool for notifications
	pool, err := workerpool.New(cfg.WorkerPool, log)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producers
	notificationProducer, err := producers.NewEventProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.NotificationTopic, true)
	if err != nil {
		log.Error("Failed to initialize notification Kafka producer", "error", err)
		os.Exit(1)
	}

	// Webhook deliveries are only queued when the worker applies them
	var webhookQueue producers.MessagePublisher
	var webhookProducer *producers.EventProducer
	if cfg.Webhook.DispatchMode == config.DispatchQueued {
		webhookProducer, err = producers.NewEventProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.WebhookTopic, false)
		if err != nil {
			log.Error("Failed to initialize webhook Kafka producer", "error", err)
			os.Exit(1)
		}
		webhookQueue = webhookProducer
	}

	notifier := notification.NewKafkaNotifier(log, pool, notificationProducer)

	// Initialize services
	orchestrator := components.CreateOrchestrator(cfg, repos, stores, gateway, paystack, notifier, log)
	if err := orchestrator.EnsureOrganizationAccount(appCtx); err != nil {
		log.Error("Failed to ensure organization ledger account", "error", err)
		os.Exit(1)
	}
	reconciler := components.CreateReconciler(cfg, repos, stores, gateway, paystack, orchestrator, webhookQueue, log)

	go metrics.StartPoolStatsCollector(appCtx, postgresDB.Pool(), 15*time.Second)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Escrow:  orchestrator,
		Wallet:  orchestrator,
		Webhook: reconciler,
	})
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server before the stores it depends on
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	pool.Shutdown()

	if err = notificationProducer.Close(); err != nil {
		log.Error("Error closing notification Kafka producer", "error", err)
	}

	if webhookProducer != nil {
		if err = webhookProducer.Close(); err != nil {
			log.Error("Error closing webhook Kafka producer", "error", err)
		}
	}

	ledgerClient.Close()

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
