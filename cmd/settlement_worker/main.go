package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/escrow-settlement/internal/components"
	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/logger"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/platform/messaging/consumers"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
	"github.com/escrow-settlement/internal/platform/payment"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/escrow-settlement/internal/platform/workerpool"
	"github.com/escrow-settlement/internal/settlement_worker/consumer"
	"github.com/escrow-settlement/internal/settlement_worker/outbox_poller"
	"github.com/escrow-settlement/internal/settlement_worker/reaper"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("settlement_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Settlement Worker",
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

	// Initialize worker pool shared by notifications and the reaper
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

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	notifier := notification.NewKafkaNotifier(log, pool, notificationProducer)

	// Initialize settlement services
	orchestrator := components.CreateOrchestrator(cfg, repos, stores, gateway, paystack, notifier, log)
	if err := orchestrator.EnsureOrganizationAccount(appCtx); err != nil {
		log.Error("Failed to ensure organization ledger account", "error", err)
		os.Exit(1)
	}

	// The worker applies deliveries, it never re-enqueues them
	reconciler := components.CreateReconciler(cfg, repos, stores, gateway, paystack, orchestrator, nil, log)

	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka, cfg.Kafka.WebhookTopic, "webhook", dlqProducer)
	webhookEventHandler := consumer.NewWebhookEventHandler(log, reconciler, dlqProducer)

	poller := outbox_poller.NewPoller(
		&cfg.Outbox,
		repos.Outbox,
		map[outbox.Kind]outbox_poller.Resumer{
			outbox.KindEscrowRelease:    orchestrator,
			outbox.KindWalletWithdraw:   orchestrator,
			outbox.KindEscrowDeposit:    reconciler,
			outbox.KindWithdrawalSettle: reconciler,
		},
		dlqProducer,
		log,
	)

	expiryReaper := reaper.New(cfg.Reaper, reaper.Dependencies{
		Logger:       log,
		TxRunner:     postgresDB,
		Requests:     repos.Requests,
		Transactions: repos.Transactions,
		Users:        repos.Users,
		Activity:     repos.Activity,
		Notifier:     notifier,
		Pool:         pool,
	})

	// Metrics endpoint
	gin.SetMode(gin.ReleaseMode)
	metricsRouter := gin.New()
	metricsRouter.GET("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     metricsRouter,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.WebhookTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := kafkaConsumer.Subscribe(appCtx, webhookEventHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()

	// Start expiry reaper in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		expiryReaper.Start(appCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.StartPoolStatsCollector(appCtx, postgresDB.Pool(), 15*time.Second)
	}()

	go func() {
		log.Info("Starting metrics server", "port", cfg.Server.Port)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	if err = metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down metrics server", "error", err)
	}

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Drain queued notifications before closing the producer
	pool.Shutdown()

	if err = notificationProducer.Close(); err != nil {
		log.Error("Error closing notification Kafka producer", "error", err)
	}

	// Close DLQ Kafka producer
	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	ledgerClient.Close()

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Settlement Worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Settlement Worker shutdown completed with errors")
	} else {
		log.Info("Settlement Worker shutdown completed successfully")
	}
}
