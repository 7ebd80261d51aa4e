// Package components assembles the settlement services from their stores.
// Both binaries build the same orchestrator and reconciler through it.
package components

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/data/cache"
	"github.com/escrow-settlement/internal/data/mongo"
	"github.com/escrow-settlement/internal/data/postgres"
	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
	"github.com/escrow-settlement/internal/platform/persistence"
	"github.com/escrow-settlement/internal/reconciliation"
	"github.com/escrow-settlement/internal/settlement"
)

// Stores bundles the connections the settlement services share
type Stores struct {
	Postgres *persistence.PostgresDB
	Mongo    *persistence.MongoDB
	Redis    redis.Cmdable
}

// Repositories holds every repository built over the stores
type Repositories struct {
	Transactions  escrow.TransactionRepository
	Requests      escrow.RequestRepository
	Participants  escrow.ParticipantRepository
	Payments      escrow.PaymentRepository
	EscrowWallets escrow.WalletRepository
	Users         user.Repository
	Wallets       wallet.Repository
	BankAccounts  wallet.BankAccountRepository
	Statements    statement.Repository
	Withdrawals   withdrawal.Repository
	Outbox        outbox.Repository
	Activity      activity.Repository
	WebhookAudit  webhook.AuditRepository
}

// CreateRepositories builds the relational and document repositories.
func CreateRepositories(logger *slog.Logger, stores Stores) *Repositories {
	return &Repositories{
		Transactions:  postgres.NewEscrowTransactionRepository(logger, stores.Postgres),
		Requests:      postgres.NewEscrowRequestRepository(logger, stores.Postgres),
		Participants:  postgres.NewEscrowParticipantRepository(logger, stores.Postgres),
		Payments:      postgres.NewEscrowPaymentRepository(logger, stores.Postgres),
		EscrowWallets: postgres.NewEscrowWalletRepository(logger, stores.Postgres),
		Users:         postgres.NewUserRepository(logger, stores.Postgres),
		Wallets:       postgres.NewWalletRepository(logger, stores.Postgres),
		BankAccounts:  postgres.NewBankAccountRepository(logger, stores.Postgres),
		Statements:    postgres.NewStatementRepository(logger, stores.Postgres),
		Withdrawals:   postgres.NewWithdrawalRepository(logger, stores.Postgres),
		Outbox:        postgres.NewOutboxRepository(logger, stores.Postgres),
		Activity:      mongo.NewActivityRepository(logger, stores.Mongo.Database()),
		WebhookAudit:  mongo.NewWebhookAuditRepository(logger, stores.Mongo.Database()),
	}
}

// EnsureMongoIndexes creates the indexes the activity log and webhook audit rely on.
func EnsureMongoIndexes(ctx context.Context, db *persistence.MongoDB) error {
	if err := db.EnsureIndexes(ctx, mongo.ActivityCollectionName, mongo.ActivityIndexes()...); err != nil {
		return err
	}
	return db.EnsureIndexes(ctx, mongo.WebhookCollectionName, mongo.WebhookIndexes()...)
}

// CreateOrchestrator builds the settlement orchestrator.
func CreateOrchestrator(
	cfg *config.Config,
	repos *Repositories,
	stores Stores,
	gateway settlement.Ledger,
	provider settlement.PaymentProvider,
	notifier notification.Notifier,
	logger *slog.Logger,
) *settlement.Orchestrator {
	orchestrator := settlement.New(settlement.Dependencies{
		Logger:        logger,
		DB:            stores.Postgres,
		Transactions:  repos.Transactions,
		Requests:      repos.Requests,
		Participants:  repos.Participants,
		Payments:      repos.Payments,
		EscrowWallets: repos.EscrowWallets,
		Users:         repos.Users,
		Wallets:       repos.Wallets,
		BankAccounts:  repos.BankAccounts,
		Banks:         cache.NewBankListCache(logger, stores.Redis, cfg.Redis.BankCacheTTL),
		Statements:    repos.Statements,
		Withdrawals:   repos.Withdrawals,
		Outbox:        repos.Outbox,
		Activity:      repos.Activity,
		Ledger:        gateway,
		Payment:       provider,
		Notifier:      notifier,
		Config: settlement.Config{
			LedgerName:   cfg.Ledger.Name,
			OrgAccountID: cfg.Ledger.OrgAccountID,
			RequestTTL:   cfg.Escrow.RequestTTL,
			CallbackURL:  cfg.Paystack.CallbackURL,
			Currency:     cfg.Paystack.Currency,
		},
	})

	logger.Info("Created settlement orchestrator",
		"ledger", cfg.Ledger.Name,
		"currency", cfg.Paystack.Currency,
		"request_ttl", cfg.Escrow.RequestTTL.String(),
	)
	return orchestrator
}

// CreateReconciler builds the webhook reconciler. queue may be nil when
// deliveries are dispatched inline.
func CreateReconciler(
	cfg *config.Config,
	repos *Repositories,
	stores Stores,
	gateway reconciliation.Ledger,
	verifier reconciliation.SignatureVerifier,
	finalizer reconciliation.Finalizer,
	queue producers.MessagePublisher,
	logger *slog.Logger,
) *reconciliation.Reconciler {
	reconciler := reconciliation.New(reconciliation.Dependencies{
		Logger:        logger,
		Verifier:      verifier,
		Audit:         repos.WebhookAudit,
		Lock:          cache.NewDeliveryLock(logger, stores.Redis, cfg.Webhook.LockTTL),
		Queue:         queue,
		EscrowWallets: repos.EscrowWallets,
		Requests:      repos.Requests,
		Statements:    repos.Statements,
		Withdrawals:   repos.Withdrawals,
		Outbox:        repos.Outbox,
		Activity:      repos.Activity,
		Ledger:        gateway,
		Finalizer:     finalizer,
		Config: reconciliation.Config{
			LedgerName:   cfg.Ledger.Name,
			OrgAccountID: cfg.Ledger.OrgAccountID,
			DispatchMode: cfg.Webhook.DispatchMode,
		},
	})

	logger.Info("Created webhook reconciler", "dispatch_mode", cfg.Webhook.DispatchMode)
	return reconciler
}
