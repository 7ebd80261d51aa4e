package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/platform/payment"
)

// inlineTx runs the unit of work without a database
type inlineTx struct {
	calls int
}

func (r *inlineTx) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	r.calls++
	return fn(nil)
}

type MockTransactionRepo struct{ mock.Mock }

func (m *MockTransactionRepo) Create(ctx context.Context, tx *escrow.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*escrow.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) ([]*escrow.Transaction, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*escrow.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) CountByUser(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) (int64, error) {
	args := m.Called(ctx, userID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to escrow.Status) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *MockTransactionRepo) UpdateStatusWithReleaseCode(ctx context.Context, id uuid.UUID, from, to escrow.Status, hash string) error {
	return m.Called(ctx, id, from, to, hash).Error(0)
}

func (m *MockTransactionRepo) WithTx(pgx.Tx) escrow.TransactionRepository { return m }

type MockRequestRepo struct{ mock.Mock }

func (m *MockRequestRepo) Create(ctx context.Context, req *escrow.Request) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockRequestRepo) GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*escrow.Request, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Request), args.Error(1)
}

func (m *MockRequestRepo) SetSession(ctx context.Context, escrowID uuid.UUID, accessCode, url string) error {
	return m.Called(ctx, escrowID, accessCode, url).Error(0)
}

func (m *MockRequestRepo) MarkAccepted(ctx context.Context, escrowID uuid.UUID, at time.Time) error {
	return m.Called(ctx, escrowID, at).Error(0)
}

func (m *MockRequestRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockRequestRepo) ListExpiredUnprocessed(ctx context.Context, now time.Time, statuses []escrow.Status, limit int) ([]*escrow.Request, error) {
	args := m.Called(ctx, now, statuses, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*escrow.Request), args.Error(1)
}

func (m *MockRequestRepo) WithTx(pgx.Tx) escrow.RequestRepository { return m }

type MockParticipantRepo struct{ mock.Mock }

func (m *MockParticipantRepo) Add(ctx context.Context, p *escrow.Participant) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockParticipantRepo) ListByEscrowID(ctx context.Context, escrowID uuid.UUID) (escrow.Participants, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(escrow.Participants), args.Error(1)
}

func (m *MockParticipantRepo) WithTx(pgx.Tx) escrow.ParticipantRepository { return m }

type MockPaymentRepo struct{ mock.Mock }

func (m *MockPaymentRepo) Create(ctx context.Context, p *escrow.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPaymentRepo) GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*escrow.Payment, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Payment), args.Error(1)
}

func (m *MockPaymentRepo) UpdateSettlement(ctx context.Context, escrowID uuid.UUID, status escrow.PaymentStatus, userID uuid.UUID, method string) error {
	return m.Called(ctx, escrowID, status, userID, method).Error(0)
}

func (m *MockPaymentRepo) WithTx(pgx.Tx) escrow.PaymentRepository { return m }

type MockEscrowWalletRepo struct{ mock.Mock }

func (m *MockEscrowWalletRepo) Create(ctx context.Context, w *escrow.Wallet) error {
	return m.Called(ctx, w).Error(0)
}

func (m *MockEscrowWalletRepo) GetByEscrowID(ctx context.Context, escrowID uuid.UUID) (*escrow.Wallet, error) {
	args := m.Called(ctx, escrowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Wallet), args.Error(1)
}

func (m *MockEscrowWalletRepo) WithTx(pgx.Tx) escrow.WalletRepository { return m }

type MockUserRepo struct{ mock.Mock }

func (m *MockUserRepo) Create(ctx context.Context, u *user.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserRepo) WithTx(pgx.Tx) user.Repository { return m }

type MockWalletRepo struct{ mock.Mock }

func (m *MockWalletRepo) Create(ctx context.Context, w *wallet.UserWallet) (*wallet.UserWallet, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.UserWallet), args.Error(1)
}

func (m *MockWalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*wallet.UserWallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.UserWallet), args.Error(1)
}

func (m *MockWalletRepo) WithTx(pgx.Tx) wallet.Repository { return m }

type MockBankAccountRepo struct{ mock.Mock }

func (m *MockBankAccountRepo) Create(ctx context.Context, b *wallet.BankAccount) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockBankAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*wallet.BankAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.BankAccount), args.Error(1)
}

func (m *MockBankAccountRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*wallet.BankAccount, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.BankAccount), args.Error(1)
}

func (m *MockBankAccountRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, userID, at).Error(0)
}

type MockBankCache struct{ mock.Mock }

func (m *MockBankCache) Get(ctx context.Context, currency string) ([]wallet.Bank, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]wallet.Bank), args.Error(1)
}

func (m *MockBankCache) Set(ctx context.Context, currency string, banks []wallet.Bank) error {
	return m.Called(ctx, currency, banks).Error(0)
}

type MockStatementRepo struct{ mock.Mock }

func (m *MockStatementRepo) Create(ctx context.Context, s *statement.Statement) (bool, error) {
	args := m.Called(ctx, s)
	return args.Bool(0), args.Error(1)
}

func (m *MockStatementRepo) UpdateStatusByTransferID(ctx context.Context, transferID string, status statement.Status) error {
	return m.Called(ctx, transferID, status).Error(0)
}

func (m *MockStatementRepo) DeleteByTransferID(ctx context.Context, transferID string) error {
	return m.Called(ctx, transferID).Error(0)
}

func (m *MockStatementRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*statement.Statement, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*statement.Statement), args.Error(1)
}

func (m *MockStatementRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockWithdrawalRepo struct{ mock.Mock }

func (m *MockWithdrawalRepo) Create(ctx context.Context, w *withdrawal.Withdrawal) error {
	return m.Called(ctx, w).Error(0)
}

func (m *MockWithdrawalRepo) GetByReference(ctx context.Context, ref string) (*withdrawal.Withdrawal, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*withdrawal.Withdrawal), args.Error(1)
}

func (m *MockWithdrawalRepo) UpdateSettlement(ctx context.Context, id uuid.UUID, status withdrawal.Status, state withdrawal.LedgerState) error {
	return m.Called(ctx, id, status, state).Error(0)
}

func (m *MockWithdrawalRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*withdrawal.Withdrawal, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*withdrawal.Withdrawal), args.Error(1)
}

type MockOutboxRepo struct{ mock.Mock }

func (m *MockOutboxRepo) Reserve(ctx context.Context, msg *outbox.Message) (*outbox.Message, bool, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*outbox.Message), args.Bool(1), args.Error(2)
}

func (m *MockOutboxRepo) GetByReference(ctx context.Context, kind outbox.Kind, reference string) (*outbox.Message, error) {
	args := m.Called(ctx, kind, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) GetStale(ctx context.Context, olderThan time.Time, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepo) WithTx(pgx.Tx) outbox.Repository { return m }

type MockActivityRepo struct{ mock.Mock }

func (m *MockActivityRepo) Create(ctx context.Context, e *activity.Entry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockActivityRepo) CreateOnce(ctx context.Context, e *activity.Entry) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *MockActivityRepo) ListByEntity(ctx context.Context, entityID string, limit, offset int) ([]*activity.Entry, error) {
	args := m.Called(ctx, entityID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*activity.Entry), args.Error(1)
}

func (m *MockActivityRepo) CountByEntity(ctx context.Context, entityID string) (int64, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(int64), args.Error(1)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) NewID() string {
	return m.Called().String(0)
}

func (m *MockLedger) CreateAccount(ctx context.Context, id string, code ledger.AccountCode, name string) error {
	return m.Called(ctx, id, code, name).Error(0)
}

func (m *MockLedger) CreateTransfer(ctx context.Context, t ledger.Transfer) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockLedger) GetBalance(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

type MockPayment struct{ mock.Mock }

func (m *MockPayment) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockPayment) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*payment.ResolvedAccount, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.ResolvedAccount), args.Error(1)
}

func (m *MockPayment) ListBanks(ctx context.Context, currency string) ([]wallet.Bank, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]wallet.Bank), args.Error(1)
}

func (m *MockPayment) CreateTransferRecipient(ctx context.Context, req payment.RecipientRequest) (*payment.Recipient, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Recipient), args.Error(1)
}

func (m *MockPayment) InitiateTransfer(ctx context.Context, req payment.TransferRequest) (*payment.TransferResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.TransferResult), args.Error(1)
}

func (m *MockPayment) VerifyTransfer(ctx context.Context, reference string) (*payment.TransferResult, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.TransferResult), args.Error(1)
}

// recordingNotifier keeps every notification for inspection
type recordingNotifier struct {
	sent []*notification.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *notification.Notification) {
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) ofType(t notification.Type) []*notification.Notification {
	var out []*notification.Notification
	for _, n := range r.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
