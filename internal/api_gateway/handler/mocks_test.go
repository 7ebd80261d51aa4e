package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/escrow-settlement/internal/api_gateway/middleware"
	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/platform/payment"
	"github.com/escrow-settlement/internal/settlement"
)

type MockEscrowService struct {
	mock.Mock
}

func (m *MockEscrowService) CreateEscrowTransaction(ctx context.Context, in settlement.CreateEscrowInput, creator user.Actor) (*escrow.Transaction, error) {
	args := m.Called(ctx, in, creator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Transaction), args.Error(1)
}

func (m *MockEscrowService) ListUserEscrowTransactions(ctx context.Context, userID uuid.UUID, filter escrow.ListFilter) ([]*escrow.Transaction, int64, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*escrow.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockEscrowService) GetEscrowTransactionDetails(ctx context.Context, escrowID uuid.UUID, viewer user.Actor) (*settlement.EscrowDetails, error) {
	args := m.Called(ctx, escrowID, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.EscrowDetails), args.Error(1)
}

func (m *MockEscrowService) ListEscrowActivity(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]*activity.Entry, int64, error) {
	args := m.Called(ctx, escrowID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*activity.Entry), args.Get(1).(int64), args.Error(2)
}

func (m *MockEscrowService) GetEscrowRequestDetails(ctx context.Context, escrowID uuid.UUID, viewer *user.Actor) (*settlement.RequestDetails, error) {
	args := m.Called(ctx, escrowID, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.RequestDetails), args.Error(1)
}

func (m *MockEscrowService) InitializeEscrowDeposit(ctx context.Context, in settlement.DepositInput, viewer *user.Actor) (*payment.Session, error) {
	args := m.Called(ctx, in, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockEscrowService) UpdateEscrowTransactionStatus(ctx context.Context, escrowID uuid.UUID, status escrow.Status, actor user.Actor) (*settlement.StatusChange, error) {
	args := m.Called(ctx, escrowID, status, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.StatusChange), args.Error(1)
}

func (m *MockEscrowService) ReleaseFundsInfo(ctx context.Context, escrowID uuid.UUID, actor user.Actor) (*settlement.ReleaseInfo, error) {
	args := m.Called(ctx, escrowID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.ReleaseInfo), args.Error(1)
}

func (m *MockEscrowService) ReleaseFunds(ctx context.Context, escrowID uuid.UUID, code string, actor user.Actor) error {
	args := m.Called(ctx, escrowID, code, actor)
	return args.Error(0)
}

type MockWalletService struct {
	mock.Mock
}

func (m *MockWalletService) GetWallet(ctx context.Context, actor user.Actor) (*settlement.WalletView, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.WalletView), args.Error(1)
}

func (m *MockWalletService) ListStatements(ctx context.Context, actor user.Actor, limit, offset int) ([]*statement.Statement, int64, error) {
	args := m.Called(ctx, actor, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*statement.Statement), args.Get(1).(int64), args.Error(2)
}

func (m *MockWalletService) WithdrawFromWallet(ctx context.Context, in settlement.WithdrawInput, actor user.Actor) (*withdrawal.Withdrawal, error) {
	args := m.Called(ctx, in, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*withdrawal.Withdrawal), args.Error(1)
}

func (m *MockWalletService) AddBankAccount(ctx context.Context, in settlement.BankAccountInput, actor user.Actor) (*wallet.BankAccount, error) {
	args := m.Called(ctx, in, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.BankAccount), args.Error(1)
}

func (m *MockWalletService) ListBankAccounts(ctx context.Context, actor user.Actor) ([]*wallet.BankAccount, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.BankAccount), args.Error(1)
}

func (m *MockWalletService) ResolveBankAccount(ctx context.Context, in settlement.BankAccountInput) (*payment.ResolvedAccount, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.ResolvedAccount), args.Error(1)
}

func (m *MockWalletService) DeleteBankAccount(ctx context.Context, id uuid.UUID, actor user.Actor) error {
	args := m.Called(ctx, id, actor)
	return args.Error(0)
}

func (m *MockWalletService) ListBanks(ctx context.Context, currency string) ([]wallet.Bank, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]wallet.Bank), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	args := m.Called(ctx, payload, signature)
	return args.Error(0)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	return r
}

// withActor authenticates every request of the router as actor.
func withActor(actor *user.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor != nil {
			c.Set(middleware.ActorKey, actor)
		}
		c.Next()
	}
}
