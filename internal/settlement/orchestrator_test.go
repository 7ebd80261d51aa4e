package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/statement"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/domain/wallet"
	"github.com/escrow-settlement/internal/domain/webhook"
	"github.com/escrow-settlement/internal/domain/withdrawal"
	"github.com/escrow-settlement/internal/notification"
	"github.com/escrow-settlement/internal/platform/ledger"
	"github.com/escrow-settlement/internal/platform/payment"
)

const (
	testLedger      = "ngnLedger"
	testReleaseCode = "ABC-DEFGHIJ-KLMNOP"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db            *inlineTx
	transactions  *MockTransactionRepo
	requests      *MockRequestRepo
	participants  *MockParticipantRepo
	payments      *MockPaymentRepo
	escrowWallets *MockEscrowWalletRepo
	users         *MockUserRepo
	wallets       *MockWalletRepo
	bankAccounts  *MockBankAccountRepo
	banks         *MockBankCache
	statements    *MockStatementRepo
	withdrawals   *MockWithdrawalRepo
	outbox        *MockOutboxRepo
	activity      *MockActivityRepo
	ledger        *MockLedger
	payment       *MockPayment
	notifier      *recordingNotifier
	orch          *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		db:            &inlineTx{},
		transactions:  &MockTransactionRepo{},
		requests:      &MockRequestRepo{},
		participants:  &MockParticipantRepo{},
		payments:      &MockPaymentRepo{},
		escrowWallets: &MockEscrowWalletRepo{},
		users:         &MockUserRepo{},
		wallets:       &MockWalletRepo{},
		bankAccounts:  &MockBankAccountRepo{},
		banks:         &MockBankCache{},
		statements:    &MockStatementRepo{},
		withdrawals:   &MockWithdrawalRepo{},
		outbox:        &MockOutboxRepo{},
		activity:      &MockActivityRepo{},
		ledger:        &MockLedger{},
		payment:       &MockPayment{},
		notifier:      &recordingNotifier{},
	}

	f.orch = New(Dependencies{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		DB:            f.db,
		Transactions:  f.transactions,
		Requests:      f.requests,
		Participants:  f.participants,
		Payments:      f.payments,
		EscrowWallets: f.escrowWallets,
		Users:         f.users,
		Wallets:       f.wallets,
		BankAccounts:  f.bankAccounts,
		Banks:         f.banks,
		Statements:    f.statements,
		Withdrawals:   f.withdrawals,
		Outbox:        f.outbox,
		Activity:      f.activity,
		Ledger:        f.ledger,
		Payment:       f.payment,
		Notifier:      f.notifier,
		Config: Config{
			LedgerName:   testLedger,
			OrgAccountID: "1000",
			RequestTTL:   time.Hour,
			CallbackURL:  "http://localhost/callback",
			Currency:     "NGN",
		},
	})
	f.orch.now = func() time.Time { return fixedNow }
	f.orch.newReleaseCode = func() (string, error) { return testReleaseCode, nil }
	f.orch.newReference = func() string { return "ref-1" }
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.transactions.AssertExpectations(t)
	f.requests.AssertExpectations(t)
	f.participants.AssertExpectations(t)
	f.payments.AssertExpectations(t)
	f.escrowWallets.AssertExpectations(t)
	f.users.AssertExpectations(t)
	f.wallets.AssertExpectations(t)
	f.bankAccounts.AssertExpectations(t)
	f.banks.AssertExpectations(t)
	f.statements.AssertExpectations(t)
	f.withdrawals.AssertExpectations(t)
	f.outbox.AssertExpectations(t)
	f.activity.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
	f.payment.AssertExpectations(t)
}

func escrowParties(escrowID, buyerID, sellerID uuid.UUID) escrow.Participants {
	return escrow.Participants{
		escrow.NewParticipant(escrowID, buyerID, shared.RoleBuyer),
		escrow.NewParticipant(escrowID, sellerID, shared.RoleSeller),
	}
}

func pendingRequest(escrowID, senderID uuid.UUID) *escrow.Request {
	return &escrow.Request{
		ID:               uuid.New(),
		EscrowID:         escrowID,
		SenderID:         senderID,
		Amount:           decimal.RequireFromString("10000.50"),
		CustomerRole:     shared.RoleBuyer,
		CustomerUsername: "ada",
		CustomerEmail:    "ada@example.com",
		Status:           escrow.InvitationPending,
		ExpiresAt:        fixedNow.Add(30 * time.Minute),
		CreatedAt:        fixedNow.Add(-30 * time.Minute),
	}
}

func TestCreateEscrowTransaction_RejectsSelf(t *testing.T) {
	f := newFixture()
	creator := user.Actor{ID: uuid.New(), Username: "tunde"}

	f.users.On("GetByUsername", mock.Anything, "tunde").
		Return(&user.User{ID: creator.ID, Username: "tunde"}, nil)

	tx, err := f.orch.CreateEscrowTransaction(context.Background(), CreateEscrowInput{
		Title:            "Laptop",
		Amount:           decimal.NewFromInt(5000),
		CreatorRole:      shared.RoleSeller,
		CustomerUsername: "tunde",
		CustomerEmail:    "tunde@example.com",
	}, creator)

	assert.Nil(t, tx)
	require.Error(t, err)
	assert.Equal(t, shared.KindExpected, shared.KindOf(err))
	assert.Equal(t, "You cannot create transaction with yourself", shared.MessageOf(err))
	assert.Zero(t, f.db.calls)
	f.ledger.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.sent)
}

func TestCreateEscrowTransaction_Validation(t *testing.T) {
	valid := CreateEscrowInput{
		Title:            "Laptop",
		Amount:           decimal.NewFromInt(5000),
		CreatorRole:      shared.RoleSeller,
		CustomerUsername: "ada",
		CustomerEmail:    "ada@example.com",
	}

	tests := []struct {
		name   string
		mutate func(in *CreateEscrowInput)
	}{
		{name: "missing title", mutate: func(in *CreateEscrowInput) { in.Title = " " }},
		{name: "unknown role", mutate: func(in *CreateEscrowInput) { in.CreatorRole = "broker" }},
		{name: "missing customer email", mutate: func(in *CreateEscrowInput) { in.CustomerEmail = "" }},
		{name: "zero amount", mutate: func(in *CreateEscrowInput) { in.Amount = decimal.Zero }},
		{name: "sub-kobo amount", mutate: func(in *CreateEscrowInput) { in.Amount = decimal.RequireFromString("10.001") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			in := valid
			tt.mutate(&in)

			_, err := f.orch.CreateEscrowTransaction(context.Background(), in, user.Actor{ID: uuid.New()})

			require.Error(t, err)
			assert.Equal(t, shared.KindExpected, shared.KindOf(err))
			f.users.AssertNotCalled(t, "GetByUsername", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateEscrowTransaction_Success(t *testing.T) {
	f := newFixture()
	creator := user.Actor{ID: uuid.New(), Username: "tunde"}
	amount := decimal.RequireFromString("10000.50")

	f.users.On("GetByUsername", mock.Anything, "ada").Return(nil, user.ErrUserNotFound{Key: "ada"})
	f.ledger.On("NewID").Return("escrow-acc").Once()
	f.ledger.On("CreateAccount", mock.Anything, "escrow-acc", ledger.CodeEscrowWallet, testLedger).Return(nil)
	f.transactions.On("Create", mock.Anything, mock.MatchedBy(func(tx *escrow.Transaction) bool {
		return tx.Status == escrow.StatusCreated && tx.CreatedBy == creator.ID && tx.Title == "Laptop"
	})).Return(nil)
	f.escrowWallets.On("Create", mock.Anything, mock.MatchedBy(func(w *escrow.Wallet) bool {
		return w.LedgerAccountID == "escrow-acc"
	})).Return(nil)
	f.participants.On("Add", mock.Anything, mock.MatchedBy(func(p *escrow.Participant) bool {
		return p.UserID == creator.ID && p.Role == shared.RoleSeller
	})).Return(nil)
	f.payments.On("Create", mock.Anything, mock.MatchedBy(func(p *escrow.Payment) bool {
		return p.Amount.Equal(amount) && p.Status == escrow.PaymentPending
	})).Return(nil)
	f.requests.On("Create", mock.Anything, mock.MatchedBy(func(r *escrow.Request) bool {
		return r.CustomerRole == shared.RoleBuyer &&
			r.Status == escrow.InvitationPending &&
			r.ExpiresAt.Equal(fixedNow.Add(time.Hour)) &&
			r.SenderID == creator.ID
	})).Return(nil)
	f.activity.On("Create", mock.Anything, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.Action == activity.ActionEscrowCreated
	})).Return(nil)

	tx, err := f.orch.CreateEscrowTransaction(context.Background(), CreateEscrowInput{
		Title:            "Laptop",
		Amount:           amount,
		CreatorRole:      shared.RoleSeller,
		CustomerUsername: "ada",
		CustomerEmail:    "ada@example.com",
	}, creator)

	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCreated, tx.Status)
	assert.Equal(t, 1, f.db.calls)

	invites := f.notifier.ofType(notification.TypeEscrowInvitation)
	require.Len(t, invites, 1)
	assert.Equal(t, "ada@example.com", invites[0].Email)
	assert.Equal(t, "10000.50", invites[0].Data["amount"])
	f.assertExpectations(t)
}

func TestCreateEscrowTransaction_LedgerFailureWritesNothing(t *testing.T) {
	f := newFixture()

	f.users.On("GetByUsername", mock.Anything, "ada").Return(nil, user.ErrUserNotFound{Key: "ada"})
	f.ledger.On("NewID").Return("escrow-acc")
	f.ledger.On("CreateAccount", mock.Anything, "escrow-acc", ledger.CodeEscrowWallet, testLedger).
		Return(shared.Timeout("ledger create account", context.DeadlineExceeded))

	_, err := f.orch.CreateEscrowTransaction(context.Background(), CreateEscrowInput{
		Title:            "Laptop",
		Amount:           decimal.NewFromInt(100),
		CreatorRole:      shared.RoleBuyer,
		CustomerUsername: "ada",
		CustomerEmail:    "ada@example.com",
	}, user.Actor{ID: uuid.New()})

	require.Error(t, err)
	assert.Equal(t, shared.KindTimeout, shared.KindOf(err))
	assert.Zero(t, f.db.calls)
}

func TestGetEscrowRequestDetails_MovesToDepositPending(t *testing.T) {
	f := newFixture()
	escrowID, senderID := uuid.New(), uuid.New()
	req := pendingRequest(escrowID, senderID)

	f.requests.On("GetByEscrowID", mock.Anything, escrowID).Return(req, nil)
	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusCreated, CreatedBy: senderID}, nil)
	f.transactions.On("UpdateStatus", mock.Anything, escrowID, escrow.StatusCreated, escrow.StatusDepositPending).Return(nil)
	f.activity.On("CreateOnce", mock.Anything, mock.Anything).Return(true, nil)
	f.users.On("GetByID", mock.Anything, senderID).Return(&user.User{ID: senderID, Username: "tunde"}, nil)

	details, err := f.orch.GetEscrowRequestDetails(context.Background(), escrowID, nil)

	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDepositPending, details.Status)
	assert.False(t, details.IsAuthenticated)
	assert.Equal(t, "tunde", details.Sender.Username)
	f.assertExpectations(t)
}

func TestGetEscrowRequestDetails_RepeatViewIsNoop(t *testing.T) {
	f := newFixture()
	escrowID, senderID := uuid.New(), uuid.New()

	f.requests.On("GetByEscrowID", mock.Anything, escrowID).Return(pendingRequest(escrowID, senderID), nil)
	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositPending}, nil)
	f.users.On("GetByID", mock.Anything, senderID).Return(&user.User{ID: senderID}, nil)

	details, err := f.orch.GetEscrowRequestDetails(context.Background(), escrowID, &user.Actor{ID: uuid.New()})

	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDepositPending, details.Status)
	assert.True(t, details.IsAuthenticated)
	f.transactions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInitializeEscrowDeposit_ReturnsStoredSession(t *testing.T) {
	f := newFixture()
	escrowID := uuid.New()
	req := pendingRequest(escrowID, uuid.New())
	req.AccessCode = "acc_123"
	req.AuthorizationURL = "https://checkout.example/acc_123"

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositPending}, nil)
	f.requests.On("GetByEscrowID", mock.Anything, escrowID).Return(req, nil)

	in := DepositInput{EscrowID: escrowID, CustomerUsername: "ada", CustomerEmail: "ada@example.com"}
	first, err := f.orch.InitializeEscrowDeposit(context.Background(), in, nil)
	require.NoError(t, err)
	second, err := f.orch.InitializeEscrowDeposit(context.Background(), in, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "acc_123", first.AccessCode)
	assert.Equal(t, escrowID.String(), first.Reference)
	f.payment.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
	f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInitializeEscrowDeposit_Rejections(t *testing.T) {
	escrowID, senderID := uuid.New(), uuid.New()

	tests := []struct {
		name      string
		status    escrow.Status
		expiresAt time.Time
		viewer    *user.Actor
		setup     func(f *fixture)
		message   string
	}{
		{
			name:      "escrow not awaiting deposit",
			status:    escrow.StatusCreated,
			expiresAt: fixedNow.Add(time.Hour),
			message:   "Please click the link sent to you to proceed with payment",
		},
		{
			name:      "expired request",
			status:    escrow.StatusDepositPending,
			expiresAt: fixedNow,
			message:   "Escrow transaction request has expired",
		},
		{
			name:      "sender paying own request",
			status:    escrow.StatusDepositPending,
			expiresAt: fixedNow.Add(time.Hour),
			viewer:    &user.Actor{ID: senderID},
			message:   "Account associated with the escrow creation",
		},
		{
			name:      "guest using a registered username",
			status:    escrow.StatusDepositPending,
			expiresAt: fixedNow.Add(time.Hour),
			setup: func(f *fixture) {
				f.users.On("GetByUsername", mock.Anything, "ada").Return(&user.User{ID: uuid.New(), Username: "ada"}, nil)
			},
			message: "Unauthorized: signin to continue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := pendingRequest(escrowID, senderID)
			req.ExpiresAt = tt.expiresAt

			f.transactions.On("GetByID", mock.Anything, escrowID).
				Return(&escrow.Transaction{ID: escrowID, Status: tt.status}, nil)
			f.requests.On("GetByEscrowID", mock.Anything, escrowID).Return(req, nil).Maybe()
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.orch.InitializeEscrowDeposit(context.Background(), DepositInput{
				EscrowID:         escrowID,
				CustomerUsername: "ada",
				CustomerEmail:    "ada@example.com",
			}, tt.viewer)

			require.Error(t, err)
			assert.Equal(t, shared.KindExpected, shared.KindOf(err))
			assert.Equal(t, tt.message, shared.MessageOf(err))
			f.payment.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
			f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestInitializeEscrowDeposit_GuestPayer(t *testing.T) {
	f := newFixture()
	escrowID, senderID := uuid.New(), uuid.New()
	req := pendingRequest(escrowID, senderID)
	session := &payment.Session{AuthorizationURL: "https://checkout.example/x", AccessCode: "x", Reference: escrowID.String()}

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositPending}, nil)
	f.requests.On("GetByEscrowID", mock.Anything, escrowID).Return(req, nil)
	f.users.On("GetByUsername", mock.Anything, "ada").Return(nil, user.ErrUserNotFound{Key: "ada"})
	f.users.On("Create", mock.Anything, mock.MatchedBy(func(u *user.User) bool {
		return u.Username == "ada" && u.Email == "ada@example.com"
	})).Return(nil)
	f.wallets.On("GetByUserID", mock.Anything, mock.Anything).Return(nil, wallet.ErrWalletNotFound{Entity: "user wallet"})
	f.ledger.On("NewID").Return("guest-acc")
	f.ledger.On("CreateAccount", mock.Anything, "guest-acc", ledger.CodeUserWallet, testLedger).Return(nil)
	f.wallets.On("Create", mock.Anything, mock.Anything).Return(&wallet.UserWallet{LedgerAccountID: "guest-acc"}, nil)
	f.payment.On("CreateSession", mock.Anything, mock.MatchedBy(func(r payment.SessionRequest) bool {
		meta, ok := r.Metadata.(webhook.ChargeMetadata)
		return ok &&
			r.Amount == 1000050 &&
			r.Reference == escrowID.String() &&
			r.Email == "ada@example.com" &&
			meta.EscrowID == escrowID.String() &&
			meta.CustomerDetails.Role == string(shared.RoleBuyer) &&
			meta.RelatedUserID == senderID.String()
	})).Return(session, nil)
	f.requests.On("SetSession", mock.Anything, escrowID, "x", "https://checkout.example/x").Return(nil)

	got, err := f.orch.InitializeEscrowDeposit(context.Background(), DepositInput{
		EscrowID:         escrowID,
		CustomerUsername: "ada",
		CustomerEmail:    "ada@example.com",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, session, got)
	f.assertExpectations(t)
}

func TestFinalizeEscrowTransaction_AlreadyFinalized(t *testing.T) {
	f := newFixture()
	escrowID := uuid.New()

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositSuccess}, nil)

	err := f.orch.FinalizeEscrowTransaction(context.Background(), FinalizeParams{EscrowID: escrowID})

	require.NoError(t, err)
	assert.Zero(t, f.db.calls)
	assert.Empty(t, f.notifier.sent)
}

func TestFinalizeEscrowTransaction_Success(t *testing.T) {
	f := newFixture()
	escrowID, senderID, payerID := uuid.New(), uuid.New(), uuid.New()
	req := pendingRequest(escrowID, senderID)

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositPending}, nil)
	f.requests.On("GetByEscrowID", mock.Anything, escrowID).Return(req, nil)
	f.requests.On("MarkAccepted", mock.Anything, escrowID, fixedNow).Return(nil)
	f.requests.On("MarkProcessed", mock.Anything, req.ID, fixedNow).Return(nil)
	f.participants.On("Add", mock.Anything, mock.MatchedBy(func(p *escrow.Participant) bool {
		return p.UserID == payerID && p.Role == shared.RoleBuyer
	})).Return(nil)
	f.payments.On("UpdateSettlement", mock.Anything, escrowID, escrow.PaymentSuccess, payerID, "card").Return(nil)
	f.transactions.On("UpdateStatus", mock.Anything, escrowID, escrow.StatusDepositPending, escrow.StatusDepositSuccess).Return(nil)
	f.activity.On("CreateOnce", mock.Anything, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.Action == activity.ActionEscrowDepositSuccess
	})).Return(true, nil)

	err := f.orch.FinalizeEscrowTransaction(context.Background(), FinalizeParams{
		EscrowID:      escrowID,
		Customer:      webhook.CustomerDetails{UserID: payerID.String(), Username: "ada", Role: "buyer"},
		PaymentStatus: escrow.PaymentSuccess,
		Method:        "card",
	})

	require.NoError(t, err)
	received := f.notifier.ofType(notification.TypeDepositReceived)
	require.Len(t, received, 1)
	assert.Equal(t, senderID.String(), received[0].RecipientID)
	f.assertExpectations(t)
}

func TestFinalizeEscrowTransaction_InvalidMetadata(t *testing.T) {
	f := newFixture()
	escrowID := uuid.New()

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositPending}, nil)

	err := f.orch.FinalizeEscrowTransaction(context.Background(), FinalizeParams{
		EscrowID: escrowID,
		Customer: webhook.CustomerDetails{UserID: "not-a-uuid", Role: "buyer"},
	})

	require.Error(t, err)
	assert.Equal(t, shared.KindExpected, shared.KindOf(err))
	assert.Zero(t, f.db.calls)
}

func TestUpdateEscrowTransactionStatus(t *testing.T) {
	buyerID, sellerID := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		current escrow.Status
		target  escrow.Status
		actor   uuid.UUID
		setup   func(f *fixture, escrowID uuid.UUID)
		kind    shared.ErrorKind
		message string
	}{
		{
			name:    "buyer cannot start service",
			current: escrow.StatusDepositSuccess,
			target:  escrow.StatusServicePending,
			actor:   buyerID,
			kind:    shared.KindPermission,
			message: "Unauthorized operation: service provider operation",
		},
		{
			name:    "seller cannot confirm service",
			current: escrow.StatusServicePending,
			target:  escrow.StatusServiceConfirmed,
			actor:   sellerID,
			kind:    shared.KindPermission,
			message: "Unauthorized operation: service consumer operation",
		},
		{
			name:    "illegal transition",
			current: escrow.StatusCreated,
			target:  escrow.StatusCompleted,
			actor:   buyerID,
			kind:    shared.KindExpected,
			message: "Cannot transition from created to completed",
		},
		{
			name:    "concurrent change",
			current: escrow.StatusServicePending,
			target:  escrow.StatusServiceConfirmed,
			actor:   buyerID,
			setup: func(f *fixture, escrowID uuid.UUID) {
				f.transactions.On("UpdateStatus", mock.Anything, escrowID, escrow.StatusServicePending, escrow.StatusServiceConfirmed).
					Return(escrow.ErrConcurrentModification{EscrowID: escrowID, Expected: escrow.StatusServicePending})
			},
			kind:    shared.KindExpected,
			message: "escrow status changed concurrently",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			escrowID := uuid.New()

			f.transactions.On("GetByID", mock.Anything, escrowID).
				Return(&escrow.Transaction{ID: escrowID, Status: tt.current}, nil)
			f.participants.On("ListByEscrowID", mock.Anything, escrowID).
				Return(escrowParties(escrowID, buyerID, sellerID), nil).Maybe()
			if tt.setup != nil {
				tt.setup(f, escrowID)
			}

			_, err := f.orch.UpdateEscrowTransactionStatus(context.Background(), escrowID, tt.target, user.Actor{ID: tt.actor})

			require.Error(t, err)
			assert.Equal(t, tt.kind, shared.KindOf(err))
			assert.Equal(t, tt.message, shared.MessageOf(err))
			f.activity.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateEscrowTransactionStatus_IssuesReleaseCode(t *testing.T) {
	f := newFixture()
	escrowID, buyerID, sellerID := uuid.New(), uuid.New(), uuid.New()

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Title: "Laptop", Status: escrow.StatusDepositSuccess}, nil)
	f.participants.On("ListByEscrowID", mock.Anything, escrowID).Return(escrowParties(escrowID, buyerID, sellerID), nil)
	f.transactions.On("UpdateStatusWithReleaseCode", mock.Anything, escrowID, escrow.StatusDepositSuccess, escrow.StatusServicePending,
		mock.MatchedBy(func(hash string) bool {
			return hash != testReleaseCode && releaseCodeMatches(hash, testReleaseCode)
		})).Return(nil)
	f.activity.On("Create", mock.Anything, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.Action == activity.StatusAction(string(escrow.StatusServicePending))
	})).Return(nil)

	change, err := f.orch.UpdateEscrowTransactionStatus(context.Background(), escrowID, escrow.StatusServicePending, user.Actor{ID: sellerID})

	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDepositSuccess, change.From)
	assert.Equal(t, escrow.StatusServicePending, change.To)

	codes := f.notifier.ofType(notification.TypeReleaseCode)
	require.Len(t, codes, 1)
	assert.Equal(t, buyerID.String(), codes[0].RecipientID)
	assert.Equal(t, testReleaseCode, codes[0].Data["release_code"])
	f.transactions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func serviceConfirmed(t *testing.T, escrowID uuid.UUID) *escrow.Transaction {
	t.Helper()
	hash, err := hashReleaseCode(testReleaseCode)
	require.NoError(t, err)
	return &escrow.Transaction{ID: escrowID, Status: escrow.StatusServiceConfirmed, ReleaseCodeHash: hash}
}

func TestReleaseFunds_RejectsWrongCode(t *testing.T) {
	tests := []struct {
		name string
		tx   func(t *testing.T, escrowID uuid.UUID) *escrow.Transaction
	}{
		{name: "wrong code", tx: serviceConfirmed},
		{name: "no code issued", tx: func(_ *testing.T, escrowID uuid.UUID) *escrow.Transaction {
			return &escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositSuccess}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			escrowID := uuid.New()

			f.transactions.On("GetByID", mock.Anything, escrowID).Return(tt.tx(t, escrowID), nil)

			err := f.orch.ReleaseFunds(context.Background(), escrowID, "XXX-XXXXXXX-XXXXXX", user.Actor{ID: uuid.New()})

			require.Error(t, err)
			assert.Equal(t, shared.KindPermission, shared.KindOf(err))
			assert.Equal(t, "Invalid release code", shared.MessageOf(err))
			f.ledger.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
			f.participants.AssertNotCalled(t, "ListByEscrowID", mock.Anything, mock.Anything)
			f.outbox.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
		})
	}
}

func TestReleaseFunds_AlreadyCompleted(t *testing.T) {
	f := newFixture()
	escrowID := uuid.New()
	tx := serviceConfirmed(t, escrowID)
	tx.Status = escrow.StatusCompleted

	f.transactions.On("GetByID", mock.Anything, escrowID).Return(tx, nil)

	err := f.orch.ReleaseFunds(context.Background(), escrowID, testReleaseCode, user.Actor{ID: uuid.New()})

	require.Error(t, err)
	assert.Equal(t, "This transaction has already been completed.", shared.MessageOf(err))
	f.ledger.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
}

func TestReleaseFunds_Success(t *testing.T) {
	f := newFixture()
	escrowID, buyerID, sellerID := uuid.New(), uuid.New(), uuid.New()

	f.transactions.On("GetByID", mock.Anything, escrowID).Return(serviceConfirmed(t, escrowID), nil)
	f.participants.On("ListByEscrowID", mock.Anything, escrowID).Return(escrowParties(escrowID, buyerID, sellerID), nil)
	f.outbox.On("GetByReference", mock.Anything, outbox.KindEscrowRelease, escrowID.String()).
		Return(nil, outbox.ErrMessageNotFound{Reference: escrowID.String()})
	f.escrowWallets.On("GetByEscrowID", mock.Anything, escrowID).Return(&escrow.Wallet{EscrowID: escrowID, LedgerAccountID: "escrow-acc"}, nil)
	f.wallets.On("GetByUserID", mock.Anything, sellerID).Return(&wallet.UserWallet{UserID: sellerID, LedgerAccountID: "seller-acc"}, nil)
	f.ledger.On("GetBalance", mock.Anything, "escrow-acc").Return(int64(500000), nil)
	f.ledger.On("NewID").Return("tr-1")
	f.outbox.On("Reserve", mock.Anything, mock.MatchedBy(func(m *outbox.Message) bool {
		return m.Kind == outbox.KindEscrowRelease && m.Reference == escrowID.String() && m.TransferID == "tr-1"
	})).Return(&outbox.Message{ID: 7, Kind: outbox.KindEscrowRelease, TransferID: "tr-1"}, true, nil)
	f.ledger.On("CreateTransfer", mock.Anything, ledger.Transfer{
		ID:     "tr-1",
		Debit:  "escrow-acc",
		Credit: "seller-acc",
		Amount: 500000,
		Code:   ledger.CodeReleaseEscrowFunds,
		Ledger: testLedger,
		Shape:  ledger.ShapePosted,
	}).Return(nil)
	f.statements.On("Create", mock.Anything, mock.MatchedBy(func(s *statement.Statement) bool {
		return s.Type == statement.TypeWalletDeposit &&
			s.Status == statement.StatusCompleted &&
			s.Amount.Equal(decimal.NewFromInt(5000)) &&
			s.CreatorID == buyerID &&
			s.RelatedUserID != nil && *s.RelatedUserID == sellerID &&
			s.TransferID == "tr-1"
	})).Return(true, nil)
	f.transactions.On("UpdateStatus", mock.Anything, escrowID, escrow.StatusServiceConfirmed, escrow.StatusCompleted).Return(nil)
	f.activity.On("CreateOnce", mock.Anything, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.Action == activity.ActionEscrowCompleted
	})).Return(true, nil)
	f.outbox.On("UpdateStatus", mock.Anything, int64(7), shared.OutboxStatusProcessed).Return(nil)

	err := f.orch.ReleaseFunds(context.Background(), escrowID, testReleaseCode, user.Actor{ID: buyerID})

	require.NoError(t, err)
	assert.Len(t, f.notifier.ofType(notification.TypeEscrowCompleted), 2)
	f.assertExpectations(t)
}

func TestReleaseFunds_SellerCannotRelease(t *testing.T) {
	f := newFixture()
	escrowID, buyerID, sellerID := uuid.New(), uuid.New(), uuid.New()

	f.transactions.On("GetByID", mock.Anything, escrowID).Return(serviceConfirmed(t, escrowID), nil)
	f.participants.On("ListByEscrowID", mock.Anything, escrowID).Return(escrowParties(escrowID, buyerID, sellerID), nil)

	err := f.orch.ReleaseFunds(context.Background(), escrowID, testReleaseCode, user.Actor{ID: sellerID})

	require.Error(t, err)
	assert.Equal(t, shared.KindPermission, shared.KindOf(err))
	f.ledger.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
}

func TestReleaseFunds_ReusesEarlierIntent(t *testing.T) {
	f := newFixture()
	escrowID, buyerID, sellerID := uuid.New(), uuid.New(), uuid.New()

	earlier, err := outbox.NewMessage(outbox.KindEscrowRelease, escrowID.String(), "tr-old", releaseIntent{
		EscrowID:        escrowID,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		EscrowAccountID: "escrow-acc",
		SellerAccountID: "seller-acc",
		Amount:          300000,
	})
	require.NoError(t, err)
	earlier.ID = 3

	f.transactions.On("GetByID", mock.Anything, escrowID).Return(serviceConfirmed(t, escrowID), nil)
	f.participants.On("ListByEscrowID", mock.Anything, escrowID).Return(escrowParties(escrowID, buyerID, sellerID), nil)
	f.outbox.On("GetByReference", mock.Anything, outbox.KindEscrowRelease, escrowID.String()).Return(earlier, nil)
	f.ledger.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(tr ledger.Transfer) bool {
		return tr.ID == "tr-old" && tr.Amount == 300000
	})).Return(nil)
	f.statements.On("Create", mock.Anything, mock.Anything).Return(false, nil)
	f.transactions.On("UpdateStatus", mock.Anything, escrowID, escrow.StatusServiceConfirmed, escrow.StatusCompleted).Return(nil)
	f.activity.On("CreateOnce", mock.Anything, mock.Anything).Return(false, nil)
	f.outbox.On("UpdateStatus", mock.Anything, int64(3), shared.OutboxStatusProcessed).Return(nil)

	err = f.orch.ReleaseFunds(context.Background(), escrowID, testReleaseCode, user.Actor{ID: buyerID})

	require.NoError(t, err)
	f.ledger.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
	f.outbox.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestWithdrawFromWallet_InsufficientBalance(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}
	bankID := uuid.New()

	f.bankAccounts.On("GetByID", mock.Anything, bankID).Return(&wallet.BankAccount{ID: bankID, UserID: actor.ID, RecipientCode: "RCP_1"}, nil)
	f.wallets.On("GetByUserID", mock.Anything, actor.ID).Return(&wallet.UserWallet{LedgerAccountID: "user-acc"}, nil)
	f.ledger.On("GetBalance", mock.Anything, "user-acc").Return(int64(1000), nil)

	w, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: bankID, Amount: decimal.NewFromInt(50)}, actor)

	assert.Nil(t, w)
	require.Error(t, err)
	assert.Equal(t, shared.KindInsufficientBalance, shared.KindOf(err))
	assert.Equal(t, "Insufficient balance", shared.MessageOf(err))
	f.payment.AssertNotCalled(t, "InitiateTransfer", mock.Anything, mock.Anything)
	f.outbox.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
}

func TestWithdrawFromWallet_ForeignBankAccount(t *testing.T) {
	f := newFixture()
	bankID := uuid.New()

	f.bankAccounts.On("GetByID", mock.Anything, bankID).Return(&wallet.BankAccount{ID: bankID, UserID: uuid.New()}, nil)

	_, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: bankID, Amount: decimal.NewFromInt(50)}, user.Actor{ID: uuid.New()})

	require.Error(t, err)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
	assert.Equal(t, "Invalid account number id", shared.MessageOf(err))
	f.ledger.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
}

func withdrawalReady(f *fixture, actor user.Actor, bankID uuid.UUID, balance int64) {
	f.bankAccounts.On("GetByID", mock.Anything, bankID).Return(&wallet.BankAccount{
		ID: bankID, UserID: actor.ID, RecipientCode: "RCP_1", LedgerAccountID: "bank-acc",
	}, nil)
	f.wallets.On("GetByUserID", mock.Anything, actor.ID).Return(&wallet.UserWallet{LedgerAccountID: "user-acc"}, nil)
	f.ledger.On("GetBalance", mock.Anything, "user-acc").Return(balance, nil)
}

func expectWithdrawalBooked(f *fixture, intentID int64) {
	f.withdrawals.On("Create", mock.Anything, mock.AnythingOfType("*withdrawal.Withdrawal")).Return(nil).Once()
	f.ledger.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(tr ledger.Transfer) bool {
		return tr.Shape == ledger.ShapePending && tr.Code == ledger.CodeWalletWithdrawal
	})).Return(nil).Once()
	f.statements.On("Create", mock.Anything, mock.AnythingOfType("*statement.Statement")).Return(true, nil).Once()
	f.activity.On("CreateOnce", mock.Anything, mock.AnythingOfType("*activity.Entry")).Return(true, nil).Once()
	f.outbox.On("UpdateStatus", mock.Anything, intentID, shared.OutboxStatusProcessed).Return(nil).Once()
}

func TestWithdrawFromWallet_AmountTooLarge(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}

	for _, amount := range []string{"92233720368547758.08", "184467440737095516.16"} {
		_, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: uuid.New(), Amount: decimal.RequireFromString(amount)}, actor)

		require.Error(t, err, amount)
		assert.Equal(t, shared.KindExpected, shared.KindOf(err))
		assert.Equal(t, "amount is too large", shared.MessageOf(err))
	}
	f.ledger.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
	f.payment.AssertNotCalled(t, "InitiateTransfer", mock.Anything, mock.Anything)
}

func TestWithdrawFromWallet_ProviderRejects(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}
	bankID := uuid.New()

	withdrawalReady(f, actor, bankID, 1000000)
	f.ledger.On("NewID").Return("tr-w")
	f.outbox.On("Reserve", mock.Anything, mock.Anything).
		Return(&outbox.Message{ID: 4, Kind: outbox.KindWalletWithdraw, Reference: "ref-1", TransferID: "tr-w"}, true, nil)
	f.payment.On("InitiateTransfer", mock.Anything, mock.Anything).Return(nil, shared.Expected("recipient is inactive"))
	f.outbox.On("UpdateStatus", mock.Anything, int64(4), shared.OutboxStatusFailed).Return(nil)

	_, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: bankID, Amount: decimal.NewFromInt(50)}, actor)

	require.Error(t, err)
	assert.Equal(t, "Unable to initiate transfer", shared.MessageOf(err))
	f.ledger.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
	f.withdrawals.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestWithdrawFromWallet_ReserveFailsBeforePayout(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}
	bankID := uuid.New()

	withdrawalReady(f, actor, bankID, 1000000)
	f.ledger.On("NewID").Return("tr-w")
	f.outbox.On("Reserve", mock.Anything, mock.Anything).Return(nil, false, errors.New("connection reset"))

	_, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: bankID, Amount: decimal.NewFromInt(50)}, actor)

	require.Error(t, err)
	assert.Equal(t, shared.KindInfrastructure, shared.KindOf(err))
	f.payment.AssertNotCalled(t, "InitiateTransfer", mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestWithdrawFromWallet_ProviderUnreachableKeepsIntent(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}
	bankID := uuid.New()

	withdrawalReady(f, actor, bankID, 1000000)
	f.ledger.On("NewID").Return("tr-w")
	f.outbox.On("Reserve", mock.Anything, mock.Anything).
		Return(&outbox.Message{ID: 5, Kind: outbox.KindWalletWithdraw, Reference: "ref-1", TransferID: "tr-w"}, true, nil)
	f.payment.On("InitiateTransfer", mock.Anything, mock.Anything).
		Return(nil, shared.Infrastructure("payment provider unavailable", errors.New("timeout")))

	_, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: bankID, Amount: decimal.NewFromInt(50)}, actor)

	require.Error(t, err)
	assert.Equal(t, shared.KindInfrastructure, shared.KindOf(err))
	f.outbox.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestResume_Withdrawal(t *testing.T) {
	payload := withdrawIntent{
		WithdrawalID:        uuid.New(),
		UserID:              uuid.New(),
		BankAccountID:       uuid.New(),
		WalletAccountID:     "user-acc",
		BankLedgerAccountID: "bank-acc",
		RecipientCode:       "RCP_1",
		Amount:              5000,
		Remaining:           995000,
		Reference:           "ref-9",
		Status:              withdrawal.StatusPending,
	}

	tests := []struct {
		name       string
		setupMocks func(f *fixture)
	}{
		{
			name: "payout already sent is booked",
			setupMocks: func(f *fixture) {
				f.payment.On("VerifyTransfer", mock.Anything, "ref-9").
					Return(&payment.TransferResult{TransferCode: "TRF_9", Reference: "ref-9", Status: "success"}, nil)
				expectWithdrawalBooked(f, 11)
			},
		},
		{
			name: "payout never sent is initiated with the same reference",
			setupMocks: func(f *fixture) {
				f.payment.On("VerifyTransfer", mock.Anything, "ref-9").Return(nil, shared.NotFound("Transfer not found"))
				f.payment.On("InitiateTransfer", mock.Anything, payment.TransferRequest{
					Amount:        5000,
					Reference:     "ref-9",
					RecipientCode: "RCP_1",
				}).Return(&payment.TransferResult{TransferCode: "TRF_9", Reference: "ref-9", Status: "pending"}, nil)
				expectWithdrawalBooked(f, 11)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			intent, err := outbox.NewMessage(outbox.KindWalletWithdraw, "ref-9", "tr-9", payload)
			require.NoError(t, err)
			intent.ID = 11
			tt.setupMocks(f)

			require.NoError(t, f.orch.Resume(context.Background(), intent))
			f.assertExpectations(t)
		})
	}

	t.Run("provider unreachable", func(t *testing.T) {
		f := newFixture()
		intent, err := outbox.NewMessage(outbox.KindWalletWithdraw, "ref-9", "tr-9", payload)
		require.NoError(t, err)
		f.payment.On("VerifyTransfer", mock.Anything, "ref-9").Return(nil, shared.Infrastructure("payment provider unavailable", nil))

		err = f.orch.Resume(context.Background(), intent)

		require.Error(t, err)
		f.payment.AssertNotCalled(t, "InitiateTransfer", mock.Anything, mock.Anything)
		f.withdrawals.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestWithdrawFromWallet_Success(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}
	bankID := uuid.New()

	f.bankAccounts.On("GetByID", mock.Anything, bankID).Return(&wallet.BankAccount{
		ID: bankID, UserID: actor.ID, RecipientCode: "RCP_1", LedgerAccountID: "bank-acc",
	}, nil)
	f.wallets.On("GetByUserID", mock.Anything, actor.ID).Return(&wallet.UserWallet{LedgerAccountID: "user-acc"}, nil)
	f.ledger.On("GetBalance", mock.Anything, "user-acc").Return(int64(1000000), nil)
	f.payment.On("InitiateTransfer", mock.Anything, payment.TransferRequest{
		Amount:        250000,
		Reference:     "ref-1",
		RecipientCode: "RCP_1",
	}).Return(&payment.TransferResult{TransferCode: "TRF_1", Reference: "ref-1", Status: "pending"}, nil)
	f.ledger.On("NewID").Return("tr-w")
	f.outbox.On("Reserve", mock.Anything, mock.MatchedBy(func(m *outbox.Message) bool {
		return m.Kind == outbox.KindWalletWithdraw && m.Reference == "ref-1"
	})).Return(&outbox.Message{ID: 9, Kind: outbox.KindWalletWithdraw, Reference: "ref-1", TransferID: "tr-w"}, true, nil)
	f.withdrawals.On("Create", mock.Anything, mock.MatchedBy(func(w *withdrawal.Withdrawal) bool {
		return w.ReferenceCode == "ref-1" &&
			w.TransferID == "tr-w" &&
			w.TransferCode == "TRF_1" &&
			w.Amount.Equal(decimal.NewFromInt(2500)) &&
			w.LedgerState == withdrawal.LedgerPending
	})).Return(nil)
	f.ledger.On("CreateTransfer", mock.Anything, ledger.Transfer{
		ID:     "tr-w",
		Debit:  "user-acc",
		Credit: "bank-acc",
		Amount: 250000,
		Code:   ledger.CodeWalletWithdrawal,
		Ledger: testLedger,
		Shape:  ledger.ShapePending,
	}).Return(nil)
	f.statements.On("Create", mock.Anything, mock.MatchedBy(func(s *statement.Statement) bool {
		return s.Type == statement.TypeWalletWithdraw &&
			s.Status == statement.StatusPending &&
			s.Balance != nil && s.Balance.Equal(decimal.NewFromInt(7500))
	})).Return(true, nil)
	f.activity.On("CreateOnce", mock.Anything, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.Action == activity.ActionWithdrawalRequested
	})).Return(true, nil)
	f.outbox.On("UpdateStatus", mock.Anything, int64(9), shared.OutboxStatusProcessed).Return(nil)

	w, err := f.orch.WithdrawFromWallet(context.Background(), WithdrawInput{BankAccountID: bankID, Amount: decimal.NewFromInt(2500)}, actor)

	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusPending, w.Status)
	assert.Equal(t, "tr-w", w.TransferID)
	assert.Len(t, f.notifier.ofType(notification.TypeWithdrawalRequested), 1)
	f.assertExpectations(t)
}

func TestListBanks(t *testing.T) {
	banks := []wallet.Bank{{Name: "Access Bank", Code: "044", Currency: "NGN", Active: true}}

	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "cache hit",
			setup: func(f *fixture) {
				f.banks.On("Get", mock.Anything, "NGN").Return(banks, nil)
			},
		},
		{
			name: "cache miss",
			setup: func(f *fixture) {
				f.banks.On("Get", mock.Anything, "NGN").Return(nil, nil)
				f.payment.On("ListBanks", mock.Anything, "NGN").Return(banks, nil)
				f.banks.On("Set", mock.Anything, "NGN", banks).Return(nil)
			},
		},
		{
			name: "cache down",
			setup: func(f *fixture) {
				f.banks.On("Get", mock.Anything, "NGN").Return(nil, errors.New("connection refused"))
				f.payment.On("ListBanks", mock.Anything, "NGN").Return(banks, nil)
				f.banks.On("Set", mock.Anything, "NGN", banks).Return(errors.New("connection refused"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			got, err := f.orch.ListBanks(context.Background(), "")

			require.NoError(t, err)
			assert.Equal(t, banks, got)
			f.assertExpectations(t)
		})
	}
}

func TestGetEscrowTransactionDetails_OutsiderForbidden(t *testing.T) {
	f := newFixture()
	escrowID := uuid.New()

	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusDepositSuccess, CreatedBy: uuid.New()}, nil)
	f.participants.On("ListByEscrowID", mock.Anything, escrowID).Return(escrowParties(escrowID, uuid.New(), uuid.New()), nil)

	_, err := f.orch.GetEscrowTransactionDetails(context.Background(), escrowID, user.Actor{ID: uuid.New()})

	require.Error(t, err)
	assert.Equal(t, shared.KindPermission, shared.KindOf(err))
	f.ledger.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
}

func TestResume_CompletedReleaseConverges(t *testing.T) {
	f := newFixture()
	escrowID, buyerID, sellerID := uuid.New(), uuid.New(), uuid.New()

	intent, err := outbox.NewMessage(outbox.KindEscrowRelease, escrowID.String(), "tr-1", releaseIntent{
		EscrowID:        escrowID,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		EscrowAccountID: "escrow-acc",
		SellerAccountID: "seller-acc",
		Amount:          500000,
	})
	require.NoError(t, err)
	intent.ID = 11

	f.ledger.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(tr ledger.Transfer) bool {
		return tr.ID == "tr-1"
	})).Return(nil)
	f.statements.On("Create", mock.Anything, mock.Anything).Return(false, nil)
	f.transactions.On("GetByID", mock.Anything, escrowID).
		Return(&escrow.Transaction{ID: escrowID, Status: escrow.StatusCompleted}, nil)
	f.activity.On("CreateOnce", mock.Anything, mock.Anything).Return(false, nil)
	f.outbox.On("UpdateStatus", mock.Anything, int64(11), shared.OutboxStatusProcessed).Return(nil)

	require.NoError(t, f.orch.Resume(context.Background(), intent))
	f.transactions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestResume_UnknownKind(t *testing.T) {
	f := newFixture()

	err := f.orch.Resume(context.Background(), &outbox.Message{Kind: outbox.KindEscrowDeposit})

	assert.Error(t, err)
}

func TestGetWallet_OpensOnFirstUse(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New(), Username: "ada"}

	f.wallets.On("GetByUserID", mock.Anything, actor.ID).
		Return(nil, wallet.ErrWalletNotFound{Entity: "wallet", Key: actor.ID.String()})
	f.ledger.On("NewID").Return("2001").Once()
	f.ledger.On("CreateAccount", mock.Anything, "2001", ledger.CodeUserWallet, testLedger).Return(nil)
	f.wallets.On("Create", mock.Anything, mock.AnythingOfType("*wallet.UserWallet")).
		Return(&wallet.UserWallet{ID: uuid.New(), UserID: actor.ID, LedgerAccountID: "2001"}, nil)
	f.ledger.On("GetBalance", mock.Anything, "2001").Return(int64(150050), nil)

	view, err := f.orch.GetWallet(context.Background(), actor)

	require.NoError(t, err)
	assert.Equal(t, "2001", view.Wallet.LedgerAccountID)
	assert.True(t, decimal.RequireFromString("1500.50").Equal(view.Balance))
	f.assertExpectations(t)
}

func TestGetWallet_BalanceTimeout(t *testing.T) {
	f := newFixture()
	actor := user.Actor{ID: uuid.New()}

	f.wallets.On("GetByUserID", mock.Anything, actor.ID).
		Return(&wallet.UserWallet{ID: uuid.New(), UserID: actor.ID, LedgerAccountID: "2002"}, nil)
	f.ledger.On("GetBalance", mock.Anything, "2002").Return(int64(0), shared.Timeout("balance lookup", context.DeadlineExceeded))

	_, err := f.orch.GetWallet(context.Background(), actor)

	require.Error(t, err)
	assert.Equal(t, shared.KindTimeout, shared.KindOf(err))
	f.assertExpectations(t)
}

func TestAddBankAccount(t *testing.T) {
	actor := user.Actor{ID: uuid.New()}

	t.Run("registers recipient and ledger account", func(t *testing.T) {
		f := newFixture()
		f.payment.On("ResolveBankAccount", mock.Anything, "0123456789", "044").
			Return(&payment.ResolvedAccount{AccountNumber: "0123456789", AccountName: "ADA OBI"}, nil)
		f.payment.On("CreateTransferRecipient", mock.Anything, payment.RecipientRequest{
			Name:          "ADA OBI",
			AccountNumber: "0123456789",
			BankCode:      "044",
			Currency:      "NGN",
		}).Return(&payment.Recipient{RecipientCode: "RCP_1", Active: true}, nil)
		f.ledger.On("NewID").Return("3001").Once()
		f.ledger.On("CreateAccount", mock.Anything, "3001", ledger.CodeBankAccount, testLedger).Return(nil)
		f.bankAccounts.On("Create", mock.Anything, mock.MatchedBy(func(b *wallet.BankAccount) bool {
			return b.UserID == actor.ID && b.RecipientCode == "RCP_1" && b.LedgerAccountID == "3001"
		})).Return(nil)

		account, err := f.orch.AddBankAccount(context.Background(), BankAccountInput{AccountNumber: " 0123456789 ", BankCode: "044"}, actor)

		require.NoError(t, err)
		assert.Equal(t, "ADA OBI", account.AccountName)
		assert.Equal(t, fixedNow, account.CreatedAt)
		f.assertExpectations(t)
	})

	t.Run("missing bank code", func(t *testing.T) {
		f := newFixture()

		_, err := f.orch.AddBankAccount(context.Background(), BankAccountInput{AccountNumber: "0123456789"}, actor)

		require.Error(t, err)
		assert.Equal(t, shared.KindExpected, shared.KindOf(err))
		f.assertExpectations(t)
	})

	t.Run("provider cannot resolve", func(t *testing.T) {
		f := newFixture()
		f.payment.On("ResolveBankAccount", mock.Anything, "0123456789", "044").Return(nil, errors.New("could not resolve account name"))

		_, err := f.orch.AddBankAccount(context.Background(), BankAccountInput{AccountNumber: "0123456789", BankCode: "044"}, actor)

		require.Error(t, err)
		f.ledger.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})
}

func TestListEscrowActivity(t *testing.T) {
	f := newFixture()
	escrowID := uuid.New()
	entries := []*activity.Entry{
		activity.NewEntry(activity.EntityEscrow, escrowID, activity.ActionEscrowExpired, "Escrow transaction expired before payment"),
	}

	f.activity.On("ListByEntity", mock.Anything, escrowID.String(), 20, 0).Return(entries, nil)
	f.activity.On("CountByEntity", mock.Anything, escrowID.String()).Return(int64(1), nil)

	got, total, err := f.orch.ListEscrowActivity(context.Background(), escrowID, 20, 0)

	require.NoError(t, err)
	assert.Equal(t, entries, got)
	assert.Equal(t, int64(1), total)
	f.assertExpectations(t)
}

func TestEnsureOrganizationAccount(t *testing.T) {
	f := newFixture()
	f.ledger.On("CreateAccount", mock.Anything, "1000", ledger.CodeCompanyAccount, testLedger).Return(nil).Once()

	require.NoError(t, f.orch.EnsureOrganizationAccount(context.Background()))

	f.ledger.On("CreateAccount", mock.Anything, "1000", ledger.CodeCompanyAccount, testLedger).Return(errors.New("cluster unavailable")).Once()

	assert.Error(t, f.orch.EnsureOrganizationAccount(context.Background()))
	f.assertExpectations(t)
}

func TestResolveBankAccount(t *testing.T) {
	f := newFixture()
	f.payment.On("ResolveBankAccount", mock.Anything, "0123456789", "044").
		Return(&payment.ResolvedAccount{AccountNumber: "0123456789", AccountName: "ADA OBI"}, nil)

	resolved, err := f.orch.ResolveBankAccount(context.Background(), BankAccountInput{AccountNumber: "0123456789 ", BankCode: "044"})

	require.NoError(t, err)
	assert.Equal(t, "ADA OBI", resolved.AccountName)

	_, err = f.orch.ResolveBankAccount(context.Background(), BankAccountInput{BankCode: "044"})
	assert.Equal(t, shared.KindExpected, shared.KindOf(err))
	f.assertExpectations(t)
}

func TestDeleteBankAccount(t *testing.T) {
	owner := user.Actor{ID: uuid.New()}
	accountID := uuid.New()

	tests := []struct {
		name         string
		actor        user.Actor
		setupMocks   func(f *fixture)
		expectedKind shared.ErrorKind
		expectErr    bool
	}{
		{
			name:  "owner deletes",
			actor: owner,
			setupMocks: func(f *fixture) {
				f.bankAccounts.On("GetByID", mock.Anything, accountID).Return(&wallet.BankAccount{ID: accountID, UserID: owner.ID}, nil)
				f.bankAccounts.On("SoftDelete", mock.Anything, accountID, owner.ID, fixedNow).Return(nil)
			},
		},
		{
			name:  "other user is forbidden",
			actor: user.Actor{ID: uuid.New()},
			setupMocks: func(f *fixture) {
				f.bankAccounts.On("GetByID", mock.Anything, accountID).Return(&wallet.BankAccount{ID: accountID, UserID: owner.ID}, nil)
			},
			expectedKind: shared.KindPermission,
			expectErr:    true,
		},
		{
			name:  "unknown account",
			actor: owner,
			setupMocks: func(f *fixture) {
				f.bankAccounts.On("GetByID", mock.Anything, accountID).
					Return(nil, wallet.ErrWalletNotFound{Entity: "bank account", Key: accountID.String()})
			},
			expectedKind: shared.KindNotFound,
			expectErr:    true,
		},
		{
			name:  "deleted concurrently",
			actor: owner,
			setupMocks: func(f *fixture) {
				f.bankAccounts.On("GetByID", mock.Anything, accountID).Return(&wallet.BankAccount{ID: accountID, UserID: owner.ID}, nil)
				f.bankAccounts.On("SoftDelete", mock.Anything, accountID, owner.ID, fixedNow).
					Return(wallet.ErrWalletNotFound{Entity: "bank account", Key: accountID.String()})
			},
			expectedKind: shared.KindNotFound,
			expectErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setupMocks(f)

			err := f.orch.DeleteBankAccount(context.Background(), accountID, tt.actor)

			if tt.expectErr {
				require.Error(t, err)
				assert.Equal(t, tt.expectedKind, shared.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			f.assertExpectations(t)
		})
	}
}
