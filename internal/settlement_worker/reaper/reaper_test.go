package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/domain/activity"
	"github.com/escrow-settlement/internal/domain/escrow"
	"github.com/escrow-settlement/internal/domain/user"
	"github.com/escrow-settlement/internal/metrics"
	"github.com/escrow-settlement/internal/notification"
)

type inlineTx struct{}

func (inlineTx) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// goPool runs every task on its own goroutine
type goPool struct{}

func (goPool) Go(task func()) error {
	go task()
	return nil
}

type closedPool struct{}

func (closedPool) Go(func()) error {
	return errors.New("pool closed")
}

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
	return args.Get(0).([]*activity.Entry), args.Error(1)
}

func (m *MockActivityRepo) CountByEntity(ctx context.Context, entityID string) (int64, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(int64), args.Error(1)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) forEscrow(id uuid.UUID) []*notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notification.Notification
	for _, n := range r.sent {
		if n.EscrowID == id.String() {
			out = append(out, n)
		}
	}
	return out
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	requests     *MockRequestRepo
	transactions *MockTransactionRepo
	users        *MockUserRepo
	activity     *MockActivityRepo
	notifier     *recordingNotifier
	reaper       *Reaper
}

func newFixture(pool Submitter) *fixture {
	f := &fixture{
		requests:     &MockRequestRepo{},
		transactions: &MockTransactionRepo{},
		users:        &MockUserRepo{},
		activity:     &MockActivityRepo{},
		notifier:     &recordingNotifier{},
	}
	f.reaper = New(config.ReaperConfig{Interval: time.Minute, BatchSize: 50}, Dependencies{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		TxRunner:     inlineTx{},
		Requests:     f.requests,
		Transactions: f.transactions,
		Users:        f.users,
		Activity:     f.activity,
		Notifier:     f.notifier,
		Pool:         pool,
	})
	f.reaper.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) list(requests ...*escrow.Request) {
	f.requests.On("ListExpiredUnprocessed", mock.Anything, fixedNow, escrow.StatusesAllowing(escrow.StatusExpired), 50).
		Return(requests, nil).Once()
}

// overdue returns a request whose window closed an hour ago and its escrow in status.
func overdue(status escrow.Status) (*escrow.Request, *escrow.Transaction) {
	tx := escrow.NewTransaction("Laptop", "MacBook Pro", uuid.New())
	tx.Status = status
	req := &escrow.Request{
		ID:               uuid.New(),
		EscrowID:         tx.ID,
		SenderID:         tx.CreatedBy,
		CustomerUsername: "ada",
		CustomerEmail:    "ada@example.com",
		ExpiresAt:        fixedNow.Add(-time.Hour),
	}
	return req, tx
}

func (f *fixture) expectExpiry(req *escrow.Request, tx *escrow.Transaction) {
	f.transactions.On("GetByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	f.activity.On("CreateOnce", mock.Anything, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.EntityID == tx.ID.String() && e.Action == activity.ActionEscrowExpired
	})).Return(true, nil).Once()
	f.transactions.On("UpdateStatus", mock.Anything, tx.ID, tx.Status, escrow.StatusExpired).Return(nil).Once()
	f.requests.On("MarkProcessed", mock.Anything, req.ID, fixedNow).Return(nil).Once()
	f.users.On("GetByID", mock.Anything, tx.CreatedBy).
		Return(&user.User{ID: tx.CreatedBy, Email: "vendor@example.com", FirstName: "Grace"}, nil).Once()
}

func TestSweep_ExpiresOverdueEscrows(t *testing.T) {
	f := newFixture(goPool{})
	createdReq, createdTx := overdue(escrow.StatusCreated)
	pendingReq, pendingTx := overdue(escrow.StatusDepositPending)
	f.list(createdReq, pendingReq)
	f.expectExpiry(createdReq, createdTx)
	f.expectExpiry(pendingReq, pendingTx)

	before := testutil.ToFloat64(metrics.ReaperExpiredTotal)

	count, err := f.reaper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ReaperExpiredTotal))

	sent := f.notifier.forEscrow(createdTx.ID)
	require.Len(t, sent, 2)
	emails := []string{sent[0].Email, sent[1].Email}
	assert.ElementsMatch(t, []string{"vendor@example.com", "ada@example.com"}, emails)
	for _, n := range sent {
		assert.Equal(t, notification.TypeEscrowExpired, n.Type)
	}

	f.transactions.AssertExpectations(t)
	f.requests.AssertExpectations(t)
	f.activity.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

func TestSweep_SkipsDispute(t *testing.T) {
	f := newFixture(goPool{})
	req, tx := overdue(escrow.StatusDispute)
	f.list(req)
	f.transactions.On("GetByID", mock.Anything, tx.ID).Return(tx, nil).Once()

	count, err := f.reaper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, count)
	f.transactions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.requests.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	f.activity.AssertNotCalled(t, "CreateOnce", mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.forEscrow(tx.ID))
}

func TestSweep_RecordFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(goPool{})
	brokenReq, brokenTx := overdue(escrow.StatusCreated)
	okReq, okTx := overdue(escrow.StatusCreated)
	f.list(brokenReq, okReq)
	f.transactions.On("GetByID", mock.Anything, brokenTx.ID).Return(nil, errors.New("connection reset")).Once()
	f.expectExpiry(okReq, okTx)

	count, err := f.reaper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.notifier.forEscrow(okTx.ID), 2)
	f.requests.AssertNotCalled(t, "MarkProcessed", mock.Anything, brokenReq.ID, mock.Anything)
}

func TestSweep_ConcurrentStatusChange(t *testing.T) {
	f := newFixture(goPool{})
	req, tx := overdue(escrow.StatusDepositPending)
	f.list(req)
	f.transactions.On("GetByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	f.activity.On("CreateOnce", mock.Anything, mock.Anything).Return(true, nil).Once()
	f.transactions.On("UpdateStatus", mock.Anything, tx.ID, escrow.StatusDepositPending, escrow.StatusExpired).
		Return(escrow.ErrConcurrentModification{EscrowID: tx.ID, Expected: escrow.StatusDepositPending}).Once()

	count, err := f.reaper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, count)
	f.requests.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.forEscrow(tx.ID))
}

func TestSweep_CreatorLookupFailureStillNotifiesCustomer(t *testing.T) {
	f := newFixture(goPool{})
	req, tx := overdue(escrow.StatusCreated)
	f.list(req)
	f.transactions.On("GetByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	f.activity.On("CreateOnce", mock.Anything, mock.Anything).Return(true, nil).Once()
	f.transactions.On("UpdateStatus", mock.Anything, tx.ID, escrow.StatusCreated, escrow.StatusExpired).Return(nil).Once()
	f.requests.On("MarkProcessed", mock.Anything, req.ID, fixedNow).Return(nil).Once()
	f.users.On("GetByID", mock.Anything, tx.CreatedBy).Return(nil, user.ErrUserNotFound{Key: tx.CreatedBy.String()}).Once()

	count, err := f.reaper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	sent := f.notifier.forEscrow(tx.ID)
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].Email)
	assert.Equal(t, "customer", sent[0].Data["receiver"])
}

func TestSweep_RunsInlineWhenPoolRejects(t *testing.T) {
	f := newFixture(closedPool{})
	req, tx := overdue(escrow.StatusCreated)
	f.list(req)
	f.expectExpiry(req, tx)

	count, err := f.reaper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweep_ListFailure(t *testing.T) {
	f := newFixture(goPool{})
	f.requests.On("ListExpiredUnprocessed", mock.Anything, fixedNow, mock.Anything, 50).
		Return(nil, errors.New("db error")).Once()

	count, err := f.reaper.Sweep(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list expired escrow requests")
	assert.Zero(t, count)
}

func TestReaper_Start(t *testing.T) {
	f := newFixture(goPool{})
	f.reaper.interval = 10 * time.Millisecond
	f.requests.On("ListExpiredUnprocessed", mock.Anything, mock.Anything, mock.Anything, 50).
		Return([]*escrow.Request{}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.reaper.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
