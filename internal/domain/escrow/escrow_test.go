package escrow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewTransaction(t *testing.T) {
	creator := uuid.New()
	tx := NewTransaction("Logo design", "Two concepts", creator)

	assert.NotEqual(t, uuid.Nil, tx.ID)
	assert.Equal(t, StatusCreated, tx.Status)
	assert.Equal(t, creator, tx.CreatedBy)
	assert.Empty(t, tx.ReleaseCodeHash)
}

func TestRequest_IsExpired(t *testing.T) {
	now := time.Now()
	req := &Request{ExpiresAt: now}

	assert.True(t, req.IsExpired(now))
	assert.True(t, req.IsExpired(now.Add(time.Second)))
	assert.False(t, req.IsExpired(now.Add(-time.Second)))
}

func TestParticipants_ByRole(t *testing.T) {
	escrowID := uuid.New()
	seller := NewParticipant(escrowID, uuid.New(), shared.RoleSeller)
	buyer := NewParticipant(escrowID, uuid.New(), shared.RoleBuyer)
	buyer.Status = ParticipantInactive

	ps := Participants{seller, buyer}

	assert.Equal(t, seller, ps.ByRole(shared.RoleSeller))
	assert.Nil(t, ps.ByRole(shared.RoleBuyer))
}

func TestPaymentStatusFromProvider(t *testing.T) {
	assert.Equal(t, PaymentSuccess, PaymentStatusFromProvider("success"))
	assert.Equal(t, PaymentFailed, PaymentStatusFromProvider("failed"))
	assert.Equal(t, PaymentCancelled, PaymentStatusFromProvider("abandoned"))
	assert.Equal(t, PaymentPending, PaymentStatusFromProvider("ongoing"))
}

func TestErrNotFound_Is(t *testing.T) {
	err := fmt.Errorf("lookup: %w", ErrNotFound{Entity: "escrow transaction", Key: "abc"})

	assert.True(t, errors.Is(err, ErrNotFound{}))
	assert.True(t, errors.Is(err, ErrNotFound{Entity: "escrow transaction"}))
	assert.False(t, errors.Is(err, ErrNotFound{Entity: "escrow request"}))
	assert.False(t, errors.Is(err, ErrNotFound{Entity: "escrow transaction", Key: "xyz"}))
}
