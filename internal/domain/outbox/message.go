package outbox

import (
	"encoding/json"
	"time"

	"github.com/escrow-settlement/internal/domain/shared"
)

// Kind names the settlement step a message protects
type Kind string

const (
	KindEscrowDeposit    Kind = "escrow.deposit"
	KindEscrowRelease    Kind = "escrow.release"
	KindWalletWithdraw   Kind = "wallet.withdraw"
	KindWithdrawalSettle Kind = "withdrawal.settle"
)

// Message is a settlement intent: it is reserved before a ledger call with the
// transfer id that call will use, and processed once every follow-up write landed.
// Messages still pending after a crash are re-driven by the outbox poller.
type Message struct {
	ID            int64               `json:"id"`
	Kind          Kind                `json:"kind"`
	Reference     string              `json:"reference"`
	TransferID    string              `json:"transfer_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(kind Kind, reference, transferID string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Kind:       kind,
		Reference:  reference,
		TransferID: transferID,
		Payload:    data,
		Status:     shared.OutboxStatusPending,
		Attempts:   0,
		CreatedAt:  time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) IsProcessed() bool {
	return m.Status == shared.OutboxStatusProcessed
}

// Decode unmarshals the payload into v
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
