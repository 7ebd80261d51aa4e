package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outcome of processing one delivery
type Outcome string

const (
	OutcomeReceived  Outcome = "received"
	OutcomeQueued    Outcome = "queued"
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

// Record is the audit entry of one webhook delivery
type Record struct {
	ID          string     `json:"id" bson:"_id"`
	Event       string     `json:"event" bson:"event"`
	Reference   string     `json:"reference" bson:"reference"`
	Payload     string     `json:"payload" bson:"payload"`
	Outcome     Outcome    `json:"outcome" bson:"outcome"`
	Error       string     `json:"error,omitempty" bson:"error,omitempty"`
	ReceivedAt  time.Time  `json:"received_at" bson:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
}

func NewRecord(event Event, payload []byte) *Record {
	return &Record{
		ID:         uuid.NewString(),
		Event:      event.Name(),
		Reference:  event.Reference(),
		Payload:    string(payload),
		Outcome:    OutcomeReceived,
		ReceivedAt: time.Now(),
	}
}

// AuditRepository persists delivery records
type AuditRepository interface {
	Create(ctx context.Context, record *Record) error
	UpdateOutcome(ctx context.Context, id string, outcome Outcome, errMsg string) error
}

// Envelope carries a verified delivery through the webhook event queue
type Envelope struct {
	RecordID   string          `json:"record_id"`
	Signature  string          `json:"signature"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}
