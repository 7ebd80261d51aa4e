// Package webhook models the provider notifications the reconciler consumes.
package webhook

import (
	"encoding/json"
	"strings"
)

// Provider event names
const (
	EventChargeSuccess    = "charge.success"
	EventChargeFailed     = "charge.failed"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

// Event is the closed set of notifications. Dispatch switches on the concrete type.
type Event interface {
	Name() string
	Reference() string
	isEvent()
}

// CustomerDetails identifies the payer as embedded in the session metadata
type CustomerDetails struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

// ChargeMetadata is the metadata attached to a payment session
type ChargeMetadata struct {
	EscrowID        string          `json:"escrowId"`
	CustomerDetails CustomerDetails `json:"customerDetails"`
	RelatedUserID   string          `json:"relatedUserId"`
}

// Charge is the data of a charge notification
type Charge struct {
	Ref      string         `json:"reference"`
	Amount   int64          `json:"amount"`
	Status   string         `json:"status"`
	Channel  string         `json:"channel"`
	Currency string         `json:"currency"`
	Metadata ChargeMetadata `json:"-"`
}

// Transfer is the data of a payout notification
type Transfer struct {
	Ref          string `json:"reference"`
	Amount       int64  `json:"amount"`
	Status       string `json:"status"`
	TransferCode string `json:"transfer_code"`
	Reason       string `json:"reason"`
}

type ChargeSuccess struct{ Charge }
type ChargeFailed struct{ Charge }
type TransferSuccess struct{ Transfer }
type TransferFailed struct{ Transfer }
type TransferReversed struct{ Transfer }

// Unknown carries any notification outside the handled set
type Unknown struct {
	Event string
	Ref   string
}

func (ChargeSuccess) Name() string    { return EventChargeSuccess }
func (ChargeFailed) Name() string     { return EventChargeFailed }
func (TransferSuccess) Name() string  { return EventTransferSuccess }
func (TransferFailed) Name() string   { return EventTransferFailed }
func (TransferReversed) Name() string { return EventTransferReversed }
func (u Unknown) Name() string        { return u.Event }

func (e ChargeSuccess) Reference() string    { return e.Ref }
func (e ChargeFailed) Reference() string     { return e.Ref }
func (e TransferSuccess) Reference() string  { return e.Ref }
func (e TransferFailed) Reference() string   { return e.Ref }
func (e TransferReversed) Reference() string { return e.Ref }
func (u Unknown) Reference() string          { return u.Ref }

func (ChargeSuccess) isEvent()    {}
func (ChargeFailed) isEvent()     {}
func (TransferSuccess) isEvent()  {}
func (TransferFailed) isEvent()   {}
func (TransferReversed) isEvent() {}
func (Unknown) isEvent()          {}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type referenceOnly struct {
	Reference string `json:"reference"`
}

// Resolve parses a verified payload. It never fails: malformed or unfamiliar
// payloads resolve to Unknown.
func Resolve(payload []byte) Event {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Unknown{}
	}

	switch env.Event {
	case EventChargeSuccess, EventChargeFailed:
		charge, err := decodeCharge(env.Data)
		if err != nil {
			return Unknown{Event: env.Event}
		}
		if env.Event == EventChargeSuccess {
			return ChargeSuccess{Charge: charge}
		}
		return ChargeFailed{Charge: charge}
	case EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		var transfer Transfer
		if err := json.Unmarshal(env.Data, &transfer); err != nil {
			return Unknown{Event: env.Event}
		}
		switch env.Event {
		case EventTransferSuccess:
			return TransferSuccess{Transfer: transfer}
		case EventTransferFailed:
			return TransferFailed{Transfer: transfer}
		default:
			return TransferReversed{Transfer: transfer}
		}
	default:
		var ref referenceOnly
		_ = json.Unmarshal(env.Data, &ref)
		return Unknown{Event: env.Event, Ref: ref.Reference}
	}
}

func decodeCharge(data json.RawMessage) (Charge, error) {
	var raw struct {
		Charge
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Charge{}, err
	}
	charge := raw.Charge
	charge.Metadata = decodeMetadata(raw.Metadata)
	return charge, nil
}

// decodeMetadata accepts both an object and the JSON-encoded string form the
// provider sends when metadata was submitted as a string.
func decodeMetadata(raw json.RawMessage) ChargeMetadata {
	var md ChargeMetadata
	if len(raw) == 0 {
		return md
	}
	if strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return md
		}
		raw = json.RawMessage(s)
	}
	_ = json.Unmarshal(raw, &md)
	return md
}
