package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBetPlaced       EventType = "bet_placed"
	EventBetResolved     EventType = "bet_resolved"
	EventBetSkipped      EventType = "bet_skipped"
	EventAutomationFault EventType = "automation_fault"
	EventStatusChanged   EventType = "status_changed"
	EventMessageReceived EventType = "message_received"
)

// Event is what the engine reports to the outside world. Only the fields
// relevant to Type are set.
type Event struct {
	Type  EventType `json:"type"`
	At    time.Time `json:"at"`
	RunID string    `json:"run_id,omitempty"`

	BetID     uint64           `json:"bet_id,omitempty"`
	RuleID    uint64           `json:"rule_id,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	BetType   string           `json:"bet_type,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Outcome   string           `json:"outcome,omitempty"`
	Profit    *decimal.Decimal `json:"profit,omitempty"`

	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	// Recoverable is set on faults the loop continues past.
	Recoverable bool `json:"recoverable,omitempty"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}
