package signal

import (
	"context"
	"time"

	"signalbet/internal/models"
)

type HealthStatus struct {
	Status     string         `json:"status"`
	LastPollAt *time.Time     `json:"last_poll_at,omitempty"`
	LastError  *string        `json:"last_error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Envelope is one inbound message together with the chat it arrived in.
type Envelope struct {
	Channel models.Channel
	Message models.Message
}

// Collector pulls messages from an external source and pushes them to the hub.
type Collector interface {
	Name() string
	Start(ctx context.Context, out chan<- Envelope) error
	Stop() error
	Health() HealthStatus
}
