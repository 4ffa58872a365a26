package audit

import (
	"context"
	"time"

	id "ratedesk/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	// EntryID is a ULID assigned when the event is recorded, so the trail
	// sorts chronologically by EntryID alone.
	EntryID       string           `json:"entry_id"`
	Timestamp     time.Time        `json:"timestamp"`
	NegotiationID id.NegotiationID `json:"negotiation_id"`
	// RateID is empty for negotiation-level events.
	RateID     string   `json:"rate_id,omitempty"`
	Actor      id.Actor `json:"actor"`
	Action     string   `json:"action"`
	FromStatus string   `json:"from_status,omitempty"`
	ToStatus   string   `json:"to_status,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
}

// Store persists audit events. Implementations must be append-only: events
// are never updated or deleted once written.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByNegotiation(ctx context.Context, negotiationID id.NegotiationID) ([]Event, error)
}
