// Package events defines the domain events the negotiation engine emits and
// the publishers that deliver them. Delivery is best-effort: negotiation
// state never depends on an event reaching a consumer.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	id "ratedesk/pkg/domain"
)

// Kind identifies the event type on the wire.
type Kind string

const (
	KindRateProposed         Kind = "rate.proposed"
	KindRateCountered        Kind = "rate.countered"
	KindApprovalStepDecided  Kind = "approval.step_decided"
	KindNegotiationCompleted Kind = "negotiation.completed"
)

// Event is the envelope published for every negotiation fact consumers may
// care about. ID is a ULID, so events from one producer sort in emit order.
type Event struct {
	ID            string           `json:"id"`
	Kind          Kind             `json:"kind"`
	OccurredAt    time.Time        `json:"occurred_at"`
	NegotiationID id.NegotiationID `json:"negotiation_id"`
	ClientID      id.ClientID      `json:"client_id"`
	FirmID        id.FirmID        `json:"firm_id"`
	RateID        string           `json:"rate_id,omitempty"`
	Actor         id.Actor         `json:"actor"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Status        string           `json:"status,omitempty"`
	Detail        string           `json:"detail,omitempty"`
}

// New stamps an event envelope with a fresh id and timestamp.
func New(kind Kind, occurredAt time.Time) Event {
	return Event{ID: id.NewEntryID(), Kind: kind, OccurredAt: occurredAt}
}

// Publisher delivers events to whatever transport is wired in. Implementations
// must not block on slow consumers; callers treat errors as log-and-continue.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event. Used when no transport is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
