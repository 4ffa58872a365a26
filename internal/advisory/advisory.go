// Package advisory consumes rate recommendations from the external advisory
// service. Recommendations are strictly informational: nothing in this
// package mutates a negotiation, and a suggestion only takes effect through
// an explicit decision call made by a person.
package advisory

//go:generate mockgen -source=advisory.go -destination=mocks/mocks.go -package=mocks Recommender

import (
	"context"

	"github.com/shopspring/decimal"
)

// Action is the advisory verdict for a rate.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionCounter Action = "COUNTER"
)

// Recommendation is the advisory service's opinion on a single rate.
// SuggestedAmount is set only when Action is COUNTER.
type Recommendation struct {
	RateID          string           `json:"rate_id"`
	Action          Action           `json:"action"`
	SuggestedAmount *decimal.Decimal `json:"suggested_amount,omitempty"`
	Confidence      float64          `json:"confidence"`
	Rationale       string           `json:"rationale,omitempty"`
}

// Recommender fetches the recommendation for one rate. Implementations
// return sentinel.ErrNotFound when the advisory service has no opinion on
// the rate and sentinel.ErrUnavailable when it cannot be reached.
type Recommender interface {
	Recommendation(ctx context.Context, rateID string) (*Recommendation, error)
}
