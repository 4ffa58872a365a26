package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

// Rate is one timekeeper rate-line proposal within a negotiation.
//
// Invariants:
//   - Amount is strictly positive
//   - History is append-only, never mutated or reordered
//   - Amount, Type, and Status always equal the last history entry's values
//   - APPROVED and REJECTED are terminal; decisions are not retractable
//
// ApprovedAmount and PriorExpiration describe the timekeeper's existing
// approved rate, when one exists. They are the baseline for the percentage
// increase and freeze period checks and are immutable after construction.
type Rate struct {
	ID              id.RateID         `json:"id"`
	TimekeeperRef   string            `json:"timekeeper_ref"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Type            ProposalType      `json:"type"`
	Status          RateStatus        `json:"status"`
	EffectiveDate   time.Time         `json:"effective_date"`
	ExpirationDate  *time.Time        `json:"expiration_date,omitempty"`
	ApprovedAmount  *decimal.Decimal  `json:"approved_amount,omitempty"`
	PriorExpiration *time.Time        `json:"prior_expiration,omitempty"`
	History         []RateHistoryItem `json:"history"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewRate creates a DRAFT rate with its first history entry. The caller
// submits it via CanSubmit/ApplySubmit once the proposal set is assembled.
func NewRate(
	rateID id.RateID,
	timekeeperRef string,
	amount decimal.Decimal,
	currency string,
	effectiveDate time.Time,
	expirationDate *time.Time,
	approvedAmount *decimal.Decimal,
	priorExpiration *time.Time,
	actor id.Actor,
	now time.Time,
) (*Rate, error) {
	if timekeeperRef == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "timekeeper reference cannot be empty")
	}
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "rate amount must be positive").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "currency must be a 3-letter ISO code")
	}
	if effectiveDate.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "effective date is required")
	}
	if expirationDate != nil && !expirationDate.After(effectiveDate) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expiration date must follow effective date")
	}
	if approvedAmount != nil && !approvedAmount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "approved baseline amount must be positive")
	}
	r := &Rate{
		ID:              rateID,
		TimekeeperRef:   timekeeperRef,
		Amount:          amount,
		Currency:        currency,
		Type:            ProposalTypeProposed,
		Status:          RateStatusDraft,
		EffectiveDate:   effectiveDate,
		ExpirationDate:  expirationDate,
		ApprovedAmount:  approvedAmount,
		PriorExpiration: priorExpiration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.appendEntry(actor, now, "")
	return r, nil
}

// Seq is the rate's history sequence number. A counter carries the Seq it was
// composed against; a mismatch means the rate advanced underneath it.
func (r *Rate) Seq() int {
	return len(r.History)
}

// LastEntry returns the most recent history entry, or nil for an empty history.
func (r *Rate) LastEntry() *RateHistoryItem {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// PendingCounterSide returns the side whose counter is awaiting a response.
// Only meaningful while Status is COUNTER_PROPOSED.
func (r *Rate) PendingCounterSide() id.Side {
	if r.Status != RateStatusCounterProposed {
		return ""
	}
	return r.History[len(r.History)-1].Actor.Side
}

// CanSubmit checks the draft → submitted transition.
func (r *Rate) CanSubmit() error {
	if r.Status != RateStatusDraft {
		return dErrors.New(dErrors.CodeInvalidTransition, "rate has already been submitted").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "status": r.Status.String()})
	}
	return nil
}

// ApplySubmit marks the rate submitted. Call CanSubmit first.
func (r *Rate) ApplySubmit(actor id.Actor, now time.Time) {
	r.Status = RateStatusSubmitted
	r.appendEntry(actor, now, "")
	r.UpdatedAt = now
}

// CanBeginReview checks the submitted → under review transition.
func (r *Rate) CanBeginReview() error {
	if r.Status != RateStatusSubmitted {
		return dErrors.New(dErrors.CodeInvalidTransition, "rate is not awaiting review").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "status": r.Status.String()})
	}
	return nil
}

// ApplyBeginReview moves the rate under review. Call CanBeginReview first.
func (r *Rate) ApplyBeginReview(actor id.Actor, now time.Time) {
	r.Status = RateStatusUnderReview
	r.appendEntry(actor, now, "")
	r.UpdatedAt = now
}

// CanCounter checks whether side may counter at amount. Countering is legal
// from SUBMITTED or UNDER_REVIEW, and from COUNTER_PROPOSED only when the
// pending counter came from the opposite side. baselineSeq is the history
// sequence the counter was composed against; a stale baseline loses the
// tie-break and must be recomposed against the current state.
func (r *Rate) CanCounter(side id.Side, amount decimal.Decimal, baselineSeq int) error {
	if !amount.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidAmount, "counter amount must be positive").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "amount": amount.String()})
	}
	switch r.Status {
	case RateStatusSubmitted, RateStatusUnderReview:
	case RateStatusCounterProposed:
		if r.PendingCounterSide() == side {
			return dErrors.New(dErrors.CodeInvalidTransition, "a counter from this side is already pending").
				WithDetails(map[string]any{"rate_id": r.ID.String()})
		}
	case RateStatusApproved, RateStatusRejected:
		return dErrors.New(dErrors.CodeAlreadyTerminal, "rate has already been decided").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "status": r.Status.String()})
	default:
		return dErrors.New(dErrors.CodeInvalidTransition, "rate cannot be countered before submission").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "status": r.Status.String()})
	}
	if baselineSeq != r.Seq() {
		return dErrors.New(dErrors.CodeStaleCounter, "rate advanced past the counter's baseline; resubmit against the current state").
			WithDetails(map[string]any{
				"rate_id":      r.ID.String(),
				"baseline_seq": baselineSeq,
				"current_seq":  r.Seq(),
			})
	}
	return nil
}

// ApplyCounter records a counter-proposal. Call CanCounter first.
func (r *Rate) ApplyCounter(amount decimal.Decimal, actor id.Actor, message string, now time.Time) {
	r.Amount = amount
	r.Type = ProposalTypeCounterProposed
	r.Status = RateStatusCounterProposed
	r.appendEntry(actor, now, message)
	r.UpdatedAt = now
}

// CanDecide checks whether a terminal decision may be recorded.
func (r *Rate) CanDecide() error {
	switch r.Status {
	case RateStatusUnderReview, RateStatusCounterProposed:
		return nil
	case RateStatusApproved, RateStatusRejected:
		return dErrors.New(dErrors.CodeAlreadyTerminal, "rate has already been decided").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "status": r.Status.String()})
	default:
		return dErrors.New(dErrors.CodeInvalidTransition, "rate is not ready for a decision").
			WithDetails(map[string]any{"rate_id": r.ID.String(), "status": r.Status.String()})
	}
}

// ApplyDecide records the terminal decision. Call CanDecide first.
// Approval fixes the current amount as the agreed one.
func (r *Rate) ApplyDecide(approve bool, actor id.Actor, message string, now time.Time) {
	if approve {
		r.Status = RateStatusApproved
		r.Type = ProposalTypeApproved
	} else {
		r.Status = RateStatusRejected
	}
	r.appendEntry(actor, now, message)
	r.UpdatedAt = now
}

func (r *Rate) appendEntry(actor id.Actor, now time.Time, message string) {
	r.History = append(r.History, RateHistoryItem{
		EntryID:   id.NewEntryID(),
		Amount:    r.Amount,
		Type:      r.Type,
		Status:    r.Status,
		Actor:     actor,
		Timestamp: now,
		Message:   message,
	})
}
