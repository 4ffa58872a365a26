package models

import (
	"fmt"
)

// Status is the aggregate negotiation status.
//
// Forward path:
//
//	REQUESTED → SUBMITTED → UNDER_REVIEW → {CLIENT_APPROVED, CLIENT_REJECTED, CLIENT_COUNTERED}
//	          → {FIRM_ACCEPTED, FIRM_COUNTERED} → PENDING_APPROVAL → {APPROVED, REJECTED}
//	          → COMPLETED → EXPORTED
//
// EXPIRED is reachable from any non-terminal status once the submission
// deadline elapses. CLIENT_REJECTED permits a retry submission; REJECTED
// (workflow outcome) is terminal.
type Status string

const (
	StatusRequested       Status = "REQUESTED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusUnderReview     Status = "UNDER_REVIEW"
	StatusClientApproved  Status = "CLIENT_APPROVED"
	StatusClientRejected  Status = "CLIENT_REJECTED"
	StatusClientCountered Status = "CLIENT_COUNTERED"
	StatusFirmAccepted    Status = "FIRM_ACCEPTED"
	StatusFirmCountered   Status = "FIRM_COUNTERED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusCompleted       Status = "COMPLETED"
	StatusExported        Status = "EXPORTED"
	StatusExpired         Status = "EXPIRED"
)

// statusTransitions is the adjacency map of legal aggregate transitions.
// Countered statuses are deliberately permissive: resolving a pending counter
// can land anywhere the underlying rates dictate, including back in
// UNDER_REVIEW when other rates are still open.
var statusTransitions = map[Status][]Status{
	StatusRequested:   {StatusSubmitted, StatusExpired},
	StatusSubmitted:   {StatusUnderReview, StatusExpired},
	StatusUnderReview: {StatusClientApproved, StatusClientRejected, StatusClientCountered, StatusFirmAccepted, StatusFirmCountered, StatusExpired},
	StatusClientApproved:  {StatusPendingApproval, StatusCompleted, StatusExpired},
	StatusClientRejected:  {StatusSubmitted, StatusExpired},
	StatusClientCountered: {StatusUnderReview, StatusClientApproved, StatusClientRejected, StatusFirmAccepted, StatusFirmCountered, StatusExpired},
	StatusFirmAccepted:    {StatusPendingApproval, StatusCompleted, StatusExpired},
	StatusFirmCountered:   {StatusUnderReview, StatusClientApproved, StatusClientRejected, StatusClientCountered, StatusFirmAccepted, StatusExpired},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:        {StatusCompleted, StatusExpired},
	StatusRejected:        {},
	StatusCompleted:       {StatusExported},
	StatusExported:        {},
	StatusExpired:         {},
}

// CanTransitionTo reports whether next is a legal successor of s. The guards
// on submission, approval hand-off, completion, export, and expiry all route
// through this table, so it cannot drift from them.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the negotiation has reached a final state.
// CompletionDate is set exactly when a terminal status is entered.
// EXPORTED follows COMPLETED as post-completion bookkeeping and is terminal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusExported, StatusExpired:
		return true
	default:
		return false
	}
}

// AcceptsRateActions reports whether per-rate decisions and counters may be
// recorded while the aggregate is in this status.
func (s Status) AcceptsRateActions() bool {
	switch s {
	case StatusSubmitted, StatusUnderReview, StatusClientCountered, StatusFirmCountered:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// ParseStatus validates a stored or wire status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := statusTransitions[s]; !ok {
		return "", fmt.Errorf("unknown negotiation status %q", raw)
	}
	return s, nil
}

// RateStatus is the per-rate lifecycle status.
//
//	DRAFT → SUBMITTED → UNDER_REVIEW → {APPROVED, REJECTED, COUNTER_PROPOSED}
//
// COUNTER_PROPOSED loops: the opposite side may counter again or decide.
// APPROVED and REJECTED are terminal; decisions are not retractable.
type RateStatus string

const (
	RateStatusDraft           RateStatus = "DRAFT"
	RateStatusSubmitted       RateStatus = "SUBMITTED"
	RateStatusUnderReview     RateStatus = "UNDER_REVIEW"
	RateStatusApproved        RateStatus = "APPROVED"
	RateStatusRejected        RateStatus = "REJECTED"
	RateStatusCounterProposed RateStatus = "COUNTER_PROPOSED"
)

func (s RateStatus) IsTerminal() bool {
	return s == RateStatusApproved || s == RateStatusRejected
}

func (s RateStatus) String() string { return string(s) }

// ParseRateStatus validates a stored or wire rate status value.
func ParseRateStatus(raw string) (RateStatus, error) {
	switch s := RateStatus(raw); s {
	case RateStatusDraft, RateStatusSubmitted, RateStatusUnderReview,
		RateStatusApproved, RateStatusRejected, RateStatusCounterProposed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown rate status %q", raw)
	}
}

// ProposalType labels what a rate amount represents at a point in its history.
type ProposalType string

const (
	// ProposalTypeStandard is a firm's standard rate-card amount.
	ProposalTypeStandard ProposalType = "STANDARD"
	// ProposalTypeApproved is an amount that has been agreed.
	ProposalTypeApproved ProposalType = "APPROVED"
	// ProposalTypeProposed is a newly proposed amount awaiting review.
	ProposalTypeProposed ProposalType = "PROPOSED"
	// ProposalTypeCounterProposed is a revised amount offered against a prior one.
	ProposalTypeCounterProposed ProposalType = "COUNTER_PROPOSED"
)

func (t ProposalType) String() string { return string(t) }

// ParseProposalType validates a stored or wire proposal type value.
func ParseProposalType(raw string) (ProposalType, error) {
	switch t := ProposalType(raw); t {
	case ProposalTypeStandard, ProposalTypeApproved, ProposalTypeProposed, ProposalTypeCounterProposed:
		return t, nil
	default:
		return "", fmt.Errorf("unknown proposal type %q", raw)
	}
}

// ApprovalState mirrors the outcome of the sign-off workflow on the aggregate.
type ApprovalState string

const (
	ApprovalStateNone     ApprovalState = "NONE"
	ApprovalStatePending  ApprovalState = "PENDING"
	ApprovalStateApproved ApprovalState = "APPROVED"
	ApprovalStateRejected ApprovalState = "REJECTED"
)

func (a ApprovalState) String() string { return string(a) }

// Action labels a negotiation history entry.
type Action string

const (
	ActionRequested          Action = "requested"
	ActionProposalsSubmitted Action = "proposals_submitted"
	ActionReviewStarted      Action = "review_started"
	ActionRateApproved       Action = "rate_approved"
	ActionRateRejected       Action = "rate_rejected"
	ActionRateCountered      Action = "rate_countered"
	ActionDecisionStaged     Action = "decision_staged"
	ActionBatchCommitted     Action = "batch_committed"
	ActionModeChanged        Action = "mode_changed"
	ActionApprovalStarted    Action = "approval_started"
	ActionApprovalFinished   Action = "approval_finished"
	ActionExpired            Action = "expired"
	ActionCompleted          Action = "completed"
	ActionExported           Action = "exported"
)
