package models

import (
	dErrors "ratedesk/pkg/domain-errors"
)

// BulkAction is the decision applied across rates in one bulk call.
type BulkAction string

const (
	BulkActionApprove BulkAction = "approve"
	BulkActionReject  BulkAction = "reject"
	BulkActionCounter BulkAction = "counter"
)

// ParseBulkAction validates a wire action value.
func ParseBulkAction(raw string) (BulkAction, error) {
	switch a := BulkAction(raw); a {
	case BulkActionApprove, BulkActionReject, BulkActionCounter:
		return a, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown bulk action %q", raw)
	}
}

// BulkOutcome classifies one row of a bulk or batch-commit result.
type BulkOutcome string

const (
	BulkOutcomeSuccess          BulkOutcome = "success"
	BulkOutcomeValidationFailed BulkOutcome = "validation_failed"
	BulkOutcomeConflict         BulkOutcome = "conflict"
)

// BulkResultRow is the per-rate outcome of a bulk action or batch commit.
// The result always has exactly one row per requested rate id, in request
// order; duplicates get their own rows.
type BulkResultRow struct {
	RateID  string         `json:"rate_id"`
	Outcome BulkOutcome    `json:"outcome"`
	Detail  string         `json:"detail,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OutcomeForError classifies a per-item failure. Rule and input violations are
// fixable by changing the request; everything else conflicts with the
// negotiation's current state.
func OutcomeForError(err error) BulkOutcome {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeRuleViolation, dErrors.CodeValidation, dErrors.CodeInvalidAmount, dErrors.CodeInvalidInput:
		return BulkOutcomeValidationFailed
	default:
		return BulkOutcomeConflict
	}
}

// RowForError builds the failure row for one rate, carrying the structured
// detail the caller needs to render which rule failed and by how much.
func RowForError(rateID string, err error) BulkResultRow {
	detail := dErrors.MessageOf(err)
	if detail == "" {
		detail = "internal error"
	}
	return BulkResultRow{
		RateID:  rateID,
		Outcome: OutcomeForError(err),
		Detail:  detail,
		Details: dErrors.DetailsOf(err),
	}
}

// RowForSuccess builds the success row for one rate.
func RowForSuccess(rateID string) BulkResultRow {
	return BulkResultRow{RateID: rateID, Outcome: BulkOutcomeSuccess}
}
