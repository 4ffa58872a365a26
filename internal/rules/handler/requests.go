package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"ratedesk/internal/rules"
	"ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

// PutRuleRequest is the HTTP request body for PUT /clients/{clientID}/rate-rules.
type PutRuleRequest struct {
	FreezePeriodDays   int            `json:"freeze_period_days"`
	NoticeRequiredDays int            `json:"notice_required_days"`
	MaxIncreasePercent string         `json:"max_increase_percent"`
	Window             *WindowRequest `json:"submission_window,omitempty"`

	// Parsed values (populated by Validate)
	parsedMaxIncrease decimal.Decimal
}

// WindowRequest is the recurring annual submission window.
type WindowRequest struct {
	StartMonth int `json:"start_month"`
	StartDay   int `json:"start_day"`
	EndMonth   int `json:"end_month"`
	EndDay     int `json:"end_day"`
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *PutRuleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.MaxIncreasePercent == "" {
		return dErrors.New(dErrors.CodeValidation, "max_increase_percent is required")
	}
	pct, err := decimal.NewFromString(r.MaxIncreasePercent)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "max_increase_percent is not a valid decimal")
	}
	r.parsedMaxIncrease = pct

	// Range checks happen in rules.NewRule; this only guards shape.
	return nil
}

// Params maps the request onto service parameters.
func (r *PutRuleRequest) Params(clientID domain.ClientID) rules.PutParams {
	params := rules.PutParams{
		ClientID:           clientID,
		FreezePeriodDays:   r.FreezePeriodDays,
		NoticeRequiredDays: r.NoticeRequiredDays,
		MaxIncreasePercent: r.parsedMaxIncrease,
	}
	if r.Window != nil {
		params.Window = &rules.SubmissionWindow{
			StartMonth: time.Month(r.Window.StartMonth),
			StartDay:   r.Window.StartDay,
			EndMonth:   time.Month(r.Window.EndMonth),
			EndDay:     r.Window.EndDay,
		}
	}
	return params
}

// RuleResponse is the wire form of a client rate rule.
type RuleResponse struct {
	ID                 string         `json:"id"`
	ClientID           string         `json:"client_id"`
	FreezePeriodDays   int            `json:"freeze_period_days"`
	NoticeRequiredDays int            `json:"notice_required_days"`
	MaxIncreasePercent string         `json:"max_increase_percent"`
	Window             *WindowRequest `json:"submission_window,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// FromRule maps a domain rule onto the wire form.
func FromRule(rule *rules.RateRule) RuleResponse {
	resp := RuleResponse{
		ID:                 rule.ID.String(),
		ClientID:           rule.ClientID.String(),
		FreezePeriodDays:   rule.FreezePeriodDays,
		NoticeRequiredDays: rule.NoticeRequiredDays,
		MaxIncreasePercent: rule.MaxIncreasePercent.String(),
		UpdatedAt:          rule.UpdatedAt,
	}
	if w := rule.Window; w != nil {
		resp.Window = &WindowRequest{
			StartMonth: int(w.StartMonth),
			StartDay:   w.StartDay,
			EndMonth:   int(w.EndMonth),
			EndDay:     w.EndDay,
		}
	}
	return resp
}
