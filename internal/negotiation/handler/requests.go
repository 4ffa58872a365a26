package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ratedesk/internal/negotiation/models"
	"ratedesk/internal/negotiation/service"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

const (
	maxMessageLen   = 2000
	maxProposalRows = 500
	maxBulkRows     = 500
)

// CreateNegotiationRequest is the HTTP request body for POST /negotiations.
type CreateNegotiationRequest struct {
	ClientID           string    `json:"client_id"`
	FirmID             string    `json:"firm_id"`
	SubmissionDeadline time.Time `json:"submission_deadline"`

	// Parsed values (populated by Validate)
	parsedClientID id.ClientID
	parsedFirmID   id.FirmID
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CreateNegotiationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.ClientID = strings.TrimSpace(r.ClientID)
	if r.ClientID == "" {
		return dErrors.New(dErrors.CodeValidation, "client_id is required")
	}
	clientID, err := id.ParseClientID(r.ClientID)
	if err != nil {
		return err
	}
	r.parsedClientID = clientID

	r.FirmID = strings.TrimSpace(r.FirmID)
	if r.FirmID == "" {
		return dErrors.New(dErrors.CodeValidation, "firm_id is required")
	}
	firmID, err := id.ParseFirmID(r.FirmID)
	if err != nil {
		return err
	}
	r.parsedFirmID = firmID

	if r.SubmissionDeadline.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "submission_deadline is required")
	}
	return nil
}

// Params returns the validated creation parameters.
func (r *CreateNegotiationRequest) Params() service.RequestParams {
	return service.RequestParams{
		ClientID:           r.parsedClientID,
		FirmID:             r.parsedFirmID,
		SubmissionDeadline: r.SubmissionDeadline,
	}
}

// ProposalLine is one proposed rate in a submission.
type ProposalLine struct {
	TimekeeperRef   string           `json:"timekeeper_ref"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	EffectiveDate   time.Time        `json:"effective_date"`
	ExpirationDate  *time.Time       `json:"expiration_date,omitempty"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount,omitempty"`
	PriorExpiration *time.Time       `json:"prior_expiration,omitempty"`
}

// SubmitProposalsRequest is the HTTP request body for
// POST /negotiations/{negotiationID}/proposals.
type SubmitProposalsRequest struct {
	Rates []ProposalLine `json:"rates"`
}

// Validate validates the proposal lines. Deeper checks such as currency
// format and date ordering stay with the domain model.
func (r *SubmitProposalsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Rates) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one rate line is required")
	}
	if len(r.Rates) > maxProposalRows {
		return dErrors.Newf(dErrors.CodeValidation, "at most %d rate lines per submission", maxProposalRows)
	}
	for i := range r.Rates {
		line := &r.Rates[i]
		line.TimekeeperRef = strings.TrimSpace(line.TimekeeperRef)
		if line.TimekeeperRef == "" {
			return dErrors.Newf(dErrors.CodeValidation, "rates[%d].timekeeper_ref is required", i)
		}
		if !line.Amount.IsPositive() {
			return dErrors.Newf(dErrors.CodeValidation, "rates[%d].amount must be positive", i)
		}
		line.Currency = strings.ToUpper(strings.TrimSpace(line.Currency))
		if line.Currency == "" {
			return dErrors.Newf(dErrors.CodeValidation, "rates[%d].currency is required", i)
		}
		if line.EffectiveDate.IsZero() {
			return dErrors.Newf(dErrors.CodeValidation, "rates[%d].effective_date is required", i)
		}
	}
	return nil
}

// Params returns the validated proposal parameters.
func (r *SubmitProposalsRequest) Params() []service.ProposalParams {
	params := make([]service.ProposalParams, 0, len(r.Rates))
	for _, line := range r.Rates {
		params = append(params, service.ProposalParams{
			TimekeeperRef:   line.TimekeeperRef,
			Amount:          line.Amount,
			Currency:        line.Currency,
			EffectiveDate:   line.EffectiveDate,
			ExpirationDate:  line.ExpirationDate,
			ApprovedAmount:  line.ApprovedAmount,
			PriorExpiration: line.PriorExpiration,
		})
	}
	return params
}

// DecisionRequest is the HTTP request body for the per-rate approve and
// reject endpoints.
type DecisionRequest struct {
	Message string `json:"message,omitempty"`
}

// Validate caps the optional message.
func (r *DecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Message) > maxMessageLen {
		return dErrors.Newf(dErrors.CodeValidation, "message must be at most %d characters", maxMessageLen)
	}
	r.Message = strings.TrimSpace(r.Message)
	return nil
}

// CounterRequest is the HTTP request body for
// POST /negotiations/{negotiationID}/counter. BaselineSeq is the rate
// version the caller countered against; a stale value is rejected so
// crossing counters cannot silently overwrite each other.
type CounterRequest struct {
	RateID      string          `json:"rate_id"`
	Amount      decimal.Decimal `json:"amount"`
	BaselineSeq int             `json:"baseline_seq"`
	Message     string          `json:"message,omitempty"`

	parsedRateID id.RateID
}

// Validate validates and parses the request.
func (r *CounterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.RateID = strings.TrimSpace(r.RateID)
	if r.RateID == "" {
		return dErrors.New(dErrors.CodeValidation, "rate_id is required")
	}
	rateID, err := id.ParseRateID(r.RateID)
	if err != nil {
		return err
	}
	r.parsedRateID = rateID

	if !r.Amount.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidAmount, "amount must be positive")
	}
	if r.BaselineSeq < 0 {
		return dErrors.New(dErrors.CodeValidation, "baseline_seq must not be negative")
	}
	if len(r.Message) > maxMessageLen {
		return dErrors.Newf(dErrors.CodeValidation, "message must be at most %d characters", maxMessageLen)
	}
	r.Message = strings.TrimSpace(r.Message)
	return nil
}

// ParsedRateID returns the validated rate id.
func (r *CounterRequest) ParsedRateID() id.RateID {
	return r.parsedRateID
}

// BulkActionParams carries the shared parameters of a bulk action.
type BulkActionParams struct {
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Message string           `json:"message,omitempty"`
}

// BulkActionRequest is the HTTP request body for
// POST /negotiations/{negotiationID}/bulk-action.
type BulkActionRequest struct {
	Action  string           `json:"action"`
	RateIDs []string         `json:"rate_ids"`
	Params  BulkActionParams `json:"params"`

	parsedAction  models.BulkAction
	parsedRateIDs []id.RateID
}

// Validate validates and parses the request.
func (r *BulkActionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Action = strings.TrimSpace(r.Action)
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	action, err := models.ParseBulkAction(r.Action)
	if err != nil {
		return err
	}
	r.parsedAction = action

	if len(r.RateIDs) > maxBulkRows {
		return dErrors.Newf(dErrors.CodeValidation, "at most %d rates per bulk action", maxBulkRows)
	}
	rateIDs := make([]id.RateID, 0, len(r.RateIDs))
	for i, raw := range r.RateIDs {
		rateID, err := id.ParseRateID(strings.TrimSpace(raw))
		if err != nil {
			return dErrors.Newf(dErrors.CodeValidation, "rate_ids[%d] is not a valid rate id", i)
		}
		rateIDs = append(rateIDs, rateID)
	}
	r.parsedRateIDs = rateIDs

	if len(r.Params.Message) > maxMessageLen {
		return dErrors.Newf(dErrors.CodeValidation, "params.message must be at most %d characters", maxMessageLen)
	}
	r.Params.Message = strings.TrimSpace(r.Params.Message)
	return nil
}

// ParsedAction returns the validated bulk action.
func (r *BulkActionRequest) ParsedAction() models.BulkAction {
	return r.parsedAction
}

// ParsedRateIDs returns the validated rate ids.
func (r *BulkActionRequest) ParsedRateIDs() []id.RateID {
	return r.parsedRateIDs
}

// BulkParams returns the validated shared parameters.
func (r *BulkActionRequest) BulkParams() service.BulkParams {
	return service.BulkParams{
		Amount:  r.Params.Amount,
		Message: r.Params.Message,
	}
}

// RealTimeRequest is the HTTP request body for
// PUT /negotiations/{negotiationID}/real-time.
type RealTimeRequest struct {
	Enabled *bool `json:"enabled"`
}

// Validate requires the enabled flag to be explicit.
func (r *RealTimeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Enabled == nil {
		return dErrors.New(dErrors.CodeValidation, "enabled is required")
	}
	return nil
}

// StepDecisionRequest is the HTTP request body for
// POST /negotiations/{negotiationID}/approve. StepID may be omitted; the
// decision then lands on the step currently awaiting one.
type StepDecisionRequest struct {
	StepID  string `json:"step_id,omitempty"`
	Approve *bool  `json:"approve"`
	Note    string `json:"note,omitempty"`

	parsedStepID id.StepID
}

// Validate validates and parses the request.
func (r *StepDecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Approve == nil {
		return dErrors.New(dErrors.CodeValidation, "approve is required")
	}

	r.StepID = strings.TrimSpace(r.StepID)
	if r.StepID != "" {
		stepID, err := id.ParseStepID(r.StepID)
		if err != nil {
			return err
		}
		r.parsedStepID = stepID
	}

	if len(r.Note) > maxMessageLen {
		return dErrors.Newf(dErrors.CodeValidation, "note must be at most %d characters", maxMessageLen)
	}
	r.Note = strings.TrimSpace(r.Note)
	return nil
}

// ParsedStepID returns the validated step id, or the zero id when the
// request left the step implicit.
func (r *StepDecisionRequest) ParsedStepID() id.StepID {
	return r.parsedStepID
}
