package models

import (
	"strings"

	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

// StepTemplate describes one sign-off step. TimeoutHours of zero means the
// step never times out.
type StepTemplate struct {
	Name         string `json:"name"`
	ApproverRole string `json:"approver_role"`
	Required     bool   `json:"required"`
	TimeoutHours int    `json:"timeout_hours"`
}

// WorkflowTemplate is the per-client definition instantiated for each
// negotiation that crosses the approval threshold. Step order is slice order.
type WorkflowTemplate struct {
	ClientID id.ClientID    `json:"client_id"`
	Name     string         `json:"name"`
	Steps    []StepTemplate `json:"steps"`
}

// NewWorkflowTemplate validates invariants at construction.
func NewWorkflowTemplate(clientID id.ClientID, name string, steps []StepTemplate) (*WorkflowTemplate, error) {
	if clientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "template name is required")
	}
	if len(steps) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "template needs at least one step")
	}
	for i, step := range steps {
		if strings.TrimSpace(step.Name) == "" {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "step %d: name is required", i+1)
		}
		if strings.TrimSpace(step.ApproverRole) == "" {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "step %d: approver role is required", i+1)
		}
		if step.TimeoutHours < 0 {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "step %d: timeout hours cannot be negative", i+1)
		}
	}

	return &WorkflowTemplate{ClientID: clientID, Name: name, Steps: steps}, nil
}
