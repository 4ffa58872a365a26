package models

import (
	"time"

	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

// WorkflowStatus is the overall state of a sign-off workflow.
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowApproved   WorkflowStatus = "APPROVED"
	WorkflowRejected   WorkflowStatus = "REJECTED"
	WorkflowTimedOut   WorkflowStatus = "TIMED_OUT"
)

// StepStatus is the state of one step.
//
// Steps start NOT_STARTED and become PENDING one at a time in order; exactly
// one step is PENDING while the workflow is IN_PROGRESS. SKIPPED marks steps
// that never ran because an earlier required step rejected or timed out.
type StepStatus string

const (
	StepNotStarted StepStatus = "NOT_STARTED"
	StepPending    StepStatus = "PENDING"
	StepApproved   StepStatus = "APPROVED"
	StepRejected   StepStatus = "REJECTED"
	StepTimedOut   StepStatus = "TIMED_OUT"
	StepSkipped    StepStatus = "SKIPPED"
)

// Step is one sign-off in a workflow instance. TimeoutHours is copied from
// the template so activation can compute the deadline without a template
// lookup.
type Step struct {
	ID           id.StepID  `json:"id"`
	Order        int        `json:"order"`
	Name         string     `json:"name"`
	ApproverRole string     `json:"approver_role"`
	Required     bool       `json:"required"`
	TimeoutHours int        `json:"timeout_hours,omitempty"`
	Status       StepStatus `json:"status"`
	// Deadline is set when the step becomes PENDING; nil means no timeout.
	Deadline  *time.Time `json:"deadline,omitempty"`
	DecidedBy *id.Actor  `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// Workflow is a sign-off workflow instance bound to one negotiation.
type Workflow struct {
	ID            id.WorkflowID    `json:"id"`
	NegotiationID id.NegotiationID `json:"negotiation_id"`
	ClientID      id.ClientID      `json:"client_id"`
	TemplateName  string           `json:"template_name"`
	Status        WorkflowStatus   `json:"status"`
	Steps         []*Step          `json:"steps"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// NewWorkflow instantiates a template: steps in template order, the first
// PENDING, the rest NOT_STARTED.
func NewWorkflow(workflowID id.WorkflowID, negotiationID id.NegotiationID, template *WorkflowTemplate, now time.Time) (*Workflow, error) {
	if workflowID.IsNil() || negotiationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "workflow and negotiation ids are required")
	}
	if template == nil || len(template.Steps) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "workflow template with steps is required")
	}

	w := &Workflow{
		ID:            workflowID,
		NegotiationID: negotiationID,
		ClientID:      template.ClientID,
		TemplateName:  template.Name,
		Status:        WorkflowInProgress,
		Steps:         make([]*Step, 0, len(template.Steps)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, st := range template.Steps {
		step := &Step{
			ID:           id.NewStepID(),
			Order:        i + 1,
			Name:         st.Name,
			ApproverRole: st.ApproverRole,
			Required:     st.Required,
			TimeoutHours: st.TimeoutHours,
			Status:       StepNotStarted,
		}
		if i == 0 {
			step.Status = StepPending
			step.Deadline = stepDeadline(st.TimeoutHours, now)
		}
		w.Steps = append(w.Steps, step)
	}
	return w, nil
}

func stepDeadline(timeoutHours int, from time.Time) *time.Time {
	if timeoutHours <= 0 {
		return nil
	}
	d := from.Add(time.Duration(timeoutHours) * time.Hour)
	return &d
}

// Finished reports whether the workflow reached a terminal status.
func (w *Workflow) Finished() bool { return w.Status != WorkflowInProgress }

// Approved reports whether the workflow finished with every required step
// approved.
func (w *Workflow) Approved() bool { return w.Status == WorkflowApproved }

// PendingStep returns the single active step, or nil when the workflow is
// finished.
func (w *Workflow) PendingStep() *Step {
	for _, step := range w.Steps {
		if step.Status == StepPending {
			return step
		}
	}
	return nil
}

// NextDeadline is the active step's deadline, nil when there is none. Stores
// denormalize it for the timeout sweep.
func (w *Workflow) NextDeadline() *time.Time {
	if step := w.PendingStep(); step != nil {
		return step.Deadline
	}
	return nil
}

func (w *Workflow) StepByID(stepID id.StepID) (*Step, error) {
	for _, step := range w.Steps {
		if step.ID == stepID {
			return step, nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "step %s is not part of the workflow", stepID)
}

// CanDecideStep validates that stepID is the active step and the actor holds
// its approver role.
func (w *Workflow) CanDecideStep(stepID id.StepID, actor id.Actor) error {
	if w.Finished() {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "workflow is %s; no further decisions accepted", w.Status)
	}
	step, err := w.StepByID(stepID)
	if err != nil {
		return err
	}
	if step.Status != StepPending {
		return dErrors.New(dErrors.CodeStepNotPending, "step is not the active step").
			WithDetails(map[string]any{"step_id": step.ID.String(), "step_status": string(step.Status), "order": step.Order})
	}
	if actor.Role != step.ApproverRole {
		return dErrors.Newf(dErrors.CodeForbidden, "step %q requires role %q", step.Name, step.ApproverRole)
	}
	return nil
}

// ApplyDecideStep records the decision. Approving advances to the next step
// or finishes the workflow; rejecting a required step finishes it REJECTED
// and skips the remaining steps; rejecting an optional step just advances.
func (w *Workflow) ApplyDecideStep(stepID id.StepID, approve bool, actor id.Actor, note string, now time.Time) {
	step, err := w.StepByID(stepID)
	if err != nil {
		return
	}

	if approve {
		step.Status = StepApproved
	} else {
		step.Status = StepRejected
	}
	step.DecidedBy = &actor
	step.DecidedAt = &now
	step.Note = note

	if !approve && step.Required {
		w.finish(WorkflowRejected, now)
	} else {
		w.advance(now)
	}
	w.UpdatedAt = now
}

// CheckTimeouts moves overdue pending steps forward as of asOf. An optional
// step that times out counts as an implicit approval; a required one finishes
// the workflow TIMED_OUT. Returns true when anything changed, false on
// repeat calls, which makes the external timer's retries harmless.
func (w *Workflow) CheckTimeouts(asOf time.Time) bool {
	changed := false
	for {
		if w.Finished() {
			return changed
		}
		step := w.PendingStep()
		if step == nil || step.Deadline == nil || !asOf.After(*step.Deadline) {
			return changed
		}

		changed = true
		step.Status = StepTimedOut
		step.DecidedAt = &asOf
		if step.Required {
			w.finish(WorkflowTimedOut, asOf)
		} else {
			w.advance(asOf)
		}
		w.UpdatedAt = asOf
	}
}

// advance activates the next not-started step, or finishes APPROVED when all
// steps have run. Reaching the end implies every required step approved:
// a required reject or timeout would have finished the workflow already.
func (w *Workflow) advance(now time.Time) {
	for _, step := range w.Steps {
		if step.Status == StepNotStarted {
			step.Status = StepPending
			step.Deadline = stepDeadline(step.TimeoutHours, now)
			return
		}
	}
	w.finish(WorkflowApproved, now)
}

// finish marks the terminal status and skips steps that never ran. The step
// that caused the finish already carries its own decided status.
func (w *Workflow) finish(status WorkflowStatus, now time.Time) {
	w.Status = status
	w.CompletedAt = &now
	for _, step := range w.Steps {
		if step.Status == StepNotStarted {
			step.Status = StepSkipped
		}
	}
}
