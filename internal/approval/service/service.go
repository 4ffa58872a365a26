package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ratedesk/internal/approval/models"
	"ratedesk/internal/audit"
	"ratedesk/internal/events"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/platform/sentinel"
	"ratedesk/pkg/requestcontext"
)

type WorkflowStore interface {
	Create(ctx context.Context, w *models.Workflow) error
	FindByID(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error)
	FindByNegotiation(ctx context.Context, negotiationID id.NegotiationID) (*models.Workflow, error)
	Execute(ctx context.Context, workflowID id.WorkflowID, fn func(*models.Workflow) error) (*models.Workflow, error)
	ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]id.WorkflowID, error)
}

type TemplateStore interface {
	Put(ctx context.Context, tpl *models.WorkflowTemplate) error
	FindByClient(ctx context.Context, clientID id.ClientID) (*models.WorkflowTemplate, error)
}

// Owner is the negotiation side of the engine: it is told when a workflow
// finishes so the negotiation can move to APPROVED or REJECTED. The callback
// runs inside the workflow's critical section, before the outcome is saved,
// so a failed hand-off rolls the step decision back. Implementations must be
// idempotent: a retried decision may re-deliver the same outcome.
type Owner interface {
	OnWorkflowFinished(ctx context.Context, negotiationID id.NegotiationID, workflowID id.WorkflowID, approved bool) error
}

// AuditRecorder captures step decisions on the owning negotiation's trail.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// Engine drives sequential sign-off workflows.
type Engine struct {
	workflows WorkflowStore
	templates TemplateStore
	owner     Owner
	logger    *slog.Logger
	auditor   AuditRecorder
	events    events.Publisher
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(e *Engine) {
		e.auditor = recorder
	}
}

func WithEventPublisher(publisher events.Publisher) Option {
	return func(e *Engine) {
		e.events = publisher
	}
}

// New constructs an Engine. The owner is wired afterwards via SetOwner
// because the engine and the negotiation service reference each other.
func New(workflows WorkflowStore, templates TemplateStore, opts ...Option) *Engine {
	e := &Engine{workflows: workflows, templates: templates}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOwner wires the negotiation-side callback. Called once during startup.
func (e *Engine) SetOwner(owner Owner) {
	e.owner = owner
}

// PutTemplate registers or replaces a client's workflow template. Running
// workflows keep the template they were instantiated from.
func (e *Engine) PutTemplate(ctx context.Context, tpl *models.WorkflowTemplate) error {
	if err := e.templates.Put(ctx, tpl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store approval template")
	}
	return nil
}

func (e *Engine) GetTemplate(ctx context.Context, clientID id.ClientID) (*models.WorkflowTemplate, error) {
	tpl, err := e.templates.FindByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "client has no approval template")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval template")
	}
	return tpl, nil
}

// StartForNegotiation instantiates the client's template for a negotiation
// that crossed the approval threshold. Returns started=false with no error
// when the client has no template, which means the negotiation needs no
// sign-off. Starting twice hands back the existing workflow rather than
// failing, so the caller can rebind after a lost response.
func (e *Engine) StartForNegotiation(ctx context.Context, clientID id.ClientID, negotiationID id.NegotiationID) (id.WorkflowID, bool, error) {
	tpl, err := e.templates.FindByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.WorkflowID{}, false, nil
		}
		return id.WorkflowID{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval template")
	}

	w, err := models.NewWorkflow(id.NewWorkflowID(), negotiationID, tpl, requestcontext.Now(ctx))
	if err != nil {
		return id.WorkflowID{}, false, err
	}
	if err := e.workflows.Create(ctx, w); err != nil {
		// Idempotent: a workflow may exist from an earlier attempt whose
		// caller never saw the binding persist. Hand the existing one back.
		if errors.Is(err, sentinel.ErrConflict) {
			existing, findErr := e.workflows.FindByNegotiation(ctx, negotiationID)
			if findErr != nil {
				return id.WorkflowID{}, false, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load existing sign-off workflow")
			}
			return existing.ID, true, nil
		}
		return id.WorkflowID{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start sign-off workflow")
	}

	e.logAudit(ctx, "approval_workflow_started",
		"workflow_id", w.ID,
		"negotiation_id", negotiationID,
		"template", tpl.Name,
		"steps", len(w.Steps))
	return w.ID, true, nil
}

// GetForNegotiation returns the negotiation's workflow instance.
func (e *Engine) GetForNegotiation(ctx context.Context, negotiationID id.NegotiationID) (*models.Workflow, error) {
	w, err := e.workflows.FindByNegotiation(ctx, negotiationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "negotiation has no sign-off workflow")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load sign-off workflow")
	}
	return w, nil
}

// DecideStep records an approve/reject on the active step. When the decision
// finishes the workflow, the owning negotiation is moved before the workflow
// outcome is persisted.
func (e *Engine) DecideStep(ctx context.Context, negotiationID id.NegotiationID, stepID id.StepID, approve bool, note string) (*models.Workflow, error) {
	existing, err := e.GetForNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var decidedStep string
	w, err := e.workflows.Execute(ctx, existing.ID, func(work *models.Workflow) error {
		if err := work.CanDecideStep(stepID, actor); err != nil {
			return err
		}
		work.ApplyDecideStep(stepID, approve, actor, note, now)

		if step, stepErr := work.StepByID(stepID); stepErr == nil {
			decidedStep = step.Name
		}
		if work.Finished() && e.owner != nil {
			if err := e.owner.OnWorkflowFinished(ctx, negotiationID, work.ID, work.Approved()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "failed to decide sign-off step")
	}

	e.logAudit(ctx, "approval_step_decided",
		"workflow_id", w.ID,
		"negotiation_id", negotiationID,
		"step_id", stepID,
		"step", decidedStep,
		"approved", approve,
		"workflow_status", string(w.Status))
	e.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		Actor:         actor,
		Action:        "approval_step_decided",
		ToStatus:      string(w.Status),
		Detail:        stepDecisionDetail(decidedStep, approve),
	})
	e.publish(ctx, stepDecidedEvent(w, decidedStep, approve, actor, now))
	return w, nil
}

// CheckTimeouts advances overdue steps as of asOf. It is safe to call
// repeatedly: workflows already handled return unchanged and are skipped.
// Per-workflow failures are logged and do not stop the sweep.
func (e *Engine) CheckTimeouts(ctx context.Context, asOf time.Time, limit int) (int, error) {
	ids, err := e.workflows.ListOverdue(ctx, asOf, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overdue workflows")
	}

	progressed := 0
	for _, workflowID := range ids {
		var changed bool
		w, err := e.workflows.Execute(ctx, workflowID, func(work *models.Workflow) error {
			changed = work.CheckTimeouts(asOf)
			if changed && work.Finished() && e.owner != nil {
				return e.owner.OnWorkflowFinished(ctx, work.NegotiationID, work.ID, work.Approved())
			}
			return nil
		})
		if err != nil {
			if e.logger != nil {
				e.logger.WarnContext(ctx, "workflow timeout check failed",
					"workflow_id", workflowID,
					"error", err)
			}
			continue
		}
		if !changed {
			continue
		}
		progressed++
		e.logAudit(ctx, "approval_step_timed_out",
			"workflow_id", w.ID,
			"negotiation_id", w.NegotiationID,
			"workflow_status", string(w.Status))
	}
	return progressed, nil
}

func stepDecisionDetail(step string, approve bool) string {
	if approve {
		return "step " + step + " approved"
	}
	return "step " + step + " rejected"
}

func stepDecidedEvent(w *models.Workflow, step string, approve bool, actor id.Actor, now time.Time) events.Event {
	event := events.New(events.KindApprovalStepDecided, now)
	event.NegotiationID = w.NegotiationID
	event.ClientID = w.ClientID
	event.Actor = actor
	event.Status = string(w.Status)
	event.Detail = stepDecisionDetail(step, approve)
	return event
}

func translateStoreErr(err error, internalMsg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "sign-off workflow not found")
	case errors.Is(err, sentinel.ErrLockHeld):
		return dErrors.New(dErrors.CodeConcurrencyTimeout, "workflow is busy; retry shortly")
	case dErrors.IsDomain(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
	}
}

func (e *Engine) logAudit(ctx context.Context, event string, attributes ...any) {
	if e.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	e.logger.InfoContext(ctx, event, args...)
}

func (e *Engine) recordAudit(ctx context.Context, event audit.Event) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Record(ctx, event); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "audit record failed", "action", event.Action, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "event publish failed", "kind", string(event.Kind), "error", err)
	}
}
