package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ratedesk/internal/audit"
	"ratedesk/internal/events"
	"ratedesk/internal/negotiation/models"
	"ratedesk/internal/rules"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/requestcontext"
)

// RequestParams opens a negotiation cycle between a client and a firm.
type RequestParams struct {
	ClientID           id.ClientID
	FirmID             id.FirmID
	SubmissionDeadline time.Time
}

// Request creates a negotiation in REQUESTED, awaiting the firm's proposal
// set. Real-time mode is the default.
func (s *Service) Request(ctx context.Context, params RequestParams) (*models.Negotiation, error) {
	ctx, span := tracer.Start(ctx, "negotiation.request",
		trace.WithAttributes(attribute.String("client_id", params.ClientID.String())))
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	n, err := models.NewNegotiation(id.NewNegotiationID(), params.ClientID, params.FirmID,
		params.SubmissionDeadline, actor, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, s.translate(err)
	}

	s.metrics.IncrementCreated()
	s.logAudit(ctx, "negotiation requested",
		"negotiation_id", n.ID,
		"client_id", n.ClientID,
		"firm_id", n.FirmID,
		"submission_deadline", n.SubmissionDeadline,
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: n.ID,
		Actor:         actor,
		Action:        string(models.ActionRequested),
		ToStatus:      n.Status.String(),
	})
	return n, nil
}

// ProposalParams is one timekeeper rate line in a submission. ApprovedAmount
// and PriorExpiration describe the timekeeper's existing approved rate when
// one exists; they anchor the increase and freeze checks.
type ProposalParams struct {
	TimekeeperRef   string
	Amount          decimal.Decimal
	Currency        string
	EffectiveDate   time.Time
	ExpirationDate  *time.Time
	ApprovedAmount  *decimal.Decimal
	PriorExpiration *time.Time
}

// SubmitProposals attaches the firm's rate lines and moves the negotiation to
// SUBMITTED. Every line is validated against the client's rule as of the
// request time; any violation rejects the whole set, so a submission is
// all-or-nothing.
func (s *Service) SubmitProposals(ctx context.Context, negotiationID id.NegotiationID, proposals []ProposalParams) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.submit_proposals", negotiationID)
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var submitted []*models.Rate
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		if err := work.CanSubmitProposals(len(proposals)); err != nil {
			return err
		}
		rule, err := s.rules.RuleForClient(ctx, work.ClientID)
		if err != nil {
			return err
		}
		rates := make([]*models.Rate, 0, len(proposals))
		for _, p := range proposals {
			rate, err := models.NewRate(id.NewRateID(), p.TimekeeperRef, p.Amount, p.Currency,
				p.EffectiveDate, p.ExpirationDate, p.ApprovedAmount, p.PriorExpiration, actor, now)
			if err != nil {
				return err
			}
			if result := rules.Validate(candidateFor(rate, rate.Amount), rule, now); !result.Valid {
				details := rules.DetailsFor(result.Violations)
				details["timekeeper_ref"] = p.TimekeeperRef
				return dErrors.New(dErrors.CodeRuleViolation, "proposed rate violates the client's rate rules").
					WithDetails(details)
			}
			rates = append(rates, rate)
		}
		if err := work.ApplySubmitProposals(rates, actor, now); err != nil {
			return err
		}
		submitted = rates
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.logAudit(ctx, "proposals submitted",
		"negotiation_id", negotiationID,
		"rates", len(submitted),
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		Actor:         actor,
		Action:        string(models.ActionProposalsSubmitted),
		ToStatus:      n.Status.String(),
		Detail:        fmt.Sprintf("%d rates", len(submitted)),
	})
	for _, rate := range submitted {
		e := eventFor(events.KindRateProposed, n, actor, now)
		e.RateID = rate.ID.String()
		amount := rate.Amount
		e.Amount = &amount
		s.publish(ctx, e)
	}
	return n, nil
}

// ExpireDue expires negotiations whose submission deadline elapsed before
// asOf, up to limit. Run by the sweeper. A failure on one negotiation is
// logged and skipped so a stuck aggregate cannot stall the sweep.
func (s *Service) ExpireDue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	due, err := s.store.ListExpirable(ctx, asOf, limit)
	if err != nil {
		return 0, s.translate(err)
	}

	expired := 0
	for _, negotiationID := range due {
		var changed bool
		n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
			changed = work.ExpireIfDue(asOf)
			return nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to expire negotiation",
				"error", err, "negotiation_id", negotiationID)
			continue
		}
		if !changed {
			continue
		}
		expired++
		s.metrics.IncrementExpired()
		s.logAudit(ctx, "negotiation expired",
			"negotiation_id", negotiationID,
			"submission_deadline", n.SubmissionDeadline,
		)
		s.recordAudit(ctx, audit.Event{
			NegotiationID: negotiationID,
			Timestamp:     asOf,
			Actor:         id.SystemActor(),
			Action:        string(models.ActionExpired),
			ToStatus:      n.Status.String(),
		})
	}
	return expired, nil
}

// Complete settles an approved negotiation. Legal from APPROVED, or directly
// from CLIENT_APPROVED / FIRM_ACCEPTED when no sign-off workflow gates the
// client.
func (s *Service) Complete(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.complete", negotiationID)
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var from models.Status
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		from = work.Status
		if err := work.CanComplete(); err != nil {
			return err
		}
		work.ApplyComplete(actor, now)
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.logAudit(ctx, "negotiation completed", "negotiation_id", negotiationID)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		Actor:         actor,
		Action:        string(models.ActionCompleted),
		FromStatus:    from.String(),
		ToStatus:      n.Status.String(),
	})
	s.publish(ctx, eventFor(events.KindNegotiationCompleted, n, actor, now))
	return n, nil
}

// MarkExported records the hand-off of a completed negotiation's approved
// rates to the billing system.
func (s *Service) MarkExported(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.mark_exported", negotiationID)
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		if err := work.CanMarkExported(); err != nil {
			return err
		}
		work.ApplyMarkExported(actor, now)
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.logAudit(ctx, "negotiation exported", "negotiation_id", negotiationID)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		Actor:         actor,
		Action:        string(models.ActionExported),
		FromStatus:    models.StatusCompleted.String(),
		ToStatus:      n.Status.String(),
	})
	return n, nil
}

// OnWorkflowFinished records the sign-off outcome on the negotiation. The
// workflow engine calls this inside its own critical section, so it must be
// idempotent: a retried step decision may re-deliver the same outcome.
func (s *Service) OnWorkflowFinished(ctx context.Context, negotiationID id.NegotiationID, workflowID id.WorkflowID, approved bool) error {
	ctx, span := s.startSpan(ctx, "negotiation.workflow_finished", negotiationID)
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var (
		from    models.Status
		applied bool
	)
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		if work.WorkflowID == nil || *work.WorkflowID != workflowID {
			return dErrors.New(dErrors.CodeConflict, "workflow is not bound to this negotiation").
				WithDetails(map[string]any{"workflow_id": workflowID.String()})
		}
		if (approved && work.ApprovalStatus == models.ApprovalStateApproved) ||
			(!approved && work.ApprovalStatus == models.ApprovalStateRejected) {
			// Re-delivered outcome; already recorded.
			return nil
		}
		from = work.Status
		if err := work.CanFinishApproval(); err != nil {
			return err
		}
		work.ApplyFinishApproval(approved, actor, now)
		applied = true
		return nil
	})
	if err != nil {
		return s.translate(err)
	}
	if !applied {
		return nil
	}

	outcome := "approved"
	if !approved {
		outcome = "rejected"
	}
	s.logAudit(ctx, "sign-off outcome recorded",
		"negotiation_id", negotiationID,
		"workflow_id", workflowID,
		"outcome", outcome,
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		Actor:         actor,
		Action:        string(models.ActionApprovalFinished),
		FromStatus:    from.String(),
		ToStatus:      n.Status.String(),
		Detail:        outcome,
	})
	return nil
}
