package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ratedesk/internal/audit"
	"ratedesk/internal/events"
	"ratedesk/internal/negotiation/models"
	"ratedesk/internal/rules"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/requestcontext"
)

// Decide records an approve or reject on one rate. In real-time mode the
// decision applies immediately; in batch mode it is staged for the caller's
// side until commit, invisible to the counterparty.
func (s *Service) Decide(ctx context.Context, negotiationID id.NegotiationID, rateID id.RateID, approve bool, message string) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.decide", negotiationID)
	defer span.End()
	start := time.Now()
	defer s.metrics.ObserveDecide(start)

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var (
		from      models.Status
		staged    bool
		wfID      id.WorkflowID
		wfStarted bool
	)
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		from = work.Status
		if !work.RealTime {
			if _, err := work.CanStageDecision(rateID); err != nil {
				return err
			}
			kind := models.StagedKindApprove
			if !approve {
				kind = models.StagedKindReject
			}
			work.ApplyStageDecision(models.StagedDecision{
				EntryID:    id.NewEntryID(),
				Actor:      actor,
				RateID:     rateID,
				Kind:       kind,
				Message:    message,
				AcceptedAt: now,
			})
			staged = true
			return nil
		}
		if _, err := work.Decide(rateID, approve, actor, message, now); err != nil {
			return err
		}
		var err error
		wfID, wfStarted, err = s.maybeStartApproval(ctx, work, actor, now)
		return err
	})
	if err != nil {
		return nil, s.translate(err)
	}

	decision := "approve"
	action := models.ActionRateApproved
	if !approve {
		decision = "reject"
		action = models.ActionRateRejected
	}
	if staged {
		s.metrics.ObserveDecision(decision, "staged")
		s.logAudit(ctx, "decision staged",
			"negotiation_id", negotiationID,
			"rate_id", rateID,
			"decision", decision,
		)
		s.recordAudit(ctx, audit.Event{
			NegotiationID: negotiationID,
			RateID:        rateID.String(),
			Actor:         actor,
			Action:        string(models.ActionDecisionStaged),
			Detail:        decision,
		})
		return s.redacted(n, actor), nil
	}

	s.metrics.ObserveDecision(decision, "real_time")
	s.logAudit(ctx, "rate decided",
		"negotiation_id", negotiationID,
		"rate_id", rateID,
		"decision", decision,
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		RateID:        rateID.String(),
		Actor:         actor,
		Action:        string(action),
		FromStatus:    from.String(),
		ToStatus:      n.Status.String(),
		Detail:        message,
	})
	s.auditApprovalStarted(ctx, n, actor, wfID, wfStarted)
	return s.redacted(n, actor), nil
}

// Counter records a counter-proposal on one rate. baselineSeq is the rate
// history sequence the caller composed against; in real-time mode a stale
// baseline is rejected so crossing counters never silently overwrite each
// other. Staged counters recompose against the live state at commit, so the
// baseline is ignored in batch mode.
func (s *Service) Counter(ctx context.Context, negotiationID id.NegotiationID, rateID id.RateID, amount decimal.Decimal, baselineSeq int, message string) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.counter", negotiationID)
	defer span.End()
	start := time.Now()
	defer s.metrics.ObserveDecide(start)

	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "counter amount must be positive").
			WithDetails(map[string]any{"amount": amount.String()})
	}

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var (
		from      models.Status
		staged    bool
		wfID      id.WorkflowID
		wfStarted bool
	)
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		from = work.Status
		if !work.RealTime {
			if _, err := work.CanStageDecision(rateID); err != nil {
				return err
			}
			counterAmount := amount
			work.ApplyStageDecision(models.StagedDecision{
				EntryID:    id.NewEntryID(),
				Actor:      actor,
				RateID:     rateID,
				Kind:       models.StagedKindCounter,
				Amount:     &counterAmount,
				Message:    message,
				AcceptedAt: now,
			})
			staged = true
			return nil
		}
		validate := func(rate *models.Rate) error {
			rule, err := s.rules.RuleForClient(ctx, work.ClientID)
			if err != nil {
				return err
			}
			if result := rules.Validate(candidateFor(rate, amount), rule, now); !result.Valid {
				return ruleViolation(result)
			}
			return nil
		}
		if _, err := work.Counter(rateID, amount, baselineSeq, actor, message, now, validate); err != nil {
			return err
		}
		var err error
		wfID, wfStarted, err = s.maybeStartApproval(ctx, work, actor, now)
		return err
	})
	if err != nil {
		return nil, s.translate(err)
	}

	if staged {
		s.metrics.ObserveDecision("counter", "staged")
		s.logAudit(ctx, "counter staged",
			"negotiation_id", negotiationID,
			"rate_id", rateID,
			"amount", amount.String(),
		)
		s.recordAudit(ctx, audit.Event{
			NegotiationID: negotiationID,
			RateID:        rateID.String(),
			Actor:         actor,
			Action:        string(models.ActionDecisionStaged),
			Detail:        "counter " + amount.String(),
		})
		return s.redacted(n, actor), nil
	}

	s.metrics.ObserveDecision("counter", "real_time")
	s.logAudit(ctx, "rate countered",
		"negotiation_id", negotiationID,
		"rate_id", rateID,
		"amount", amount.String(),
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		RateID:        rateID.String(),
		Actor:         actor,
		Action:        string(models.ActionRateCountered),
		FromStatus:    from.String(),
		ToStatus:      n.Status.String(),
		Detail:        "amount " + amount.String(),
	})
	counterAmount := amount
	e := eventFor(events.KindRateCountered, n, actor, now)
	e.RateID = rateID.String()
	e.Amount = &counterAmount
	s.publish(ctx, e)
	s.auditApprovalStarted(ctx, n, actor, wfID, wfStarted)
	return s.redacted(n, actor), nil
}

// maybeStartApproval hands the negotiation to the sign-off workflow when its
// rates have just reached agreement. Runs inside the Execute critical
// section: a binding failure aborts the whole operation so the negotiation
// and the workflow never diverge.
func (s *Service) maybeStartApproval(ctx context.Context, work *models.Negotiation, actor id.Actor, now time.Time) (id.WorkflowID, bool, error) {
	if s.approvals == nil {
		return id.WorkflowID{}, false, nil
	}
	if err := work.CanStartApproval(); err != nil {
		// Below the agreement threshold, or already handed off.
		return id.WorkflowID{}, false, nil
	}
	workflowID, started, err := s.approvals.StartForNegotiation(ctx, work.ClientID, work.ID)
	if err != nil {
		return id.WorkflowID{}, false, err
	}
	if !started {
		// No template gates this client; the negotiation stays agreed and
		// can be completed directly.
		return id.WorkflowID{}, false, nil
	}
	work.ApplyStartApproval(workflowID, actor, now)
	return workflowID, true, nil
}

// auditApprovalStarted records the workflow hand-off when one happened.
func (s *Service) auditApprovalStarted(ctx context.Context, n *models.Negotiation, actor id.Actor, workflowID id.WorkflowID, started bool) {
	if !started {
		return
	}
	s.logAudit(ctx, "sign-off workflow started",
		"negotiation_id", n.ID,
		"workflow_id", workflowID,
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: n.ID,
		Actor:         actor,
		Action:        string(models.ActionApprovalStarted),
		ToStatus:      n.Status.String(),
		Detail:        "workflow " + workflowID.String(),
	})
}

// redacted trims staged decisions to the caller's side before the aggregate
// leaves the service.
func (s *Service) redacted(n *models.Negotiation, actor id.Actor) *models.Negotiation {
	if actor.IsSystem() {
		return n
	}
	n.Staged = n.StagedFor(actor.Side)
	return n
}
