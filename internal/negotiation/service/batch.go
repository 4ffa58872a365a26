package service

import (
	"context"
	"fmt"
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

// BulkParams carries the shared parameters of a bulk action. Amount is
// required for counters and ignored otherwise.
type BulkParams struct {
	Amount  *decimal.Decimal
	Message string
}

// ApplyBulk applies one action across many rates in a single critical
// section. Each rate is its own failure boundary: the result has exactly one
// row per requested rate id, in request order, and one failed row never
// blocks the rest. In batch mode the decisions are staged instead of applied.
func (s *Service) ApplyBulk(ctx context.Context, negotiationID id.NegotiationID, action models.BulkAction, rateIDs []id.RateID, params BulkParams) (*models.Negotiation, []models.BulkResultRow, error) {
	ctx, span := s.startSpan(ctx, "negotiation.bulk", negotiationID)
	defer span.End()

	if len(rateIDs) == 0 {
		return nil, nil, dErrors.New(dErrors.CodeEmptyRateList, "bulk action requires at least one rate id")
	}
	if action == models.BulkActionCounter {
		if params.Amount == nil {
			return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "bulk counter requires an amount")
		}
		if !params.Amount.IsPositive() {
			return nil, nil, dErrors.New(dErrors.CodeInvalidAmount, "counter amount must be positive").
				WithDetails(map[string]any{"amount": params.Amount.String()})
		}
	}

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var (
		rows      []models.BulkResultRow
		staged    bool
		countered []id.RateID
		wfID      id.WorkflowID
		wfStarted bool
	)
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		staged = !work.RealTime
		countered = countered[:0]

		var rule *rules.RateRule
		if !staged && action == models.BulkActionCounter {
			r, err := s.rules.RuleForClient(ctx, work.ClientID)
			if err != nil {
				return err
			}
			rule = r
		}

		rows = make([]models.BulkResultRow, 0, len(rateIDs))
		for _, rateID := range rateIDs {
			var itemErr error
			if staged {
				itemErr = stageBulkItem(work, action, rateID, params, actor, now)
			} else {
				itemErr = applyBulkItem(work, action, rateID, params, rule, actor, now)
			}
			if itemErr != nil {
				rows = append(rows, models.RowForError(rateID.String(), itemErr))
				continue
			}
			rows = append(rows, models.RowForSuccess(rateID.String()))
			if !staged && action == models.BulkActionCounter {
				countered = append(countered, rateID)
			}
		}

		if staged {
			return nil
		}
		var err error
		wfID, wfStarted, err = s.maybeStartApproval(ctx, work, actor, now)
		return err
	})
	if err != nil {
		return nil, nil, s.translate(err)
	}

	succeeded := 0
	for _, row := range rows {
		s.metrics.ObserveBulkRow(string(row.Outcome))
		if row.Outcome == models.BulkOutcomeSuccess {
			succeeded++
		}
	}
	s.logAudit(ctx, "bulk action applied",
		"negotiation_id", negotiationID,
		"action", string(action),
		"requested", len(rateIDs),
		"succeeded", succeeded,
		"staged", staged,
	)
	s.auditBulkRows(ctx, negotiationID, action, actor, rows, staged)
	for _, rateID := range countered {
		amount := *params.Amount
		e := eventFor(events.KindRateCountered, n, actor, now)
		e.RateID = rateID.String()
		e.Amount = &amount
		s.publish(ctx, e)
	}
	s.auditApprovalStarted(ctx, n, actor, wfID, wfStarted)
	return s.redacted(n, actor), rows, nil
}

// applyBulkItem applies one bulk action to one rate in real-time mode. Bulk
// counters are composed against the rate list, not one rate's history, so
// each counter baselines at the rate's live sequence.
func applyBulkItem(work *models.Negotiation, action models.BulkAction, rateID id.RateID, params BulkParams, rule *rules.RateRule, actor id.Actor, now time.Time) error {
	switch action {
	case models.BulkActionApprove, models.BulkActionReject:
		_, err := work.Decide(rateID, action == models.BulkActionApprove, actor, params.Message, now)
		return err
	case models.BulkActionCounter:
		rate, err := work.RateByID(rateID)
		if err != nil {
			return err
		}
		validate := func(r *models.Rate) error {
			if result := rules.Validate(candidateFor(r, *params.Amount), rule, now); !result.Valid {
				return ruleViolation(result)
			}
			return nil
		}
		_, err = work.Counter(rateID, *params.Amount, rate.Seq(), actor, params.Message, now, validate)
		return err
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown bulk action %q", action)
	}
}

// stageBulkItem stages one bulk action for the caller's side in batch mode.
func stageBulkItem(work *models.Negotiation, action models.BulkAction, rateID id.RateID, params BulkParams, actor id.Actor, now time.Time) error {
	if _, err := work.CanStageDecision(rateID); err != nil {
		return err
	}
	d := models.StagedDecision{
		EntryID:    id.NewEntryID(),
		Actor:      actor,
		RateID:     rateID,
		Message:    params.Message,
		AcceptedAt: now,
	}
	switch action {
	case models.BulkActionApprove:
		d.Kind = models.StagedKindApprove
	case models.BulkActionReject:
		d.Kind = models.StagedKindReject
	case models.BulkActionCounter:
		d.Kind = models.StagedKindCounter
		amount := *params.Amount
		d.Amount = &amount
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown bulk action %q", action)
	}
	work.ApplyStageDecision(d)
	return nil
}

// auditBulkRows records trail entries for the accepted rows of a bulk call,
// mirroring what the equivalent single-rate operations would have recorded.
func (s *Service) auditBulkRows(ctx context.Context, negotiationID id.NegotiationID, action models.BulkAction, actor id.Actor, rows []models.BulkResultRow, staged bool) {
	for _, row := range rows {
		if row.Outcome != models.BulkOutcomeSuccess {
			continue
		}
		auditAction := models.ActionDecisionStaged
		if !staged {
			switch action {
			case models.BulkActionApprove:
				auditAction = models.ActionRateApproved
			case models.BulkActionReject:
				auditAction = models.ActionRateRejected
			case models.BulkActionCounter:
				auditAction = models.ActionRateCountered
			}
		}
		s.recordAudit(ctx, audit.Event{
			NegotiationID: negotiationID,
			RateID:        row.RateID,
			Actor:         actor,
			Action:        string(auditAction),
			Detail:        "bulk " + string(action),
		})
	}
}

// SetRealTime flips the negotiation between real-time and batch decision
// modes. Refused while the caller's side has uncommitted staged decisions.
func (s *Service) SetRealTime(ctx context.Context, negotiationID id.NegotiationID, enabled bool) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.set_real_time", negotiationID)
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var changedMode bool
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		if err := work.CanSetRealTime(enabled); err != nil {
			return err
		}
		changedMode = work.RealTime != enabled
		work.ApplySetRealTime(enabled, actor, now)
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}

	if changedMode {
		mode := "batch"
		if enabled {
			mode = "real-time"
		}
		s.logAudit(ctx, "decision mode changed",
			"negotiation_id", negotiationID,
			"mode", mode,
		)
		s.recordAudit(ctx, audit.Event{
			NegotiationID: negotiationID,
			Actor:         actor,
			Action:        string(models.ActionModeChanged),
			Detail:        mode,
		})
	}
	return s.redacted(n, actor), nil
}

// CommitBatch applies the caller side's staged decisions in accept order.
// When several staged counters target one rate, the latest wins and the
// earlier ones report stale rows. Returns one row per staged decision, in
// accept order; a failed row never blocks the rest.
func (s *Service) CommitBatch(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, []models.BulkResultRow, error) {
	ctx, span := s.startSpan(ctx, "negotiation.commit_batch", negotiationID)
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	type appliedCounter struct {
		rateID id.RateID
		amount decimal.Decimal
	}
	var (
		rows            []models.BulkResultRow
		counters        []appliedCounter
		applied, failed int
		wfID            id.WorkflowID
		wfStarted       bool
	)
	n, err := s.store.Execute(ctx, negotiationID, func(work *models.Negotiation) error {
		staged := work.TakeStaged(actor.Side)
		if len(staged) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "no staged decisions to commit")
		}

		// Accept order means the map ends up holding each rate's latest
		// staged counter.
		latestCounter := make(map[id.RateID]string)
		for _, d := range staged {
			if d.Kind == models.StagedKindCounter {
				latestCounter[d.RateID] = d.EntryID
			}
		}

		var rule *rules.RateRule
		if len(latestCounter) > 0 {
			r, err := s.rules.RuleForClient(ctx, work.ClientID)
			if err != nil {
				return err
			}
			rule = r
		}

		rows = make([]models.BulkResultRow, 0, len(staged))
		counters = counters[:0]
		applied, failed = 0, 0
		for _, d := range staged {
			itemErr := commitStagedItem(work, d, latestCounter, rule, now)
			if itemErr != nil {
				failed++
				rows = append(rows, models.RowForError(d.RateID.String(), itemErr))
				continue
			}
			applied++
			rows = append(rows, models.RowForSuccess(d.RateID.String()))
			if d.Kind == models.StagedKindCounter {
				counters = append(counters, appliedCounter{rateID: d.RateID, amount: *d.Amount})
			}
		}
		work.RecordBatchCommitted(actor, applied, failed, now)

		var err error
		wfID, wfStarted, err = s.maybeStartApproval(ctx, work, actor, now)
		return err
	})
	if err != nil {
		return nil, nil, s.translate(err)
	}

	s.metrics.IncrementBatchCommits()
	for _, row := range rows {
		s.metrics.ObserveBulkRow(string(row.Outcome))
	}
	s.logAudit(ctx, "batch committed",
		"negotiation_id", negotiationID,
		"applied", applied,
		"failed", failed,
	)
	s.recordAudit(ctx, audit.Event{
		NegotiationID: negotiationID,
		Actor:         actor,
		Action:        string(models.ActionBatchCommitted),
		ToStatus:      n.Status.String(),
		Detail:        fmt.Sprintf("%d applied, %d failed", applied, failed),
	})
	for _, c := range counters {
		amount := c.amount
		e := eventFor(events.KindRateCountered, n, actor, now)
		e.RateID = c.rateID.String()
		e.Amount = &amount
		s.publish(ctx, e)
	}
	s.auditApprovalStarted(ctx, n, actor, wfID, wfStarted)
	return s.redacted(n, actor), rows, nil
}

// commitStagedItem applies one staged decision at the live rate state, with
// the staging principal as the acting party.
func commitStagedItem(work *models.Negotiation, d models.StagedDecision, latestCounter map[id.RateID]string, rule *rules.RateRule, now time.Time) error {
	switch d.Kind {
	case models.StagedKindApprove, models.StagedKindReject:
		_, err := work.Decide(d.RateID, d.Kind == models.StagedKindApprove, d.Actor, d.Message, now)
		return err
	case models.StagedKindCounter:
		if latestCounter[d.RateID] != d.EntryID {
			return dErrors.New(dErrors.CodeStaleCounter, "a later staged counter supersedes this one").
				WithDetails(map[string]any{"rate_id": d.RateID.String()})
		}
		if d.Amount == nil {
			return dErrors.New(dErrors.CodeInvalidAmount, "staged counter has no amount")
		}
		rate, err := work.RateByID(d.RateID)
		if err != nil {
			return err
		}
		validate := func(r *models.Rate) error {
			if result := rules.Validate(candidateFor(r, *d.Amount), rule, now); !result.Valid {
				return ruleViolation(result)
			}
			return nil
		}
		_, err = work.Counter(d.RateID, *d.Amount, rate.Seq(), d.Actor, d.Message, now, validate)
		return err
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown staged decision kind %q", d.Kind)
	}
}
