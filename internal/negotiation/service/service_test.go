package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"ratedesk/internal/audit"
	"ratedesk/internal/events"
	"ratedesk/internal/negotiation/models"
	"ratedesk/internal/negotiation/store"
	"ratedesk/internal/rules"
	rulestore "ratedesk/internal/rules/store"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/requestcontext"
)

var serviceBase = time.Date(2025, time.December, 1, 9, 0, 0, 0, time.UTC)

// fakeStarter stands in for the sign-off workflow engine.
type fakeStarter struct {
	mu         sync.Mutex
	start      bool
	workflowID id.WorkflowID
	fail       error
	calls      int
}

func (f *fakeStarter) StartForNegotiation(_ context.Context, _ id.ClientID, _ id.NegotiationID) (id.WorkflowID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return id.WorkflowID{}, false, f.fail
	}
	if !f.start {
		return id.WorkflowID{}, false, nil
	}
	return f.workflowID, true, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byKind(kind events.Kind) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type ServiceSuite struct {
	suite.Suite
	store      *store.InMemory
	ruleStore  *rulestore.InMemory
	starter    *fakeStarter
	auditStore *audit.InMemoryStore
	published  *capturePublisher
	svc        *Service

	client id.Actor
	firm   id.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.ruleStore = rulestore.NewInMemory()
	s.starter = &fakeStarter{}
	s.auditStore = audit.NewInMemoryStore()
	s.published = &capturePublisher{}

	s.svc = New(s.store, rules.NewService(s.ruleStore),
		WithApprovalStarter(s.starter),
		WithAuditRecorder(audit.NewRecorder(s.auditStore)),
		WithEventPublisher(s.published))

	s.client = id.Actor{UserID: id.NewUserID(), Side: id.SideClient, Role: "billing_manager"}
	s.firm = id.Actor{UserID: id.NewUserID(), Side: id.SideFirm, Role: "partner"}
}

func (s *ServiceSuite) ctxAs(actor id.Actor, at time.Time) context.Context {
	ctx := requestcontext.WithActor(context.Background(), actor)
	return requestcontext.WithTime(ctx, at)
}

func (s *ServiceSuite) request() *models.Negotiation {
	n, err := s.svc.Request(s.ctxAs(s.client, serviceBase), RequestParams{
		ClientID:           id.NewClientID(),
		FirmID:             id.NewFirmID(),
		SubmissionDeadline: serviceBase.Add(30 * 24 * time.Hour),
	})
	s.Require().NoError(err)
	return n
}

func (s *ServiceSuite) proposal(ref, amount string) ProposalParams {
	return ProposalParams{
		TimekeeperRef: ref,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		EffectiveDate: serviceBase.AddDate(0, 2, 0),
	}
}

// submit creates a negotiation with two submitted rate lines.
func (s *ServiceSuite) submit() *models.Negotiation {
	n := s.request()
	n, err := s.svc.SubmitProposals(s.ctxAs(s.firm, serviceBase.Add(time.Hour)), n.ID,
		[]ProposalParams{s.proposal("TK-100", "500.00"), s.proposal("TK-200", "650.00")})
	s.Require().NoError(err)
	return n
}

func (s *ServiceSuite) seedRule(clientID id.ClientID, maxIncreasePct string, noticeDays, freezeDays int) {
	rule, err := rules.NewRule(clientID, freezeDays, noticeDays,
		decimal.RequireFromString(maxIncreasePct), nil, serviceBase)
	s.Require().NoError(err)
	_, err = s.ruleStore.Upsert(context.Background(), rule)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestRequest() {
	s.Run("creates a negotiation awaiting proposals", func() {
		n := s.request()
		s.Equal(models.StatusRequested, n.Status)
		s.True(n.RealTime)
		s.Require().Len(n.History, 1)
		s.Equal(models.ActionRequested, n.History[0].Action)

		trail, err := s.auditStore.ListByNegotiation(context.Background(), n.ID)
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal(string(models.ActionRequested), trail[0].Action)
	})

	s.Run("rejects a deadline in the past", func() {
		_, err := s.svc.Request(s.ctxAs(s.client, serviceBase), RequestParams{
			ClientID:           id.NewClientID(),
			FirmID:             id.NewFirmID(),
			SubmissionDeadline: serviceBase.Add(-time.Hour),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidDeadline))
	})
}

func (s *ServiceSuite) TestSubmitProposals() {
	s.Run("moves the negotiation to submitted", func() {
		n := s.submit()
		s.Equal(models.StatusSubmitted, n.Status)
		s.Require().Len(n.Rates, 2)
		for _, r := range n.Rates {
			s.Equal(models.RateStatusSubmitted, r.Status)
		}
		s.Len(s.published.byKind(events.KindRateProposed), 2)
	})

	s.Run("requires at least one line", func() {
		n := s.request()
		_, err := s.svc.SubmitProposals(s.ctxAs(s.firm, serviceBase), n.ID, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("cannot submit twice", func() {
		n := s.submit()
		_, err := s.svc.SubmitProposals(s.ctxAs(s.firm, serviceBase.Add(2*time.Hour)), n.ID,
			[]ProposalParams{s.proposal("TK-300", "400.00")})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown negotiation", func() {
		_, err := s.svc.SubmitProposals(s.ctxAs(s.firm, serviceBase), id.NewNegotiationID(),
			[]ProposalParams{s.proposal("TK-1", "100.00")})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestSubmitProposalsEnforcesClientRule() {
	n := s.request()
	s.seedRule(n.ClientID, "5", 0, 0)

	approved := decimal.RequireFromString("700.00")
	over := s.proposal("TK-700", "740.00") // 5.71% over the approved 700
	over.ApprovedAmount = &approved
	within := s.proposal("TK-100", "500.00")

	_, err := s.svc.SubmitProposals(s.ctxAs(s.firm, serviceBase.Add(time.Hour)), n.ID,
		[]ProposalParams{within, over})
	s.Require().True(dErrors.HasCode(err, dErrors.CodeRuleViolation))
	s.Equal("TK-700", dErrors.DetailsOf(err)["timekeeper_ref"])

	// The whole set is rejected, compliant lines included.
	got, err := s.svc.Get(s.ctxAs(s.firm, serviceBase.Add(time.Hour)), n.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, got.Status)
	s.Empty(got.Rates)
}

func (s *ServiceSuite) TestDecideRealTime() {
	n := s.submit()
	at := serviceBase.Add(2 * time.Hour)

	s.Run("first decision starts review", func() {
		got, err := s.svc.Decide(s.ctxAs(s.client, at), n.ID, n.Rates[0].ID, true, "fine as proposed")
		s.Require().NoError(err)
		s.Equal(models.StatusUnderReview, got.Status)
		rate, err := got.RateByID(n.Rates[0].ID)
		s.Require().NoError(err)
		s.Equal(models.RateStatusApproved, rate.Status)
	})

	s.Run("terminal rates cannot be re-decided", func() {
		_, err := s.svc.Decide(s.ctxAs(s.client, at.Add(time.Minute)), n.ID, n.Rates[0].ID, false, "")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))
	})

	s.Run("deciding the last open rate reaches agreement", func() {
		got, err := s.svc.Decide(s.ctxAs(s.client, at.Add(2*time.Minute)), n.ID, n.Rates[1].ID, false, "too high")
		s.Require().NoError(err)
		s.Equal(models.StatusClientApproved, got.Status)
		s.Nil(got.WorkflowID)
		s.Equal(1, s.starter.calls)
	})

	s.Run("settled rates stay settled after agreement", func() {
		_, err := s.svc.Decide(s.ctxAs(s.firm, at.Add(3*time.Minute)), n.ID, n.Rates[1].ID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))
	})

	s.Run("agreement without a sign-off gate completes directly", func() {
		got, err := s.svc.Complete(s.ctxAs(s.client, at.Add(4*time.Minute)), n.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, got.Status)
		s.Require().NotNil(got.CompletionDate)
		s.Len(s.published.byKind(events.KindNegotiationCompleted), 1)

		got, err = s.svc.MarkExported(s.ctxAs(id.SystemActor(), at.Add(5*time.Minute)), n.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExported, got.Status)
	})
}

func (s *ServiceSuite) TestApprovalHandOff() {
	s.starter.start = true
	s.starter.workflowID = id.NewWorkflowID()

	n := s.submit()
	at := serviceBase.Add(3 * time.Hour)
	_, err := s.svc.Decide(s.ctxAs(s.client, at), n.ID, n.Rates[0].ID, true, "")
	s.Require().NoError(err)
	got, err := s.svc.Decide(s.ctxAs(s.client, at.Add(time.Minute)), n.ID, n.Rates[1].ID, true, "")
	s.Require().NoError(err)

	s.Equal(models.StatusPendingApproval, got.Status)
	s.Require().NotNil(got.WorkflowID)
	s.Equal(s.starter.workflowID, *got.WorkflowID)
	s.Equal(models.ApprovalStatePending, got.ApprovalStatus)

	s.Run("rate actions are closed while pending sign-off", func() {
		// Every rate is settled by the time the workflow starts, so the
		// per-rate terminal guard answers before the aggregate gate.
		_, err := s.svc.Counter(s.ctxAs(s.firm, at.Add(2*time.Minute)), n.ID, n.Rates[0].ID,
			decimal.RequireFromString("480.00"), 0, "")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminal))
	})

	s.Run("foreign workflow outcome is refused", func() {
		err := s.svc.OnWorkflowFinished(s.ctxAs(id.SystemActor(), at.Add(time.Hour)), n.ID, id.NewWorkflowID(), false)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("workflow outcome moves the negotiation", func() {
		err := s.svc.OnWorkflowFinished(s.ctxAs(id.SystemActor(), at.Add(time.Hour)), n.ID, s.starter.workflowID, true)
		s.Require().NoError(err)

		got, err := s.svc.Get(s.ctxAs(s.client, at.Add(time.Hour)), n.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal(models.ApprovalStateApproved, got.ApprovalStatus)
	})

	s.Run("re-delivered outcome is a no-op", func() {
		before, err := s.svc.Get(s.ctxAs(s.client, at.Add(time.Hour)), n.ID)
		s.Require().NoError(err)

		s.Require().NoError(s.svc.OnWorkflowFinished(
			s.ctxAs(id.SystemActor(), at.Add(2*time.Hour)), n.ID, s.starter.workflowID, true))

		after, err := s.svc.Get(s.ctxAs(s.client, at.Add(2*time.Hour)), n.ID)
		s.Require().NoError(err)
		s.Len(after.History, len(before.History))
	})

	s.Run("approved negotiation completes and exports", func() {
		got, err := s.svc.Complete(s.ctxAs(s.client, at.Add(3*time.Hour)), n.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, got.Status)

		got, err = s.svc.MarkExported(s.ctxAs(id.SystemActor(), at.Add(4*time.Hour)), n.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExported, got.Status)
	})
}

func (s *ServiceSuite) TestApprovalStartFailureRollsBackDecision() {
	s.starter.start = true
	s.starter.workflowID = id.NewWorkflowID()

	n := s.submit()
	at := serviceBase.Add(2 * time.Hour)
	_, err := s.svc.Decide(s.ctxAs(s.client, at), n.ID, n.Rates[0].ID, true, "")
	s.Require().NoError(err)

	s.starter.fail = errors.New("workflow store down")
	_, err = s.svc.Decide(s.ctxAs(s.client, at.Add(time.Minute)), n.ID, n.Rates[1].ID, true, "")
	s.Require().Error(err)

	// The failed hand-off rolled the decision back with it.
	got, err := s.svc.Get(s.ctxAs(s.client, at.Add(time.Minute)), n.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusUnderReview, got.Status)
	rate, err := got.RateByID(n.Rates[1].ID)
	s.Require().NoError(err)
	s.Equal(models.RateStatusUnderReview, rate.Status)

	s.starter.fail = nil
	got, err = s.svc.Decide(s.ctxAs(s.client, at.Add(2*time.Minute)), n.ID, n.Rates[1].ID, true, "")
	s.Require().NoError(err)
	s.Equal(models.StatusPendingApproval, got.Status)
}

func (s *ServiceSuite) TestCounterFlow() {
	n := s.submit()
	rateID := n.Rates[0].ID
	baseline := n.Rates[0].Seq()
	at := serviceBase.Add(4 * time.Hour)

	s.Run("client counter marks the rate counter-proposed", func() {
		got, err := s.svc.Counter(s.ctxAs(s.client, at), n.ID, rateID,
			decimal.RequireFromString("450.00"), baseline, "mid-point")
		s.Require().NoError(err)
		s.Equal(models.StatusClientCountered, got.Status)
		rate, err := got.RateByID(rateID)
		s.Require().NoError(err)
		s.Equal(models.RateStatusCounterProposed, rate.Status)
		s.True(rate.Amount.Equal(decimal.RequireFromString("450.00")))
	})

	s.Run("a stale baseline is refused", func() {
		_, err := s.svc.Counter(s.ctxAs(s.firm, at.Add(time.Minute)), n.ID, rateID,
			decimal.RequireFromString("480.00"), baseline, "")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleCounter))
	})

	s.Run("the firm counters back at the live sequence", func() {
		cur, err := s.svc.Get(s.ctxAs(s.firm, at.Add(time.Minute)), n.ID)
		s.Require().NoError(err)
		rate, err := cur.RateByID(rateID)
		s.Require().NoError(err)

		got, err := s.svc.Counter(s.ctxAs(s.firm, at.Add(2*time.Minute)), n.ID, rateID,
			decimal.RequireFromString("480.00"), rate.Seq(), "meet in the middle")
		s.Require().NoError(err)
		s.Equal(models.StatusFirmCountered, got.Status)
	})

	s.Run("a side cannot counter its own pending counter", func() {
		cur, err := s.svc.Get(s.ctxAs(s.firm, at.Add(3*time.Minute)), n.ID)
		s.Require().NoError(err)
		rate, err := cur.RateByID(rateID)
		s.Require().NoError(err)

		_, err = s.svc.Counter(s.ctxAs(s.firm, at.Add(3*time.Minute)), n.ID, rateID,
			decimal.RequireFromString("470.00"), rate.Seq(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("accepting the counter fixes its amount", func() {
		got, err := s.svc.Decide(s.ctxAs(s.client, at.Add(4*time.Minute)), n.ID, rateID, true, "agreed")
		s.Require().NoError(err)
		rate, err := got.RateByID(rateID)
		s.Require().NoError(err)
		s.Equal(models.RateStatusApproved, rate.Status)
		s.True(rate.Amount.Equal(decimal.RequireFromString("480.00")))
		// The second line is still open.
		s.Equal(models.StatusUnderReview, got.Status)

		s.Len(s.published.byKind(events.KindRateCountered), 2)
	})
}

func (s *ServiceSuite) TestCounterValidatesClientRule() {
	n := s.request()
	s.seedRule(n.ClientID, "10", 0, 0)

	approved := decimal.RequireFromString("500.00")
	line := s.proposal("TK-500", "500.00")
	line.ApprovedAmount = &approved
	n2, err := s.svc.SubmitProposals(s.ctxAs(s.firm, serviceBase.Add(time.Hour)), n.ID,
		[]ProposalParams{line})
	s.Require().NoError(err)
	rate := n2.Rates[0]

	_, err = s.svc.Counter(s.ctxAs(s.client, serviceBase.Add(2*time.Hour)), n.ID, rate.ID,
		decimal.RequireFromString("600.00"), rate.Seq(), "")
	s.Require().True(dErrors.HasCode(err, dErrors.CodeRuleViolation))

	// A refused counter leaves the rate and the aggregate untouched.
	got, err := s.svc.Get(s.ctxAs(s.client, serviceBase.Add(2*time.Hour)), n.ID)
	s.Require().NoError(err)
	gotRate, err := got.RateByID(rate.ID)
	s.Require().NoError(err)
	s.Equal(rate.Seq(), gotRate.Seq())
	s.Equal(models.StatusSubmitted, got.Status)

	_, err = s.svc.Counter(s.ctxAs(s.client, serviceBase.Add(3*time.Hour)), n.ID, rate.ID,
		decimal.RequireFromString("540.00"), gotRate.Seq(), "within the cap")
	s.NoError(err)
}

func (s *ServiceSuite) TestBatchStaging() {
	n := s.submit()
	at := serviceBase.Add(5 * time.Hour)
	_, err := s.svc.SetRealTime(s.ctxAs(s.client, at), n.ID, false)
	s.Require().NoError(err)

	s.Run("decisions stage instead of applying", func() {
		got, err := s.svc.Decide(s.ctxAs(s.client, at.Add(time.Minute)), n.ID, n.Rates[0].ID, true, "")
		s.Require().NoError(err)
		rate, err := got.RateByID(n.Rates[0].ID)
		s.Require().NoError(err)
		s.Equal(models.RateStatusSubmitted, rate.Status)
		s.Require().Len(got.Staged, 1)
		s.Equal(models.StagedKindApprove, got.Staged[0].Kind)
	})

	s.Run("staged decisions are invisible to the counterparty", func() {
		mine, err := s.svc.Get(s.ctxAs(s.client, at.Add(2*time.Minute)), n.ID)
		s.Require().NoError(err)
		s.Len(mine.Staged, 1)

		theirs, err := s.svc.Get(s.ctxAs(s.firm, at.Add(2*time.Minute)), n.ID)
		s.Require().NoError(err)
		s.Empty(theirs.Staged)
	})

	s.Run("mode cannot flip with uncommitted staging", func() {
		_, err := s.svc.SetRealTime(s.ctxAs(s.client, at.Add(3*time.Minute)), n.ID, true)
		s.True(dErrors.HasCode(err, dErrors.CodePendingBatchExists))
	})
}

func (s *ServiceSuite) TestCommitBatch() {
	n := s.submit()
	at := serviceBase.Add(6 * time.Hour)
	ctx := s.ctxAs(s.client, at)
	_, err := s.svc.SetRealTime(ctx, n.ID, false)
	s.Require().NoError(err)

	r1, r2 := n.Rates[0].ID, n.Rates[1].ID
	_, err = s.svc.Decide(ctx, n.ID, r1, true, "")
	s.Require().NoError(err)
	_, err = s.svc.Counter(ctx, n.ID, r2, decimal.RequireFromString("600.00"), 0, "first thought")
	s.Require().NoError(err)
	_, err = s.svc.Counter(ctx, n.ID, r2, decimal.RequireFromString("620.00"), 0, "second thought")
	s.Require().NoError(err)

	got, rows, err := s.svc.CommitBatch(s.ctxAs(s.client, at.Add(time.Hour)), n.ID)
	s.Require().NoError(err)
	s.Require().Len(rows, 3)

	// Accept order, with the superseded counter reported stale.
	s.Equal(models.BulkOutcomeSuccess, rows[0].Outcome)
	s.Equal(models.BulkOutcomeConflict, rows[1].Outcome)
	s.Equal(models.BulkOutcomeSuccess, rows[2].Outcome)

	rate, err := got.RateByID(r2)
	s.Require().NoError(err)
	s.Equal(models.RateStatusCounterProposed, rate.Status)
	s.True(rate.Amount.Equal(decimal.RequireFromString("620.00")))
	s.Empty(got.Staged)
	s.Equal(models.StatusClientCountered, got.Status)

	var batchEntry *models.HistoryItem
	for i := range got.History {
		if got.History[i].Action == models.ActionBatchCommitted {
			batchEntry = &got.History[i]
		}
	}
	s.Require().NotNil(batchEntry)
	s.Equal("2 applied, 1 failed", batchEntry.Detail)

	counterEvents := s.published.byKind(events.KindRateCountered)
	s.Require().Len(counterEvents, 1)
	s.True(counterEvents[0].Amount.Equal(decimal.RequireFromString("620.00")))

	// Nothing left to commit.
	_, _, err = s.svc.CommitBatch(s.ctxAs(s.client, at.Add(2*time.Hour)), n.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestBulkAction() {
	s.Run("one row per rate in request order", func() {
		n := s.submit()
		bogus := id.NewRateID()
		got, rows, err := s.svc.ApplyBulk(s.ctxAs(s.client, serviceBase.Add(7*time.Hour)), n.ID,
			models.BulkActionApprove, []id.RateID{n.Rates[0].ID, bogus, n.Rates[1].ID}, BulkParams{})
		s.Require().NoError(err)
		s.Require().Len(rows, 3)
		s.Equal(models.BulkOutcomeSuccess, rows[0].Outcome)
		s.Equal(models.BulkOutcomeConflict, rows[1].Outcome)
		s.Equal(bogus.String(), rows[1].RateID)
		s.Equal(models.BulkOutcomeSuccess, rows[2].Outcome)
		s.Equal(models.StatusClientApproved, got.Status)
	})

	s.Run("empty rate list is refused", func() {
		n := s.submit()
		_, _, err := s.svc.ApplyBulk(s.ctxAs(s.client, serviceBase.Add(7*time.Hour)), n.ID,
			models.BulkActionApprove, nil, BulkParams{})
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyRateList))
	})

	s.Run("counter requires an amount", func() {
		n := s.submit()
		_, _, err := s.svc.ApplyBulk(s.ctxAs(s.client, serviceBase.Add(7*time.Hour)), n.ID,
			models.BulkActionCounter, []id.RateID{n.Rates[0].ID}, BulkParams{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("bulk counters baseline at the live sequence", func() {
		n := s.submit()
		amount := decimal.RequireFromString("420.00")
		got, rows, err := s.svc.ApplyBulk(s.ctxAs(s.client, serviceBase.Add(7*time.Hour)), n.ID,
			models.BulkActionCounter, []id.RateID{n.Rates[0].ID, n.Rates[1].ID},
			BulkParams{Amount: &amount, Message: "uniform cut"})
		s.Require().NoError(err)
		for _, row := range rows {
			s.Equal(models.BulkOutcomeSuccess, row.Outcome)
		}
		s.Equal(models.StatusClientCountered, got.Status)
		for _, r := range got.Rates {
			s.Equal(models.RateStatusCounterProposed, r.Status)
			s.True(r.Amount.Equal(amount))
		}
	})
}

func (s *ServiceSuite) TestExpireDue() {
	first := s.request()
	second := s.request()
	deadline := serviceBase.Add(30 * 24 * time.Hour)

	s.Run("nothing due before the deadline", func() {
		count, err := s.svc.ExpireDue(context.Background(), deadline.Add(-time.Minute), 10)
		s.Require().NoError(err)
		s.Zero(count)
	})

	s.Run("expires everything past the deadline", func() {
		count, err := s.svc.ExpireDue(context.Background(), deadline.Add(time.Minute), 10)
		s.Require().NoError(err)
		s.Equal(2, count)

		for _, negotiationID := range []id.NegotiationID{first.ID, second.ID} {
			got, err := s.svc.Get(s.ctxAs(id.SystemActor(), deadline), negotiationID)
			s.Require().NoError(err)
			s.Equal(models.StatusExpired, got.Status)
			s.Require().NotNil(got.CompletionDate)
		}
	})

	s.Run("expiry is idempotent", func() {
		count, err := s.svc.ExpireDue(context.Background(), deadline.Add(time.Hour), 10)
		s.Require().NoError(err)
		s.Zero(count)
	})
}

func (s *ServiceSuite) TestGetUnknownNegotiation() {
	_, err := s.svc.Get(s.ctxAs(s.client, serviceBase), id.NewNegotiationID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
