package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	approvalmodels "ratedesk/internal/approval/models"
	"ratedesk/internal/audit"
	"ratedesk/internal/negotiation/models"
	"ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/platform/httputil"
	"ratedesk/pkg/testutil"
)

func assertDomainError(t *testing.T, rr *httptest.ResponseRecorder, status int, code dErrors.Code) *httputil.ErrorResponse {
	t.Helper()
	testutil.AssertStatus(t, rr, status)
	resp := testutil.UnmarshalResponse[httputil.ErrorResponse](t, rr)
	assert.Equal(t, string(code), resp.Error)
	return resp
}

// createNegotiation runs the client-side request call and returns the
// aggregate.
func createNegotiation(t *testing.T, st *stack, client domain.Actor, clientID, firmID string, deadline time.Time) *models.Negotiation {
	t.Helper()
	rr := st.do(t, http.MethodPost, "/negotiations", map[string]any{
		"client_id":           clientID,
		"firm_id":             firmID,
		"submission_deadline": deadline,
	}, client)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return negotiationOf(t, rr)
}

// submitTwoRates submits the standard two-line proposal set used by most
// scenarios: a partner line with an approved baseline and a fresh associate
// line without one.
func submitTwoRates(t *testing.T, st *stack, firm domain.Actor, negotiationID string) *models.Negotiation {
	t.Helper()
	effective := time.Now().AddDate(0, 2, 0)
	rr := st.do(t, http.MethodPost, "/negotiations/"+negotiationID+"/proposals", map[string]any{
		"rates": []map[string]any{
			{
				"timekeeper_ref":  "partner-senior",
				"amount":          "735",
				"currency":        "USD",
				"effective_date":  effective,
				"approved_amount": "700",
			},
			{
				"timekeeper_ref": "associate-2019",
				"amount":         "500",
				"currency":       "USD",
				"effective_date": effective,
			},
		},
	}, firm)
	testutil.AssertStatus(t, rr, http.StatusOK)
	return negotiationOf(t, rr)
}

// TestNegotiationLifecycle walks one negotiation from request to export:
// rule-gated proposals, a counter round with a stale and an over-limit
// attempt, per-rate decisions, the client's two-step sign-off, settlement,
// and the audit trail left behind.
func TestNegotiationLifecycle(t *testing.T) {
	st := newStack(t)

	client := clientActor("billing_manager")
	legal := clientActor("legal_counsel")
	cfo := clientActor("cfo")
	procurement := clientActor("procurement")
	firm := firmActor("partner")

	clientID := domain.NewClientID()
	firmID := domain.NewFirmID().String()
	seedTemplate(t, st, clientID)

	var n *models.Negotiation

	testutil.Given(t, "a client rule capping increases at 5% with 30 days notice", func(t *testing.T) {
		rr := st.do(t, http.MethodPut, "/clients/"+clientID.String()+"/rate-rules", map[string]any{
			"freeze_period_days":   0,
			"notice_required_days": 30,
			"max_increase_percent": "5",
		}, client)
		testutil.AssertStatusOK(t, rr)
	})

	testutil.When(t, "the client requests a negotiation", func(t *testing.T) {
		n = createNegotiation(t, st, client, clientID.String(), firmID, time.Now().Add(30*24*time.Hour))
		assert.Equal(t, models.StatusRequested, n.Status)
		assert.True(t, n.RealTime)
		assert.Len(t, n.History, 1)
	})

	testutil.Then(t, "an over-limit proposal set is rejected whole", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/proposals", map[string]any{
			"rates": []map[string]any{{
				"timekeeper_ref":  "partner-senior",
				"amount":          "740", // 5.7% over the 700 baseline
				"currency":        "USD",
				"effective_date":  time.Now().AddDate(0, 2, 0),
				"approved_amount": "700",
			}},
		}, firm)
		resp := assertDomainError(t, rr, http.StatusUnprocessableEntity, dErrors.CodeRuleViolation)
		assert.Contains(t, resp.Details, "violations")

		rr = st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, firm)
		testutil.AssertStatusOK(t, rr)
		got := negotiationOf(t, rr)
		assert.Equal(t, models.StatusRequested, got.Status)
		assert.Empty(t, got.Rates)
	})

	testutil.When(t, "the firm submits a compliant proposal set", func(t *testing.T) {
		n = submitTwoRates(t, st, firm, n.ID.String())
		require.Equal(t, models.StatusSubmitted, n.Status)
		require.Len(t, n.Rates, 2)
		for _, rate := range n.Rates {
			// Round-trip invariant: denormalized fields mirror the last entry.
			require.NotEmpty(t, rate.History)
			last := rate.History[len(rate.History)-1]
			assert.True(t, rate.Amount.Equal(last.Amount))
			assert.Equal(t, rate.Status, last.Status)
			assert.Equal(t, rate.Type, last.Type)
		}
	})

	senior := rateByRef(t, n, "partner-senior")

	testutil.Then(t, "a counter against a stale baseline loses", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/counter", map[string]any{
			"rate_id":      senior.ID.String(),
			"amount":       "710",
			"baseline_seq": len(senior.History) - 1,
		}, client)
		assertDomainError(t, rr, http.StatusConflict, dErrors.CodeStaleCounter)
	})

	testutil.Then(t, "a counter beyond the cap reports the rule, untouched state", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/counter", map[string]any{
			"rate_id":      senior.ID.String(),
			"amount":       "745", // 6.4% over baseline
			"baseline_seq": len(senior.History),
		}, client)
		resp := assertDomainError(t, rr, http.StatusUnprocessableEntity, dErrors.CodeRuleViolation)
		assert.Contains(t, resp.Details, "violations")

		rr = st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, client)
		got := negotiationOf(t, rr)
		assert.Equal(t, models.StatusSubmitted, got.Status)
	})

	testutil.When(t, "the client counters within the cap", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/counter", map[string]any{
			"rate_id":      senior.ID.String(),
			"amount":       "710",
			"baseline_seq": len(senior.History),
			"message":      "meet us at 710",
		}, client)
		testutil.AssertStatusOK(t, rr)
		n = negotiationOf(t, rr)
		assert.Equal(t, models.StatusClientCountered, n.Status)

		countered := rateByRef(t, n, "partner-senior")
		assert.Equal(t, models.RateStatusCounterProposed, countered.Status)
		assert.True(t, countered.Amount.Equal(decimal.NewFromInt(710)))
	})

	testutil.When(t, "both sides settle the rate lines", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/rates/"+senior.ID.String()+"/approve",
			map[string]any{"message": "accepted the counter"}, firm)
		testutil.AssertStatusOK(t, rr)
		n = negotiationOf(t, rr)
		assert.Equal(t, models.StatusUnderReview, n.Status)

		// Decisions are not retractable.
		rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/rates/"+senior.ID.String()+"/approve",
			map[string]any{}, firm)
		assertDomainError(t, rr, http.StatusConflict, dErrors.CodeAlreadyTerminal)

		associate := rateByRef(t, n, "associate-2019")
		rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/rates/"+associate.ID.String()+"/approve",
			map[string]any{}, client)
		testutil.AssertStatusOK(t, rr)
		n = negotiationOf(t, rr)
	})

	testutil.Then(t, "agreement hands off to the sign-off workflow", func(t *testing.T) {
		require.Equal(t, models.StatusPendingApproval, n.Status)
		require.NotNil(t, n.WorkflowID)
		assert.Equal(t, models.ApprovalStatePending, n.ApprovalStatus)

		rr := st.do(t, http.MethodGet, "/negotiations/"+n.ID.String()+"/workflow", nil, client)
		testutil.AssertStatusOK(t, rr)
		wf := workflowOf(t, rr)
		require.Len(t, wf.Steps, 3)
		assert.Equal(t, approvalmodels.WorkflowInProgress, wf.Status)
		assert.Equal(t, approvalmodels.StepPending, wf.Steps[0].Status)
		assert.Equal(t, approvalmodels.StepNotStarted, wf.Steps[1].Status)
	})

	testutil.Then(t, "only the step's approver role may decide it", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/approve",
			map[string]any{"approve": true}, firm)
		assertDomainError(t, rr, http.StatusForbidden, dErrors.CodeForbidden)
	})

	testutil.When(t, "each step's approver signs off in order", func(t *testing.T) {
		rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/approve",
			map[string]any{"approve": true, "note": "terms reviewed"}, legal)
		testutil.AssertStatusOK(t, rr)
		wf := workflowOf(t, rr)
		assert.Equal(t, approvalmodels.WorkflowInProgress, wf.Status)
		assert.Equal(t, approvalmodels.StepPending, wf.Steps[1].Status)

		rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/approve",
			map[string]any{"approve": true}, cfo)
		testutil.AssertStatusOK(t, rr)
		wf = workflowOf(t, rr)
		// The optional step still activates; approval of all required steps
		// alone does not finish the workflow.
		assert.Equal(t, approvalmodels.WorkflowInProgress, wf.Status)
		assert.Equal(t, approvalmodels.StepPending, wf.Steps[2].Status)

		rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/approve",
			map[string]any{"approve": true}, procurement)
		testutil.AssertStatusOK(t, rr)
		wf = workflowOf(t, rr)
		assert.Equal(t, approvalmodels.WorkflowApproved, wf.Status)
	})

	testutil.Then(t, "the negotiation completes and exports", func(t *testing.T) {
		rr := st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, client)
		n = negotiationOf(t, rr)
		require.Equal(t, models.StatusApproved, n.Status)
		assert.Equal(t, models.ApprovalStateApproved, n.ApprovalStatus)

		rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/complete", nil, client)
		testutil.AssertStatusOK(t, rr)
		n = negotiationOf(t, rr)
		assert.Equal(t, models.StatusCompleted, n.Status)
		require.NotNil(t, n.CompletionDate)

		rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/export", nil, client)
		testutil.AssertStatusOK(t, rr)
		n = negotiationOf(t, rr)
		assert.Equal(t, models.StatusExported, n.Status)
	})

	testutil.Then(t, "the audit trail recorded the whole journey", func(t *testing.T) {
		rr := st.do(t, http.MethodGet, "/negotiations/"+n.ID.String()+"/audit", nil, client)
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[struct {
			Events []audit.Event `json:"events"`
		}](t, rr)

		actions := make(map[string]int)
		for _, e := range resp.Events {
			actions[e.Action]++
		}
		assert.Positive(t, actions[string(models.ActionProposalsSubmitted)])
		assert.Positive(t, actions[string(models.ActionRateCountered)])
		assert.Equal(t, 3, actions["approval_step_decided"])
		assert.Positive(t, actions[string(models.ActionCompleted)])
	})
}

// TestWorkflowRejectionShortCircuits verifies that a required step's
// rejection ends the workflow, skips the remaining steps, and closes the
// negotiation as rejected.
func TestWorkflowRejectionShortCircuits(t *testing.T) {
	st := newStack(t)

	client := clientActor("billing_manager")
	legal := clientActor("legal_counsel")
	cfo := clientActor("cfo")
	firm := firmActor("partner")

	clientID := domain.NewClientID()
	seedTemplate(t, st, clientID)

	n := createNegotiation(t, st, client, clientID.String(), domain.NewFirmID().String(), time.Now().Add(14*24*time.Hour))
	n = submitTwoRates(t, st, firm, n.ID.String())

	// A bulk approve across all lines reaches the threshold in one call.
	rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/bulk-action", map[string]any{
		"action":   "approve",
		"rate_ids": []string{n.Rates[0].ID.String(), n.Rates[1].ID.String()},
		"params":   map[string]any{"message": "approved as proposed"},
	}, client)
	testutil.AssertStatusOK(t, rr)
	bulk := bulkOf(t, rr)
	require.Len(t, bulk.Results, 2)
	for _, row := range bulk.Results {
		assert.Equal(t, models.BulkOutcomeSuccess, row.Outcome)
	}
	require.Equal(t, models.StatusPendingApproval, bulk.Negotiation.Status)

	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/approve",
		map[string]any{"approve": true}, legal)
	testutil.AssertStatusOK(t, rr)

	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/approve",
		map[string]any{"approve": false, "note": "budget exceeded"}, cfo)
	testutil.AssertStatusOK(t, rr)
	wf := workflowOf(t, rr)
	assert.Equal(t, approvalmodels.WorkflowRejected, wf.Status)
	// The optional third step never became pending.
	assert.Equal(t, approvalmodels.StepSkipped, wf.Steps[2].Status)

	rr = st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, client)
	got := negotiationOf(t, rr)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, models.ApprovalStateRejected, got.ApprovalStatus)
	require.NotNil(t, got.CompletionDate)

	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/complete", nil, client)
	assertDomainError(t, rr, http.StatusConflict, dErrors.CodeInvalidTransition)
}

// TestBatchModeStagingAndCommit covers the batch decision mode: staged
// decisions are invisible to the counterparty, the mode cannot flip back
// while a batch is pending, and the commit applies the staged set with the
// latest counter per rate winning.
func TestBatchModeStagingAndCommit(t *testing.T) {
	st := newStack(t)

	client := clientActor("billing_manager")
	firm := firmActor("partner")

	n := createNegotiation(t, st, client, domain.NewClientID().String(), domain.NewFirmID().String(),
		time.Now().Add(14*24*time.Hour))

	effective := time.Now().AddDate(0, 2, 0)
	rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/proposals", map[string]any{
		"rates": []map[string]any{
			{"timekeeper_ref": "tk-1", "amount": "600", "currency": "USD", "effective_date": effective},
			{"timekeeper_ref": "tk-2", "amount": "450", "currency": "USD", "effective_date": effective},
			{"timekeeper_ref": "tk-3", "amount": "380", "currency": "USD", "effective_date": effective},
		},
	}, firm)
	testutil.AssertStatusOK(t, rr)
	n = negotiationOf(t, rr)
	rate1, rate2, rate3 := n.Rates[0], n.Rates[1], n.Rates[2]

	rr = st.do(t, http.MethodPut, "/negotiations/"+n.ID.String()+"/real-time",
		map[string]any{"enabled": false}, client)
	testutil.AssertStatusOK(t, rr)
	n = negotiationOf(t, rr)
	require.False(t, n.RealTime)
	historyBefore := len(n.History)

	// Stage a counter; the aggregate history must not move.
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/counter", map[string]any{
		"rate_id": rate1.ID.String(), "amount": "560", "baseline_seq": 0,
	}, client)
	testutil.AssertStatusOK(t, rr)
	staged := negotiationOf(t, rr)
	assert.Len(t, staged.Staged, 1)
	assert.Len(t, staged.History, historyBefore)

	// The counterparty observes neither the staging nor any state change.
	rr = st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, firm)
	firmView := negotiationOf(t, rr)
	assert.Empty(t, firmView.Staged)
	assert.Equal(t, models.StatusSubmitted, firmView.Status)
	assert.True(t, rateByRef(t, firmView, "tk-1").Amount.Equal(decimal.NewFromInt(600)))

	// Mode cannot flip back over a pending batch.
	rr = st.do(t, http.MethodPut, "/negotiations/"+n.ID.String()+"/real-time",
		map[string]any{"enabled": true}, client)
	assertDomainError(t, rr, http.StatusConflict, dErrors.CodePendingBatchExists)

	// Stage the rest: a bulk approve/reject pair and a superseding counter.
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/bulk-action", map[string]any{
		"action":   "approve",
		"rate_ids": []string{rate2.ID.String()},
		"params":   map[string]any{},
	}, client)
	testutil.AssertStatusOK(t, rr)
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/bulk-action", map[string]any{
		"action":   "reject",
		"rate_ids": []string{rate3.ID.String()},
		"params":   map[string]any{"message": "class not engaged"},
	}, client)
	testutil.AssertStatusOK(t, rr)
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/counter", map[string]any{
		"rate_id": rate1.ID.String(), "amount": "575", "baseline_seq": 0,
	}, client)
	testutil.AssertStatusOK(t, rr)
	staged = negotiationOf(t, rr)
	require.Len(t, staged.Staged, 4)

	// Commit applies in accept order; the earlier counter on rate1 loses to
	// the later one.
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/batch/commit", nil, client)
	testutil.AssertStatusOK(t, rr)
	bulk := bulkOf(t, rr)
	require.Len(t, bulk.Results, 4)
	assert.Equal(t, models.BulkOutcomeConflict, bulk.Results[0].Outcome)
	assert.Contains(t, bulk.Results[0].Detail, "supersedes")
	for _, row := range bulk.Results[1:] {
		assert.Equal(t, models.BulkOutcomeSuccess, row.Outcome)
	}

	committed := bulk.Negotiation
	assert.Empty(t, committed.Staged)
	assert.Equal(t, models.StatusClientCountered, committed.Status)
	assert.True(t, rateByRef(t, committed, "tk-1").Amount.Equal(decimal.NewFromInt(575)))
	assert.Equal(t, models.RateStatusApproved, rateByRef(t, committed, "tk-2").Status)
	assert.Equal(t, models.RateStatusRejected, rateByRef(t, committed, "tk-3").Status)

	// The firm now sees the committed state at once.
	rr = st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, firm)
	firmView = negotiationOf(t, rr)
	assert.Equal(t, models.StatusClientCountered, firmView.Status)
	assert.True(t, rateByRef(t, firmView, "tk-1").Amount.Equal(decimal.NewFromInt(575)))
}

// TestBulkActionPartialOutcomes verifies the per-item failure boundary: one
// row per requested id, and a failed row never blocks the rest.
func TestBulkActionPartialOutcomes(t *testing.T) {
	st := newStack(t)

	client := clientActor("billing_manager")
	firm := firmActor("partner")

	n := createNegotiation(t, st, client, domain.NewClientID().String(), domain.NewFirmID().String(),
		time.Now().Add(14*24*time.Hour))
	n = submitTwoRates(t, st, firm, n.ID.String())
	senior := rateByRef(t, n, "partner-senior")

	foreign := domain.NewRateID().String()
	rr := st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/bulk-action", map[string]any{
		"action":   "approve",
		"rate_ids": []string{senior.ID.String(), foreign, senior.ID.String()},
		"params":   map[string]any{},
	}, client)
	testutil.AssertStatusOK(t, rr)
	bulk := bulkOf(t, rr)

	require.Len(t, bulk.Results, 3)
	assert.Equal(t, models.BulkOutcomeSuccess, bulk.Results[0].Outcome)
	assert.Equal(t, models.BulkOutcomeConflict, bulk.Results[1].Outcome)
	assert.Equal(t, foreign, bulk.Results[1].RateID)
	// The duplicate hits the terminal guard rather than re-approving.
	assert.Equal(t, models.BulkOutcomeConflict, bulk.Results[2].Outcome)

	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/bulk-action", map[string]any{
		"action":   "approve",
		"rate_ids": []string{},
		"params":   map[string]any{},
	}, client)
	assertDomainError(t, rr, http.StatusBadRequest, dErrors.CodeEmptyRateList)
}

// TestDeadlineExpiryIsIdempotent drives the sweeper's entry point directly,
// the way cmd/sweeper calls it, and checks repeat sweeps change nothing.
func TestDeadlineExpiryIsIdempotent(t *testing.T) {
	st := newStack(t)

	client := clientActor("billing_manager")
	firm := firmActor("partner")

	n := createNegotiation(t, st, client, domain.NewClientID().String(), domain.NewFirmID().String(),
		time.Now().Add(time.Hour))
	n = submitTwoRates(t, st, firm, n.ID.String())

	ctx := context.Background()
	asOf := time.Now().Add(2 * time.Hour)

	expired, err := st.service.ExpireDue(ctx, asOf, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	rr := st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, client)
	got := negotiationOf(t, rr)
	assert.Equal(t, models.StatusExpired, got.Status)
	require.NotNil(t, got.CompletionDate)
	historyAfter := len(got.History)

	expired, err = st.service.ExpireDue(ctx, asOf, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	rr = st.do(t, http.MethodGet, "/negotiations/"+n.ID.String(), nil, client)
	assert.Len(t, negotiationOf(t, rr).History, historyAfter)

	// A closed negotiation refuses further decisions.
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/rates/"+got.Rates[0].ID.String()+"/approve",
		map[string]any{}, client)
	assertDomainError(t, rr, http.StatusConflict, dErrors.CodeInvalidTransition)
}

// TestAuthBoundaries checks the transport-level guards: bearer tokens are
// required, and side-of-table rules hold at the door.
func TestAuthBoundaries(t *testing.T) {
	st := newStack(t)

	client := clientActor("billing_manager")
	firm := firmActor("partner")

	rr := st.anon(t, http.MethodPost, "/negotiations", map[string]any{})
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	// Only the client side opens a negotiation.
	rr = st.do(t, http.MethodPost, "/negotiations", map[string]any{
		"client_id":           domain.NewClientID().String(),
		"firm_id":             domain.NewFirmID().String(),
		"submission_deadline": time.Now().Add(time.Hour),
	}, firm)
	assertDomainError(t, rr, http.StatusForbidden, dErrors.CodeForbidden)

	// Only the firm side submits proposals.
	n := createNegotiation(t, st, client, domain.NewClientID().String(), domain.NewFirmID().String(),
		time.Now().Add(time.Hour))
	rr = st.do(t, http.MethodPost, "/negotiations/"+n.ID.String()+"/proposals", map[string]any{
		"rates": []map[string]any{{
			"timekeeper_ref": "tk", "amount": "100", "currency": "USD",
			"effective_date": time.Now().AddDate(0, 1, 0),
		}},
	}, client)
	assertDomainError(t, rr, http.StatusForbidden, dErrors.CodeForbidden)

	// A deadline in the past never opens.
	rr = st.do(t, http.MethodPost, "/negotiations", map[string]any{
		"client_id":           domain.NewClientID().String(),
		"firm_id":             domain.NewFirmID().String(),
		"submission_deadline": time.Now().Add(-time.Hour),
	}, client)
	assertDomainError(t, rr, http.StatusBadRequest, dErrors.CodeInvalidDeadline)

	rr = st.do(t, http.MethodGet, "/negotiations/"+domain.NewNegotiationID().String(), nil, client)
	assertDomainError(t, rr, http.StatusNotFound, dErrors.CodeNotFound)
}
