// Package handler exposes the negotiation engine over HTTP. Handlers decode
// and validate the wire request, delegate to the services, and translate
// domain errors into the shared error envelope.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ratedesk/internal/advisory"
	approvalmodels "ratedesk/internal/approval/models"
	"ratedesk/internal/audit"
	"ratedesk/internal/negotiation/models"
	"ratedesk/internal/negotiation/service"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/platform/httputil"
	"ratedesk/pkg/platform/sentinel"
	"ratedesk/pkg/requestcontext"
)

// Service is the negotiation engine surface the handler needs.
type Service interface {
	Request(ctx context.Context, params service.RequestParams) (*models.Negotiation, error)
	Get(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error)
	SubmitProposals(ctx context.Context, negotiationID id.NegotiationID, proposals []service.ProposalParams) (*models.Negotiation, error)
	Decide(ctx context.Context, negotiationID id.NegotiationID, rateID id.RateID, approve bool, message string) (*models.Negotiation, error)
	Counter(ctx context.Context, negotiationID id.NegotiationID, rateID id.RateID, amount decimal.Decimal, baselineSeq int, message string) (*models.Negotiation, error)
	ApplyBulk(ctx context.Context, negotiationID id.NegotiationID, action models.BulkAction, rateIDs []id.RateID, params service.BulkParams) (*models.Negotiation, []models.BulkResultRow, error)
	SetRealTime(ctx context.Context, negotiationID id.NegotiationID, enabled bool) (*models.Negotiation, error)
	CommitBatch(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, []models.BulkResultRow, error)
	Complete(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error)
	MarkExported(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error)
}

// Approvals is the sign-off workflow surface the handler needs.
type Approvals interface {
	GetForNegotiation(ctx context.Context, negotiationID id.NegotiationID) (*approvalmodels.Workflow, error)
	DecideStep(ctx context.Context, negotiationID id.NegotiationID, stepID id.StepID, approve bool, note string) (*approvalmodels.Workflow, error)
}

// AuditTrail reads the persisted trail for one negotiation.
type AuditTrail interface {
	List(ctx context.Context, negotiationID id.NegotiationID) ([]audit.Event, error)
}

// Handler wires negotiation endpoints to the services behind them. The
// approvals, advisor, and trail collaborators may be nil; their endpoints
// then report the capability as unavailable.
type Handler struct {
	negotiations Service
	approvals    Approvals
	advisor      advisory.Recommender
	trail        AuditTrail
	logger       *slog.Logger
}

// New constructs the negotiation handler with its dependencies.
func New(negotiations Service, approvals Approvals, advisor advisory.Recommender, trail AuditTrail, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		negotiations: negotiations,
		approvals:    approvals,
		advisor:      advisor,
		trail:        trail,
		logger:       logger,
	}
}

// Register mounts the negotiation endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/negotiations", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Route("/{negotiationID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Post("/proposals", h.HandleSubmitProposals)
			r.Post("/counter", h.HandleCounter)
			r.Post("/rates/{rateID}/approve", h.HandleApproveRate)
			r.Post("/rates/{rateID}/reject", h.HandleRejectRate)
			r.Post("/bulk-action", h.HandleBulkAction)
			r.Put("/real-time", h.HandleSetRealTime)
			r.Post("/batch/commit", h.HandleCommitBatch)
			r.Post("/approve", h.HandleStepDecision)
			r.Get("/workflow", h.HandleWorkflow)
			r.Post("/complete", h.HandleComplete)
			r.Post("/export", h.HandleMarkExported)
			r.Get("/audit", h.HandleAuditTrail)
			r.Get("/recommendations", h.HandleRecommendations)
			r.Get("/rates/{rateID}/recommendation", h.HandleRecommendation)
		})
	})
}

// requireActor rejects unauthenticated requests. The auth middleware stores
// the actor in context; a zero actor means the middleware never ran or the
// token carried no identity.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (id.Actor, bool) {
	actor := requestcontext.Actor(r.Context())
	if err := actor.Validate(); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.Actor{}, false
	}
	return actor, true
}

func (h *Handler) requireSide(w http.ResponseWriter, actor id.Actor, side id.Side, message string) bool {
	if actor.Side != side {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, message))
		return false
	}
	return true
}

func negotiationIDFrom(r *http.Request) (id.NegotiationID, error) {
	return id.ParseNegotiationID(chi.URLParam(r, "negotiationID"))
}

func rateIDFrom(r *http.Request) (id.RateID, error) {
	return id.ParseRateID(chi.URLParam(r, "rateID"))
}

// HandleCreate handles POST /negotiations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if !h.requireSide(w, actor, id.SideClient, "only the client side can request a negotiation") {
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateNegotiationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, err := h.negotiations.Request(ctx, req.Params())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "negotiation created",
		"request_id", requestID,
		"negotiation_id", n.ID,
		"client_id", n.ClientID,
		"firm_id", n.FirmID,
	)
	httputil.WriteJSON(w, http.StatusCreated, n)
}

// HandleGet handles GET /negotiations/{negotiationID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, err := h.negotiations.Get(r.Context(), negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleSubmitProposals handles POST /negotiations/{negotiationID}/proposals.
func (h *Handler) HandleSubmitProposals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if !h.requireSide(w, actor, id.SideFirm, "only the firm side can submit rate proposals") {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[SubmitProposalsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, err := h.negotiations.SubmitProposals(ctx, negotiationID, req.Params())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "proposals submitted",
		"request_id", requestID,
		"negotiation_id", n.ID,
		"rates", len(req.Rates),
	)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleApproveRate handles POST /negotiations/{negotiationID}/rates/{rateID}/approve.
func (h *Handler) HandleApproveRate(w http.ResponseWriter, r *http.Request) {
	h.decideRate(w, r, true)
}

// HandleRejectRate handles POST /negotiations/{negotiationID}/rates/{rateID}/reject.
func (h *Handler) HandleRejectRate(w http.ResponseWriter, r *http.Request) {
	h.decideRate(w, r, false)
}

func (h *Handler) decideRate(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rateID, err := rateIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, err := h.negotiations.Decide(ctx, negotiationID, rateID, approve, req.Message)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "rate decision accepted",
		"request_id", requestID,
		"negotiation_id", negotiationID,
		"rate_id", rateID,
		"approve", approve,
		"status", n.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleCounter handles POST /negotiations/{negotiationID}/counter.
func (h *Handler) HandleCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[CounterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, err := h.negotiations.Counter(ctx, negotiationID, req.ParsedRateID(), req.Amount, req.BaselineSeq, req.Message)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "counter accepted",
		"request_id", requestID,
		"negotiation_id", negotiationID,
		"rate_id", req.ParsedRateID(),
		"amount", req.Amount.String(),
		"status", n.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleBulkAction handles POST /negotiations/{negotiationID}/bulk-action.
func (h *Handler) HandleBulkAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[BulkActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, rows, err := h.negotiations.ApplyBulk(ctx, negotiationID, req.ParsedAction(), req.ParsedRateIDs(), req.BulkParams())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "bulk action accepted",
		"request_id", requestID,
		"negotiation_id", negotiationID,
		"action", req.Action,
		"rates", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, BulkResponse{Negotiation: n, Results: rows})
}

// HandleSetRealTime handles PUT /negotiations/{negotiationID}/real-time.
func (h *Handler) HandleSetRealTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[RealTimeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, err := h.negotiations.SetRealTime(ctx, negotiationID, *req.Enabled)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "decision mode changed",
		"request_id", requestID,
		"negotiation_id", negotiationID,
		"real_time", *req.Enabled,
	)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleCommitBatch handles POST /negotiations/{negotiationID}/batch/commit.
func (h *Handler) HandleCommitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, rows, err := h.negotiations.CommitBatch(ctx, negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batch committed",
		"request_id", requestID,
		"negotiation_id", negotiationID,
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, BulkResponse{Negotiation: n, Results: rows})
}

// HandleStepDecision handles POST /negotiations/{negotiationID}/approve: the
// caller decides the active sign-off step. Without an explicit step_id the
// current pending step is decided.
func (h *Handler) HandleStepDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if h.approvals == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "sign-off workflows are not configured"))
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[StepDecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	stepID := req.ParsedStepID()
	if stepID.IsNil() {
		wf, err := h.approvals.GetForNegotiation(ctx, negotiationID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		step := wf.PendingStep()
		if step == nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeStepNotPending, "no step awaits a decision"))
			return
		}
		stepID = step.ID
	}

	wf, err := h.approvals.DecideStep(ctx, negotiationID, stepID, *req.Approve, req.Note)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "sign-off step decided",
		"request_id", requestID,
		"negotiation_id", negotiationID,
		"step_id", stepID,
		"approve", *req.Approve,
		"workflow_status", wf.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, wf)
}

// HandleWorkflow handles GET /negotiations/{negotiationID}/workflow.
func (h *Handler) HandleWorkflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if h.approvals == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "sign-off workflows are not configured"))
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	wf, err := h.approvals.GetForNegotiation(r.Context(), negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

// HandleComplete handles POST /negotiations/{negotiationID}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, err := h.negotiations.Complete(ctx, negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "negotiation completed",
		"request_id", requestID,
		"negotiation_id", negotiationID,
	)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleMarkExported handles POST /negotiations/{negotiationID}/export.
func (h *Handler) HandleMarkExported(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, err := h.negotiations.MarkExported(ctx, negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "negotiation marked exported",
		"request_id", requestID,
		"negotiation_id", negotiationID,
	)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleAuditTrail handles GET /negotiations/{negotiationID}/audit.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if h.trail == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "audit trail is not configured"))
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// The negotiation must exist; an empty trail on a real negotiation is
	// legitimate, a trail for a bogus id is not.
	if _, err := h.negotiations.Get(r.Context(), negotiationID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.trail.List(r.Context(), negotiationID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AuditTrailResponse{Events: events})
}

// HandleRecommendation handles
// GET /negotiations/{negotiationID}/rates/{rateID}/recommendation.
func (h *Handler) HandleRecommendation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if h.advisor == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "advisory recommendations are not configured"))
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rateID, err := rateIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, err := h.negotiations.Get(ctx, negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := n.RateByID(rateID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.advisor.Recommendation(ctx, rateID.String())
	if err != nil {
		httputil.WriteError(w, translateAdvisoryErr(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleRecommendations handles GET /negotiations/{negotiationID}/recommendations:
// advisory input for every rate still open for a decision.
func (h *Handler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if h.advisor == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "advisory recommendations are not configured"))
		return
	}
	negotiationID, err := negotiationIDFrom(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, err := h.negotiations.Get(ctx, negotiationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var open []string
	for _, rate := range n.Rates {
		if !rate.Status.IsTerminal() {
			open = append(open, rate.ID.String())
		}
	}

	recs, err := advisory.Batch(ctx, h.advisor, open, 0)
	if err != nil {
		httputil.WriteError(w, translateAdvisoryErr(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RecommendationsResponse{Recommendations: recs})
}

// translateAdvisoryErr maps advisory sentinels onto domain errors.
func translateAdvisoryErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "no recommendation available for this rate")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.New(dErrors.CodeUnavailable, "advisory service is unavailable")
	case dErrors.IsDomain(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "advisory request failed")
	}
}
