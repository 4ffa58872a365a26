// Package e2e drives the negotiation engine through its real HTTP surface:
// the production router and middleware chain, bearer-token auth, and the
// in-memory storage profile. These tests cover the paths a deployment
// exercises end to end; component behavior lives with the packages.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	approvalmodels "ratedesk/internal/approval/models"
	approvalservice "ratedesk/internal/approval/service"
	approvalstore "ratedesk/internal/approval/store"
	"ratedesk/internal/audit"
	jwttoken "ratedesk/internal/jwt_token"
	negotiationhandler "ratedesk/internal/negotiation/handler"
	negotiationmetrics "ratedesk/internal/negotiation/metrics"
	"ratedesk/internal/negotiation/models"
	negotiationservice "ratedesk/internal/negotiation/service"
	negotiationstore "ratedesk/internal/negotiation/store"
	platformmetrics "ratedesk/internal/platform/metrics"
	"ratedesk/internal/platform/middleware"
	"ratedesk/internal/rules"
	ruleshandler "ratedesk/internal/rules/handler"
	rulestore "ratedesk/internal/rules/store"
	"ratedesk/pkg/domain"
	"ratedesk/pkg/testutil"
)

const signingKey = "e2e-signing-key"

// Prometheus collectors register with the default registry once per test
// binary; every stack shares them.
var (
	httpMetrics = platformmetrics.New()
	negMetrics  = negotiationmetrics.New()
)

// stack is one fully wired server instance on in-memory storage, mirroring
// the cmd/server composition without the listener.
type stack struct {
	router  chi.Router
	jwt     *jwttoken.JWTService
	service *negotiationservice.Service
	engine  *approvalservice.Engine
	trail   *audit.Recorder
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	rulesService := rules.NewService(rulestore.NewInMemory(), rules.WithLogger(log))
	recorder := audit.NewRecorder(audit.NewInMemoryStore())

	engine := approvalservice.New(approvalstore.NewWorkflowInMemory(), approvalstore.NewTemplateInMemory(),
		approvalservice.WithLogger(log),
		approvalservice.WithAuditRecorder(recorder),
	)
	service := negotiationservice.New(negotiationstore.NewInMemory(), rulesService,
		negotiationservice.WithLogger(log),
		negotiationservice.WithApprovalStarter(engine),
		negotiationservice.WithAuditRecorder(recorder),
		negotiationservice.WithMetrics(negMetrics),
	)
	engine.SetOwner(service)

	jwtService := jwttoken.NewJWTService(signingKey, "ratedesk", "ratedesk-api")

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))
	router.Use(middleware.LatencyMiddleware(httpMetrics))
	router.Use(middleware.Timeout(10 * time.Second))
	router.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log))
		negotiationhandler.New(service, engine, nil, recorder, log).Register(r)
		ruleshandler.New(rulesService, log).Register(r)
	})

	return &stack{
		router:  router,
		jwt:     jwtService,
		service: service,
		engine:  engine,
		trail:   recorder,
	}
}

// do routes one authenticated JSON request through the full middleware chain.
func (st *stack) do(t *testing.T, method, path string, body any, actor domain.Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	token, err := st.jwt.GenerateAccessToken(actor.UserID, actor.Side, actor.Role, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return testutil.DoRequest(st.router, req)
}

// anon routes a request with no bearer token.
func (st *stack) anon(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	return testutil.DoRequest(st.router, req)
}

func negotiationOf(t *testing.T, rr *httptest.ResponseRecorder) *models.Negotiation {
	t.Helper()
	return testutil.UnmarshalResponse[models.Negotiation](t, rr)
}

func workflowOf(t *testing.T, rr *httptest.ResponseRecorder) *approvalmodels.Workflow {
	t.Helper()
	return testutil.UnmarshalResponse[approvalmodels.Workflow](t, rr)
}

func bulkOf(t *testing.T, rr *httptest.ResponseRecorder) *negotiationhandler.BulkResponse {
	t.Helper()
	return testutil.UnmarshalResponse[negotiationhandler.BulkResponse](t, rr)
}

func rateByRef(t *testing.T, n *models.Negotiation, timekeeperRef string) *models.Rate {
	t.Helper()
	for _, r := range n.Rates {
		if r.TimekeeperRef == timekeeperRef {
			return r
		}
	}
	t.Fatalf("no rate line for timekeeper %q", timekeeperRef)
	return nil
}

func clientActor(role string) domain.Actor {
	return domain.Actor{UserID: domain.NewUserID(), Side: domain.SideClient, Role: role}
}

func firmActor(role string) domain.Actor {
	return domain.Actor{UserID: domain.NewUserID(), Side: domain.SideFirm, Role: role}
}

// seedTemplate installs the client's sign-off template: Legal and Finance
// required, Procurement optional.
func seedTemplate(t *testing.T, st *stack, clientID domain.ClientID) {
	t.Helper()
	tpl, err := approvalmodels.NewWorkflowTemplate(clientID, "standard sign-off", []approvalmodels.StepTemplate{
		{Name: "Legal", ApproverRole: "legal_counsel", Required: true, TimeoutHours: 48},
		{Name: "Finance", ApproverRole: "cfo", Required: true, TimeoutHours: 48},
		{Name: "Procurement", ApproverRole: "procurement", Required: false, TimeoutHours: 24},
	})
	require.NoError(t, err)
	require.NoError(t, st.engine.PutTemplate(context.Background(), tpl))
}
