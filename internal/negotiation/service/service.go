// Package service implements the negotiation engine: proposal intake,
// per-rate decisions and counters in real-time or batch mode, deadline
// expiry, the hand-off to the sign-off workflow, and settlement.
//
// All aggregate mutation runs inside the store's Execute critical section, so
// two concurrent writers never interleave on one negotiation. Audit entries
// and domain events are emitted only after the mutation has persisted.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ratedesk/internal/audit"
	"ratedesk/internal/events"
	"ratedesk/internal/negotiation/metrics"
	"ratedesk/internal/negotiation/models"
	"ratedesk/internal/rules"
	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/platform/sentinel"
	"ratedesk/pkg/requestcontext"
)

var tracer = otel.Tracer("ratedesk/negotiation")

// Store is the persistence contract the service needs. Execute must run fn
// inside a per-negotiation critical section and persist the aggregate only
// when fn returns nil.
type Store interface {
	Create(ctx context.Context, n *models.Negotiation) error
	FindByID(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error)
	Execute(ctx context.Context, negotiationID id.NegotiationID, fn func(*models.Negotiation) error) (*models.Negotiation, error)
	ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]id.NegotiationID, error)
}

// RuleSource resolves the client's rate rule for proposal and counter
// validation. A nil rule with no error means the client has no constraints.
type RuleSource interface {
	RuleForClient(ctx context.Context, clientID id.ClientID) (*rules.RateRule, error)
}

// ApprovalStarter hands an agreed negotiation to the sign-off workflow.
// started=false with no error means no workflow gates this client.
type ApprovalStarter interface {
	StartForNegotiation(ctx context.Context, clientID id.ClientID, negotiationID id.NegotiationID) (id.WorkflowID, bool, error)
}

// AuditRecorder captures trail entries for accepted actions.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// Service orchestrates the negotiation lifecycle over the store.
type Service struct {
	store     Store
	rules     RuleSource
	approvals ApprovalStarter
	logger    *slog.Logger
	auditor   AuditRecorder
	events    events.Publisher
	metrics   *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithApprovalStarter wires the sign-off workflow engine. Without it,
// agreed negotiations stay in CLIENT_APPROVED / FIRM_ACCEPTED until
// completed directly.
func WithApprovalStarter(starter ApprovalStarter) Option {
	return func(s *Service) {
		s.approvals = starter
	}
}

// WithAuditRecorder enables the persistent audit trail.
func WithAuditRecorder(auditor AuditRecorder) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithEventPublisher wires the domain event stream. Publishing is
// best-effort; failures are logged and never fail the operation.
func WithEventPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs the negotiation service.
func New(store Store, ruleSource RuleSource, opts ...Option) *Service {
	s := &Service{
		store:  store,
		rules:  ruleSource,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads one negotiation. Staged batch decisions are redacted to the
// caller's own side: the counterparty must not observe mid-batch state.
func (s *Service) Get(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error) {
	ctx, span := s.startSpan(ctx, "negotiation.get", negotiationID)
	defer span.End()

	n, err := s.store.FindByID(ctx, negotiationID)
	if err != nil {
		return nil, s.translate(err)
	}
	return s.redacted(n, requestcontext.Actor(ctx)), nil
}

// startSpan opens a tracing span for one service operation, tagged with the
// negotiation it touches.
func (s *Service) startSpan(ctx context.Context, op string, negotiationID id.NegotiationID) (context.Context, trace.Span) {
	return tracer.Start(ctx, op,
		trace.WithAttributes(attribute.String("negotiation_id", negotiationID.String())))
}

// translate maps store sentinels onto domain errors and passes domain errors
// through unchanged.
func (s *Service) translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "negotiation not found")
	case errors.Is(err, sentinel.ErrLockHeld):
		s.metrics.IncrementLockTimeouts()
		return dErrors.New(dErrors.CodeConcurrencyTimeout, "negotiation is busy; retry shortly")
	case dErrors.IsDomain(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "negotiation operation failed")
	}
}

// logAudit logs an audit event to the structured logger.
func (s *Service) logAudit(ctx context.Context, msg string, args ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	args = append(args, "event", msg, "log_type", "audit")
	s.logger.InfoContext(ctx, msg, args...)
}

func (s *Service) recordAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to record audit event", "error", err, "action", event.Action)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "error", err, "kind", event.Kind)
	}
}

// eventFor stamps a fresh envelope with the negotiation's identity and the
// acting principal.
func eventFor(kind events.Kind, n *models.Negotiation, actor id.Actor, at time.Time) events.Event {
	e := events.New(kind, at)
	e.NegotiationID = n.ID
	e.ClientID = n.ClientID
	e.FirmID = n.FirmID
	e.Actor = actor
	e.Status = n.Status.String()
	return e
}

// ruleViolation wraps validator output as the domain error carried back to
// the caller, one violations detail list per offending rate.
func ruleViolation(result rules.Result) error {
	return dErrors.New(dErrors.CodeRuleViolation, "proposed amount violates the client's rate rules").
		WithDetails(rules.DetailsFor(result.Violations))
}

// candidateFor builds the validator input for a proposed amount on a rate.
func candidateFor(rate *models.Rate, amount decimal.Decimal) rules.Candidate {
	c := rules.Candidate{
		Amount:          amount,
		EffectiveDate:   rate.EffectiveDate,
		PriorExpiration: rate.PriorExpiration,
	}
	if rate.ApprovedAmount != nil {
		c.ApprovedAmount = *rate.ApprovedAmount
		c.HasApprovedAmount = true
	}
	return c
}
