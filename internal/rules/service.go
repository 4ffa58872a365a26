package rules

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/platform/sentinel"
	"ratedesk/pkg/requestcontext"
)

// Store is the persistence contract this service needs.
type Store interface {
	GetByClient(ctx context.Context, clientID domain.ClientID) (*RateRule, error)
	Upsert(ctx context.Context, rule *RateRule) (*RateRule, error)
}

// Service exposes rule reads for the validator path and admin writes.
type Service struct {
	store  Store
	logger *slog.Logger
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

// NewService constructs a rule service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the client's configured rule for the admin surface.
func (s *Service) Get(ctx context.Context, clientID domain.ClientID) (*RateRule, error) {
	rule, err := s.store.GetByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no rate rule configured for client")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load rate rule")
	}
	return rule, nil
}

// RuleForClient returns the client's rule for validation, or nil when the
// client has none configured. Unconfigured clients have no constraints.
func (s *Service) RuleForClient(ctx context.Context, clientID domain.ClientID) (*RateRule, error) {
	rule, err := s.store.GetByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load rate rule")
	}
	return rule, nil
}

// PutParams carries a full replacement rule for one client.
type PutParams struct {
	ClientID           domain.ClientID
	FreezePeriodDays   int
	NoticeRequiredDays int
	MaxIncreasePercent decimal.Decimal
	Window             *SubmissionWindow
}

// Put validates and stores the client's rule, replacing any existing one.
func (s *Service) Put(ctx context.Context, params PutParams) (*RateRule, error) {
	rule, err := NewRule(params.ClientID, params.FreezePeriodDays, params.NoticeRequiredDays,
		params.MaxIncreasePercent, params.Window, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Upsert(ctx, rule)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store rate rule")
	}

	s.logger.InfoContext(ctx, "rate rule updated",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", stored.ClientID,
		"max_increase_pct", stored.MaxIncreasePercent.String(),
	)
	return stored, nil
}
