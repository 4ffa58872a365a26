// Package handler exposes the rate-rule admin endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ratedesk/internal/rules"
	"ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
	"ratedesk/pkg/platform/httputil"
	"ratedesk/pkg/requestcontext"
)

// Service defines the interface for rule admin operations.
type Service interface {
	Get(ctx context.Context, clientID domain.ClientID) (*rules.RateRule, error)
	Put(ctx context.Context, params rules.PutParams) (*rules.RateRule, error)
}

// Handler wires rule admin endpoints to the rule service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a rule handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the rule admin endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/clients/{clientID}/rate-rules", h.HandleGet)
	r.Put("/clients/{clientID}/rate-rules", h.HandlePut)
}

// HandleGet handles GET /clients/{clientID}/rate-rules.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := domain.ParseClientID(chi.URLParam(r, "clientID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid client id"))
		return
	}

	rule, err := h.service.Get(ctx, clientID)
	if err != nil {
		if !dErrors.Is(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "load rate rule failed",
				"request_id", requestcontext.RequestID(ctx),
				"client_id", clientID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromRule(rule))
}

// HandlePut handles PUT /clients/{clientID}/rate-rules.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	clientID, err := domain.ParseClientID(chi.URLParam(r, "clientID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid client id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[PutRuleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rule, err := h.service.Put(ctx, req.Params(clientID))
	if err != nil {
		if dErrors.Is(err, dErrors.CodeValidation) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "store rate rule failed",
			"request_id", requestID,
			"client_id", clientID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromRule(rule))
}
