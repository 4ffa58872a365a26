package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"ratedesk/pkg/domain"
	"ratedesk/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Side   string
	Role   string
}

// GetActor retrieves the authenticated actor from the context.
func GetActor(r *http.Request) domain.Actor {
	return requestcontext.Actor(r.Context())
}

// RequireAuth validates the bearer token and installs the resulting actor
// into the request context. Requests without a valid token never reach the
// wrapped handler.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if token, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
				ctx := r.Context()
				requestID := GetRequestID(ctx)

				claims, err := validator.ValidateToken(token)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", requestID,
					)
					writeUnauthorized(w, "Invalid or expired token")
					return
				}

				actor, err := actorFromClaims(claims)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - malformed claims",
						"error", err,
						"request_id", requestID,
					)
					writeUnauthorized(w, "Invalid or expired token")
					return
				}

				ctx = requestcontext.WithActor(ctx, actor)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// No Authorization header or invalid format
			ctx := r.Context()
			logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", GetRequestID(ctx),
			)
			writeUnauthorized(w, "Missing or invalid Authorization header")
		})
	}
}

func actorFromClaims(claims *JWTClaims) (domain.Actor, error) {
	userID, err := domain.ParseUserID(claims.UserID)
	if err != nil {
		return domain.Actor{}, err
	}
	side, err := domain.ParseSide(claims.Side)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{UserID: userID, Side: side, Role: claims.Role}, nil
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
