package middleware

import (
	"net/http"
	"time"

	"ratedesk/pkg/requestcontext"
)

// RequestTime captures the current time at the start of the request and
// stores it in the context. All guards and rule evaluations within a single
// request then observe the same "now".
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
