package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"ratedesk/pkg/requestcontext"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures every request carries a request id. An inbound
// X-Request-ID is trusted for correlation with upstream systems; otherwise a
// new one is generated. The id is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
