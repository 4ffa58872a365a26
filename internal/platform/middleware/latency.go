package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ratedesk/internal/platform/metrics"
)

// LatencyMiddleware records per-route latency and status metrics. The chi
// route pattern is used as the label so path parameters do not explode
// cardinality.
func LatencyMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			done := m.TrackInFlight()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)
			done()

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}
