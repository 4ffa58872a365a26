package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ratedesk/pkg/platform/httputil"
	"ratedesk/pkg/requestcontext"
)

// visitor tracks one client's limiter; stale entries are evicted lazily.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle applies a per-client token bucket. It protects the negotiation
// endpoints from tight retry loops without the cost of a shared limiter; the
// bound is per process, which is acceptable for a protective backstop.
func Throttle(rps rate.Limit, burst int) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
		lastGC   = time.Now()
	)

	lookup := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastGC) > 10*time.Minute {
			for k, v := range visitors {
				if now.Sub(v.lastSeen) > 10*time.Minute {
					delete(visitors, k)
				}
			}
			lastGC = now
		}

		v, ok := visitors[key]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rps, burst)}
			visitors[key] = v
		}
		v.lastSeen = now
		return v.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestcontext.ClientIP(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			if !lookup(key).Allow() {
				w.Header().Set("Retry-After", "1")
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests. Please try again later.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
