package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per client IP
// and endpoint to requestsPerMinute using a sliding window. Exceeding the
// limit yields a 429 JSON error. A non-positive limit disables limiting.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)
}

// RateLimitByHeader returns an HTTP middleware that limits requests by
// a specific header value (e.g., X-API-Key) to the specified number per
// minute. Only the first eight characters of the value form the bucket key
// so secrets are not held by the limiter. Requests without the header are
// limited by IP.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				if len(v) > 8 {
					v = v[:8]
				}
				return "h:" + v, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)
}
