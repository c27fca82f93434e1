package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// NewRateLimiter guards an endpoint with a token bucket shared across all
// callers. The bridge ingress sits behind this so a misbehaving producer
// cannot flood the fan-out pipeline.
func NewRateLimiter(logger *slog.Logger, ratePerSecond float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Request rate limit exceeded", slog.String("uri", r.RequestURI))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
