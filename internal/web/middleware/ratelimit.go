package middleware

import (
	"net"
	"net/http"

	"github.com/citewise/citewise/internal/ratelimit"
)

// RateLimit throttles the public citation endpoints per client IP. The
// router puts RealIP ahead of this, so RemoteAddr already reflects the
// forwarded client when running behind a proxy.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				// RemoteAddr without a port, use it as-is.
				ip = r.RemoteAddr
			}

			if !limiter.Allow(ip) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
