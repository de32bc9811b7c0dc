package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
)

// ErrorCode is returned in the JSON body of a rejected request.
const ErrorCode = "RATE_LIMIT_EXCEEDED"

// ClientIP keys requests by remote address. Forwarded headers are ignored
// here; the router rewrites RemoteAddr from them only for a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. Store failures let
// the request through.
func (l *Limiter) Middleware(prefix string, key func(*http.Request) string) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := prefix + key(r)
			d, err := l.Allow(r.Context(), k)
			if err != nil {
				l.logger.Error("rate limiter unavailable", slog.String("key", k), slog.Any("err", err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":      "Muitas requisições. Tente novamente mais tarde.",
					"errorCode":  ErrorCode,
					"retryAfter": secs,
				})
				l.logger.Warn("rate limit exceeded", slog.String("key", k))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
