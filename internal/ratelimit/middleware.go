package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tally/internal/models"
)

// userIDHeader carries the authenticated user id, injected by the platform's
// API gateway after session validation. Authentication itself is out of this
// service's hands; an absent header simply skips the user dimension.
const userIDHeader = "X-User-ID"

// Middleware returns HTTP middleware enforcing the policy for one resource
// class and action. Denied requests receive 429 with a Retry-After header and
// a structured error body; allowed requests pass through with the usual
// X-RateLimit-* headers populated.
func Middleware(checker Checker, resourceClass, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjects := Subjects{
				UserID: r.Header.Get(userIDHeader),
				IP:     ClientIP(r),
			}

			decision := checker.Check(r.Context(), resourceClass, action, subjects)

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
			}

			if !decision.Allowed {
				retryAfter := decision.RetryAfterSeconds()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				errorResp.Details = map[string]string{
					"retry_after_seconds": fmt.Sprintf("%d", retryAfter),
				}
				json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Rate limit exceeded",
					"resource_class", resourceClass,
					"action", action,
					"dimension", decision.Dimension,
					"backend", decision.Backend,
					"retry_after", retryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from the request, checking proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
