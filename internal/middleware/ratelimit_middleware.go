package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"tenant_gateway/internal/ratelimit"
	"tenant_gateway/internal/utils"
)

// RateLimit caps requests per tenant agent over ratelimit.Window. It runs
// after Authenticate. A limit of 0 or less disables it. When the limiter
// itself fails the request is let through.
func RateLimit(limiter ratelimit.Limiter, limit int, onLimited func(tenantID string)) func(http.Handler) http.Handler {
	logger := utils.NewLogger("ratelimit")

	return func(next http.Handler) http.Handler {
		if limit <= 0 || limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			allowed, remaining, resetAt, err := limiter.AllowWithDetails(r.Context(), ratelimit.Key(claims.TenantID, claims.AgentID), limit)
			if err != nil {
				logger.Error("Rate limit check failed", "tenant_id", claims.TenantID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			if remaining >= 0 {
				h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			}
			if !resetAt.IsZero() {
				h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			}

			if !allowed {
				retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				if onLimited != nil {
					onLimited(claims.TenantID)
				}
				utils.RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
