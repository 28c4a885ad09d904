package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// ClaimsKey is the context key of the caller's *auth.Claims
const ClaimsKey ContextKey = "claims"

// Authenticate validates the bearer JWT and stores its claims in the request
// context. When roles are given the caller needs at least one of them.
func Authenticate(secret []byte, requiredRoles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := auth.ParseToken(secret, tokenString)
			if errors.Is(err, auth.ErrMissingTenant) {
				utils.RespondWithError(w, http.StatusUnauthorized, "Token has no tenant")
				return
			}
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if len(requiredRoles) > 0 {
				allowed := false
				for _, role := range requiredRoles {
					if claims.HasRole(role) {
						allowed = true
						break
					}
				}
				if !allowed {
					utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the caller's claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// CanAccessTenant reports whether the caller may read tenantID
func CanAccessTenant(ctx context.Context, tenantID string) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}
	return claims.TenantID == tenantID || claims.HasRole(auth.RoleAdmin)
}
