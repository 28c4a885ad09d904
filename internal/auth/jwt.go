package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or expiry checks
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingTenant is returned for valid tokens without a tenant claim
	ErrMissingTenant = errors.New("token has no tenant")
)

// Claims identify the caller of the gateway API. Every request is scoped to
// TenantID; AgentID is optional.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	AgentID  string   `json:"agent_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether any role of the claims grants required
func (c *Claims) HasRole(required Role) bool {
	for _, r := range c.Roles {
		if Role(r).HasPermission(required) {
			return true
		}
	}
	return false
}

// GenerateToken signs an HS256 token for a tenant agent
func GenerateToken(secret []byte, tenantID, agentID string, roles []Role, ttl time.Duration) (string, time.Time, error) {
	if tenantID == "" {
		return "", time.Time{}, ErrMissingTenant
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.String())
	}

	claims := &Claims{
		TenantID: tenantID,
		AgentID:  agentID,
		Roles:    names,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies an HS256 token and returns its claims
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" {
		return nil, ErrMissingTenant
	}
	return claims, nil
}
