package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestGenerateAndParseToken(t *testing.T) {
	token, exp, err := GenerateToken(testSecret, "t1", "a1", []Role{RoleAgent}, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, "a1", claims.AgentID)
	assert.Equal(t, "t1", claims.Subject)
	assert.True(t, claims.HasRole(RoleAgent))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestParseToken_Rejects(t *testing.T) {
	valid, _, err := GenerateToken(testSecret, "t1", "", nil, time.Hour)
	require.NoError(t, err)
	expired, _, err := GenerateToken(testSecret, "t1", "", nil, -time.Minute)
	require.NoError(t, err)

	noTenant := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	noTenantString, err := noTenant.SignedString(testSecret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{TenantID: "t1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		secret  []byte
		token   string
		wantErr error
	}{
		{"wrong secret", []byte("other"), valid, ErrInvalidToken},
		{"expired", testSecret, expired, ErrInvalidToken},
		{"garbage", testSecret, "not-a-token", ErrInvalidToken},
		{"none algorithm", testSecret, unsigned, ErrInvalidToken},
		{"missing tenant", testSecret, noTenantString, ErrMissingTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.secret, tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGenerateToken_RequiresTenant(t *testing.T) {
	_, _, err := GenerateToken(testSecret, "", "a1", nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestRolePermissions(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleAgent))
	assert.True(t, RoleAdmin.HasPermission(RoleAdmin))
	assert.True(t, RoleAgent.HasPermission(RoleAgent))
	assert.False(t, RoleAgent.HasPermission(RoleAdmin))
	assert.True(t, RoleAgent.IsValid())
	assert.False(t, Role("viewer").IsValid())

	claims := &Claims{TenantID: "t1", Roles: []string{"admin"}}
	assert.True(t, claims.HasRole(RoleAgent))
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles(nil)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleAgent}, roles)

	roles, err = ParseRoles([]string{"admin", "agent"})
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleAdmin, RoleAgent}, roles)

	_, err = ParseRoles([]string{"viewer"})
	assert.EqualError(t, err, "unknown role: viewer")
}
