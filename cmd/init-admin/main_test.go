package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/config"
)

func TestGenerateKeyAndSeal(t *testing.T) {
	var keyOut bytes.Buffer
	require.NoError(t, generateKey(&keyOut))
	key := strings.TrimSpace(keyOut.String())

	var sealedOut bytes.Buffer
	require.NoError(t, sealSecret(strings.NewReader("sk-abc\n"), &sealedOut, key))
	sealed := strings.TrimSpace(sealedOut.String())
	assert.True(t, strings.HasPrefix(sealed, config.SealedPrefix))

	box, err := config.NewSecretBoxFromBase64(key)
	require.NoError(t, err)
	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-abc", plain)
}

func TestSealSecretErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, sealSecret(strings.NewReader("x"), &out, ""))

	key, err := config.GenerateKey(32)
	require.NoError(t, err)
	assert.Error(t, sealSecret(strings.NewReader("  \n"), &out, key))
}

func TestIssueAdminToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("ADMIN_BOOTSTRAP_TENANT", "ops")

	var out bytes.Buffer
	require.NoError(t, issueAdminToken(&out, time.Hour))

	claims, err := auth.ParseToken([]byte("0123456789abcdef0123"), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.TenantID)
	assert.True(t, claims.HasRole(auth.RoleAdmin))
}

func TestIssueAdminTokenShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	var out bytes.Buffer
	assert.Error(t, issueAdminToken(&out, time.Hour))
}
