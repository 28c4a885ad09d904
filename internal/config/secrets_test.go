package config

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *SecretBox {
	t.Helper()
	key, err := GenerateKey(32)
	require.NoError(t, err)
	box, err := NewSecretBoxFromBase64(key)
	require.NoError(t, err)
	return box
}

func TestSecretBoxRoundTrip(t *testing.T) {
	box := testBox(t)

	sealed, err := box.Seal("sk-live-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, SealedPrefix))
	assert.NotContains(t, sealed, "sk-live-123")

	again, err := box.Seal("sk-live-123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)

	plain, err = box.Open("not-sealed")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)
}

func TestSecretBoxRejects(t *testing.T) {
	box := testBox(t)
	sealed, err := box.Seal("secret")
	require.NoError(t, err)

	_, err = testBox(t).Open(sealed)
	assert.Error(t, err, "wrong key")

	_, err = box.Open(SealedPrefix + "%%%")
	assert.Error(t, err, "bad base64")

	_, err = box.Open(SealedPrefix + base64.StdEncoding.EncodeToString([]byte("x")))
	assert.Error(t, err, "too short")

	_, err = NewSecretBox(make([]byte, 10))
	assert.Error(t, err)
	_, err = NewSecretBoxFromBase64("")
	assert.Error(t, err)
	_, err = GenerateKey(7)
	assert.Error(t, err)
}

func TestCatalogOpenSecrets(t *testing.T) {
	box := testBox(t)
	sealed, err := box.Seal("sk-sealed")
	require.NoError(t, err)

	cat := &Catalog{Providers: []ProviderConfig{
		{Name: "plain", Type: "openai", APIKey: "sk-plain"},
		{Name: "sealed", Type: "openai", APIKey: sealed},
	}}

	err = cat.OpenSecrets(nil)
	assert.ErrorIs(t, err, ErrSealedSecret)

	require.NoError(t, cat.OpenSecrets(box))
	assert.Equal(t, "sk-plain", cat.Providers[0].APIKey)
	assert.Equal(t, "sk-sealed", cat.Providers[1].APIKey)
}
