package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a catalog value sealed with a SecretBox
const SealedPrefix = "enc:"

// ErrSealedSecret is returned when a catalog holds sealed values but no
// ENCRYPTION_KEY was configured
var ErrSealedSecret = errors.New("catalog holds sealed secrets but no encryption key is set")

// SecretBox seals provider credentials with AES-GCM so catalogs can be
// committed without plaintext keys
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox creates a box from a 16, 24 or 32 byte key
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// NewSecretBoxFromBase64 decodes a base64 key, as stored in ENCRYPTION_KEY
func NewSecretBoxFromBase64(encodedKey string) (*SecretBox, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	return NewSecretBox(key)
}

// GenerateKey returns a new random base64 key of keySize bytes
func GenerateKey(keySize int) (string, error) {
	if keySize != 16 && keySize != 24 && keySize != 32 {
		return "", fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes")
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext and returns it as "enc:" + base64(nonce|ciphertext)
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged.
func (b *SecretBox) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, SealedPrefix)
	if !ok {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := b.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// OpenSecrets decrypts sealed provider API keys in place. box may be nil
// when the catalog holds no sealed values.
func (c *Catalog) OpenSecrets(box *SecretBox) error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if !strings.HasPrefix(p.APIKey, SealedPrefix) {
			continue
		}
		if box == nil {
			return fmt.Errorf("provider %q: %w", p.Name, ErrSealedSecret)
		}
		key, err := box.Open(p.APIKey)
		if err != nil {
			return fmt.Errorf("provider %q api_key: %w", p.Name, err)
		}
		p.APIKey = key
	}
	return nil
}
