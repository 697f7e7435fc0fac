package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secretA = "first-token-secret-0123456789abcdef"
	secretB = "second-token-secret-0123456789abcdef"
)

func TestTokenKeyRingInstallAndSign(t *testing.T) {
	ring := Keys()
	ring.install(secretA)

	assert.Equal(t, secretA, ring.SigningSecret())
	assert.Equal(t, []string{secretA}, ring.VerifySecrets())
	assert.WithinDuration(t, time.Now(), ring.RotatedAt(), time.Second)
}

func TestTokenKeyRingRotationKeepsRetiredSecret(t *testing.T) {
	ring := Keys()
	ring.install(secretA)

	require.NoError(t, ring.Rotate(secretB))

	// New tokens sign with the fresh secret; old tokens still verify.
	assert.Equal(t, secretB, ring.SigningSecret())
	assert.Equal(t, []string{secretB, secretA}, ring.VerifySecrets())
}

func TestTokenKeyRingRetiredSecretExpires(t *testing.T) {
	ring := Keys()
	ring.install(secretA)
	require.NoError(t, ring.Rotate(secretB))

	// Force the grace window shut.
	ring.mu.Lock()
	ring.retiredUntil = time.Now().Add(-time.Minute)
	ring.mu.Unlock()

	assert.Equal(t, []string{secretB}, ring.VerifySecrets())
}

func TestTokenKeyRingRejectsWeakRotation(t *testing.T) {
	ring := Keys()
	ring.install(secretA)

	assert.Error(t, ring.Rotate("short"))
	assert.Error(t, ring.Rotate("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	// The ring is untouched by a rejected rotation.
	assert.Equal(t, secretA, ring.SigningSecret())
}

func TestValidateTokenSecret(t *testing.T) {
	assert.Error(t, ValidateTokenSecret(""))
	assert.Error(t, ValidateTokenSecret("too-short"))
	assert.Error(t, ValidateTokenSecret("abababababababababababababababab")) // 2 unique chars
	assert.NoError(t, ValidateTokenSecret(secretA))
}

func TestEnvSourceSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", secretA)

	value, err := envSource{}.Secret("jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, secretA, value)

	_, err = envSource{}.Secret("missing_secret")
	assert.Error(t, err)
}
