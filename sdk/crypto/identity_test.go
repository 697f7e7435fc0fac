package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyPublicKey(t *testing.T) {
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	defer identity.Destroy()

	prekey, err := GenerateKeyPair()
	require.NoError(t, err)
	defer prekey.Destroy()

	signed, err := SignPublicKey(prekey.PublicB64(), identity, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), signed.KeyVersion)

	_, err = time.Parse(time.RFC3339, signed.SignedAt)
	assert.NoError(t, err)

	ok, err := VerifySignedPublicKey(signed, identity.PublicB64())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsMutatedKeyVersion(t *testing.T) {
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	prekey, err := GenerateKeyPair()
	require.NoError(t, err)

	signed, err := SignPublicKey(prekey.PublicB64(), identity, 7)
	require.NoError(t, err)

	signed.KeyVersion = 8
	ok, err := VerifySignedPublicKey(signed, identity.PublicB64())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsMutatedPublicKey(t *testing.T) {
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	prekey, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	signed, err := SignPublicKey(prekey.PublicB64(), identity, 1)
	require.NoError(t, err)

	signed.PublicKey = other.PublicB64()
	ok, err := VerifySignedPublicKey(signed, identity.PublicB64())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUnderWrongIdentityFails(t *testing.T) {
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	impostor, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	prekey, err := GenerateKeyPair()
	require.NoError(t, err)

	signed, err := SignPublicKey(prekey.PublicB64(), identity, 1)
	require.NoError(t, err)

	ok, err := VerifySignedPublicKey(signed, impostor.PublicB64())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentityKeyPairImportRoundTrip(t *testing.T) {
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	restored, err := ImportIdentityKeyPair(identity.PrivateB64())
	require.NoError(t, err)
	assert.Equal(t, identity.PublicB64(), restored.PublicB64())

	prekey, err := GenerateKeyPair()
	require.NoError(t, err)
	signed, err := SignPublicKey(prekey.PublicB64(), restored, 3)
	require.NoError(t, err)
	ok, err := VerifySignedPublicKey(signed, identity.PublicB64())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	prekey, err := GenerateKeyPair()
	require.NoError(t, err)
	signed, err := SignPublicKey(prekey.PublicB64(), identity, 1)
	require.NoError(t, err)

	_, err = VerifySignedPublicKey(signed, "@@@")
	assert.ErrorIs(t, err, ErrBase64)

	short := *signed
	short.Signature = Base64Encode(make([]byte, 63))
	_, err = VerifySignedPublicKey(&short, identity.PublicB64())
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}
