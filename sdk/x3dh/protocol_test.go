package x3dh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
)

func TestAgreementWithOneTimePreKey(t *testing.T) {
	alice, err := GenerateIdentityStore()
	require.NoError(t, err)
	bob, err := GenerateIdentityStore()
	require.NoError(t, err)

	otk, otkPair, err := GenerateOneTimePreKey(1)
	require.NoError(t, err)

	bundle, err := bob.Bundle(2, otk)
	require.NoError(t, err)

	ephemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	aliceSK, err := Initiate(alice.IdentityKeyPair, ephemeral, bob.SigningKeyPair.PublicB64(), bundle)
	require.NoError(t, err)

	bobSK, err := RespondWithOneTime(bob.IdentityKeyPair, bob.SignedPreKey, otkPair,
		alice.IdentityKeyPair.PublicB64(), ephemeral.PublicB64())
	require.NoError(t, err)

	assert.Equal(t, aliceSK.Bytes(), bobSK.Bytes())
	assert.Len(t, aliceSK.Bytes(), crypto.KeySize)
}

func TestAgreementWithoutOneTimePreKey(t *testing.T) {
	alice, err := GenerateIdentityStore()
	require.NoError(t, err)
	bob, err := GenerateIdentityStore()
	require.NoError(t, err)

	bundle, err := bob.Bundle(2, nil)
	require.NoError(t, err)
	assert.False(t, bundle.HasOneTimePreKey())

	ephemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	aliceSK, err := Initiate(alice.IdentityKeyPair, ephemeral, bob.SigningKeyPair.PublicB64(), bundle)
	require.NoError(t, err)

	bobSK, err := Respond(bob.IdentityKeyPair, bob.SignedPreKey,
		alice.IdentityKeyPair.PublicB64(), ephemeral.PublicB64())
	require.NoError(t, err)

	assert.Equal(t, aliceSK.Bytes(), bobSK.Bytes())
}

func TestMismatchedOneTimeBranchDiverges(t *testing.T) {
	alice, err := GenerateIdentityStore()
	require.NoError(t, err)
	bob, err := GenerateIdentityStore()
	require.NoError(t, err)

	otk, otkPair, err := GenerateOneTimePreKey(9)
	require.NoError(t, err)
	bundle, err := bob.Bundle(2, otk)
	require.NoError(t, err)

	ephemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	aliceSK, err := Initiate(alice.IdentityKeyPair, ephemeral, bob.SigningKeyPair.PublicB64(), bundle)
	require.NoError(t, err)

	// Responder skips the OPK the initiator used.
	bobSK, err := Respond(bob.IdentityKeyPair, bob.SignedPreKey,
		alice.IdentityKeyPair.PublicB64(), ephemeral.PublicB64())
	require.NoError(t, err)

	assert.NotEqual(t, aliceSK.Bytes(), bobSK.Bytes())
	_ = otkPair
}

func TestInitiateRejectsBadSignature(t *testing.T) {
	alice, err := GenerateIdentityStore()
	require.NoError(t, err)
	bob, err := GenerateIdentityStore()
	require.NoError(t, err)

	bundle, err := bob.Bundle(2, nil)
	require.NoError(t, err)

	// Forge: swap the signed prekey for an unsigned key.
	rogue, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bundle.SignedPreKey = rogue.PublicB64()

	ephemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = Initiate(alice.IdentityKeyPair, ephemeral, bob.SigningKeyPair.PublicB64(), bundle)
	assert.ErrorIs(t, err, crypto.ErrSignature)
}

func TestInitiateRejectsMutatedKeyVersion(t *testing.T) {
	alice, err := GenerateIdentityStore()
	require.NoError(t, err)
	bob, err := GenerateIdentityStore()
	require.NoError(t, err)

	bundle, err := bob.Bundle(2, nil)
	require.NoError(t, err)
	bundle.KeyVersion++

	ephemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = Initiate(alice.IdentityKeyPair, ephemeral, bob.SigningKeyPair.PublicB64(), bundle)
	assert.ErrorIs(t, err, crypto.ErrSignature)
}

func TestInitiateRejectsMalformedBundle(t *testing.T) {
	alice, err := GenerateIdentityStore()
	require.NoError(t, err)
	bob, err := GenerateIdentityStore()
	require.NoError(t, err)

	bundle, err := bob.Bundle(2, nil)
	require.NoError(t, err)
	bundle.IdentityKey = crypto.Base64Encode(make([]byte, 16))

	ephemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = Initiate(alice.IdentityKeyPair, ephemeral, bob.SigningKeyPair.PublicB64(), bundle)
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
}

func TestRotateSignedPreKeyBumpsVersion(t *testing.T) {
	store, err := GenerateIdentityStore()
	require.NoError(t, err)

	oldPub := store.SignedPreKey.PublicB64()
	oldVersion := store.KeyVersion

	fresh, err := store.RotateSignedPreKey()
	require.NoError(t, err)
	assert.NotEqual(t, oldPub, fresh.PublicB64())
	assert.Equal(t, oldVersion+1, store.KeyVersion)

	// New bundle verifies under the new version.
	bundle, err := store.Bundle(1, nil)
	require.NoError(t, err)
	ok, err := crypto.VerifyPreKeySignature(store.SigningKeyPair.PublicB64(),
		bundle.SignedPreKey, bundle.SignedPreKeySignature, bundle.KeyVersion)
	require.NoError(t, err)
	assert.True(t, ok)
}
