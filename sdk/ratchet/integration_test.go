package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
	"github.com/taiidzy/ren/sdk/x3dh"
)

// TestX3DHIntoRatchet walks the full handshake: bundle publication, X3DH on
// both sides, ratchet session setup, and message flow.
func TestX3DHIntoRatchet(t *testing.T) {
	aliceStore, err := x3dh.GenerateIdentityStore()
	require.NoError(t, err)
	bobStore, err := x3dh.GenerateIdentityStore()
	require.NoError(t, err)

	otk, otkPair, err := x3dh.GenerateOneTimePreKey(1)
	require.NoError(t, err)
	bundle, err := bobStore.Bundle(2, otk)
	require.NoError(t, err)

	aliceEphemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	aliceSK, err := x3dh.Initiate(aliceStore.IdentityKeyPair, aliceEphemeral,
		bobStore.SigningKeyPair.PublicB64(), bundle)
	require.NoError(t, err)
	bobSK, err := x3dh.RespondWithOneTime(bobStore.IdentityKeyPair, bobStore.SignedPreKey, otkPair,
		aliceStore.IdentityKeyPair.PublicB64(), aliceEphemeral.PublicB64())
	require.NoError(t, err)
	require.Equal(t, aliceSK.Bytes(), bobSK.Bytes())

	alice, err := Initiate(aliceSK, aliceStore.IdentityKeyPair, bobStore.IdentityKeyPair.PublicB64())
	require.NoError(t, err)
	bob, err := Respond(bobSK, bobStore.IdentityKeyPair, aliceStore.IdentityKeyPair.PublicB64(),
		aliceEphemeral.PublicB64())
	require.NoError(t, err)

	messages := []string{"Hello from Alice!", "Second message!", "Third time's the charm"}
	for _, want := range messages {
		env, err := alice.Encrypt([]byte(want))
		require.NoError(t, err)
		got, err := bob.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, []byte(want), got)
	}
}
