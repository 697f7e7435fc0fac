package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
)

func TestStepRequiresRemoteKey(t *testing.T) {
	d, err := NewDHRatchet()
	require.NoError(t, err)

	var rootSeed [crypto.KeySize]byte
	_, _, err = d.Step(Sending, NewRootKey(rootSeed))
	assert.ErrorIs(t, err, ErrRemoteKeyRequired)
}

func TestStepRegeneratesLocalPair(t *testing.T) {
	d, err := NewDHRatchet()
	require.NoError(t, err)
	remote, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	d.SetRemote(remote.PublicB64())

	before := d.LocalKeyPair.PublicB64()
	var rootSeed [crypto.KeySize]byte
	rootSeed[0] = 0x2A
	newRoot, chain, err := d.Step(Sending, NewRootKey(rootSeed))
	require.NoError(t, err)

	assert.NotEqual(t, before, d.LocalKeyPair.PublicB64())
	assert.NotEqual(t, rootSeed[:], newRoot.Key())
	assert.Equal(t, uint32(0), chain.Iteration)
}

func TestReceivingStepConsumesInitialPrivate(t *testing.T) {
	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerEphemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	d, err := NewResponderDHRatchet(identity.Private(), peerEphemeral.PublicB64())
	require.NoError(t, err)
	require.True(t, d.HasInitialPrivate())

	var rootSeed [crypto.KeySize]byte
	_, chain, err := d.Step(Receiving, NewRootKey(rootSeed))
	require.NoError(t, err)
	require.NotNil(t, chain)

	// Consumed and cleared; further steps use the rolling local pair.
	assert.False(t, d.HasInitialPrivate())
	assert.Empty(t, d.InitialPrivateB64())
}

func TestSendingStepDoesNotConsumeInitialPrivate(t *testing.T) {
	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerEphemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	d, err := NewResponderDHRatchet(identity.Private(), peerEphemeral.PublicB64())
	require.NoError(t, err)

	var rootSeed [crypto.KeySize]byte
	_, _, err = d.Step(Sending, NewRootKey(rootSeed))
	require.NoError(t, err)
	assert.True(t, d.HasInitialPrivate())
}

func TestFirstStepAgreement(t *testing.T) {
	// The responder's first receiving step with the reserved identity
	// private matches the initiator's ephemeral-vs-identity DH.
	bobIdentity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	aliceEphemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	var rootSeed [crypto.KeySize]byte
	rootSeed[0] = 0x63

	// Initiator side: DH(EK_A, IK_B) folded into the root.
	dhA, err := crypto.DH(aliceEphemeral.Private(), bobIdentity.Public)
	require.NoError(t, err)
	rootA := NewRootKey(rootSeed)
	newRootA, chainA, err := rootA.KDF(dhA)
	require.NoError(t, err)

	// Responder side via the ratchet step.
	d, err := NewResponderDHRatchet(bobIdentity.Private(), aliceEphemeral.PublicB64())
	require.NoError(t, err)
	newRootB, chainB, err := d.Step(Receiving, NewRootKey(rootSeed))
	require.NoError(t, err)

	assert.Equal(t, newRootA.Key(), newRootB.Key())
	assert.Equal(t, chainA.Key(), chainB.Key())
}
