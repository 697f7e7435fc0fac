package ratchet

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
	"github.com/taiidzy/ren/sdk/x3dh"
)

// pairedSessions builds an initiator/responder pair over a fixed shared
// secret, the way a completed X3DH hands off into the ratchet.
func pairedSessions(t *testing.T, fill byte) (*Session, *Session) {
	t.Helper()

	var secretBytes [crypto.KeySize]byte
	for i := range secretBytes {
		secretBytes[i] = fill
	}

	aliceIdentity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bobIdentity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	aliceEphemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	alice, err := Initiate(x3dh.NewSharedSecret(secretBytes), aliceIdentity, bobIdentity.PublicB64())
	require.NoError(t, err)
	bob, err := Respond(x3dh.NewSharedSecret(secretBytes), bobIdentity, aliceIdentity.PublicB64(), aliceEphemeral.PublicB64())
	require.NoError(t, err)
	return alice, bob
}

func TestSessionOneWay(t *testing.T) {
	alice, bob := pairedSessions(t, 0x2A)

	msg, err := alice.Encrypt([]byte("Hello!"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), msg.Counter)

	plaintext, err := bob.Decrypt(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello!"), plaintext)
}

func TestSessionMultiMessageOneWay(t *testing.T) {
	alice, bob := pairedSessions(t, 0x2A)

	for i := 0; i < 5; i++ {
		want := fmt.Sprintf("Message %d", i)
		msg, err := alice.Encrypt([]byte(want))
		require.NoError(t, err)
		assert.Equal(t, uint32(i), msg.Counter)

		got, err := bob.Decrypt(msg)
		require.NoError(t, err)
		assert.Equal(t, []byte(want), got)
	}
}

func TestSessionOutOfOrderWithinChain(t *testing.T) {
	alice, bob := pairedSessions(t, 0x63)

	m1, err := alice.Encrypt([]byte("First"))
	require.NoError(t, err)
	m2, err := alice.Encrypt([]byte("Second"))
	require.NoError(t, err)
	m3, err := alice.Encrypt([]byte("Third"))
	require.NoError(t, err)

	p1, err := bob.Decrypt(m1)
	require.NoError(t, err)
	assert.Equal(t, []byte("First"), p1)

	p3, err := bob.Decrypt(m3)
	require.NoError(t, err)
	assert.Equal(t, []byte("Third"), p3)
	assert.Equal(t, 1, bob.SkippedKeyCount())

	p2, err := bob.Decrypt(m2)
	require.NoError(t, err)
	assert.Equal(t, []byte("Second"), p2)
	assert.Equal(t, 0, bob.SkippedKeyCount())
}

func TestSessionDecryptFailureDoesNotAdvanceState(t *testing.T) {
	alice, bob := pairedSessions(t, 0x11)

	genuine, err := alice.Encrypt([]byte("intact"))
	require.NoError(t, err)

	// Corrupt a copy and watch it bounce.
	raw, err := crypto.Base64Decode(genuine.Ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	forged := &RatchetMessage{
		EphemeralKey: genuine.EphemeralKey,
		Ciphertext:   crypto.Base64Encode(raw),
		Counter:      genuine.Counter,
	}
	_, err = bob.Decrypt(forged)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// The genuine envelope still decrypts: state did not advance.
	plaintext, err := bob.Decrypt(genuine)
	require.NoError(t, err)
	assert.Equal(t, []byte("intact"), plaintext)
}

func TestSessionDecryptRejectsMalformedEphemeral(t *testing.T) {
	_, bob := pairedSessions(t, 0x11)

	_, err := bob.Decrypt(&RatchetMessage{EphemeralKey: "!!!", Ciphertext: "AAAA", Counter: 0})
	assert.ErrorIs(t, err, crypto.ErrBase64)

	_, err = bob.Decrypt(&RatchetMessage{
		EphemeralKey: crypto.Base64Encode(make([]byte, 16)),
		Ciphertext:   "AAAA",
		Counter:      0,
	})
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
}

func TestSessionOldMessageRejected(t *testing.T) {
	alice, bob := pairedSessions(t, 0x22)

	m0, err := alice.Encrypt([]byte("zero"))
	require.NoError(t, err)
	m1, err := alice.Encrypt([]byte("one"))
	require.NoError(t, err)

	_, err = bob.Decrypt(m0)
	require.NoError(t, err)
	_, err = bob.Decrypt(m1)
	require.NoError(t, err)

	// Replay of an already-consumed counter.
	_, err = bob.Decrypt(m0)
	assert.ErrorIs(t, err, ErrOldMessage)
}

func TestSessionSkipLimitExceeded(t *testing.T) {
	alice, bob := pairedSessions(t, 0x33)

	m0, err := alice.Encrypt([]byte("anchor"))
	require.NoError(t, err)
	_, err = bob.Decrypt(m0)
	require.NoError(t, err)

	tooFar := &RatchetMessage{
		EphemeralKey: m0.EphemeralKey,
		Ciphertext:   m0.Ciphertext,
		Counter:      MaxSkippedKeys + 2,
	}
	_, err = bob.Decrypt(tooFar)
	assert.ErrorIs(t, err, ErrSkipLimitExceeded)
}

func TestSessionStateRoundTrip(t *testing.T) {
	alice, bob := pairedSessions(t, 0x44)

	m0, err := alice.Encrypt([]byte("before snapshot"))
	require.NoError(t, err)
	_, err = bob.Decrypt(m0)
	require.NoError(t, err)

	// Snapshot both sides mid-conversation and continue on the restores.
	aliceRestored, err := FromState(alice.State())
	require.NoError(t, err)
	bobRestored, err := FromState(bob.State())
	require.NoError(t, err)
	assert.Equal(t, alice.ID(), aliceRestored.ID())
	assert.Equal(t, alice.CreatedAt(), aliceRestored.CreatedAt())

	m1, err := aliceRestored.Encrypt([]byte("after snapshot"))
	require.NoError(t, err)
	plaintext, err := bobRestored.Decrypt(m1)
	require.NoError(t, err)
	assert.Equal(t, []byte("after snapshot"), plaintext)
}

func TestSessionStateSerializesOpaquely(t *testing.T) {
	alice, bob := pairedSessions(t, 0x55)

	m0, err := alice.Encrypt([]byte("seed"))
	require.NoError(t, err)
	m2skip, err := alice.Encrypt([]byte("skipped over"))
	require.NoError(t, err)
	m1, err := alice.Encrypt([]byte("late"))
	require.NoError(t, err)
	_ = m2skip

	_, err = bob.Decrypt(m0)
	require.NoError(t, err)
	_, err = bob.Decrypt(m1)
	require.NoError(t, err)
	require.Equal(t, 1, bob.SkippedKeyCount())

	// JSON round trip preserves the skipped-key cache.
	blob, err := json.Marshal(bob.State())
	require.NoError(t, err)
	var st SessionState
	require.NoError(t, json.Unmarshal(blob, &st))
	restored, err := FromState(&st)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.SkippedKeyCount())

	late, err := restored.Decrypt(m2skip)
	require.NoError(t, err)
	assert.Equal(t, []byte("skipped over"), late)
	assert.Equal(t, 0, restored.SkippedKeyCount())
}

func TestFromStateRejectsUnknownVersion(t *testing.T) {
	alice, _ := pairedSessions(t, 0x66)
	st := alice.State()
	st.Version = 99
	_, err := FromState(st)
	assert.ErrorIs(t, err, ErrStateVersion)
}

func TestSessionIDIsOpaqueHandle(t *testing.T) {
	alice, bob := pairedSessions(t, 0x77)
	raw, err := crypto.Base64Decode(alice.ID())
	require.NoError(t, err)
	assert.Len(t, raw, 16)
	assert.NotEqual(t, alice.ID(), bob.ID())
}

func TestEncryptDecryptWithState(t *testing.T) {
	alice, bob := pairedSessions(t, 0x2A)

	aliceState, err := json.Marshal(alice.State())
	require.NoError(t, err)
	bobState, err := json.Marshal(bob.State())
	require.NoError(t, err)

	nextAlice, msg, err := EncryptWithState(string(aliceState), []byte("Hello!"))
	require.NoError(t, err)
	assert.NotEqual(t, string(aliceState), nextAlice)

	nextBob, plaintext, err := DecryptWithState(string(bobState), msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello!"), plaintext)

	// Second message continues off the returned states.
	nextAlice2, msg2, err := EncryptWithState(nextAlice, []byte("Again"))
	require.NoError(t, err)
	_, plaintext2, err := DecryptWithState(nextBob, msg2)
	require.NoError(t, err)
	assert.Equal(t, []byte("Again"), plaintext2)
	assert.NotEqual(t, nextAlice, nextAlice2)
}

func TestDecryptWithStateFailureLeavesStateUsable(t *testing.T) {
	alice, bob := pairedSessions(t, 0x2B)

	bobState, err := json.Marshal(bob.State())
	require.NoError(t, err)

	msg, err := alice.Encrypt([]byte("real"))
	require.NoError(t, err)

	forged := *msg
	forged.Ciphertext = crypto.Base64Encode(crypto.RandomBytes(40))
	_, _, err = DecryptWithState(string(bobState), &forged)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// The stored state was never replaced, so the real envelope decrypts.
	_, plaintext, err := DecryptWithState(string(bobState), msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("real"), plaintext)
}

func TestProactiveRatchetRotatesRoot(t *testing.T) {
	alice, bob := pairedSessions(t, 0x4C)

	// Bob's side: decrypt Alice's first message, then reply. The reply
	// crosses the proactive cadence and must rotate the root.
	m0, err := alice.Encrypt([]byte("opener"))
	require.NoError(t, err)
	_, err = bob.Decrypt(m0)
	require.NoError(t, err)

	rootBefore := append([]byte(nil), bob.State().RootKey...)
	_, err = bob.Encrypt([]byte("reply"))
	require.NoError(t, err)
	rootAfter := bob.State().RootKey
	assert.NotEqual(t, string(rootBefore), rootAfter)
}

func TestForwardSecrecyAcrossChainAdvance(t *testing.T) {
	alice, bob := pairedSessions(t, 0x5D)

	m0, err := alice.Encrypt([]byte("first"))
	require.NoError(t, err)
	m1, err := alice.Encrypt([]byte("second"))
	require.NoError(t, err)

	_, err = bob.Decrypt(m0)
	require.NoError(t, err)

	// The receiving chain advanced past counter 0: the old message key is
	// gone from state, and a replay cannot re-derive it.
	stateBefore := bob.State()
	require.NotNil(t, stateBefore.ReceivingCounter)
	assert.Equal(t, uint32(1), *stateBefore.ReceivingCounter)

	_, err = bob.Decrypt(m0)
	assert.ErrorIs(t, err, ErrOldMessage)

	_, err = bob.Decrypt(m1)
	require.NoError(t, err)
}
