package sessionstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
	"github.com/taiidzy/ren/sdk/ratchet"
	"github.com/taiidzy/ren/sdk/x3dh"
)

func storedPair(t *testing.T) (*Store, *Store) {
	t.Helper()

	var secret [crypto.KeySize]byte
	for i := range secret {
		secret[i] = 0x2A
	}
	aliceIdentity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bobIdentity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	aliceEphemeral, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	alice, err := ratchet.Initiate(x3dh.NewSharedSecret(secret), aliceIdentity, bobIdentity.PublicB64())
	require.NoError(t, err)
	bob, err := ratchet.Respond(x3dh.NewSharedSecret(secret), bobIdentity, aliceIdentity.PublicB64(), aliceEphemeral.PublicB64())
	require.NoError(t, err)

	aliceStore, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = aliceStore.Close() })
	bobStore, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bobStore.Close() })

	aliceState, err := json.Marshal(alice.State())
	require.NoError(t, err)
	bobState, err := json.Marshal(bob.State())
	require.NoError(t, err)
	require.NoError(t, aliceStore.Put(2, string(aliceState)))
	require.NoError(t, bobStore.Put(1, string(bobState)))

	return aliceStore, bobStore
}

func TestStoreEncryptDecryptRoundTrip(t *testing.T) {
	aliceStore, bobStore := storedPair(t)

	msg, err := aliceStore.Encrypt(2, []byte("Hello!"))
	require.NoError(t, err)

	plaintext, err := bobStore.Decrypt(1, msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello!"), plaintext)

	// The snapshots advanced: a second message continues the chain.
	msg2, err := aliceStore.Encrypt(2, []byte("Second"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), msg2.Counter)
	plaintext2, err := bobStore.Decrypt(1, msg2)
	require.NoError(t, err)
	assert.Equal(t, []byte("Second"), plaintext2)
}

func TestStoreDecryptFailureKeepsSnapshot(t *testing.T) {
	aliceStore, bobStore := storedPair(t)

	msg, err := aliceStore.Encrypt(2, []byte("real"))
	require.NoError(t, err)

	forged := *msg
	forged.Ciphertext = crypto.Base64Encode(crypto.RandomBytes(48))
	_, err = bobStore.Decrypt(1, &forged)
	assert.ErrorIs(t, err, ratchet.ErrDecryptionFailed)

	// Stored state unchanged: the genuine envelope still decrypts.
	plaintext, err := bobStore.Decrypt(1, msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("real"), plaintext)
}

func TestStoreUnknownPeer(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Encrypt(99, []byte("x"))
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = store.Get(99)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStorePutReplaces(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(7, `{"version":1}`))
	require.NoError(t, store.Put(7, `{"version":1,"x":2}`))
	got, err := store.Get(7)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"x":2}`, got)

	require.NoError(t, store.Delete(7))
	_, err = store.Get(7)
	assert.ErrorIs(t, err, ErrNoSession)
}
