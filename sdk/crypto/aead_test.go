package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeySize) // 32 bytes of 0x00
	plaintext := []byte("hello")

	sealed, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.Len(t, sealed, NonceSize+len(plaintext)+16)

	opened, err := Decrypt(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := make([]byte, KeySize)
	sealed, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	// Flip the last byte of the ciphertext.
	sealed[len(sealed)-1] ^= 0x01
	_, err = Decrypt(sealed, key)
	assert.ErrorIs(t, err, ErrAead)
}

func TestDecryptTamperedNonceFails(t *testing.T) {
	key := RandomBytes(KeySize)
	sealed, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	sealed[0] ^= 0x80
	_, err = Decrypt(sealed, key)
	assert.ErrorIs(t, err, ErrAead)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), RandomBytes(KeySize))
	require.NoError(t, err)

	_, err = Decrypt(sealed, RandomBytes(KeySize))
	assert.ErrorIs(t, err, ErrAead)
}

func TestDecryptTruncatedInputFails(t *testing.T) {
	key := RandomBytes(KeySize)

	_, err := Decrypt([]byte{0x01, 0x02}, key)
	assert.ErrorIs(t, err, ErrAead)

	sealed, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)
	_, err = Decrypt(sealed[:NonceSize+3], key)
	assert.ErrorIs(t, err, ErrAead)
}

func TestEncryptRejectsBadKeyLength(t *testing.T) {
	_, err := Encrypt([]byte("x"), make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = Decrypt(make([]byte, 64), make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDecryptDetached(t *testing.T) {
	key := RandomBytes(KeySize)
	sealed, err := Encrypt([]byte("detached"), key)
	require.NoError(t, err)

	opened, err := DecryptDetached(sealed[:NonceSize], sealed[NonceSize:], key)
	require.NoError(t, err)
	assert.Equal(t, []byte("detached"), opened)

	_, err = DecryptDetached([]byte{0x01}, sealed[NonceSize:], key)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestEncryptNoncesAreFresh(t *testing.T) {
	key := RandomBytes(KeySize)
	a, err := Encrypt([]byte("same plaintext"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same plaintext"), key)
	require.NoError(t, err)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}
