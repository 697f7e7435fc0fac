package crypto

import "fmt"

// KeySize is the length of every symmetric key, X25519 scalar, and X25519
// public key handled by the SDK.
const KeySize = 32

// AeadKey is a 32-byte symmetric key. It never leaves the SDK except as
// key-wrap ciphertext or as an explicit Base64 export requested by the
// embedder. Call Destroy when the key goes out of scope.
type AeadKey struct {
	key [KeySize]byte
}

// NewAeadKey copies exactly 32 bytes into a fresh key.
func NewAeadKey(b []byte) (*AeadKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: aead key is %d bytes", ErrInvalidKeyLength, len(b))
	}
	k := &AeadKey{}
	copy(k.key[:], b)
	return k, nil
}

// RandomAeadKey draws a fresh key from the CSPRNG.
func RandomAeadKey() *AeadKey {
	b := RandomBytes(KeySize)
	k := &AeadKey{}
	copy(k.key[:], b)
	Zeroize(b)
	return k
}

// Bytes exposes the raw key for an AEAD or KDF call. The returned slice
// aliases the key; do not retain it past the call.
func (k *AeadKey) Bytes() []byte {
	return k.key[:]
}

// Export returns the key as Base64. Only for embedder-requested export.
func (k *AeadKey) Export() string {
	return Base64Encode(k.key[:])
}

// Destroy scrubs the key material.
func (k *AeadKey) Destroy() {
	Zeroize(k.key[:])
}
