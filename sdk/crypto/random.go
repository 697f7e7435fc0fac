package crypto

import (
	"crypto/rand"
	"io"
	"log"
)

const (
	// NonceSize is the ChaCha20-Poly1305 nonce length.
	NonceSize = 12
	// SaltSize is the canonical salt length at the wire boundary.
	SaltSize = 16
)

// RandomBytes fills a fresh buffer from the OS CSPRNG. Failure to draw
// randomness is fatal: every downstream guarantee depends on it.
func RandomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		log.Fatalf("FATAL: system random source failed: %v", err)
	}
	return buf
}

// GenerateNonce returns a random 12-byte nonce, Base64-encoded.
func GenerateNonce() string {
	return Base64Encode(RandomBytes(NonceSize))
}

// GenerateSalt returns a random 16-byte salt, Base64-encoded.
func GenerateSalt() string {
	return Base64Encode(RandomBytes(SaltSize))
}

// Zeroize overwrites a byte slice in place. Use on every intermediate
// buffer that held key material, immediately after last use.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
