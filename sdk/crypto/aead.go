package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encrypt seals plaintext with ChaCha20-Poly1305 under a fresh random
// 12-byte nonce and returns nonce‖ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: aead key is %d bytes", ErrInvalidKeyLength, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAead, err)
	}
	nonce := RandomBytes(NonceSize)
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens nonce‖ciphertext produced by Encrypt. Tag mismatch, wrong
// key, and truncated input all return ErrAead; callers must not be able to
// tell a forgery from corruption.
func Decrypt(data, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: aead key is %d bytes", ErrInvalidKeyLength, len(key))
	}
	if len(data) < NonceSize {
		return nil, ErrAead
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAead, err)
	}
	plaintext, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, ErrAead
	}
	return plaintext, nil
}

// DecryptDetached opens a ciphertext whose nonce travels separately, the
// layout used by stored message envelopes.
func DecryptDetached(nonce, ciphertext, key []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrInvalidKeyLength, len(nonce))
	}
	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	return Decrypt(buf, key)
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}
