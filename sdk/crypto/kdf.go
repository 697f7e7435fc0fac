package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is fixed at the value the server-stored private-key
// wrapping was produced with.
const PBKDF2Iterations = 100_000

// HKDFSHA256 runs extract-and-expand and returns length bytes.
func HKDFSHA256(salt, ikm, info []byte, length int) ([]byte, error) {
	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), okm); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", ErrAead, err)
	}
	return okm, nil
}

// DeriveKeyFromPassword derives a 32-byte key with PBKDF2-HMAC-SHA256 at
// 100 000 iterations. Used only to unwrap the server-stored private key,
// never for message or file encryption.
func DeriveKeyFromPassword(password string, salt []byte) (*AeadKey, error) {
	if len(salt) < 1 {
		return nil, fmt.Errorf("%w: empty salt", ErrInvalidKeyLength)
	}
	out := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
	key, err := NewAeadKey(out)
	Zeroize(out)
	return key, err
}

// Argon2Config holds Argon2id parameters.
type Argon2Config struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Config is the recovery-key derivation profile: 64 MiB,
// 3 iterations, 4 lanes.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

// DeriveKeyArgon2id derives a 32-byte key with Argon2id. Parameter floors:
// memory ≥ 8 KiB, iterations ≥ 1, parallelism ≥ 1, salt ≥ 16 bytes.
func DeriveKeyArgon2id(secret, salt []byte, cfg Argon2Config) (*AeadKey, error) {
	if cfg.MemoryKiB < 8 {
		return nil, fmt.Errorf("%w: memory below 8 KiB", ErrArgon2)
	}
	if cfg.Iterations < 1 {
		return nil, fmt.Errorf("%w: iterations below 1", ErrArgon2)
	}
	if cfg.Parallelism < 1 {
		return nil, fmt.Errorf("%w: parallelism below 1", ErrArgon2)
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("%w: salt below %d bytes", ErrArgon2, SaltSize)
	}
	out := argon2.IDKey(secret, salt, cfg.Iterations, cfg.MemoryKiB, cfg.Parallelism, KeySize)
	key, err := NewAeadKey(out)
	Zeroize(out)
	return key, err
}

// DeriveKeyFromString derives a 32-byte key as SHA-256(s). Explicitly weak;
// permitted only for non-secret routing material.
func DeriveKeyFromString(s string) (*AeadKey, error) {
	digest := sha256.Sum256([]byte(s))
	key, err := NewAeadKey(digest[:])
	Zeroize(digest[:])
	return key, err
}
