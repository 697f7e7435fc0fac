package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHKDFSHA256Deterministic(t *testing.T) {
	ikm := []byte("input keying material")
	a, err := HKDFSHA256(nil, ikm, []byte("ctx"), 64)
	require.NoError(t, err)
	b, err := HKDFSHA256(nil, ikm, []byte("ctx"), 64)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := HKDFSHA256(nil, ikm, []byte("other"), 64)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDeriveKeyFromPassword(t *testing.T) {
	salt := RandomBytes(SaltSize)

	k1, err := DeriveKeyFromPassword("correct horse battery staple", salt)
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := DeriveKeyFromPassword("correct horse battery staple", salt)
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, k1.Bytes(), k2.Bytes())

	k3, err := DeriveKeyFromPassword("different password", salt)
	require.NoError(t, err)
	defer k3.Destroy()
	assert.NotEqual(t, k1.Bytes(), k3.Bytes())

	_, err = DeriveKeyFromPassword("pw", nil)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDeriveKeyArgon2id(t *testing.T) {
	salt := RandomBytes(SaltSize)
	cfg := Argon2Config{MemoryKiB: 8, Iterations: 1, Parallelism: 1}

	k1, err := DeriveKeyArgon2id([]byte("recovery secret"), salt, cfg)
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := DeriveKeyArgon2id([]byte("recovery secret"), salt, cfg)
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, k1.Bytes(), k2.Bytes())
}

func TestDeriveKeyArgon2idParameterFloors(t *testing.T) {
	salt := RandomBytes(SaltSize)
	ok := Argon2Config{MemoryKiB: 8, Iterations: 1, Parallelism: 1}

	cases := []struct {
		name string
		cfg  Argon2Config
		salt []byte
	}{
		{"memory below floor", Argon2Config{MemoryKiB: 7, Iterations: 1, Parallelism: 1}, salt},
		{"zero iterations", Argon2Config{MemoryKiB: 8, Iterations: 0, Parallelism: 1}, salt},
		{"zero parallelism", Argon2Config{MemoryKiB: 8, Iterations: 1, Parallelism: 0}, salt},
		{"short salt", ok, RandomBytes(SaltSize - 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveKeyArgon2id([]byte("s"), tc.salt, tc.cfg)
			assert.ErrorIs(t, err, ErrArgon2)
		})
	}
}

func TestDefaultArgon2Config(t *testing.T) {
	cfg := DefaultArgon2Config()
	assert.Equal(t, uint32(64*1024), cfg.MemoryKiB)
	assert.Equal(t, uint32(3), cfg.Iterations)
	assert.Equal(t, uint8(4), cfg.Parallelism)
}

func TestDeriveKeyFromString(t *testing.T) {
	k1, err := DeriveKeyFromString("chat:42")
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := DeriveKeyFromString("chat:42")
	require.NoError(t, err)
	defer k2.Destroy()
	assert.Equal(t, k1.Bytes(), k2.Bytes())

	digest := Hash([]byte("chat:42"))
	assert.Equal(t, digest[:], k1.Bytes())
}
