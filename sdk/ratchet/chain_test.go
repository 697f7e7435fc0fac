package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
)

func TestChainKeyNextAdvancesIteration(t *testing.T) {
	var seed [crypto.KeySize]byte
	for i := range seed {
		seed[i] = 0x01
	}
	ck := NewChainKey(seed)

	k1 := ck.Next()
	k2 := ck.Next()

	assert.Equal(t, uint32(0), k1.Iteration)
	assert.Equal(t, uint32(1), k2.Iteration)
	assert.Equal(t, uint32(2), ck.Iteration)
	assert.NotEqual(t, k1.Bytes(), k2.Bytes())
}

func TestChainKeyDeterministicSequence(t *testing.T) {
	var seed [crypto.KeySize]byte
	copy(seed[:], []byte("chain determinism test seed 0000"))

	a := NewChainKey(seed)
	b := NewChainKey(seed)
	for i := 0; i < 10; i++ {
		ka := a.Next()
		kb := b.Next()
		assert.Equal(t, ka.Bytes(), kb.Bytes(), "iteration %d", i)
	}
}

func TestChainKeyFromStateResumesSequence(t *testing.T) {
	var seed [crypto.KeySize]byte
	seed[0] = 0x42
	full := NewChainKey(seed)
	full.Next()
	full.Next()

	var mid [crypto.KeySize]byte
	copy(mid[:], full.Key())
	resumed := ChainKeyFromState(mid, full.Iteration)

	want := full.Next()
	got := resumed.Next()
	assert.Equal(t, want.Bytes(), got.Bytes())
	assert.Equal(t, want.Iteration, got.Iteration)
}

func TestRootKeyKDFIsPure(t *testing.T) {
	var rootSeed [crypto.KeySize]byte
	rootSeed[0] = 0x01
	dh := make([]byte, crypto.KeySize)
	dh[0] = 0x02

	rk1 := NewRootKey(rootSeed)
	newRoot1, chain1, err := rk1.KDF(dh)
	require.NoError(t, err)

	rk2 := NewRootKey(rootSeed)
	newRoot2, chain2, err := rk2.KDF(dh)
	require.NoError(t, err)

	assert.Equal(t, newRoot1.Key(), newRoot2.Key())
	assert.Equal(t, chain1.Key(), chain2.Key())
	assert.Equal(t, uint32(0), chain1.Iteration)
	assert.NotEqual(t, rk1.Key(), newRoot1.Key())
}

func TestRootKeyKDFDistinctPerInput(t *testing.T) {
	var rootSeed [crypto.KeySize]byte
	rk := NewRootKey(rootSeed)

	r1, c1, err := rk.KDF([]byte("dh output one dh output one 1234"))
	require.NoError(t, err)
	r2, c2, err := rk.KDF([]byte("dh output two dh output two 1234"))
	require.NoError(t, err)

	assert.NotEqual(t, r1.Key(), r2.Key())
	assert.NotEqual(t, c1.Key(), c2.Key())
}

func TestMessageKeyDestroyScrubs(t *testing.T) {
	var seed [crypto.KeySize]byte
	seed[5] = 0x99
	ck := NewChainKey(seed)
	mk := ck.Next()
	mk.Destroy()
	assert.Equal(t, make([]byte, crypto.KeySize), mk.Bytes())
}
