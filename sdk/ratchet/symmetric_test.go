package ratchet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiidzy/ren/sdk/crypto"
)

func testChain(tag byte) *ChainKey {
	var seed [crypto.KeySize]byte
	for i := range seed {
		seed[i] = tag
	}
	return NewChainKey(seed)
}

func TestNextMessageKeyRequiresSendingChain(t *testing.T) {
	r := NewSymmetricRatchet()
	_, err := r.NextMessageKey()
	assert.ErrorIs(t, err, ErrNoSendingChain)

	r.SetSendingChain(testChain(0x11))
	k1, err := r.NextMessageKey()
	require.NoError(t, err)
	k2, err := r.NextMessageKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1.Bytes(), k2.Bytes())
	assert.Equal(t, uint32(2), r.SentCount)
}

func TestMessageKeyForCounterInOrder(t *testing.T) {
	r := NewSymmetricRatchet()
	r.SetReceivingChain(testChain(0x22))

	for i := uint32(0); i < 5; i++ {
		mk, err := r.MessageKeyForCounter("eph", i)
		require.NoError(t, err)
		assert.Equal(t, i, mk.Iteration)
	}
	assert.Equal(t, 0, r.SkippedCount())
}

func TestMessageKeyForCounterOutOfOrder(t *testing.T) {
	send := NewSymmetricRatchet()
	send.SetSendingChain(testChain(0x33))
	recv := NewSymmetricRatchet()
	recv.SetReceivingChain(testChain(0x33))

	k0, err := send.NextMessageKey()
	require.NoError(t, err)
	k1, err := send.NextMessageKey()
	require.NoError(t, err)
	k2, err := send.NextMessageKey()
	require.NoError(t, err)

	// Deliver 0, then 2, then 1.
	g0, err := recv.MessageKeyForCounter("eph", 0)
	require.NoError(t, err)
	assert.Equal(t, k0.Bytes(), g0.Bytes())

	g2, err := recv.MessageKeyForCounter("eph", 2)
	require.NoError(t, err)
	assert.Equal(t, k2.Bytes(), g2.Bytes())
	assert.Equal(t, 1, recv.SkippedCount())

	g1, err := recv.MessageKeyForCounter("eph", 1)
	require.NoError(t, err)
	assert.Equal(t, k1.Bytes(), g1.Bytes())
	assert.Equal(t, 0, recv.SkippedCount())
}

func TestMessageKeyForCounterRequiresReceivingChain(t *testing.T) {
	r := NewSymmetricRatchet()
	_, err := r.MessageKeyForCounter("eph", 0)
	assert.ErrorIs(t, err, ErrNoReceivingChain)
}

func TestOldCounterRejected(t *testing.T) {
	r := NewSymmetricRatchet()
	r.SetReceivingChain(testChain(0x44))

	_, err := r.MessageKeyForCounter("eph", 0)
	require.NoError(t, err)
	_, err = r.MessageKeyForCounter("eph", 1)
	require.NoError(t, err)

	_, err = r.MessageKeyForCounter("eph", 0)
	assert.ErrorIs(t, err, ErrOldMessage)
}

func TestSkipLimit(t *testing.T) {
	r := NewSymmetricRatchet()
	r.SetReceivingChain(testChain(0x55))

	_, err := r.MessageKeyForCounter("eph", MaxSkippedKeys+1)
	assert.ErrorIs(t, err, ErrSkipLimitExceeded)

	// Exactly at the cap is allowed.
	mk, err := r.MessageKeyForCounter("eph", MaxSkippedKeys)
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxSkippedKeys), mk.Iteration)
	assert.Equal(t, MaxSkippedKeys, r.SkippedCount())
}

func TestGlobalSkippedBoundEvictsOldest(t *testing.T) {
	r := NewSymmetricRatchet()
	r.SetReceivingChain(testChain(0x66))

	// Fill the cache from the first chain.
	_, err := r.MessageKeyForCounter("eph-a", 600)
	require.NoError(t, err)
	assert.Equal(t, 600, r.SkippedCount())

	// A second chain pushes the total over the bound; the oldest entries
	// from the first chain are evicted FIFO.
	r.SetReceivingChain(testChain(0x77))
	_, err = r.MessageKeyForCounter("eph-b", 600)
	require.NoError(t, err)
	assert.Equal(t, MaxSkippedKeys, r.SkippedCount())

	// Oldest entries from chain A are gone, newest remain.
	_, ok := r.takeSkipped("eph-a", 0)
	assert.False(t, ok)
	_, ok = r.takeSkipped("eph-a", 599)
	assert.True(t, ok)
}

func TestSkippedKeysPerChainIdentity(t *testing.T) {
	r := NewSymmetricRatchet()
	r.SetReceivingChain(testChain(0x88))

	_, err := r.MessageKeyForCounter("chain-one", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, r.SkippedCount())

	// Skipped keys are keyed by ephemeral: a different chain id misses.
	_, ok := r.takeSkipped("chain-two", 0)
	assert.False(t, ok)
	_, ok = r.takeSkipped("chain-one", 1)
	assert.True(t, ok)
}

func TestRestoreSkippedRoundTrip(t *testing.T) {
	r := NewSymmetricRatchet()
	r.SetReceivingChain(testChain(0x99))
	_, err := r.MessageKeyForCounter("eph", 3)
	require.NoError(t, err)
	require.Equal(t, 3, r.SkippedCount())

	copied := make(map[string][]SkippedMessageKey)
	for eph, list := range r.Skipped() {
		copied[eph] = append([]SkippedMessageKey(nil), list...)
	}

	fresh := NewSymmetricRatchet()
	fresh.RestoreSkipped(copied)
	assert.Equal(t, 3, fresh.SkippedCount())
	for i := uint32(0); i < 3; i++ {
		_, ok := fresh.takeSkipped("eph", i)
		assert.True(t, ok, fmt.Sprintf("counter %d", i))
	}
}
