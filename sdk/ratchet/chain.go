package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/taiidzy/ren/sdk/crypto"
)

// HMAC domain-separation constants for the symmetric chain step.
var (
	messageKeySeed = []byte{0x01}
	chainKeySeed   = []byte{0x02}
)

// MessageKey encrypts exactly one message and is then discarded.
type MessageKey struct {
	key       [crypto.KeySize]byte
	Iteration uint32
}

// NewMessageKey wraps raw key bytes at a given chain iteration.
func NewMessageKey(key [crypto.KeySize]byte, iteration uint32) MessageKey {
	return MessageKey{key: key, Iteration: iteration}
}

// Bytes exposes the raw key for the AEAD call; scrub with Destroy after.
func (mk *MessageKey) Bytes() []byte {
	return mk.key[:]
}

// Destroy scrubs the key material.
func (mk *MessageKey) Destroy() {
	crypto.Zeroize(mk.key[:])
}

// ChainKey evolves one step per message. Iteration counts the message keys
// already produced; it never rewinds.
type ChainKey struct {
	key       [crypto.KeySize]byte
	Iteration uint32
}

// NewChainKey starts a chain at iteration 0.
func NewChainKey(key [crypto.KeySize]byte) *ChainKey {
	return &ChainKey{key: key}
}

// ChainKeyFromState restores a chain mid-stream.
func ChainKeyFromState(key [crypto.KeySize]byte, iteration uint32) *ChainKey {
	return &ChainKey{key: key, Iteration: iteration}
}

// Next derives the message key for the current iteration and advances the
// chain: message key = HMAC-SHA256(ck, 0x01), next chain key =
// HMAC-SHA256(ck, 0x02).
func (ck *ChainKey) Next() MessageKey {
	mac := hmac.New(sha256.New, ck.key[:])
	mac.Write(messageKeySeed)
	var mk [crypto.KeySize]byte
	copy(mk[:], mac.Sum(nil))
	messageKey := NewMessageKey(mk, ck.Iteration)
	crypto.Zeroize(mk[:])

	mac = hmac.New(sha256.New, ck.key[:])
	mac.Write(chainKeySeed)
	next := mac.Sum(nil)
	copy(ck.key[:], next)
	crypto.Zeroize(next)
	ck.Iteration++

	return messageKey
}

// Key exposes the raw chain key for serialization.
func (ck *ChainKey) Key() []byte {
	return ck.key[:]
}

// Destroy scrubs the chain key.
func (ck *ChainKey) Destroy() {
	crypto.Zeroize(ck.key[:])
}

// RootKey is the long-lived session key. Each DH output folds into it,
// yielding a replacement root and a fresh chain.
type RootKey struct {
	key [crypto.KeySize]byte
}

// NewRootKey wraps 32 raw bytes.
func NewRootKey(key [crypto.KeySize]byte) RootKey {
	return RootKey{key: key}
}

// KDF derives (new root, chain key) from this root and a DH output:
// HKDF-SHA256(salt=∅, ikm=root, info=dh, 64B), split 32/32.
func (rk *RootKey) KDF(dhOutput []byte) (RootKey, *ChainKey, error) {
	okm, err := crypto.HKDFSHA256(nil, rk.key[:], dhOutput, 2*crypto.KeySize)
	if err != nil {
		return RootKey{}, nil, err
	}
	var newRoot, chain [crypto.KeySize]byte
	copy(newRoot[:], okm[:crypto.KeySize])
	copy(chain[:], okm[crypto.KeySize:])
	crypto.Zeroize(okm)
	root := NewRootKey(newRoot)
	ck := NewChainKey(chain)
	crypto.Zeroize(newRoot[:])
	crypto.Zeroize(chain[:])
	return root, ck, nil
}

// Key exposes the raw root key for serialization.
func (rk *RootKey) Key() []byte {
	return rk.key[:]
}

// Destroy scrubs the root key.
func (rk *RootKey) Destroy() {
	crypto.Zeroize(rk.key[:])
}

// SkippedMessageKey is a derived-but-unused message key retained so a
// delayed message inside a chain can still decrypt.
type SkippedMessageKey struct {
	EphemeralKey string
	Counter      uint32
	Key          [crypto.KeySize]byte
}
