package ratchet

import "github.com/taiidzy/ren/sdk/crypto"

// MaxSkippedKeys bounds the skipped-key cache, both per receiving chain and
// across the whole session.
const MaxSkippedKeys = 1000

// SymmetricRatchet manages the sending and receiving chains and the
// skipped-key cache. Chain identity on the receive side is the sender's
// ephemeral public key.
type SymmetricRatchet struct {
	sendingChain   *ChainKey
	receivingChain *ChainKey
	SentCount      uint32
	ReceivedCount  uint32

	// skipped keys per ephemeral, plus global FIFO order for eviction.
	skipped map[string][]SkippedMessageKey
	order   []skippedRef
}

type skippedRef struct {
	ephemeralKey string
	counter      uint32
}

// NewSymmetricRatchet returns an empty ratchet with no chains.
func NewSymmetricRatchet() *SymmetricRatchet {
	return &SymmetricRatchet{skipped: make(map[string][]SkippedMessageKey)}
}

// SetSendingChain installs a freshly derived sending chain.
func (r *SymmetricRatchet) SetSendingChain(ck *ChainKey) {
	if r.sendingChain != nil {
		r.sendingChain.Destroy()
	}
	r.sendingChain = ck
}

// SetReceivingChain installs a freshly derived receiving chain. Skipped keys
// from earlier chains stay cached under their own ephemerals.
func (r *SymmetricRatchet) SetReceivingChain(ck *ChainKey) {
	if r.receivingChain != nil {
		r.receivingChain.Destroy()
	}
	r.receivingChain = ck
}

// HasSendingChain reports whether a sending chain is established.
func (r *SymmetricRatchet) HasSendingChain() bool {
	return r.sendingChain != nil
}

// HasReceivingChain reports whether a receiving chain is established.
func (r *SymmetricRatchet) HasReceivingChain() bool {
	return r.receivingChain != nil
}

// SendingChain returns the current sending chain, or nil.
func (r *SymmetricRatchet) SendingChain() *ChainKey {
	return r.sendingChain
}

// ReceivingChain returns the current receiving chain, or nil.
func (r *SymmetricRatchet) ReceivingChain() *ChainKey {
	return r.receivingChain
}

// NextMessageKey advances the sending chain and counts the send.
func (r *SymmetricRatchet) NextMessageKey() (MessageKey, error) {
	if r.sendingChain == nil {
		return MessageKey{}, ErrNoSendingChain
	}
	mk := r.sendingChain.Next()
	r.SentCount++
	return mk, nil
}

// MessageKeyForCounter returns the key for a given (ephemeral, counter).
// Cached skipped keys are consumed first; otherwise the receiving chain is
// advanced to the counter, caching every intermediate key. A counter below
// the chain with no cache entry is ErrOldMessage; a skip beyond
// MaxSkippedKeys is ErrSkipLimitExceeded.
func (r *SymmetricRatchet) MessageKeyForCounter(ephemeralKey string, counter uint32) (MessageKey, error) {
	if mk, ok := r.takeSkipped(ephemeralKey, counter); ok {
		return mk, nil
	}
	if r.receivingChain == nil {
		return MessageKey{}, ErrNoReceivingChain
	}
	if counter < r.receivingChain.Iteration {
		return MessageKey{}, ErrOldMessage
	}
	if counter > r.receivingChain.Iteration {
		if counter-r.receivingChain.Iteration > MaxSkippedKeys {
			return MessageKey{}, ErrSkipLimitExceeded
		}
		for r.receivingChain.Iteration < counter {
			mk := r.receivingChain.Next()
			r.storeSkipped(SkippedMessageKey{
				EphemeralKey: ephemeralKey,
				Counter:      mk.Iteration,
				Key:          [crypto.KeySize]byte(mk.Bytes()),
			})
			mk.Destroy()
		}
	}
	return r.receivingChain.Next(), nil
}

// SkippedCount reports cache occupancy across all chains.
func (r *SymmetricRatchet) SkippedCount() int {
	return len(r.order)
}

func (r *SymmetricRatchet) takeSkipped(ephemeralKey string, counter uint32) (MessageKey, bool) {
	list, ok := r.skipped[ephemeralKey]
	if !ok {
		return MessageKey{}, false
	}
	for i := range list {
		if list[i].Counter == counter {
			mk := NewMessageKey(list[i].Key, counter)
			crypto.Zeroize(list[i].Key[:])
			r.skipped[ephemeralKey] = append(list[:i], list[i+1:]...)
			if len(r.skipped[ephemeralKey]) == 0 {
				delete(r.skipped, ephemeralKey)
			}
			r.dropOrder(ephemeralKey, counter)
			return mk, true
		}
	}
	return MessageKey{}, false
}

func (r *SymmetricRatchet) storeSkipped(sk SkippedMessageKey) {
	// Enforce the global bound first, oldest entry out.
	for len(r.order) >= MaxSkippedKeys {
		oldest := r.order[0]
		r.order = r.order[1:]
		r.removeEntry(oldest.ephemeralKey, oldest.counter)
	}
	r.skipped[sk.EphemeralKey] = append(r.skipped[sk.EphemeralKey], sk)
	r.order = append(r.order, skippedRef{ephemeralKey: sk.EphemeralKey, counter: sk.Counter})

	// Per-chain FIFO truncation.
	if list := r.skipped[sk.EphemeralKey]; len(list) > MaxSkippedKeys {
		evicted := list[0]
		r.skipped[sk.EphemeralKey] = list[1:]
		crypto.Zeroize(evicted.Key[:])
		r.dropOrder(evicted.EphemeralKey, evicted.Counter)
	}
}

func (r *SymmetricRatchet) removeEntry(ephemeralKey string, counter uint32) {
	list, ok := r.skipped[ephemeralKey]
	if !ok {
		return
	}
	for i := range list {
		if list[i].Counter == counter {
			crypto.Zeroize(list[i].Key[:])
			r.skipped[ephemeralKey] = append(list[:i], list[i+1:]...)
			if len(r.skipped[ephemeralKey]) == 0 {
				delete(r.skipped, ephemeralKey)
			}
			return
		}
	}
}

func (r *SymmetricRatchet) dropOrder(ephemeralKey string, counter uint32) {
	for i := range r.order {
		if r.order[i].ephemeralKey == ephemeralKey && r.order[i].counter == counter {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Skipped returns the cached keys grouped by ephemeral, for serialization.
func (r *SymmetricRatchet) Skipped() map[string][]SkippedMessageKey {
	return r.skipped
}

// RestoreSkipped reinstalls a deserialized cache, preserving list order.
func (r *SymmetricRatchet) RestoreSkipped(skipped map[string][]SkippedMessageKey) {
	r.skipped = make(map[string][]SkippedMessageKey, len(skipped))
	r.order = r.order[:0]
	for eph, list := range skipped {
		r.skipped[eph] = append([]SkippedMessageKey(nil), list...)
	}
	// Rebuild FIFO order per chain; cross-chain order is not persisted, so
	// restored entries evict in chain-grouped order.
	for eph, list := range r.skipped {
		for _, sk := range list {
			r.order = append(r.order, skippedRef{ephemeralKey: eph, counter: sk.Counter})
		}
	}
}

// Destroy scrubs every key the ratchet holds.
func (r *SymmetricRatchet) Destroy() {
	if r.sendingChain != nil {
		r.sendingChain.Destroy()
	}
	if r.receivingChain != nil {
		r.receivingChain.Destroy()
	}
	for _, list := range r.skipped {
		for i := range list {
			crypto.Zeroize(list[i].Key[:])
		}
	}
	r.skipped = make(map[string][]SkippedMessageKey)
	r.order = nil
}
