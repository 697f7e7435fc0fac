package ratchet

import (
	"encoding/json"
	"fmt"

	"github.com/taiidzy/ren/sdk/crypto"
)

// StateVersion marks the snapshot shape. FromState rejects snapshots from
// a different version instead of guessing.
const StateVersion = 1

// SkippedMessageKeyState is the serialized form of one cached skipped key.
type SkippedMessageKeyState struct {
	EphemeralKey string `json:"ephemeral_key"`
	Counter      uint32 `json:"counter"`
	Key          string `json:"key"`
}

// SessionState is the opaque, fully-serializable session snapshot. It is a
// pure data record: all values, no handles. The embedder stores it verbatim
// (encrypted at rest) and feeds it back to FromState.
type SessionState struct {
	Version              int                                 `json:"version"`
	SessionID            string                              `json:"session_id"`
	RootKey              string                              `json:"root_key"`
	SendingChainKey      *string                             `json:"sending_chain_key,omitempty"`
	SendingCounter       *uint32                             `json:"sending_counter,omitempty"`
	ReceivingChainKey    *string                             `json:"receiving_chain_key,omitempty"`
	ReceivingCounter     *uint32                             `json:"receiving_counter,omitempty"`
	SentMessageCount     uint32                              `json:"sent_message_count"`
	ReceivedMessageCount uint32                              `json:"received_message_count"`
	SkippedKeys          map[string][]SkippedMessageKeyState `json:"skipped_keys,omitempty"`
	LocalRatchetPublic   string                              `json:"local_ratchet_public"`
	LocalRatchetPrivate  string                              `json:"local_ratchet_private"`
	RemoteRatchetKey     *string                             `json:"remote_ratchet_key,omitempty"`
	InitialLocalPrivate  *string                             `json:"initial_local_private,omitempty"`
	LocalIdentityPublic  string                              `json:"local_identity_public,omitempty"`
	RemoteIdentityPublic string                              `json:"remote_identity_public"`
	CreatedAt            int64                               `json:"created_at"`
}

// State captures the session as a snapshot. The snapshot owns copies of all
// key material; mutating the live session afterwards does not touch it.
func (s *Session) State() *SessionState {
	st := &SessionState{
		Version:              StateVersion,
		SessionID:            s.sessionID,
		RootKey:              crypto.Base64Encode(s.root.Key()),
		SentMessageCount:     s.sym.SentCount,
		ReceivedMessageCount: s.sym.ReceivedCount,
		LocalRatchetPublic:   s.dh.LocalKeyPair.PublicB64(),
		LocalRatchetPrivate:  s.dh.LocalKeyPair.PrivateB64(),
		LocalIdentityPublic:  s.localIdentityPub,
		RemoteIdentityPublic: s.remoteIdentityPub,
		CreatedAt:            s.createdAt,
	}
	if ck := s.sym.SendingChain(); ck != nil {
		key := crypto.Base64Encode(ck.Key())
		iter := ck.Iteration
		st.SendingChainKey = &key
		st.SendingCounter = &iter
	}
	if ck := s.sym.ReceivingChain(); ck != nil {
		key := crypto.Base64Encode(ck.Key())
		iter := ck.Iteration
		st.ReceivingChainKey = &key
		st.ReceivingCounter = &iter
	}
	if skipped := s.sym.Skipped(); len(skipped) > 0 {
		st.SkippedKeys = make(map[string][]SkippedMessageKeyState, len(skipped))
		for eph, list := range skipped {
			out := make([]SkippedMessageKeyState, 0, len(list))
			for _, sk := range list {
				out = append(out, SkippedMessageKeyState{
					EphemeralKey: sk.EphemeralKey,
					Counter:      sk.Counter,
					Key:          crypto.Base64Encode(sk.Key[:]),
				})
			}
			st.SkippedKeys[eph] = out
		}
	}
	if s.dh.RemotePublicB64 != "" {
		remote := s.dh.RemotePublicB64
		st.RemoteRatchetKey = &remote
	}
	if initial := s.dh.InitialPrivateB64(); initial != "" {
		st.InitialLocalPrivate = &initial
	}
	return st
}

// FromState restores a session that behaves identically to the one State
// was taken from. The remote identity's private half is absent by
// construction; only its public key travels in the snapshot.
func FromState(st *SessionState) (*Session, error) {
	if st.Version != StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrStateVersion, st.Version)
	}
	rootRaw, err := crypto.Base64DecodeLen(st.RootKey, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	var rootBytes [crypto.KeySize]byte
	copy(rootBytes[:], rootRaw)
	crypto.Zeroize(rootRaw)

	local, err := crypto.ImportPrivateKey(st.LocalRatchetPrivate)
	if err != nil {
		return nil, err
	}
	dh := &DHRatchet{LocalKeyPair: local}
	if st.RemoteRatchetKey != nil {
		dh.RemotePublicB64 = *st.RemoteRatchetKey
	}
	if st.InitialLocalPrivate != nil {
		initial, err := crypto.Base64DecodeLen(*st.InitialLocalPrivate, crypto.KeySize)
		if err != nil {
			return nil, err
		}
		dh.RestoreInitialPrivate(initial)
		crypto.Zeroize(initial)
	}

	sym := NewSymmetricRatchet()
	sym.SentCount = st.SentMessageCount
	sym.ReceivedCount = st.ReceivedMessageCount
	if st.SendingChainKey != nil {
		ck, err := chainFromState(*st.SendingChainKey, st.SendingCounter)
		if err != nil {
			return nil, err
		}
		sym.SetSendingChain(ck)
	}
	if st.ReceivingChainKey != nil {
		ck, err := chainFromState(*st.ReceivingChainKey, st.ReceivingCounter)
		if err != nil {
			return nil, err
		}
		sym.SetReceivingChain(ck)
	}
	if len(st.SkippedKeys) > 0 {
		skipped := make(map[string][]SkippedMessageKey, len(st.SkippedKeys))
		for eph, list := range st.SkippedKeys {
			out := make([]SkippedMessageKey, 0, len(list))
			for _, sk := range list {
				raw, err := crypto.Base64DecodeLen(sk.Key, crypto.KeySize)
				if err != nil {
					return nil, err
				}
				entry := SkippedMessageKey{EphemeralKey: sk.EphemeralKey, Counter: sk.Counter}
				copy(entry.Key[:], raw)
				crypto.Zeroize(raw)
				out = append(out, entry)
			}
			skipped[eph] = out
		}
		sym.RestoreSkipped(skipped)
	}

	s := &Session{
		localIdentityPub:  st.LocalIdentityPublic,
		remoteIdentityPub: st.RemoteIdentityPublic,
		root:              NewRootKey(rootBytes),
		sym:               sym,
		dh:                dh,
		sessionID:         st.SessionID,
		createdAt:         st.CreatedAt,
	}
	crypto.Zeroize(rootBytes[:])
	return s, nil
}

func chainFromState(keyB64 string, counter *uint32) (*ChainKey, error) {
	raw, err := crypto.Base64DecodeLen(keyB64, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	var key [crypto.KeySize]byte
	copy(key[:], raw)
	crypto.Zeroize(raw)
	iter := uint32(0)
	if counter != nil {
		iter = *counter
	}
	ck := ChainKeyFromState(key, iter)
	crypto.Zeroize(key[:])
	return ck, nil
}

// EncryptWithState restores a session from serialized state, encrypts one
// message, and reserializes — a single atomic step the embedder persists
// together with sending the envelope.
func EncryptWithState(stateJSON string, plaintext []byte) (string, *RatchetMessage, error) {
	var st SessionState
	if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStateVersion, err)
	}
	session, err := FromState(&st)
	if err != nil {
		return "", nil, err
	}
	msg, err := session.Encrypt(plaintext)
	if err != nil {
		return "", nil, err
	}
	out, err := json.Marshal(session.State())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStateVersion, err)
	}
	return string(out), msg, nil
}

// DecryptWithState restores a session from serialized state, decrypts one
// envelope, and reserializes. On failure the original state string remains
// the authoritative snapshot; nothing advanced.
func DecryptWithState(stateJSON string, msg *RatchetMessage) (string, []byte, error) {
	var st SessionState
	if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStateVersion, err)
	}
	session, err := FromState(&st)
	if err != nil {
		return "", nil, err
	}
	plaintext, err := session.Decrypt(msg)
	if err != nil {
		return "", nil, err
	}
	out, err := json.Marshal(session.State())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStateVersion, err)
	}
	return string(out), plaintext, nil
}
