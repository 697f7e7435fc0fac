package ratchet

import (
	"fmt"
	"time"

	"github.com/taiidzy/ren/sdk/crypto"
	"github.com/taiidzy/ren/sdk/x3dh"
)

// sessionIDSize is the length of the random session handle.
const sessionIDSize = 16

// RatchetMessage is the wire envelope for one encrypted message. The
// ciphertext is Base64 of nonce‖AEAD output; the ephemeral key names the
// sending chain the counter belongs to.
type RatchetMessage struct {
	EphemeralKey string `json:"ephemeral_key"`
	Ciphertext   string `json:"ciphertext"`
	Counter      uint32 `json:"counter"`
}

// Session is a double-ratchet session between one local and one remote
// identity. A session is exclusively owned during any operation; the
// embedder serializes access and persists the new state atomically with
// acknowledging the message.
type Session struct {
	localIdentityPub  string
	remoteIdentityPub string

	root RootKey
	sym  *SymmetricRatchet
	dh   *DHRatchet

	sessionID string
	createdAt int64
}

// Initiate opens the initiator side of a session over a freshly agreed
// shared secret. The secret seeds the root key and is consumed; no chains
// exist until the first encrypt.
func Initiate(secret *x3dh.SharedSecret, localIdentity *crypto.KeyPair, remoteIdentityPublicB64 string) (*Session, error) {
	if _, err := crypto.ImportPublicKey(remoteIdentityPublicB64); err != nil {
		return nil, err
	}
	var rootBytes [crypto.KeySize]byte
	copy(rootBytes[:], secret.Bytes())
	dh, err := NewDHRatchet()
	if err != nil {
		return nil, err
	}
	s := &Session{
		localIdentityPub:  localIdentity.PublicB64(),
		remoteIdentityPub: remoteIdentityPublicB64,
		root:              NewRootKey(rootBytes),
		sym:               NewSymmetricRatchet(),
		dh:                dh,
		sessionID:         generateSessionID(),
		createdAt:         time.Now().Unix(),
	}
	crypto.Zeroize(rootBytes[:])
	return s, nil
}

// Respond opens the responder side. The local identity private is reserved
// for the first receiving DH step, and the initiator's X3DH ephemeral seeds
// the remote ratchet key until the first envelope replaces it.
func Respond(secret *x3dh.SharedSecret, localIdentity *crypto.KeyPair, remoteIdentityPublicB64, remoteRatchetSeedB64 string) (*Session, error) {
	if _, err := crypto.ImportPublicKey(remoteIdentityPublicB64); err != nil {
		return nil, err
	}
	if _, err := crypto.ImportPublicKey(remoteRatchetSeedB64); err != nil {
		return nil, err
	}
	var rootBytes [crypto.KeySize]byte
	copy(rootBytes[:], secret.Bytes())
	dh, err := NewResponderDHRatchet(localIdentity.Private(), remoteRatchetSeedB64)
	if err != nil {
		return nil, err
	}
	s := &Session{
		localIdentityPub:  localIdentity.PublicB64(),
		remoteIdentityPub: remoteIdentityPublicB64,
		root:              NewRootKey(rootBytes),
		sym:               NewSymmetricRatchet(),
		dh:                dh,
		sessionID:         generateSessionID(),
		createdAt:         time.Now().Unix(),
	}
	crypto.Zeroize(rootBytes[:])
	return s, nil
}

// ID returns the opaque session handle.
func (s *Session) ID() string {
	return s.sessionID
}

// CreatedAt returns the session creation time as a Unix timestamp.
func (s *Session) CreatedAt() int64 {
	return s.createdAt
}

// SkippedKeyCount reports the skipped-key cache occupancy.
func (s *Session) SkippedKeyCount() int {
	return s.sym.SkippedCount()
}

// Encrypt seals plaintext into a RatchetMessage and advances the sending
// side. The first encrypt establishes the sending chain: the responder
// ratchets against the known remote key; the initiator derives it from a
// fresh ephemeral against the remote identity. Every second outbound
// message additionally performs a proactive sending ratchet when the remote
// ratchet key is known.
func (s *Session) Encrypt(plaintext []byte) (*RatchetMessage, error) {
	if !s.sym.HasSendingChain() {
		if err := s.establishSendingChain(); err != nil {
			return nil, err
		}
	}

	prior := s.sym.SentCount
	mk, err := s.sym.NextMessageKey()
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(plaintext, mk.Bytes())
	mk.Destroy()
	if err != nil {
		return nil, err
	}

	msg := &RatchetMessage{
		EphemeralKey: s.dh.LocalKeyPair.PublicB64(),
		Ciphertext:   crypto.Base64Encode(sealed),
		Counter:      prior,
	}

	if s.sym.SentCount%2 == 1 && s.dh.RemotePublicB64 != "" {
		root, chain, err := s.dh.Step(Sending, s.root)
		if err != nil {
			return nil, err
		}
		s.root.Destroy()
		s.root = root
		s.sym.SetSendingChain(chain)
	}
	return msg, nil
}

// establishSendingChain performs the first-send DH. With a known remote
// ratchet key (responder about to reply) it is a regular sending step;
// otherwise (initiator's very first message) a fresh ephemeral is ratcheted
// against the remote identity key and adopted as the local ratchet key.
func (s *Session) establishSendingChain() error {
	if s.dh.RemotePublicB64 != "" {
		root, chain, err := s.dh.Step(Sending, s.root)
		if err != nil {
			return err
		}
		s.root.Destroy()
		s.root = root
		s.sym.SetSendingChain(chain)
		return nil
	}

	remoteIdentity, err := crypto.ImportPublicKey(s.remoteIdentityPub)
	if err != nil {
		return err
	}
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	dhOut, err := crypto.DH(ephemeral.Private(), remoteIdentity)
	if err != nil {
		return err
	}
	root, chain, err := s.root.KDF(dhOut)
	crypto.Zeroize(dhOut)
	if err != nil {
		return err
	}
	s.root.Destroy()
	s.root = root
	s.sym.SetSendingChain(chain)
	s.dh.LocalKeyPair.Destroy()
	s.dh.LocalKeyPair = ephemeral
	return nil
}

// Decrypt opens a RatchetMessage. A new remote ephemeral triggers a
// receiving DH step (consuming the responder's reserved identity private on
// the first step). On any failure the session is restored to its pre-call
// state; AEAD failure surfaces uniformly as ErrDecryptionFailed.
func (s *Session) Decrypt(msg *RatchetMessage) ([]byte, error) {
	if _, err := crypto.Base64DecodeLen(msg.EphemeralKey, crypto.KeySize); err != nil {
		return nil, err
	}
	data, err := crypto.Base64Decode(msg.Ciphertext)
	if err != nil {
		return nil, err
	}

	snapshot := s.State()

	if msg.EphemeralKey != s.dh.RemotePublicB64 {
		s.dh.SetRemote(msg.EphemeralKey)
		root, chain, err := s.dh.Step(Receiving, s.root)
		if err != nil {
			s.restore(snapshot)
			return nil, err
		}
		s.root.Destroy()
		s.root = root
		s.sym.SetReceivingChain(chain)
	}

	mk, err := s.sym.MessageKeyForCounter(msg.EphemeralKey, msg.Counter)
	if err != nil {
		s.restore(snapshot)
		return nil, err
	}
	plaintext, err := crypto.Decrypt(data, mk.Bytes())
	mk.Destroy()
	if err != nil {
		s.restore(snapshot)
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	s.sym.ReceivedCount++
	return plaintext, nil
}

func (s *Session) restore(snapshot *SessionState) {
	restored, err := FromState(snapshot)
	if err != nil {
		// A snapshot taken from a live session always restores; reaching
		// here means memory corruption, which we cannot recover from.
		panic(fmt.Sprintf("ratchet: session snapshot restore: %v", err))
	}
	s.root.Destroy()
	s.sym.Destroy()
	s.dh.Destroy()
	*s = *restored
}

func generateSessionID() string {
	return crypto.Base64Encode(crypto.RandomBytes(sessionIDSize))
}
