package x3dh

import (
	"fmt"

	"github.com/taiidzy/ren/sdk/crypto"
)

// hkdfInfo is the X3DH domain-separation label. Both parties must agree on
// it and on the DH concatenation order below.
var hkdfInfo = []byte("X3DH")

// SharedSecret is the 32-byte X3DH output, consumed exactly once to seed a
// ratchet root key.
type SharedSecret struct {
	bytes [crypto.KeySize]byte
}

// NewSharedSecret wraps raw bytes, for tests and for fixed-vector seeding.
func NewSharedSecret(b [crypto.KeySize]byte) *SharedSecret {
	return &SharedSecret{bytes: b}
}

// Bytes exposes the raw secret. The slice aliases the secret; scrub via
// Destroy once the root key is seeded.
func (s *SharedSecret) Bytes() []byte {
	return s.bytes[:]
}

// Destroy scrubs the secret.
func (s *SharedSecret) Destroy() {
	crypto.Zeroize(s.bytes[:])
}

// derive concatenates DH outputs in fixed order and expands with
// HKDF-SHA256(salt=∅, info="X3DH") to 32 bytes. Each DH buffer is scrubbed
// before return.
func derive(dhs ...[]byte) (*SharedSecret, error) {
	concat := make([]byte, 0, len(dhs)*crypto.KeySize)
	for _, dh := range dhs {
		concat = append(concat, dh...)
	}
	okm, err := crypto.HKDFSHA256(nil, concat, hkdfInfo, crypto.KeySize)
	crypto.Zeroize(concat)
	for _, dh := range dhs {
		crypto.Zeroize(dh)
	}
	if err != nil {
		return nil, err
	}
	secret := &SharedSecret{}
	copy(secret.bytes[:], okm)
	crypto.Zeroize(okm)
	return secret, nil
}

// Initiate runs the initiator side:
//
//	DH1 = DH(IK_A, SPK_B)
//	DH2 = DH(EK_A, IK_B)
//	DH3 = DH(EK_A, SPK_B)
//	DH4 = DH(EK_A, OPK_B)   when the bundle carries a one-time prekey
//
// The signed-prekey signature is verified against the responder's Ed25519
// identity before any DH is computed; a bundle that fails verification is
// rejected outright.
func Initiate(identity *crypto.KeyPair, ephemeral *crypto.KeyPair, responderSigningKeyB64 string, bundle *PreKeyBundle) (*SharedSecret, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	ok, err := crypto.VerifyPreKeySignature(responderSigningKeyB64, bundle.SignedPreKey, bundle.SignedPreKeySignature, bundle.KeyVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: signed prekey signature rejected", crypto.ErrSignature)
	}

	spkB, err := crypto.ImportPublicKey(bundle.SignedPreKey)
	if err != nil {
		return nil, err
	}
	ikB, err := crypto.ImportPublicKey(bundle.IdentityKey)
	if err != nil {
		return nil, err
	}

	dh1, err := crypto.DH(identity.Private(), spkB)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(ephemeral.Private(), ikB)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(ephemeral.Private(), spkB)
	if err != nil {
		return nil, err
	}

	if bundle.OneTimePreKey == nil {
		return derive(dh1, dh2, dh3)
	}
	opkB, err := crypto.ImportPublicKey(*bundle.OneTimePreKey)
	if err != nil {
		return nil, err
	}
	dh4, err := crypto.DH(ephemeral.Private(), opkB)
	if err != nil {
		return nil, err
	}
	return derive(dh1, dh2, dh3, dh4)
}

// Respond runs the responder side when the initiator used no one-time
// prekey. The DH set mirrors Initiate in the same order.
func Respond(identity *crypto.KeyPair, signedPreKey *crypto.KeyPair, peerIdentityB64, peerEphemeralB64 string) (*SharedSecret, error) {
	return RespondWithOneTime(identity, signedPreKey, nil, peerIdentityB64, peerEphemeralB64)
}

// RespondWithOneTime runs the responder side; pass the one-time prekey whose
// id the initiator referenced, or nil when none was used. The branch must
// match the initiator's or the secrets diverge.
func RespondWithOneTime(identity *crypto.KeyPair, signedPreKey *crypto.KeyPair, oneTimePreKey *crypto.KeyPair, peerIdentityB64, peerEphemeralB64 string) (*SharedSecret, error) {
	ikA, err := crypto.ImportPublicKey(peerIdentityB64)
	if err != nil {
		return nil, err
	}
	ekA, err := crypto.ImportPublicKey(peerEphemeralB64)
	if err != nil {
		return nil, err
	}

	dh1, err := crypto.DH(signedPreKey.Private(), ikA)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(identity.Private(), ekA)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(signedPreKey.Private(), ekA)
	if err != nil {
		return nil, err
	}

	if oneTimePreKey == nil {
		return derive(dh1, dh2, dh3)
	}
	dh4, err := crypto.DH(oneTimePreKey.Private(), ekA)
	if err != nil {
		return nil, err
	}
	return derive(dh1, dh2, dh3, dh4)
}
