package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"
)

// IdentityKeyPair is the Ed25519 key pair used exclusively for signing
// X25519 public keys. Serialized private form is seed‖public (64 bytes).
type IdentityKeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentityKeyPair draws a fresh Ed25519 identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return &IdentityKeyPair{public: pub, private: priv}, nil
}

// ImportIdentityKeyPair rebuilds the pair from the Base64 64-byte
// seed‖public form.
func ImportIdentityKeyPair(privateB64 string) (*IdentityKeyPair, error) {
	raw, err := Base64DecodeLen(privateB64, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.PrivateKey(raw)
	return &IdentityKeyPair{
		public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// PublicB64 returns the 32-byte Ed25519 public key as Base64.
func (ik *IdentityKeyPair) PublicB64() string {
	return Base64Encode(ik.public)
}

// PrivateB64 returns the 64-byte seed‖public form as Base64.
func (ik *IdentityKeyPair) PrivateB64() string {
	return Base64Encode(ik.private)
}

// Public returns the raw Ed25519 public key.
func (ik *IdentityKeyPair) Public() ed25519.PublicKey {
	return ik.public
}

// Destroy scrubs the private seed.
func (ik *IdentityKeyPair) Destroy() {
	Zeroize(ik.private)
}

// SignedPublicKey binds an X25519 public key to a key version under an
// Ed25519 identity key. Wire representation per the key-directory API.
type SignedPublicKey struct {
	PublicKey  string `json:"public_key"`
	Signature  string `json:"signature"`
	KeyVersion uint32 `json:"key_version"`
	SignedAt   string `json:"signed_at"`
}

// signedKeyMessage is the byte string actually signed:
// public_key ‖ key_version as little-endian u32.
func signedKeyMessage(publicKey []byte, keyVersion uint32) []byte {
	msg := make([]byte, len(publicKey)+4)
	copy(msg, publicKey)
	binary.LittleEndian.PutUint32(msg[len(publicKey):], keyVersion)
	return msg
}

// SignPublicKey signs an X25519 public key (Base64, 32 bytes) bound to a
// key version.
func SignPublicKey(publicKeyB64 string, identity *IdentityKeyPair, keyVersion uint32) (*SignedPublicKey, error) {
	pub, err := Base64DecodeLen(publicKeyB64, KeySize)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(identity.private, signedKeyMessage(pub, keyVersion))
	return &SignedPublicKey{
		PublicKey:  publicKeyB64,
		Signature:  Base64Encode(sig),
		KeyVersion: keyVersion,
		SignedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// VerifySignedPublicKey checks the signature under the given Ed25519 public
// key. The result is strictly boolean: false means authentication failure,
// an error means the inputs could not be parsed at all.
func VerifySignedPublicKey(signed *SignedPublicKey, identityPublicB64 string) (bool, error) {
	identityPub, err := Base64DecodeLen(identityPublicB64, ed25519.PublicKeySize)
	if err != nil {
		return false, err
	}
	pub, err := Base64DecodeLen(signed.PublicKey, KeySize)
	if err != nil {
		return false, err
	}
	sig, err := Base64DecodeLen(signed.Signature, ed25519.SignatureSize)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(identityPub), signedKeyMessage(pub, signed.KeyVersion), sig), nil
}

// VerifyPreKeySignature checks a detached signed-prekey signature as it
// appears in a pre-key bundle: signature over prekey ‖ key_version_le_u32.
func VerifyPreKeySignature(identityPublicB64, prekeyB64, signatureB64 string, keyVersion uint32) (bool, error) {
	return VerifySignedPublicKey(&SignedPublicKey{
		PublicKey:  prekeyB64,
		Signature:  signatureB64,
		KeyVersion: keyVersion,
	}, identityPublicB64)
}
