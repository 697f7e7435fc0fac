package x3dh

import "github.com/taiidzy/ren/sdk/crypto"

// IdentityStore holds the long-term key material a user needs to publish
// bundles and answer X3DH: the X25519 identity pair, the Ed25519 signing
// pair, and the current signed prekey with its version.
type IdentityStore struct {
	IdentityKeyPair *crypto.KeyPair
	SigningKeyPair  *crypto.IdentityKeyPair
	SignedPreKey    *crypto.KeyPair
	KeyVersion      uint32
}

// GenerateIdentityStore draws a complete fresh identity.
func GenerateIdentityStore() (*IdentityStore, error) {
	identity, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	signing, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return nil, err
	}
	prekey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &IdentityStore{
		IdentityKeyPair: identity,
		SigningKeyPair:  signing,
		SignedPreKey:    prekey,
		KeyVersion:      1,
	}, nil
}

// SignCurrentPreKey signs the current signed prekey under the Ed25519
// identity, bound to the current key version.
func (s *IdentityStore) SignCurrentPreKey() (*crypto.SignedPublicKey, error) {
	return crypto.SignPublicKey(s.SignedPreKey.PublicB64(), s.SigningKeyPair, s.KeyVersion)
}

// RotateSignedPreKey replaces the signed prekey and bumps the key version.
// The previous prekey's private half is scrubbed; sessions opened against it
// are unaffected because X3DH completes at session start.
func (s *IdentityStore) RotateSignedPreKey() (*crypto.KeyPair, error) {
	fresh, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	s.SignedPreKey.Destroy()
	s.SignedPreKey = fresh
	s.KeyVersion++
	return fresh, nil
}

// Bundle assembles the publishable pre-key bundle for this identity.
func (s *IdentityStore) Bundle(userID int64, oneTime *OneTimePreKey) (*PreKeyBundle, error) {
	signed, err := s.SignCurrentPreKey()
	if err != nil {
		return nil, err
	}
	var otk *string
	var otkID *uint32
	if oneTime != nil {
		otk = &oneTime.PreKey
		otkID = &oneTime.PreKeyID
	}
	return NewPreKeyBundle(userID, s.IdentityKeyPair.PublicB64(), signed.PublicKey, signed.Signature, s.KeyVersion, otk, otkID), nil
}

// Destroy scrubs all private halves.
func (s *IdentityStore) Destroy() {
	s.IdentityKeyPair.Destroy()
	s.SigningKeyPair.Destroy()
	s.SignedPreKey.Destroy()
}
