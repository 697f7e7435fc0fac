package x3dh

import "github.com/taiidzy/ren/sdk/crypto"

// PreKeyBundle is the set of public keys a responder publishes so peers can
// open sessions asynchronously. All key fields are Base64 of raw bytes.
type PreKeyBundle struct {
	UserID                int64   `json:"user_id"`
	IdentityKey           string  `json:"identity_key"`
	SignedPreKey          string  `json:"signed_prekey"`
	SignedPreKeySignature string  `json:"signed_prekey_signature"`
	OneTimePreKey         *string `json:"one_time_prekey,omitempty"`
	OneTimePreKeyID       *uint32 `json:"one_time_prekey_id,omitempty"`
	KeyVersion            uint32  `json:"key_version"`
}

// NewPreKeyBundle builds a bundle with an optional one-time prekey.
func NewPreKeyBundle(userID int64, identityKey, signedPreKey, signature string, keyVersion uint32, oneTimePreKey *string, oneTimePreKeyID *uint32) *PreKeyBundle {
	return &PreKeyBundle{
		UserID:                userID,
		IdentityKey:           identityKey,
		SignedPreKey:          signedPreKey,
		SignedPreKeySignature: signature,
		OneTimePreKey:         oneTimePreKey,
		OneTimePreKeyID:       oneTimePreKeyID,
		KeyVersion:            keyVersion,
	}
}

// HasOneTimePreKey reports whether the server attached a one-time prekey.
func (b *PreKeyBundle) HasOneTimePreKey() bool {
	return b.OneTimePreKey != nil
}

// Validate checks field presence and decoded lengths. It does not verify the
// signature; Initiate does that.
func (b *PreKeyBundle) Validate() error {
	if _, err := crypto.Base64DecodeLen(b.IdentityKey, crypto.KeySize); err != nil {
		return err
	}
	if _, err := crypto.Base64DecodeLen(b.SignedPreKey, crypto.KeySize); err != nil {
		return err
	}
	if _, err := crypto.Base64DecodeLen(b.SignedPreKeySignature, 64); err != nil {
		return err
	}
	if b.OneTimePreKey != nil {
		if _, err := crypto.Base64DecodeLen(*b.OneTimePreKey, crypto.KeySize); err != nil {
			return err
		}
	}
	return nil
}

// OneTimePreKey is a single-use prekey uploaded to the server. The server
// hands each one out exactly once and deletes it on fetch.
type OneTimePreKey struct {
	PreKeyID uint32 `json:"prekey_id"`
	PreKey   string `json:"prekey"`
}

// GenerateOneTimePreKey draws a fresh one-time prekey. The private half
// stays with the caller; only the public half is uploaded.
func GenerateOneTimePreKey(prekeyID uint32) (*OneTimePreKey, *crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	return &OneTimePreKey{PreKeyID: prekeyID, PreKey: kp.PublicB64()}, kp, nil
}

// UploadPreKeysRequest is the wire shape for batch one-time prekey upload.
type UploadPreKeysRequest struct {
	PreKeys []OneTimePreKey `json:"prekeys"`
}

// PreKeyBundleResponse is the server's bundle-fetch reply.
type PreKeyBundleResponse struct {
	Bundle                     PreKeyBundle `json:"bundle"`
	SignedPreKeySignatureValid bool         `json:"signed_prekey_signature_valid"`
}
