package crypto

import "fmt"

// wrapInfo is the HKDF info label for ECDH key wrapping. Changing it breaks
// every wrapped key in storage.
var wrapInfo = []byte("ren-sdk-wrap")

// WrappedKey is a symmetric key encrypted to a recipient's X25519 public
// key. All fields Base64 at the wire boundary.
type WrappedKey struct {
	Wrapped      string `json:"wrapped"`
	EphemeralKey string `json:"ephemeral_key"`
	Nonce        string `json:"nonce"`
}

// WrapKey encrypts a symmetric key for the holder of receiverPublic:
// ephemeral X25519 pair → DH → HKDF("ren-sdk-wrap") → ChaCha20-Poly1305.
func WrapKey(key *AeadKey, receiverPublic [KeySize]byte) (*WrappedKey, error) {
	eph, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()

	shared, err := DH(eph.Private(), receiverPublic)
	if err != nil {
		return nil, err
	}
	wrapKey, err := HKDFSHA256(nil, shared, wrapInfo, KeySize)
	Zeroize(shared)
	if err != nil {
		return nil, err
	}
	defer Zeroize(wrapKey)

	sealed, err := Encrypt(key.Bytes(), wrapKey)
	if err != nil {
		return nil, err
	}
	return &WrappedKey{
		Wrapped:      Base64Encode(sealed[NonceSize:]),
		EphemeralKey: eph.PublicB64(),
		Nonce:        Base64Encode(sealed[:NonceSize]),
	}, nil
}

// UnwrapKey inverts WrapKey with the receiver's private scalar. A wrapped
// blob that fails to open returns ErrAead.
func UnwrapKey(wrapped *WrappedKey, receiver *KeyPair) (*AeadKey, error) {
	ephPub, err := ImportPublicKey(wrapped.EphemeralKey)
	if err != nil {
		return nil, err
	}
	nonce, err := Base64DecodeLen(wrapped.Nonce, NonceSize)
	if err != nil {
		return nil, err
	}
	ciphertext, err := Base64Decode(wrapped.Wrapped)
	if err != nil {
		return nil, err
	}

	shared, err := DH(receiver.Private(), ephPub)
	if err != nil {
		return nil, err
	}
	wrapKey, err := HKDFSHA256(nil, shared, wrapInfo, KeySize)
	Zeroize(shared)
	if err != nil {
		return nil, err
	}
	defer Zeroize(wrapKey)

	raw, err := DecryptDetached(nonce, ciphertext, wrapKey)
	if err != nil {
		return nil, err
	}
	key, err := NewAeadKey(raw)
	Zeroize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrapped key", ErrInvalidKeyLength)
	}
	return key, nil
}
