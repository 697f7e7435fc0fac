package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is an X25519 key pair. The private scalar is clamped by the DH
// routine per RFC 7748; the raw bytes stored here are the unclamped CSPRNG
// output. Call Destroy when the pair goes out of scope.
type KeyPair struct {
	Public  [KeySize]byte
	private [KeySize]byte
}

// GenerateKeyPair draws a fresh X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	seed := RandomBytes(KeySize)
	kp, err := KeyPairFromPrivate(seed)
	Zeroize(seed)
	return kp, err
}

// KeyPairFromPrivate rebuilds a key pair from a 32-byte private scalar.
func KeyPairFromPrivate(private []byte) (*KeyPair, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("%w: x25519 private key is %d bytes", ErrInvalidKeyLength, len(private))
	}
	pub, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyLength, err)
	}
	kp := &KeyPair{}
	copy(kp.private[:], private)
	copy(kp.Public[:], pub)
	return kp, nil
}

// Private exposes the raw private scalar for a DH call. The returned slice
// aliases the pair; do not retain it past the call.
func (kp *KeyPair) Private() []byte {
	return kp.private[:]
}

// PublicB64 returns the public key as Base64 of the raw 32 bytes.
func (kp *KeyPair) PublicB64() string {
	return Base64Encode(kp.Public[:])
}

// PrivateB64 exports the private scalar as Base64. Only for
// embedder-requested export (e.g. server-side wrapped storage).
func (kp *KeyPair) PrivateB64() string {
	return Base64Encode(kp.private[:])
}

// Destroy scrubs the private scalar.
func (kp *KeyPair) Destroy() {
	Zeroize(kp.private[:])
}

// DH computes the X25519 shared secret between a private scalar and a
// remote public key. The output is scrubbed by the caller after use.
func DH(private []byte, public [KeySize]byte) ([]byte, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("%w: x25519 private key is %d bytes", ErrInvalidKeyLength, len(private))
	}
	shared, err := curve25519.X25519(private, public[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAead, err)
	}
	return shared, nil
}

// ImportPublicKey decodes a Base64 X25519 public key.
func ImportPublicKey(b64 string) ([KeySize]byte, error) {
	var pub [KeySize]byte
	raw, err := Base64DecodeLen(b64, KeySize)
	if err != nil {
		return pub, err
	}
	copy(pub[:], raw)
	return pub, nil
}

// ImportPrivateKey decodes a Base64 X25519 private scalar and rebuilds the
// full pair.
func ImportPrivateKey(b64 string) (*KeyPair, error) {
	raw, err := Base64DecodeLen(b64, KeySize)
	if err != nil {
		return nil, err
	}
	kp, err := KeyPairFromPrivate(raw)
	Zeroize(raw)
	return kp, err
}
