package crypto

import "errors"

// Error kinds for the SDK. Callers match with errors.Is; wrapped messages
// never contain key material.
var (
	// ErrBase64 reports malformed Base64 input at the wire boundary.
	ErrBase64 = errors.New("base64 error")

	// ErrInvalidKeyLength reports a key, nonce, or signature of the wrong
	// byte length.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrAead reports an AEAD encrypt/decrypt failure, an HKDF expand
	// failure, or any other crypto-library failure that must be treated
	// as tamper or corruption.
	ErrAead = errors.New("aead error")

	// ErrArgon2 reports Argon2id parameter-validation or computation
	// failure.
	ErrArgon2 = errors.New("argon2 error")

	// ErrSignature reports Ed25519 key import or signing failure. A
	// verification result of false is not an error; it is a boolean
	// authentication decision.
	ErrSignature = errors.New("signature error")
)
