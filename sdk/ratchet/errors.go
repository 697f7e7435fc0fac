package ratchet

import "errors"

var (
	// ErrOldMessage reports a decrypt request for a counter the receiving
	// chain has already advanced past, with no skipped key cached.
	ErrOldMessage = errors.New("message counter is too old")

	// ErrSkipLimitExceeded reports a request that would require deriving
	// more skipped keys than the cap permits.
	ErrSkipLimitExceeded = errors.New("skip limit exceeded")

	// ErrDecryptionFailed reports AEAD failure on a message envelope. It is
	// deliberately uniform: a forgery and a corrupt envelope read the same.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNoSendingChain reports an encrypt attempt before any sending chain
	// could be established.
	ErrNoSendingChain = errors.New("no sending chain")

	// ErrNoReceivingChain reports a decrypt attempt before any receiving
	// chain was established.
	ErrNoReceivingChain = errors.New("no receiving chain")

	// ErrRemoteKeyRequired reports a DH ratchet step with no remote public
	// key set.
	ErrRemoteKeyRequired = errors.New("remote ratchet key required")

	// ErrStateVersion reports a session snapshot with an unsupported
	// version field.
	ErrStateVersion = errors.New("unsupported session state version")
)
