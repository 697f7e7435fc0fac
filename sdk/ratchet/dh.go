package ratchet

import "github.com/taiidzy/ren/sdk/crypto"

// Role selects which chain a DH ratchet step feeds. The mathematics is
// identical; the role also decides whether the responder's reserved
// identity private may be consumed.
type Role int

const (
	// Sending steps derive a new sending chain with the current local
	// ratchet key.
	Sending Role = iota
	// Receiving steps derive a new receiving chain, consuming the
	// responder's reserved initial private on the first step.
	Receiving
)

// DHRatchet holds the Diffie-Hellman half of the double ratchet.
type DHRatchet struct {
	// LocalKeyPair is the current ratchet key pair; regenerated after
	// every step.
	LocalKeyPair *crypto.KeyPair

	// RemotePublicB64 is the peer's last seen ratchet public key, empty
	// until the first envelope (initiator) or seeded from X3DH (responder).
	RemotePublicB64 string

	// initialLocalPrivate carries the responder's identity private into
	// the first receiving step, then is cleared.
	initialLocalPrivate []byte
}

// NewDHRatchet builds the initiator's DH state with a fresh local pair.
func NewDHRatchet() (*DHRatchet, error) {
	local, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &DHRatchet{LocalKeyPair: local}, nil
}

// NewResponderDHRatchet builds the responder's DH state: a fresh local pair,
// the identity private reserved for the first receiving step, and the
// initiator's X3DH ephemeral as the provisional remote key.
func NewResponderDHRatchet(identityPrivate []byte, remoteRatchetSeedB64 string) (*DHRatchet, error) {
	local, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	reserved := append([]byte(nil), identityPrivate...)
	return &DHRatchet{
		LocalKeyPair:        local,
		RemotePublicB64:     remoteRatchetSeedB64,
		initialLocalPrivate: reserved,
	}, nil
}

// HasInitialPrivate reports whether the reserved first-step private is
// still unconsumed.
func (d *DHRatchet) HasInitialPrivate() bool {
	return d.initialLocalPrivate != nil
}

// SetRemote records a new remote ratchet public key.
func (d *DHRatchet) SetRemote(publicB64 string) {
	d.RemotePublicB64 = publicB64
}

// Step performs one DH ratchet step against the current remote key:
// dh = DH(local, remote), (new root, chain) = root.KDF(dh), then the local
// pair is regenerated. Receiving steps consume the reserved initial private
// if still present.
func (d *DHRatchet) Step(role Role, root RootKey) (RootKey, *ChainKey, error) {
	if d.RemotePublicB64 == "" {
		return RootKey{}, nil, ErrRemoteKeyRequired
	}
	remote, err := crypto.ImportPublicKey(d.RemotePublicB64)
	if err != nil {
		return RootKey{}, nil, err
	}

	private := d.LocalKeyPair.Private()
	usedInitial := false
	if role == Receiving && d.initialLocalPrivate != nil {
		private = d.initialLocalPrivate
		usedInitial = true
	}

	dh, err := crypto.DH(private, remote)
	if err != nil {
		return RootKey{}, nil, err
	}
	newRoot, chain, err := root.KDF(dh)
	crypto.Zeroize(dh)
	if err != nil {
		return RootKey{}, nil, err
	}

	fresh, err := crypto.GenerateKeyPair()
	if err != nil {
		return RootKey{}, nil, err
	}
	d.LocalKeyPair.Destroy()
	d.LocalKeyPair = fresh
	if usedInitial {
		crypto.Zeroize(d.initialLocalPrivate)
		d.initialLocalPrivate = nil
	}
	return newRoot, chain, nil
}

// InitialPrivateB64 exports the reserved private for serialization, or ""
// when consumed.
func (d *DHRatchet) InitialPrivateB64() string {
	if d.initialLocalPrivate == nil {
		return ""
	}
	return crypto.Base64Encode(d.initialLocalPrivate)
}

// RestoreInitialPrivate reinstalls a deserialized reserved private.
func (d *DHRatchet) RestoreInitialPrivate(private []byte) {
	d.initialLocalPrivate = append([]byte(nil), private...)
}

// Destroy scrubs all private material.
func (d *DHRatchet) Destroy() {
	if d.LocalKeyPair != nil {
		d.LocalKeyPair.Destroy()
	}
	if d.initialLocalPrivate != nil {
		crypto.Zeroize(d.initialLocalPrivate)
		d.initialLocalPrivate = nil
	}
}
