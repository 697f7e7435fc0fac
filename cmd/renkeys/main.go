package main

// renkeys generates the key material a fresh account publishes: identity
// and signing key pairs, a signed prekey, a one-time prekey batch, and the
// password-wrapped private identity key the server stores opaquely.

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/taiidzy/ren/sdk/crypto"
	"github.com/taiidzy/ren/sdk/x3dh"
)

type output struct {
	IdentityKey           string              `json:"identity_key"`
	IdentityPrivateKey    string              `json:"identity_private_key,omitempty"`
	SigningKey            string              `json:"signing_key"`
	SigningPrivateKey     string              `json:"signing_private_key,omitempty"`
	SignedPreKey          string              `json:"signed_prekey"`
	SignedPreKeyPrivate   string              `json:"signed_prekey_private,omitempty"`
	SignedPreKeySignature string              `json:"signed_prekey_signature"`
	KeyVersion            uint32              `json:"key_version"`
	SignedAt              string              `json:"signed_at"`
	WrappedPrivateKey     string              `json:"wrapped_private_key,omitempty"`
	PrivateKeySalt        string              `json:"private_key_salt,omitempty"`
	PreKeys               []x3dh.OneTimePreKey `json:"prekeys"`
	PreKeyPrivates        map[uint32]string   `json:"prekey_privates,omitempty"`
}

func main() {
	var (
		prekeyCount    = flag.Int("prekeys", 100, "number of one-time prekeys to generate")
		password       = flag.String("password", "", "wrap the identity private key for server-side storage")
		includePrivate = flag.Bool("include-private", false, "emit private halves (for local keyring import)")
	)
	flag.Parse()

	store, err := x3dh.GenerateIdentityStore()
	if err != nil {
		log.Fatalf("generate identity: %v", err)
	}
	signed, err := store.SignCurrentPreKey()
	if err != nil {
		log.Fatalf("sign prekey: %v", err)
	}

	out := output{
		IdentityKey:           store.IdentityKeyPair.PublicB64(),
		SigningKey:            store.SigningKeyPair.PublicB64(),
		SignedPreKey:          signed.PublicKey,
		SignedPreKeySignature: signed.Signature,
		KeyVersion:            signed.KeyVersion,
		SignedAt:              signed.SignedAt,
	}

	if *includePrivate {
		out.IdentityPrivateKey = store.IdentityKeyPair.PrivateB64()
		out.SigningPrivateKey = store.SigningKeyPair.PrivateB64()
		out.SignedPreKeyPrivate = store.SignedPreKey.PrivateB64()
		out.PreKeyPrivates = make(map[uint32]string, *prekeyCount)
	}

	for i := 1; i <= *prekeyCount; i++ {
		otk, pair, err := x3dh.GenerateOneTimePreKey(uint32(i))
		if err != nil {
			log.Fatalf("generate prekey %d: %v", i, err)
		}
		out.PreKeys = append(out.PreKeys, *otk)
		if *includePrivate {
			out.PreKeyPrivates[otk.PreKeyID] = pair.PrivateB64()
		}
		pair.Destroy()
	}

	if *password != "" {
		salt := crypto.RandomBytes(crypto.SaltSize)
		wrapKey, err := crypto.DeriveKeyFromPassword(*password, salt)
		if err != nil {
			log.Fatalf("derive wrap key: %v", err)
		}
		sealed, err := crypto.Encrypt([]byte(store.IdentityKeyPair.PrivateB64()), wrapKey.Bytes())
		wrapKey.Destroy()
		if err != nil {
			log.Fatalf("wrap private key: %v", err)
		}
		out.WrappedPrivateKey = crypto.Base64Encode(sealed)
		out.PrivateKeySalt = crypto.Base64Encode(salt)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}

	store.Destroy()
}
