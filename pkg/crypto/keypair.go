// Package crypto provides the Ed25519 keypair, domain-separated
// struct signing, and the Blake2b-class hash the rest of the module
// builds on.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
)

// ChainID is mixed into every signing context so that signatures from
// one simulated chain can never be replayed against another.
const ChainID = "bftsim"

// KeyPair wraps a circl Ed25519 keypair (circl's ed25519 package is used
// instead of crypto/ed25519).
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair produces a fresh random keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed deterministically derives a keypair from a 32-byte
// seed, used by the simulator to hand out reproducible validator
// identities under a fixed run seed.
func KeyPairFromSeed(seed []byte) KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return KeyPair{Public: pub, Private: priv}
}

// PubKeyHex is the canonical textual identity of a validator: lowercase
// hex of the 32-byte Ed25519 public key. Used as the owner component of
// state keys and as map keys throughout consensus.
func (k KeyPair) PubKeyHex() string {
	return hex.EncodeToString(k.Public)
}

// Sign produces a raw Ed25519 signature over msg. Callers needing the
// domain-separated envelope should use SignStruct instead.
func (k KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// VerifyRaw checks a raw signature against a hex-encoded public key.
func VerifyRaw(pubKeyHex string, msg, sig []byte) bool {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
