// Package txstate implements the owner-scoped key-value state machine
// and the signed transactions that mutate it.
package txstate

import (
	"fmt"

	"github.com/hcmus-labs/bftsim/pkg/crypto"
)

// TxBody is the unsigned content of a transaction: write Key=Value into
// the state scoped to the sender's public key.
type TxBody struct {
	SenderPubKeyHex string      `json:"sender_pubkey_hex"`
	Key             string      `json:"key"`
	Value           interface{} `json:"value"`
	Nonce           uint64      `json:"nonce"`
}

// SignedTx is a TxBody plus the sender's signature over it and the
// sender's public key, carried alongside the body so verification never
// needs an external lookup.
type SignedTx struct {
	Body      TxBody `json:"body"`
	Signature []byte `json:"signature"`
	PubKey    string `json:"pubkey"`
}

// NewSignedTx signs body with keypair under the TX: domain context.
// keypair must belong to body.SenderPubKeyHex.
func NewSignedTx(body TxBody, kp crypto.KeyPair) (SignedTx, error) {
	sig, err := crypto.SignStruct(crypto.ContextTx, kp, body)
	if err != nil {
		return SignedTx{}, fmt.Errorf("sign tx: %w", err)
	}
	return SignedTx{Body: body, Signature: sig, PubKey: kp.PubKeyHex()}, nil
}

// Verify checks the signature and that the carried pubkey matches the
// sender named in the body -- a sender cannot have someone else's
// signature attached to their transaction.
func (tx SignedTx) Verify() bool {
	if tx.PubKey != tx.Body.SenderPubKeyHex {
		return false
	}
	return crypto.VerifyStruct(crypto.ContextTx, tx.PubKey, tx.Body, tx.Signature)
}

// Equal reports whether two signed transactions are byte-for-byte the
// same, used by the mempool to reject duplicate submissions.
func (tx SignedTx) Equal(other SignedTx) bool {
	if tx.PubKey != other.PubKey || tx.Body.Key != other.Body.Key ||
		tx.Body.Nonce != other.Body.Nonce || len(tx.Signature) != len(other.Signature) {
		return false
	}
	for i := range tx.Signature {
		if tx.Signature[i] != other.Signature[i] {
			return false
		}
	}
	return true
}
