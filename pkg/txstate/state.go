package txstate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hcmus-labs/bftsim/pkg/crypto"
	"github.com/hcmus-labs/bftsim/pkg/encoding"
)

// State is a flat, owner-scoped key-value store. Every key stored is
// "{owner_pubkey_hex}/{key_name}"; a given key_name may only ever be
// owned by the pubkey that first claimed it.
type State struct {
	data map[string]interface{}
}

// NewState returns an empty state.
func NewState() *State {
	return &State{data: make(map[string]interface{})}
}

func storageKey(ownerHex, key string) string {
	return ownerHex + "/" + key
}

// ApplyTx verifies tx and, if the owner-scoped invariant holds, writes
// Body.Value under "{sender}/{key}". It returns an error rather than
// panicking and leaves s unchanged on error; BuildBlock, ValidateBlock
// and the Node's finalize hook discard that error, so an invalid
// transaction simply has no state effect.
func (s *State) ApplyTx(tx SignedTx) error {
	if !tx.Verify() {
		return fmt.Errorf("apply tx: invalid signature")
	}
	if tx.PubKey != tx.Body.SenderPubKeyHex {
		return fmt.Errorf("apply tx: pubkey/sender mismatch")
	}
	suffix := "/" + tx.Body.Key
	for existingKey := range s.data {
		if strings.HasSuffix(existingKey, suffix) && existingKey != storageKey(tx.PubKey, tx.Body.Key) {
			return fmt.Errorf("apply tx: key %q already owned by another sender", tx.Body.Key)
		}
	}
	s.data[storageKey(tx.PubKey, tx.Body.Key)] = tx.Body.Value
	return nil
}

// Get reads a single owner-scoped value.
func (s *State) Get(ownerHex, key string) (interface{}, bool) {
	v, ok := s.data[storageKey(ownerHex, key)]
	return v, ok
}

// Commitment computes a deterministic hash over the entire state: the
// keys are sorted before encoding so the hash never depends on Go's
// randomized map iteration order.
func (s *State) Commitment() (crypto.Hash32, error) {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]interface{}, len(s.data))
	for _, k := range keys {
		ordered[k] = s.data[k]
	}
	b, err := encoding.CanonicalBytes(ordered)
	if err != nil {
		return crypto.Hash32{}, fmt.Errorf("state commitment: %w", err)
	}
	return crypto.HashBytes(b), nil
}

// Copy returns an independent deep-enough copy of s for speculative
// application (e.g. validating a proposed block against the parent
// state without mutating the ledger's recorded state).
func (s *State) Copy() *State {
	cp := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		cp[k] = v
	}
	return &State{data: cp}
}
