// Package block implements block construction, validation, and the
// append-only ledger of finalized blocks and post-block state.
package block

import (
	"fmt"

	"github.com/hcmus-labs/bftsim/pkg/crypto"
	"github.com/hcmus-labs/bftsim/pkg/encoding"
	"github.com/hcmus-labs/bftsim/pkg/txstate"
)

// Header carries everything needed to hash and chain a block, but none
// of the transaction payload -- the same split the teacher's consensus
// types use between consensus hash and application hash, here expressed
// as header vs body instead of two parallel hashes.
type Header struct {
	Height          uint64 `json:"height"`
	ParentHash      string `json:"parent_hash"`
	StateHash       string `json:"state_hash"`
	ProposerPubKey  string `json:"proposer_pubkey_hex"`
}

// Block is a signed header plus its transactions.
type Block struct {
	Header          Header             `json:"header"`
	Txs             []txstate.SignedTx `json:"txs"`
	HeaderSignature []byte             `json:"header_signature"`
	ProposerPubKey  string             `json:"pubkey"`
}

// Hash returns the Blake2b hash of the canonical header bytes. Txs are
// deliberately excluded from the hashed header -- StateHash already
// commits to their effect, matching the header-only hashing in
// original_source's Block.block_hash.
func (b Block) Hash() (crypto.Hash32, error) {
	hb, err := encoding.CanonicalBytes(b.Header)
	if err != nil {
		return crypto.Hash32{}, fmt.Errorf("block hash: %w", err)
	}
	return crypto.HashBytes(hb), nil
}

// VerifySignature checks the header signature against the carried
// proposer pubkey.
func (b Block) VerifySignature() bool {
	if b.ProposerPubKey != b.Header.ProposerPubKey {
		return false
	}
	return crypto.VerifyStruct(crypto.ContextHeader, b.ProposerPubKey, b.Header, b.HeaderSignature)
}

// BuildBlock assembles and signs a new block extending parent, applying
// txs to a scratch copy of parentState to compute the resulting state
// hash. It does not mutate parentState. Tx validity never gates block
// validity: every tx passed in is included, whether or not applying it
// to the scratch state succeeds -- an invalid tx simply contributes no
// state mutation.
func BuildBlock(parent *Block, parentState *txstate.State, txs []txstate.SignedTx, kp crypto.KeyPair) (Block, error) {
	scratch := parentState.Copy()
	for _, tx := range txs {
		_ = scratch.ApplyTx(tx)
	}
	stateHash, err := scratch.Commitment()
	if err != nil {
		return Block{}, fmt.Errorf("build block: %w", err)
	}

	parentHash := crypto.Hash32{}
	height := uint64(0)
	if parent != nil {
		ph, err := parent.Hash()
		if err != nil {
			return Block{}, fmt.Errorf("build block: parent hash: %w", err)
		}
		parentHash = ph
		height = parent.Header.Height + 1
	}

	header := Header{
		Height:         height,
		ParentHash:     parentHash.String(),
		StateHash:      stateHash.String(),
		ProposerPubKey: kp.PubKeyHex(),
	}
	sig, err := crypto.SignStruct(crypto.ContextHeader, kp, header)
	if err != nil {
		return Block{}, fmt.Errorf("build block: sign header: %w", err)
	}
	return Block{Header: header, Txs: txs, HeaderSignature: sig, ProposerPubKey: kp.PubKeyHex()}, nil
}

// ValidateBlock checks a received block against its claimed parent and
// parent state: the header signature must verify, the parent hash must
// match, the height must be exactly parent.Height+1 (or 0 for a genesis
// block with a nil parent), and replaying the txs against parentState
// must reproduce the claimed state hash exactly. A tx that fails to
// apply does not invalidate the block -- it is replayed the same way
// BuildBlock built it, contributing no mutation but still counting as
// included; only a state-hash mismatch after replay rejects the block.
func ValidateBlock(b Block, parent *Block, parentState *txstate.State) error {
	if !b.VerifySignature() {
		return fmt.Errorf("validate block: bad header signature")
	}

	wantHeight := uint64(0)
	wantParentHash := crypto.Hash32{}
	if parent != nil {
		ph, err := parent.Hash()
		if err != nil {
			return fmt.Errorf("validate block: parent hash: %w", err)
		}
		wantParentHash = ph
		wantHeight = parent.Header.Height + 1
	}
	if b.Header.Height != wantHeight {
		return fmt.Errorf("validate block: height %d, want %d", b.Header.Height, wantHeight)
	}
	if b.Header.ParentHash != wantParentHash.String() {
		return fmt.Errorf("validate block: parent hash mismatch")
	}

	scratch := parentState.Copy()
	for _, tx := range b.Txs {
		_ = scratch.ApplyTx(tx)
	}
	gotStateHash, err := scratch.Commitment()
	if err != nil {
		return fmt.Errorf("validate block: commitment: %w", err)
	}
	if gotStateHash.String() != b.Header.StateHash {
		return fmt.Errorf("validate block: state hash mismatch")
	}
	return nil
}
