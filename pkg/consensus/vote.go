// Package consensus implements the Tendermint-style two-phase
// (PREVOTE/PRECOMMIT) voting state machine: vote pools and the
// per-validator consensus engine that drives locking, finalization,
// and recovery from missing votes or blocks.
package consensus

import (
	"fmt"

	"github.com/hcmus-labs/bftsim/pkg/crypto"
)

// Phase names a voting round's stage.
type Phase string

const (
	PhasePrevote   Phase = "PREVOTE"
	PhasePrecommit Phase = "PRECOMMIT"

	// NilBlockHash is the literal block hash validators vote for when
	// they decline to vote for any proposed block. It participates in
	// supermajority counting like any other block hash.
	NilBlockHash = "NIL"
)

// VoteBody is the unsigned content of a vote.
type VoteBody struct {
	Height    uint64 `json:"height"`
	Round     uint64 `json:"round"`
	BlockHash string `json:"block_hash"`
	Phase     Phase  `json:"phase"`
}

// Vote is a signed VoteBody.
type Vote struct {
	Body      VoteBody `json:"body"`
	Signature []byte   `json:"signature"`
	PubKey    string   `json:"pubkey"`
}

// BuildVote signs a vote for (height, round, blockHash, phase) with kp.
func BuildVote(height, round uint64, blockHash string, phase Phase, kp crypto.KeyPair) (Vote, error) {
	body := VoteBody{Height: height, Round: round, BlockHash: blockHash, Phase: phase}
	sig, err := crypto.SignStruct(crypto.ContextVote, kp, body)
	if err != nil {
		return Vote{}, fmt.Errorf("build vote: %w", err)
	}
	return Vote{Body: body, Signature: sig, PubKey: kp.PubKeyHex()}, nil
}

// Verify checks the vote's signature and that its phase is one of the
// two recognised phases.
func (v Vote) Verify() bool {
	if v.Body.Phase != PhasePrevote && v.Body.Phase != PhasePrecommit {
		return false
	}
	return crypto.VerifyStruct(crypto.ContextVote, v.PubKey, v.Body, v.Signature)
}
