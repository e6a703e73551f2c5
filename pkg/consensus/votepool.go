package consensus

import (
	"fmt"
	"sort"
)

// VotePool tallies prevotes and precommits for a single (height, round),
// enforcing one vote per validator per phase regardless of which block
// hash that validator voted for.
type VotePool struct {
	height          uint64
	round           uint64
	totalValidators int

	prevotes   map[string]map[string]bool // blockHash -> validatorPubKey set
	precommits map[string]map[string]bool
}

// NewVotePool creates an empty pool for (height, round).
func NewVotePool(height, round uint64, totalValidators int) *VotePool {
	return &VotePool{
		height:          height,
		round:           round,
		totalValidators: totalValidators,
		prevotes:        make(map[string]map[string]bool),
		precommits:      make(map[string]map[string]bool),
	}
}

func (p *VotePool) poolFor(phase Phase) map[string]map[string]bool {
	if phase == PhasePrevote {
		return p.prevotes
	}
	return p.precommits
}

// hasVoted reports whether validatorPubKey already recorded a vote for
// phase against any block hash in this pool.
func (p *VotePool) hasVoted(phase Phase, validatorPubKey string) bool {
	for _, validators := range p.poolFor(phase) {
		if validators[validatorPubKey] {
			return true
		}
	}
	return false
}

// AddVote validates and records v. It rejects votes for the wrong
// height/round, votes that fail signature verification, and a second
// vote from the same validator in the same phase (for any block hash).
func (p *VotePool) AddVote(v Vote) error {
	if v.Body.Height != p.height || v.Body.Round != p.round {
		return fmt.Errorf("add vote: height/round mismatch")
	}
	if !v.Verify() {
		return fmt.Errorf("add vote: signature invalid")
	}
	if p.hasVoted(v.Body.Phase, v.PubKey) {
		return fmt.Errorf("add vote: validator %s already voted in phase %s", v.PubKey, v.Body.Phase)
	}
	pool := p.poolFor(v.Body.Phase)
	if pool[v.Body.BlockHash] == nil {
		pool[v.Body.BlockHash] = make(map[string]bool)
	}
	pool[v.Body.BlockHash][v.PubKey] = true
	return nil
}

// PrevoteCount returns the number of distinct validators who prevoted
// for blockHash.
func (p *VotePool) PrevoteCount(blockHash string) int {
	return len(p.prevotes[blockHash])
}

// PrecommitCount returns the number of distinct validators who
// precommitted for blockHash.
func (p *VotePool) PrecommitCount(blockHash string) int {
	return len(p.precommits[blockHash])
}

func (p *VotePool) supermajority(count int) bool {
	return count > (2*p.totalValidators)/3
}

// HasSupermajorityPrevotes reports whether blockHash has a supermajority
// of prevotes.
func (p *VotePool) HasSupermajorityPrevotes(blockHash string) bool {
	return p.supermajority(p.PrevoteCount(blockHash))
}

// HasSupermajorityPrecommits reports whether blockHash has a
// supermajority of precommits.
func (p *VotePool) HasSupermajorityPrecommits(blockHash string) bool {
	return p.supermajority(p.PrecommitCount(blockHash))
}

// leader scans candidate block hashes in ascending lexicographic order
// (not map iteration order, which Go randomizes) and returns the first
// one with a supermajority, or "" if none qualifies.
func (p *VotePool) leader(pool map[string]map[string]bool, has func(string) bool) string {
	hashes := make([]string, 0, len(pool))
	for h := range pool {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		if has(h) {
			return h
		}
	}
	return ""
}

// GetPrevoteLeader returns the lexicographically-first block hash with a
// supermajority of prevotes, or "" if none has one yet.
func (p *VotePool) GetPrevoteLeader() string {
	return p.leader(p.prevotes, p.HasSupermajorityPrevotes)
}

// GetPrecommitLeader returns the lexicographically-first block hash with
// a supermajority of precommits, or "" if none has one yet.
func (p *VotePool) GetPrecommitLeader() string {
	return p.leader(p.precommits, p.HasSupermajorityPrecommits)
}
