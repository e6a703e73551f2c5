package consensus

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hcmus-labs/bftsim/pkg/block"
	"github.com/hcmus-labs/bftsim/pkg/crypto"
)

type heightRound struct {
	height uint64
	round  uint64
}

type waitingBlock struct {
	height    uint64
	blockHash string
}

// FinalizeFunc is invoked once per block the engine finalizes, in
// ascending height order.
type FinalizeFunc func(b block.Block)

// AskForBlockFunc requests the caller fetch a missing block by hash from
// its peers -- the recovery path when a supermajority of precommits
// names a block this validator never received.
type AskForBlockFunc func(blockHash string)

// Engine is the per-validator Tendermint-style consensus state machine:
// PREVOTE/PRECOMMIT voting with locking, valid-block tracking, and
// buffered recovery from votes or blocks that arrive out of order.
type Engine struct {
	validatorKeyPair crypto.KeyPair
	totalValidators  int
	validatorIndex   *int // nil: this engine does not participate in proposing

	onFinalize    FinalizeFunc
	onAskForBlock AskForBlockFunc

	Logger *zap.SugaredLogger

	currentHeight uint64
	currentRound  uint64

	myPrevote   *string
	myPrecommit *string

	lockedBlock *string
	lockedRound int64
	validBlock  *string
	validRound  int64

	proposedBlocks map[string]block.Block
	votePools      map[heightRound]*VotePool
	finalized      []block.Block

	futureVoteBuffer  map[heightRound][]Vote
	futureBlockBuffer map[uint64]block.Block

	waiting *waitingBlock
}

// NewEngine constructs a consensus engine for one validator.
// validatorIndex is nil for an observer that never proposes.
func NewEngine(kp crypto.KeyPair, totalValidators int, validatorIndex *int, onFinalize FinalizeFunc, onAskForBlock AskForBlockFunc) *Engine {
	return &Engine{
		validatorKeyPair:  kp,
		totalValidators:   totalValidators,
		validatorIndex:    validatorIndex,
		onFinalize:        onFinalize,
		onAskForBlock:     onAskForBlock,
		lockedRound:       -1,
		validRound:        -1,
		proposedBlocks:    make(map[string]block.Block),
		votePools:         make(map[heightRound]*VotePool),
		futureVoteBuffer:  make(map[heightRound][]Vote),
		futureBlockBuffer: make(map[uint64]block.Block),
	}
}

func (e *Engine) votePool(height, round uint64) *VotePool {
	key := heightRound{height, round}
	vp, ok := e.votePools[key]
	if !ok {
		vp = NewVotePool(height, round, e.totalValidators)
		e.votePools[key] = vp
	}
	return vp
}

func blockHashOf(b block.Block) (string, error) {
	h, err := b.Hash()
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// ShouldPropose reports whether this validator is the round-robin
// proposer for height at the given round (nil round means the engine's
// current round).
func (e *Engine) ShouldPropose(height uint64, round *uint64) bool {
	if e.validatorIndex == nil {
		return false
	}
	r := e.currentRound
	if round != nil {
		r = *round
	}
	return int(height+r)%e.totalValidators == *e.validatorIndex
}

// CurrentHeight and CurrentRound expose the engine's live position for
// the Node driving it.
func (e *Engine) CurrentHeight() uint64 { return e.currentHeight }
func (e *Engine) CurrentRound() uint64  { return e.currentRound }

// OnReceiveBlock feeds a proposed or gossiped block into the engine. It
// returns votes the caller should both record locally (via
// OnReceiveVote) and broadcast. A block for a future height is buffered;
// one for a past height is silently ignored.
func (e *Engine) OnReceiveBlock(b block.Block) ([]Vote, error) {
	h := b.Header.Height
	if h > e.currentHeight {
		e.futureBlockBuffer[h] = b
		return nil, nil
	}
	if h < e.currentHeight {
		return nil, nil
	}

	bh, err := blockHashOf(b)
	if err != nil {
		return nil, fmt.Errorf("on receive block: %w", err)
	}
	e.proposedBlocks[bh] = b

	if e.waiting != nil && e.waiting.height == h && e.waiting.blockHash == bh {
		return e.finalizeBlock(bh, h)
	}

	if e.myPrevote != nil {
		return nil, nil
	}

	voteHash := bh
	if e.lockedBlock != nil {
		switch {
		case *e.lockedBlock == bh:
			// already locked to this block: free to reaffirm it
		case e.validBlock != nil && *e.validBlock == bh && e.validRound >= e.lockedRound:
			// a later round produced a proof-of-lock for this block: unlock
		default:
			voteHash = NilBlockHash
		}
	}

	vote, err := BuildVote(e.currentHeight, e.currentRound, voteHash, PhasePrevote, e.validatorKeyPair)
	if err != nil {
		return nil, fmt.Errorf("on receive block: build prevote: %w", err)
	}
	e.myPrevote = &voteHash
	return []Vote{vote}, nil
}

// OnReceiveVote feeds a vote into the engine. Votes for a future height
// are buffered (and trigger a fast-forward check when exactly one height
// ahead); votes for a past height are ignored. A vote for the current
// height is processed regardless of its round: VotePool.AddVote already
// keys strictly by (height, round), so a lagging or leading round's
// vote simply accumulates in its own pool and can still reach
// supermajority and finalize -- any round filtering here would
// permanently drop precommits for rounds the engine has moved past,
// breaking the guarantee that a supermajority at any round finalizes.
func (e *Engine) OnReceiveVote(v Vote) ([]Vote, error) {
	h := v.Body.Height
	if h > e.currentHeight {
		key := heightRound{h, v.Body.Round}
		e.futureVoteBuffer[key] = append(e.futureVoteBuffer[key], v)
		if h == e.currentHeight+1 {
			return e.checkFastForward(h, v.Body.Round)
		}
		return nil, nil
	}
	if h < e.currentHeight {
		return nil, nil
	}
	return e.processVoteInternal(v)
}

func (e *Engine) processVoteInternal(v Vote) ([]Vote, error) {
	pool := e.votePool(v.Body.Height, v.Body.Round)
	if err := pool.AddVote(v); err != nil {
		return nil, fmt.Errorf("process vote: %w", err)
	}

	if v.Body.Phase == PhasePrevote {
		leader := pool.GetPrevoteLeader()
		if leader == "" || leader == NilBlockHash || e.myPrecommit != nil {
			return nil, nil
		}
		e.validBlock = &leader
		e.validRound = int64(v.Body.Round)
		e.lockedBlock = &leader
		e.lockedRound = int64(v.Body.Round)
		vote, err := BuildVote(e.currentHeight, e.currentRound, leader, PhasePrecommit, e.validatorKeyPair)
		if err != nil {
			return nil, fmt.Errorf("process vote: build precommit: %w", err)
		}
		e.myPrecommit = &leader
		return []Vote{vote}, nil
	}

	leader := pool.GetPrecommitLeader()
	if leader == "" || leader == NilBlockHash {
		return nil, nil
	}
	return e.finalizeBlock(leader, v.Body.Height)
}

func (e *Engine) finalizeBlock(blockHash string, height uint64) ([]Vote, error) {
	b, ok := e.proposedBlocks[blockHash]
	if !ok {
		e.waiting = &waitingBlock{height: height, blockHash: blockHash}
		if e.onAskForBlock != nil {
			e.onAskForBlock(blockHash)
		}
		if e.Logger != nil {
			e.Logger.Warnw("finalize_block_missing", "height", height, "block_hash", blockHash)
		}
		return nil, nil
	}

	e.finalized = append(e.finalized, b)
	if e.onFinalize != nil {
		e.onFinalize(b)
	}
	if e.Logger != nil {
		e.Logger.Infow("finalized", "height", height, "block_hash", blockHash)
	}
	return e.advanceToNextHeight(height + 1), nil
}

func (e *Engine) advanceToNextHeight(newHeight uint64) []Vote {
	e.currentHeight = newHeight
	e.currentRound = 0
	e.myPrevote = nil
	e.myPrecommit = nil
	e.waiting = nil
	e.lockedBlock = nil
	e.lockedRound = -1
	e.validBlock = nil
	e.validRound = -1

	var votes []Vote
	if b, ok := e.futureBlockBuffer[newHeight]; ok {
		delete(e.futureBlockBuffer, newHeight)
		bv, err := e.OnReceiveBlock(b)
		if err == nil {
			votes = append(votes, bv...)
		}
	}
	votes = append(votes, e.processBufferedVotes(newHeight, 0)...)
	return votes
}

func (e *Engine) processBufferedVotes(height, round uint64) []Vote {
	key := heightRound{height, round}
	buffered := e.futureVoteBuffer[key]
	delete(e.futureVoteBuffer, key)

	var votes []Vote
	for _, v := range buffered {
		vs, err := e.processVoteInternal(v)
		if err == nil {
			votes = append(votes, vs...)
		}
	}
	return votes
}

// AdvanceRound moves to the next round at the current height (e.g. on a
// round-timeout in the driving Node), replaying any votes or the block
// already buffered for the new round.
func (e *Engine) AdvanceRound() []Vote {
	e.currentRound++
	e.myPrevote = nil
	e.myPrecommit = nil

	votes := e.processBufferedVotes(e.currentHeight, e.currentRound)
	if b, ok := e.futureBlockBuffer[e.currentHeight]; ok {
		bv, err := e.OnReceiveBlock(b)
		if err == nil {
			votes = append(votes, bv...)
		}
	}
	return votes
}

// findProposalForHeight returns the known proposal at height with the
// lexicographically smallest block hash, so the choice never depends on
// Go's randomized map iteration order.
func (e *Engine) findProposalForHeight(height uint64) (block.Block, bool) {
	hashes := make([]string, 0, len(e.proposedBlocks))
	for h, b := range e.proposedBlocks {
		if b.Header.Height == height {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		return block.Block{}, false
	}
	sort.Strings(hashes)
	return e.proposedBlocks[hashes[0]], true
}

// checkFastForward looks for a supermajority of precommits at
// (futureHeight, futureRound) -- exactly one height ahead of the
// engine's current height -- and, if found, finalizes the engine's
// current-height proposal directly from that future evidence, without
// needing its own quorum of local votes.
func (e *Engine) checkFastForward(futureHeight, futureRound uint64) ([]Vote, error) {
	if futureHeight != e.currentHeight+1 {
		return nil, nil
	}

	counts := make(map[string]map[string]bool)
	for _, v := range e.futureVoteBuffer[heightRound{futureHeight, futureRound}] {
		if v.Body.Phase != PhasePrecommit {
			continue
		}
		if counts[v.Body.BlockHash] == nil {
			counts[v.Body.BlockHash] = make(map[string]bool)
		}
		counts[v.Body.BlockHash][v.PubKey] = true
	}

	hashes := make([]string, 0, len(counts))
	for h := range counts {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, h := range hashes {
		if h == NilBlockHash {
			continue
		}
		if len(counts[h]) <= (2*e.totalValidators)/3 {
			continue
		}
		if b, ok := e.findProposalForHeight(e.currentHeight); ok {
			bh, err := blockHashOf(b)
			if err != nil {
				return nil, fmt.Errorf("check fast forward: %w", err)
			}
			return e.finalizeBlock(bh, e.currentHeight)
		}
		if fb, ok := e.futureBlockBuffer[futureHeight]; ok && fb.Header.ParentHash != "" {
			e.waiting = &waitingBlock{height: e.currentHeight, blockHash: fb.Header.ParentHash}
			if e.onAskForBlock != nil {
				e.onAskForBlock(fb.Header.ParentHash)
			}
		}
		return nil, nil
	}
	return nil, nil
}

// FinalizedBlocks returns all blocks finalized so far, in order.
func (e *Engine) FinalizedBlocks() []block.Block { return e.finalized }
