// Package tests holds the cross-package end-to-end scenarios named
// literally in the testable-properties section: full simulator runs
// under specific fault configurations (E1-E3), plus scripted
// single-engine scenarios exercising locking, fast-forward, and
// missing-block recovery (E4-E6).
package tests

import (
	"bytes"
	"testing"

	"github.com/hcmus-labs/bftsim/pkg/block"
	"github.com/hcmus-labs/bftsim/pkg/config"
	"github.com/hcmus-labs/bftsim/pkg/consensus"
	"github.com/hcmus-labs/bftsim/pkg/crypto"
	"github.com/hcmus-labs/bftsim/pkg/simulator"
	"github.com/hcmus-labs/bftsim/pkg/txstate"
)

func runSim(t *testing.T, cfg config.Config, seed int64) *simulator.Simulator {
	t.Helper()
	var buf bytes.Buffer
	sim := simulator.New(cfg, seed, &buf, nil)
	if err := sim.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	return sim
}

func assertLedgersAgree(t *testing.T, sim *simulator.Simulator) {
	t.Helper()
	nodes := sim.Nodes()
	if len(nodes) < 2 {
		return
	}
	ref := nodes[0].Ledger()
	for h := int64(0); h <= ref.GetHeight(); h++ {
		refBlock, ok := ref.GetBlock(uint64(h))
		if !ok {
			continue
		}
		refHash, err := refBlock.Hash()
		if err != nil {
			t.Fatalf("hash reference block at height %d: %v", h, err)
		}
		for _, n := range nodes[1:] {
			otherLedger := n.Ledger()
			if otherLedger.GetHeight() < h {
				continue
			}
			otherBlock, ok := otherLedger.GetBlock(uint64(h))
			if !ok {
				continue
			}
			otherHash, err := otherBlock.Hash()
			if err != nil {
				t.Fatalf("hash other block at height %d: %v", h, err)
			}
			if refHash != otherHash {
				t.Fatalf("agreement violated at height %d: %s vs %s", h, refHash.String(), otherHash.String())
			}
		}
	}
}

// E1 -- happy path, 4 validators, no faults.
func TestE1HappyPathFourValidatorsNoFaults(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.NumNodes = 4
	cfg.Simulation.DropProb = 0
	cfg.Simulation.DupProb = 0
	cfg.Simulation.MaxBlocks = 5
	cfg.Simulation.ProposalInterval = 0

	sim := runSim(t, cfg, 42)
	for _, n := range sim.Nodes() {
		if n.Ledger().GetHeight()+1 < int64(cfg.Simulation.MaxBlocks) {
			t.Fatalf("expected every ledger to reach height >= %d, got %d", cfg.Simulation.MaxBlocks-1, n.Ledger().GetHeight())
		}
	}
	assertLedgersAgree(t, sim)
}

// E2 -- duplicate messages tolerated without double-counting votes.
func TestE2DuplicatesTolerated(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.NumNodes = 8
	cfg.Simulation.DupProb = 0.5
	cfg.Simulation.DropProb = 0
	cfg.Simulation.MaxBlocks = 3
	cfg.Simulation.ProposalInterval = 0

	sim := runSim(t, cfg, 789)
	assertLedgersAgree(t, sim)
}

// E3 -- message drops slow progress but never violate safety.
func TestE3DropsDoNotViolateSafety(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.NumNodes = 8
	cfg.Simulation.DropProb = 0.2
	cfg.Simulation.DupProb = 0
	cfg.Simulation.MaxBlocks = 2
	cfg.Simulation.ProposalInterval = 0

	sim := runSim(t, cfg, 101112)
	assertLedgersAgree(t, sim)
}

// E4 -- locking prevents a conflicting prevote in a later round.
func TestE4LockingPreventsConflictingPrevote(t *testing.T) {
	kps := make([]crypto.KeyPair, 4)
	for i := range kps {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate keypair %d: %v", i, err)
		}
		kps[i] = kp
	}
	state0 := txstate.NewState()

	blockA, err := block.BuildBlock(nil, state0, nil, kps[0])
	if err != nil {
		t.Fatalf("build block A: %v", err)
	}
	blockB, err := block.BuildBlock(nil, state0, nil, kps[1])
	if err != nil {
		t.Fatalf("build block B: %v", err)
	}

	idx := 0
	e := consensus.NewEngine(kps[0], 4, &idx, nil, nil)

	votes, err := e.OnReceiveBlock(blockA)
	if err != nil {
		t.Fatalf("on receive block A: %v", err)
	}
	if len(votes) != 1 || votes[0].Body.BlockHash == consensus.NilBlockHash {
		t.Fatalf("expected a real PREVOTE for block A, got %v", votes)
	}

	for _, v := range votes {
		if _, err := e.OnReceiveVote(v); err != nil {
			t.Fatalf("own prevote rejected: %v", err)
		}
	}
	aHash, err := blockA.Hash()
	if err != nil {
		t.Fatalf("hash block A: %v", err)
	}
	var precommitA consensus.Vote
	for i := 1; i < 3; i++ {
		v, err := consensus.BuildVote(0, 0, aHash.String(), consensus.PhasePrevote, kps[i])
		if err != nil {
			t.Fatalf("build prevote %d: %v", i, err)
		}
		returned, err := e.OnReceiveVote(v)
		if err != nil {
			t.Fatalf("prevote %d rejected: %v", i, err)
		}
		if len(returned) == 1 {
			precommitA = returned[0]
		}
	}
	if precommitA.Body.BlockHash != aHash.String() {
		t.Fatalf("expected a PRECOMMIT for block A to be issued once locked, got %+v", precommitA)
	}

	e.AdvanceRound()

	votesB, err := e.OnReceiveBlock(blockB)
	if err != nil {
		t.Fatalf("on receive block B: %v", err)
	}
	if len(votesB) != 1 || votesB[0].Body.BlockHash != consensus.NilBlockHash {
		t.Fatalf("expected PREVOTE NIL for block B while locked to A, got %v", votesB)
	}
}

// E5 -- a validator at h=0 with block_0 locally fast-forwards on seeing
// 3 PRECOMMITs for a block at h=1.
func TestE5FastForward(t *testing.T) {
	kps := make([]crypto.KeyPair, 4)
	for i := range kps {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate keypair %d: %v", i, err)
		}
		kps[i] = kp
	}
	state0 := txstate.NewState()
	block0, err := block.BuildBlock(nil, state0, nil, kps[0])
	if err != nil {
		t.Fatalf("build block 0: %v", err)
	}

	var finalized []block.Block
	idx := 0
	e := consensus.NewEngine(kps[0], 4, &idx, func(b block.Block) { finalized = append(finalized, b) }, nil)

	if _, err := e.OnReceiveBlock(block0); err != nil {
		t.Fatalf("on receive block 0: %v", err)
	}

	for i := 1; i < 4; i++ {
		v, err := consensus.BuildVote(1, 0, "future-block-at-h1", consensus.PhasePrecommit, kps[i])
		if err != nil {
			t.Fatalf("build future precommit %d: %v", i, err)
		}
		if _, err := e.OnReceiveVote(v); err != nil {
			t.Fatalf("on receive future precommit %d: %v", i, err)
		}
	}

	if len(finalized) != 1 {
		t.Fatalf("expected block 0 to finalize before the h=1 buffer is reprocessed, got %v", finalized)
	}
	if e.CurrentHeight() != 1 {
		t.Fatalf("expected the engine to advance to height 1, got %d", e.CurrentHeight())
	}
}

// E6 -- 3 PRECOMMITs for hash X arrive before block X itself; the
// engine must ask for the block, then finalize once it arrives.
func TestE6MissingBlockFetch(t *testing.T) {
	kps := make([]crypto.KeyPair, 4)
	for i := range kps {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate keypair %d: %v", i, err)
		}
		kps[i] = kp
	}

	var asked string
	idx := 0
	e := consensus.NewEngine(kps[0], 4, &idx, nil, func(hash string) { asked = hash })

	state0 := txstate.NewState()
	blockX, err := block.BuildBlock(nil, state0, nil, kps[2])
	if err != nil {
		t.Fatalf("build block X: %v", err)
	}
	xHash, err := blockX.Hash()
	if err != nil {
		t.Fatalf("hash block X: %v", err)
	}

	for i := 1; i < 4; i++ {
		v, err := consensus.BuildVote(0, 0, xHash.String(), consensus.PhasePrecommit, kps[i])
		if err != nil {
			t.Fatalf("build precommit %d: %v", i, err)
		}
		if _, err := e.OnReceiveVote(v); err != nil {
			t.Fatalf("on receive precommit %d: %v", i, err)
		}
	}
	if asked != xHash.String() {
		t.Fatalf("expected the engine to ask for the missing block %s, got %q", xHash.String(), asked)
	}
	if e.CurrentHeight() != 0 {
		t.Fatalf("expected height to stay at 0 until block X arrives, got %d", e.CurrentHeight())
	}

	votes, err := e.OnReceiveBlock(blockX)
	if err != nil {
		t.Fatalf("on receive block X: %v", err)
	}
	_ = votes
	if e.CurrentHeight() != 1 {
		t.Fatalf("expected finalization and height advance once block X arrives, got %d", e.CurrentHeight())
	}
	if len(e.FinalizedBlocks()) != 1 {
		t.Fatalf("expected exactly one finalized block, got %d", len(e.FinalizedBlocks()))
	}
}
