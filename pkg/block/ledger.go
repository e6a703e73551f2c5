package block

import "github.com/hcmus-labs/bftsim/pkg/txstate"

// Ledger is the append-only record of finalized blocks and the state
// that resulted from applying each one, indexed by height.
type Ledger struct {
	blocks map[uint64]Block
	states map[uint64]*txstate.State
	height int64 // -1 when empty, matching original_source's get_height
}

// NewLedger returns an empty ledger at height -1, holding no blocks and
// no states yet.
func NewLedger() *Ledger {
	return &Ledger{
		blocks: make(map[uint64]Block),
		states: make(map[uint64]*txstate.State),
		height: -1,
	}
}

// AddBlock records b as finalized at its header height, alongside the
// state that resulted from applying it.
func (l *Ledger) AddBlock(b Block, resultState *txstate.State) {
	l.blocks[b.Header.Height] = b
	l.states[b.Header.Height] = resultState
	if int64(b.Header.Height) > l.height {
		l.height = int64(b.Header.Height)
	}
}

// GetBlock returns the block finalized at height, if any.
func (l *Ledger) GetBlock(height uint64) (Block, bool) {
	b, ok := l.blocks[height]
	return b, ok
}

// GetState returns the state as of height, if any.
func (l *Ledger) GetState(height uint64) (*txstate.State, bool) {
	s, ok := l.states[height]
	return s, ok
}

// LatestFinalized returns the highest finalized (height, block, state)
// triple. ok is false for an empty ledger.
func (l *Ledger) LatestFinalized() (height uint64, b Block, s *txstate.State, ok bool) {
	if l.height < 0 {
		return 0, Block{}, nil, false
	}
	h := uint64(l.height)
	return h, l.blocks[h], l.states[h], true
}

// GetHeight returns the highest finalized height, or -1 if the ledger is
// empty.
func (l *Ledger) GetHeight() int64 {
	return l.height
}
