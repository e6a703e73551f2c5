// Package node glues the consensus engine, ledger, mempool, and network
// together into the single actor that a simulation step drives.
package node

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hcmus-labs/bftsim/pkg/block"
	"github.com/hcmus-labs/bftsim/pkg/consensus"
	"github.com/hcmus-labs/bftsim/pkg/crypto"
	"github.com/hcmus-labs/bftsim/pkg/netsim"
	"github.com/hcmus-labs/bftsim/pkg/txstate"
)

// Node is one validator in the simulation.
type Node struct {
	id       string
	net      *netsim.Network
	kp       crypto.KeyPair
	gossipK  int
	logger   *zap.SugaredLogger

	state    *txstate.State
	ledger   *block.Ledger
	mempool  []txstate.SignedTx
	engine   *consensus.Engine

	proposalInterval float64
	lastProposalTime float64

	nextMsgID uint64
}

// New builds a Node, registering it with net. validators is the
// canonical ordered list of validator public keys (hex); this node's
// index within it determines its round-robin proposal turns, or nil if
// its key is not a validator (an observer). proposalInterval is the
// coarse real-time gap ProposeBlock enforces between two proposal
// attempts by this node (spec.md's "comparing current_time to
// last_proposal_time + proposal_interval").
func New(id string, net *netsim.Network, kp crypto.KeyPair, validators []string, gossipK int, proposalInterval float64, logger *zap.SugaredLogger) *Node {
	n := &Node{
		id:               id,
		net:              net,
		kp:               kp,
		gossipK:          gossipK,
		logger:           logger,
		state:            txstate.NewState(),
		ledger:           block.NewLedger(),
		proposalInterval: proposalInterval,
		lastProposalTime: math.Inf(-1),
	}

	var idx *int
	for i, v := range validators {
		if v == kp.PubKeyHex() {
			i := i
			idx = &i
			break
		}
	}
	n.engine = consensus.NewEngine(kp, len(validators), idx, n.onFinalize, n.onAskForBlock)
	n.engine.Logger = logger
	net.AddNode(n)
	return n
}

// ID implements netsim.Node.
func (n *Node) ID() string { return n.id }

func (n *Node) allocMsgID() uint64 {
	n.nextMsgID++
	return n.nextMsgID
}

// Receive implements netsim.Node: routes an inbound message by type.
func (n *Node) Receive(msg netsim.Message, simTime float64) {
	switch msg.Type {
	case netsim.MsgTx:
		tx, ok := msg.Payload.(txstate.SignedTx)
		if !ok || !tx.Verify() {
			return
		}
		n.addToMempool(tx)

	case netsim.MsgBlockHeader, netsim.MsgBlockBody:
		b, ok := msg.Payload.(block.Block)
		if !ok || !b.VerifySignature() {
			return
		}
		tip := n.ledger.GetHeight()
		if int64(b.Header.Height) == tip+1 {
			if err := n.validateAgainstTip(b); err != nil {
				if n.logger != nil {
					n.logger.Warnw("block_rejected", "node", n.id, "height", b.Header.Height, "err", err.Error())
				}
				return
			}
		}
		votes, err := n.engine.OnReceiveBlock(b)
		if err != nil {
			return
		}
		n.processAndBroadcast(votes, simTime)

	case netsim.MsgVote:
		v, ok := msg.Payload.(consensus.Vote)
		if !ok || !v.Verify() {
			return
		}
		votes, err := n.engine.OnReceiveVote(v)
		if err != nil {
			return
		}
		n.processAndBroadcast(votes, simTime)

	case netsim.MsgGetBlock:
		hash, ok := msg.Payload.(string)
		if !ok {
			return
		}
		n.replyWithBlock(hash, msg.From, simTime)
	}
}

func (n *Node) addToMempool(tx txstate.SignedTx) {
	for _, existing := range n.mempool {
		if existing.Equal(tx) {
			return
		}
	}
	n.mempool = append(n.mempool, tx)
}

func (n *Node) mempoolSnapshot() []txstate.SignedTx {
	out := make([]txstate.SignedTx, len(n.mempool))
	copy(out, n.mempool)
	return out
}

func (n *Node) pruneMempool(included []txstate.SignedTx) {
	if len(included) == 0 {
		return
	}
	remaining := n.mempool[:0]
	for _, tx := range n.mempool {
		keep := true
		for _, done := range included {
			if tx.Equal(done) {
				keep = false
				break
			}
		}
		if keep {
			remaining = append(remaining, tx)
		}
	}
	n.mempool = remaining
}

// validateAgainstTip rejects a block that does not extend this node's
// local chain tip (a non-extending fork), then runs the full header/tx
// validation against the tip's recorded state.
func (n *Node) validateAgainstTip(b block.Block) error {
	tipHeight := n.ledger.GetHeight()
	if tipHeight < 0 {
		if b.Header.Height != 0 {
			return fmt.Errorf("validate against tip: expected genesis height 0")
		}
		return block.ValidateBlock(b, nil, txstate.NewState())
	}
	tipBlock, ok := n.ledger.GetBlock(uint64(tipHeight))
	if !ok {
		return fmt.Errorf("validate against tip: missing recorded tip block")
	}
	tipHash, err := tipBlock.Hash()
	if err != nil {
		return fmt.Errorf("validate against tip: %w", err)
	}
	if b.Header.ParentHash != tipHash.String() {
		return fmt.Errorf("validate against tip: does not extend local tip")
	}
	tipState, ok := n.ledger.GetState(uint64(tipHeight))
	if !ok {
		return fmt.Errorf("validate against tip: missing recorded tip state")
	}
	return block.ValidateBlock(b, &tipBlock, tipState)
}

// onFinalize is the consensus engine's callback on finalizing a block:
// apply its transactions to local state and record it in the ledger.
func (n *Node) onFinalize(b block.Block) {
	for _, tx := range b.Txs {
		_ = n.state.ApplyTx(tx) // already validated when the block was built/validated
	}
	n.ledger.AddBlock(b, n.state.Copy())
	n.pruneMempool(b.Txs)
}

// onAskForBlock is the consensus engine's recovery hook: broadcast a
// request for a block this node has a supermajority of precommits for
// but never received.
func (n *Node) onAskForBlock(blockHash string) {
	msg := netsim.Message{ID: n.allocMsgID(), From: n.id, Type: netsim.MsgGetBlock, Payload: blockHash}
	n.net.GossipSend(msg, 0, n.gossipK, []string{n.id})
}

func (n *Node) replyWithBlock(hash, to string, simTime float64) {
	var found *block.Block
	if b, ok := n.findFinalizedOrProposed(hash); ok {
		found = &b
	}
	if found == nil {
		return
	}
	msg := netsim.Message{ID: n.allocMsgID(), From: n.id, To: to, Type: netsim.MsgBlockHeader, Payload: *found, Height: &found.Header.Height}
	n.net.Send(msg, simTime)
}

func (n *Node) findFinalizedOrProposed(hash string) (block.Block, bool) {
	for h := int64(0); h <= n.ledger.GetHeight(); h++ {
		b, ok := n.ledger.GetBlock(uint64(h))
		if !ok {
			continue
		}
		bh, err := b.Hash()
		if err == nil && bh.String() == hash {
			return b, true
		}
	}
	return block.Block{}, false
}

// ProposeBlock builds and broadcasts a new block if this node is the
// round-robin proposer for the engine's current (height, round) and
// its coarse proposer tick has elapsed since the last attempt.
func (n *Node) ProposeBlock(simTime float64) {
	if simTime < n.lastProposalTime+n.proposalInterval {
		return
	}
	height := n.engine.CurrentHeight()
	round := n.engine.CurrentRound()
	if !n.engine.ShouldPropose(height, &round) {
		return
	}
	n.lastProposalTime = simTime

	var parent *block.Block
	parentState := txstate.NewState()
	if height > 0 {
		pb, ok := n.ledger.GetBlock(height - 1)
		if !ok {
			return
		}
		ps, ok := n.ledger.GetState(height - 1)
		if !ok {
			return
		}
		parent = &pb
		parentState = ps
	}

	b, err := block.BuildBlock(parent, parentState, n.mempoolSnapshot(), n.kp)
	if err != nil {
		if n.logger != nil {
			n.logger.Errorw("build_block_failed", "node", n.id, "err", err.Error())
		}
		return
	}

	votes, err := n.engine.OnReceiveBlock(b)
	if err != nil {
		return
	}
	n.broadcastBlock(b, simTime)
	n.processAndBroadcast(votes, simTime)
}

func (n *Node) broadcastBlock(b block.Block, simTime float64) {
	msg := netsim.Message{ID: n.allocMsgID(), From: n.id, Type: netsim.MsgBlockHeader, Payload: b, Height: &b.Header.Height}
	n.net.GossipSend(msg, simTime, n.gossipK, []string{n.id})
}

func (n *Node) broadcastVote(v consensus.Vote, simTime float64) {
	height := v.Body.Height
	msg := netsim.Message{ID: n.allocMsgID(), From: n.id, Type: netsim.MsgVote, Payload: v, Height: &height}
	n.net.GossipSend(msg, simTime, n.gossipK, []string{n.id})
}

// processAndBroadcast broadcasts each vote the engine hands back and
// feeds it into the engine's own pool (so this node's own vote counts
// toward its tallies exactly like a peer's), cascading through any
// further votes that unlocks (e.g. a prevote reaching supermajority and
// immediately producing this node's own precommit).
func (n *Node) processAndBroadcast(votes []consensus.Vote, simTime float64) {
	pending := append([]consensus.Vote(nil), votes...)
	for len(pending) > 0 {
		v := pending[0]
		pending = pending[1:]
		n.broadcastVote(v, simTime)
		more, err := n.engine.OnReceiveVote(v)
		if err == nil {
			pending = append(pending, more...)
		}
	}
}

// SubmitTx injects a locally-originated transaction into this node's
// mempool and gossips it to peers.
func (n *Node) SubmitTx(tx txstate.SignedTx, simTime float64) {
	n.addToMempool(tx)
	msg := netsim.Message{ID: n.allocMsgID(), From: n.id, Type: netsim.MsgTx, Payload: tx}
	n.net.GossipSend(msg, simTime, n.gossipK, []string{n.id})
}

// Ledger exposes the node's finalized chain, used by the observer API
// and by tests asserting on end state.
func (n *Node) Ledger() *block.Ledger { return n.ledger }

// State exposes the node's current applied state.
func (n *Node) State() *txstate.State { return n.state }
