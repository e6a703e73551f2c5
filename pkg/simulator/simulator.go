// Package simulator drives the discrete-event loop: each step lets
// every node attempt a proposal at its current position, then delivers
// the single earliest-scheduled network event, until a reference node
// has finalized the configured number of blocks.
package simulator

import (
	"fmt"
	"io"
	"math/rand"

	"go.uber.org/zap"

	"github.com/hcmus-labs/bftsim/pkg/config"
	"github.com/hcmus-labs/bftsim/pkg/crypto"
	"github.com/hcmus-labs/bftsim/pkg/netsim"
	"github.com/hcmus-labs/bftsim/pkg/node"
)

// Simulator owns the network, every node, and the shared simulated
// clock.
type Simulator struct {
	cfg     config.Config
	net     *netsim.Network
	nodes   []*node.Node
	simTime float64
}

// New constructs a simulator with cfg.Simulation.NumNodes validators,
// a network seeded from seed, logging the event stream to eventLog.
func New(cfg config.Config, seed int64, eventLog io.Writer, logger *zap.SugaredLogger) *Simulator {
	rng := rand.New(rand.NewSource(seed))

	// Validator Ed25519 seeds are drawn from the run's shared PRNG
	// before any message activity, so (seed, config) alone determines
	// both the validator keys and the entire network draw sequence.
	keypairs := make([]crypto.KeyPair, cfg.Simulation.NumNodes)
	validatorHex := make([]string, cfg.Simulation.NumNodes)
	for i := 0; i < cfg.Simulation.NumNodes; i++ {
		seedBytes := make([]byte, 32)
		_, _ = rng.Read(seedBytes) // *rand.Rand.Read never errors
		kp := crypto.KeyPairFromSeed(seedBytes)
		keypairs[i] = kp
		validatorHex[i] = kp.PubKeyHex()
	}

	jlog := netsim.NewJSONLinesLogger(eventLog)
	netCfg := netsim.Config{
		MinDelay:        cfg.Simulation.MinDelay,
		MaxDelay:        cfg.Simulation.MaxDelay,
		DropProb:        cfg.EffectiveDropProb(),
		DupProb:         cfg.EffectiveDupProb(),
		MinSendInterval: cfg.Network.MinSendInterval,
	}
	net := netsim.NewNetwork(jlog, rng, netCfg)

	nodes := make([]*node.Node, cfg.Simulation.NumNodes)
	for i, kp := range keypairs {
		id := fmt.Sprintf("node%d", i)
		nodes[i] = node.New(id, net, kp, validatorHex, cfg.Network.GossipK, cfg.Simulation.ProposalInterval, logger)
	}

	return &Simulator{cfg: cfg, net: net, nodes: nodes}
}

// Nodes exposes the simulated validators, e.g. for an observer API or
// test assertions against final ledger state.
func (s *Simulator) Nodes() []*node.Node { return s.nodes }

// referenceHeight is the finalized-block count of node 0, the target the
// run loop measures progress against.
func (s *Simulator) referenceHeight() int64 {
	if len(s.nodes) == 0 {
		return 0
	}
	return s.nodes[0].Ledger().GetHeight() + 1
}

// Run drives the event loop until the reference node has finalized
// cfg.Simulation.MaxBlocks blocks, or returns an error if the network
// runs dry (no pending events) before that target is reached.
func (s *Simulator) Run() error {
	for s.referenceHeight() < int64(s.cfg.Simulation.MaxBlocks) {
		for _, n := range s.nodes {
			n.ProposeBlock(s.simTime)
		}
		if !s.net.HasPendingEvents() {
			return fmt.Errorf("run: network drained before reaching %d finalized blocks (at %d)",
				s.cfg.Simulation.MaxBlocks, s.referenceHeight())
		}
		t, err := s.net.DeliverNext()
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		s.simTime = t
	}
	return nil
}
