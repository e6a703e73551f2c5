// Package config loads the YAML simulation configuration described in
// the external interface: a simulation block controlling node count,
// run length, and default network conditions, and a network block that
// can override the network-specific subset of those conditions.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Simulation controls the overall run.
type Simulation struct {
	NumNodes         int     `yaml:"num_nodes"`
	MaxBlocks        int     `yaml:"max_blocks"`
	MinDelay         float64 `yaml:"min_delay"`
	MaxDelay         float64 `yaml:"max_delay"`
	DropProb         float64 `yaml:"drop_prob"`
	DupProb          float64 `yaml:"dup_prob"`
	ProposalInterval float64 `yaml:"proposal_interval"`
}

// Network overrides the network-specific subset of Simulation's defaults
// and adds gossip fan-out and per-sender throttling.
type Network struct {
	GossipK         int     `yaml:"gossip_k"`
	MinSendInterval float64 `yaml:"min_send_interval"`
	DropProb        float64 `yaml:"drop_prob"`
	DupProb         float64 `yaml:"dup_prob"`
}

// Config is the top-level YAML document.
type Config struct {
	Simulation Simulation `yaml:"simulation"`
	Network    Network    `yaml:"network"`
}

// Default returns the hardcoded fallback configuration used when no
// config file is supplied.
func Default() Config {
	return Config{
		Simulation: Simulation{
			NumNodes:         4,
			MaxBlocks:        5,
			MinDelay:         0.05,
			MaxDelay:         0.4,
			DropProb:         0.0,
			DupProb:          0.0,
			ProposalInterval: 1.0,
		},
		Network: Network{
			GossipK:         3,
			MinSendInterval: 0.0,
			DropProb:        0.0,
			DupProb:         0.0,
		},
	}
}

// Load reads and parses a YAML config file at path. If path is empty the
// defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: parse: %w", err)
	}
	return cfg, nil
}

// EffectiveDropProb resolves the network block's drop probability,
// falling back to the simulation block's default when the network block
// leaves it at its zero value.
func (c Config) EffectiveDropProb() float64 {
	if c.Network.DropProb != 0 {
		return c.Network.DropProb
	}
	return c.Simulation.DropProb
}

// EffectiveDupProb resolves the network block's duplicate probability
// the same way EffectiveDropProb resolves drop probability.
func (c Config) EffectiveDupProb() float64 {
	if c.Network.DupProb != 0 {
		return c.Network.DupProb
	}
	return c.Simulation.DupProb
}
