package determinism

import (
	"testing"

	"github.com/hcmus-labs/bftsim/pkg/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Simulation.NumNodes = 4
	cfg.Simulation.MaxBlocks = 3
	cfg.Simulation.MinDelay = 0.01
	cfg.Simulation.MaxDelay = 0.05
	cfg.Network.GossipK = 3
	return cfg
}

func TestCheckReportsMatchForIdenticalSeeds(t *testing.T) {
	report, err := Check(testConfig(), 123, nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.Match {
		t.Fatalf("expected identical seed/config runs to match, first diff at %d", report.FirstDiffOffset)
	}
	if report.Run1SHA256 != report.Run2SHA256 {
		t.Fatalf("expected matching SHA-256 digests")
	}
	if report.Run1Bytes == 0 {
		t.Fatalf("expected a non-empty event log")
	}
}

func TestFirstDiffFindsEarliestDivergingByte(t *testing.T) {
	a := []byte("abcdef")
	b := []byte("abcXef")
	if got := firstDiff(a, b); got != 3 {
		t.Fatalf("expected first diff at offset 3, got %d", got)
	}
}

func TestFirstDiffNoDivergenceReturnsSharedLength(t *testing.T) {
	a := []byte("abc")
	b := []byte("abcdef")
	if got := firstDiff(a, b); got != 3 {
		t.Fatalf("expected first diff at the shorter slice's length, got %d", got)
	}
}
