// Package determinism runs a simulation twice with identical inputs and
// confirms the two resulting event logs are byte-identical, the
// guarantee the whole project is built to provide.
package determinism

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/hcmus-labs/bftsim/pkg/config"
	"github.com/hcmus-labs/bftsim/pkg/simulator"
)

// Report summarizes a two-run comparison.
type Report struct {
	Match     bool
	Run1SHA256 string
	Run2SHA256 string
	Run1Bytes int
	Run2Bytes int
	FirstDiffOffset int // -1 when Match is true
}

func runOnce(cfg config.Config, seed int64, logger *zap.SugaredLogger) ([]byte, error) {
	var buf bytes.Buffer
	sim := simulator.New(cfg, seed, &buf, logger)
	if err := sim.Run(); err != nil {
		return nil, fmt.Errorf("determinism run: %w", err)
	}
	return buf.Bytes(), nil
}

// Check runs the simulator twice with the same cfg and seed and compares
// the two event logs.
func Check(cfg config.Config, seed int64, logger *zap.SugaredLogger) (Report, error) {
	run1, err := runOnce(cfg, seed, logger)
	if err != nil {
		return Report{}, err
	}
	run2, err := runOnce(cfg, seed, logger)
	if err != nil {
		return Report{}, err
	}

	sum1 := sha256.Sum256(run1)
	sum2 := sha256.Sum256(run2)
	report := Report{
		Run1SHA256:      hex.EncodeToString(sum1[:]),
		Run2SHA256:      hex.EncodeToString(sum2[:]),
		Run1Bytes:       len(run1),
		Run2Bytes:       len(run2),
		FirstDiffOffset: -1,
	}
	report.Match = bytes.Equal(run1, run2)
	if !report.Match {
		report.FirstDiffOffset = firstDiff(run1, run2)
	}
	return report, nil
}

func firstDiff(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
