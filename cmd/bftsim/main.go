package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hcmus-labs/bftsim/pkg/config"
	"github.com/hcmus-labs/bftsim/pkg/determinism"
	"github.com/hcmus-labs/bftsim/pkg/observer"
	"github.com/hcmus-labs/bftsim/pkg/simulator"
	"github.com/hcmus-labs/bftsim/pkg/util"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{Use: "bftsim", Short: "Deterministic BFT consensus simulator"}
	root.AddCommand(runCmd())
	root.AddCommand(testCmd())
	root.AddCommand(determinismCmd())
	return root
}

func runCmd() *cobra.Command {
	var configPath, output, observeAddr, logFile string
	var seed, steps int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulator to completion for a fixed seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newOpsLogger(logFile)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer logger.Sync()
			sugar := logger.Sugar()

			cfg, err := config.Load(configPath)
			if err != nil {
				sugar.Warnw("config_load_failed_using_defaults", "err", err.Error())
				cfg = config.Default()
			}
			if steps > 0 {
				cfg.Simulation.MaxBlocks = int(steps)
			}

			out := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("run: open output: %w", err)
				}
				defer f.Close()
				out = f
			}

			sim := simulator.New(cfg, seed, out, sugar)

			if observeAddr != "" {
				srv := observer.New(sim.Nodes())
				go func() {
					sugar.Infow("observer_listening", "addr", observeAddr)
					_ = http.ListenAndServe(observeAddr, srv.Handler())
				}()
			}

			if err := sim.Run(); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			sugar.Infow("run_complete", "seed", seed, "max_blocks", cfg.Simulation.MaxBlocks)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config")
	cmd.Flags().Int64Var(&seed, "seed", 0, "PRNG seed")
	cmd.Flags().Int64Var(&steps, "steps", 0, "override simulation.max_blocks when > 0")
	cmd.Flags().StringVar(&output, "output", "", "event log output path (stdout if empty)")
	cmd.Flags().StringVar(&observeAddr, "observe", "", "optional address to serve the read-only observer API on")
	cmd.Flags().StringVar(&logFile, "log-file", "", "also tee operational (non-event-log) logs to this file")
	return cmd
}

// newOpsLogger builds the operational zap logger: console-only by
// default, or console+file tee when logFile is set. This is distinct
// from --output, which is the deterministic JSON-lines event log --
// zap's own encoder does not guarantee that stream's exact field set
// and ordering, so the two never share a destination.
func newOpsLogger(logFile string) (*zap.Logger, error) {
	if logFile == "" {
		return util.NewLogger()
	}
	return util.NewLoggerWithFile(logFile)
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Print how to run the module's test suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("run `go test ./...` to execute the test suite")
			return nil
		},
	}
}

func determinismCmd() *cobra.Command {
	var configPath, logFile string
	var seed int64

	cmd := &cobra.Command{
		Use:   "determinism",
		Short: "Run the simulator twice and verify byte-identical event logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newOpsLogger(logFile)
			if err != nil {
				return fmt.Errorf("determinism: %w", err)
			}
			defer logger.Sync()
			sugar := logger.Sugar()

			cfg, err := config.Load(configPath)
			if err != nil {
				sugar.Warnw("config_load_failed_using_defaults", "err", err.Error())
				cfg = config.Default()
			}

			report, err := determinism.Check(cfg, seed, sugar)
			if err != nil {
				return fmt.Errorf("determinism: %w", err)
			}
			if !report.Match {
				fmt.Printf("MISMATCH at byte offset %d (run1=%d bytes sha=%s, run2=%d bytes sha=%s)\n",
					report.FirstDiffOffset, report.Run1Bytes, report.Run1SHA256, report.Run2Bytes, report.Run2SHA256)
				os.Exit(1)
			}
			fmt.Printf("OK: two runs byte-identical (%d bytes, sha256=%s)\n", report.Run1Bytes, report.Run1SHA256)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config")
	cmd.Flags().Int64Var(&seed, "seed", 0, "PRNG seed")
	cmd.Flags().StringVar(&logFile, "log-file", "", "also tee operational (non-event-log) logs to this file")
	return cmd
}
