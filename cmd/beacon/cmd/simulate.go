package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-beacon/internal/agent"
	"github.com/telhawk-systems/telhawk-beacon/internal/seeder"
)

var (
	simulateCount    int
	simulateInterval time.Duration
	simulateSeed     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed generated interaction events through a full session",
	Long: `Configure the agent, open a session, ingest generated form-filling
events and stop the session, which flushes everything to the collector.

Examples:
  # 500 events as fast as possible
  beacon simulate --count 500

  # Reproducible run with a human-ish pace
  beacon simulate --seed 42 --interval 50ms`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCount, "count", 200, "number of events to generate")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", 0, "pause between events")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 0, "generator seed (0 = random)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Session.AutoStart = true
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(ctx, cfg, agent.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	started := time.Now()
	fed := seeder.New(simulateSeed).Run(ctx, simulateCount, simulateInterval, a.Manager().Ingest)
	a.Shutdown()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Simulation complete:\n")
	fmt.Fprintf(out, "  Events ingested: %d\n", fed)
	fmt.Fprintf(out, "  Batches flushed: %d\n", a.Manager().Coordinator().PacketNumber())
	fmt.Fprintf(out, "  Duration:        %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(out, "  Dead letters:    %v\n", a.DLQ().Stats(ctx))
	return nil
}
