package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/agent"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent and serve the host API",
	Long: `Configure the agent with agent.client_key, open a session (unless
session.auto_start is false) and serve the host API until SIGINT or SIGTERM.
On shutdown the session is stopped and buffered events are flushed.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting beacon",
		"port", cfg.Server.Port,
		"collector_url", cfg.Collector.URL,
		"remote_config_url", cfg.RemoteConfig.URL,
		"dlq_backend", cfg.DLQ.Backend,
	)

	a, err := agent.New(ctx, cfg, agent.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown error", logging.Error(err))
		}
	}()

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	logger.Info("beacon stopped")
	return nil
}
