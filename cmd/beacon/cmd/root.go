package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/config"
	"github.com/telhawk-systems/telhawk-beacon/internal/identity"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "TelHawk Beacon telemetry agent",
	Long: `beacon collects behavioral interaction events from a host application,
batches them and delivers them to a TelHawk collector.

Configuration is read from ./beacon.yaml or /etc/telhawk/beacon/beacon.yaml
and BEACON_* environment variables (BEACON_AGENT_CLIENT_KEY, ...).`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./beacon.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override: json, text")
}

// loadConfig loads configuration and applies the logging flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
		logging.WithRedactor(identity.Scrub, logging.FieldSessionID),
	).With(logging.Service("beacon"))
	logging.SetDefault(logger)
	return logger
}
