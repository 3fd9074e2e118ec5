package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cycle-scheduler/internal/config"
	"cycle-scheduler/internal/telemetry"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Polling scheduler that runs due work items through an external actor",
	Long: `scheduler periodically loads approved, due work items from the record
store, runs each through the actor with bounded concurrency, and writes every
outcome back in a single flush per cycle.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (overrides $"+config.FileEnv+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(migrateCmd)
}

// setup loads and validates configuration and builds the logger.
func setup() (config.Config, *zap.SugaredLogger, error) {
	if configPath != "" {
		if err := os.Setenv(config.FileEnv, configPath); err != nil {
			return config.Config{}, nil, errors.Wrap(err, "set config path")
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, errors.Wrap(err, "invalid configuration")
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
