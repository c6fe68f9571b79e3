package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/authcore/internal/config"
	"github.com/sakif/authcore/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - account and session service",
		Long: `authcore registers users, logs them in with passwords or OAuth,
keeps their sessions, and runs the password reset flow.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPruneSessionsCmd())

	return cmd
}

// loadConfig reads and validates the configuration and builds the logger
// every subcommand shares.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("file", configFile).Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	logger := logging.Setup("authcore", version, cfg.Log.Format, level, nil)
	slog.SetDefault(logger)

	return cfg, logger, nil
}
