package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/authcore/internal/server"
	"github.com/sakif/authcore/internal/service"
)

// NewPruneSessionsCmd creates the prune-sessions subcommand, for running
// the session janitor from cron instead of inside the server.
func NewPruneSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-sessions",
		Short: "Delete expired sessions once and exit",
		RunE:  runPruneSessions,
	}
}

func runPruneSessions(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	stores, err := server.OpenStores(cmd.Context(), cfg, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open stores").Wrap(err)
	}
	defer stores.Close()

	n, err := service.NewJanitor(stores.Sessions, 0, nil, logger).RunOnce(cmd.Context())
	if err != nil {
		return oops.Code("PRUNE_FAILED").Wrap(err)
	}

	cmd.Printf("Removed %d expired sessions\n", n)
	return nil
}
