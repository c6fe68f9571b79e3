package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sakif/authcore/internal/config"
	"github.com/sakif/authcore/internal/repository/postgres"
)

// NewMigrateCmd creates the migrate subcommand with up, down and version.
//
// Only PostgreSQL uses versioned migrations. The SQLite adapter brings its
// schema up to date every time it opens the database.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Migrations rolled back")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			cmd.Printf("version: %d dirty: %t\n", v, dirty)
			return nil
		}),
	})

	return cmd
}

// withMigrator loads the configuration, opens a Migrator for the duration
// of fn, and closes it afterwards.
func withMigrator(fn func(cmd *cobra.Command, m *postgres.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requirePostgres(cfg); err != nil {
			return err
		}

		m, err := postgres.NewMigrator(cfg.Storage.PostgresURL)
		if err != nil {
			return err
		}
		defer m.Close()

		return fn(cmd, m)
	}
}

func requirePostgres(cfg *config.Config) error {
	if cfg.Storage.Driver != "postgres" {
		return oops.Code("CONFIG_INVALID").
			With("driver", cfg.Storage.Driver).
			Errorf("migrate needs storage.driver postgres; sqlite migrates itself on open")
	}
	return nil
}
