package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"cycle-scheduler/internal/config"
	"cycle-scheduler/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres tables for the postgres store driver",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.StoreDriver != config.DriverPostgres {
		return errors.Newf("migrate needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
	}
	pg, err := store.NewPostgresStore(cmd.Context(), cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.RunMigrations(cmd.Context()); err != nil {
		return err
	}
	logger.Infow("migrations applied")
	return nil
}
