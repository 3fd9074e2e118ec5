package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run a single cycle in the foreground and print its report",
	RunE:  runOnce,
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, closeStore, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := newScheduler(cfg, st, logger.Named("scheduler"))
	if err != nil {
		return err
	}

	report, cycleErr := sched.RunOnce(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	return cycleErr
}
