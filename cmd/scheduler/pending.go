package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"cycle-scheduler/internal/loader"
	"cycle-scheduler/internal/models"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show which approved work items are ready and why others are not",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, _ []string) error {
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

	report, err := loader.New(st, logger.Named("loader")).Pending(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	printPending(cmd.OutOrStdout(), report)
	return nil
}

func printPending(w io.Writer, r loader.Report) {
	if !r.StoreFound {
		fmt.Fprintln(w, "record store not found")
		return
	}

	statuses := make([]string, 0, len(r.ByStatus))
	for s := range r.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "%-10s %d\n", s, r.ByStatus[models.WorkItemStatus(s)])
	}

	fmt.Fprintf(w, "\nready: %d\n", len(r.Ready))
	for _, job := range r.Ready {
		fmt.Fprintf(w, "  %s  account=%s  scheduled=%s\n", job.ID(), job.Account.ID, job.WorkItem.ScheduledAt.Format(time.RFC3339))
	}
	printSkipped(w, "not due", r.NotDue)
	printSkipped(w, "inactive account", r.InactiveAccount)
	printSkipped(w, "unknown account", r.UnknownAccount)
	printSkipped(w, "unscheduled", r.Unscheduled)
}

func printSkipped(w io.Writer, reason string, items []models.WorkItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %d\n", reason, len(items))
	for _, item := range items {
		fmt.Fprintf(w, "  %s  account=%s\n", item.ID, item.AccountID)
	}
}
