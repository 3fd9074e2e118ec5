package loader

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/store"
)

// Report summarises why approved work items are or are not ready.
type Report struct {
	StoreFound      bool
	Ready           []models.Job
	NotDue          []models.WorkItem
	InactiveAccount []models.WorkItem
	UnknownAccount  []models.WorkItem
	Unscheduled     []models.WorkItem
	ByStatus        map[models.WorkItemStatus]int
}

// Pending inspects the store without mutating it.
func (l *Loader) Pending(ctx context.Context, now time.Time) (Report, error) {
	report := Report{ByStatus: make(map[models.WorkItemStatus]int)}

	snap, err := l.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return report, errors.Wrap(err, "load record store")
	}
	report.StoreFound = true

	active := activeAccounts(snap.Accounts)
	known := make(map[string]struct{}, len(snap.Accounts))
	for _, a := range snap.Accounts {
		known[a.ID] = struct{}{}
	}

	for _, item := range snap.WorkItems {
		report.ByStatus[item.Status]++
		if item.Status != models.StatusApproved {
			continue
		}
		account, isActive := active[item.AccountID]
		_, isKnown := known[item.AccountID]
		switch {
		case item.ScheduledAt.IsZero():
			report.Unscheduled = append(report.Unscheduled, item)
		case !item.Due(now):
			report.NotDue = append(report.NotDue, item)
		case isActive:
			report.Ready = append(report.Ready, models.Job{WorkItem: item, Account: account})
		case isKnown:
			report.InactiveAccount = append(report.InactiveAccount, item)
		default:
			report.UnknownAccount = append(report.UnknownAccount, item)
		}
	}
	return report, nil
}
