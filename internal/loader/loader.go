// Package loader turns the record store into the ordered list of jobs that
// are ready to run now.
package loader

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/store"
)

// Loader joins work items against active accounts.
type Loader struct {
	store  store.Store
	logger *zap.SugaredLogger
}

func New(st store.Store, logger *zap.SugaredLogger) *Loader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loader{store: st, logger: logger}
}

// Load returns the live snapshot and the jobs ready at now, in store order.
// Items that share a scheduled time keep the order in which the store
// yields them; ordering is stable, not time-precise.
//
// A missing store is not an error: Load returns (nil, nil, nil).
func (l *Loader) Load(ctx context.Context, now time.Time) (*store.Snapshot, []models.Job, error) {
	snap, err := l.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Infow("record store absent, nothing to do", "error", err)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "load record store")
	}
	return snap, ReadyJobs(snap, now), nil
}

// ReadyJobs applies the readiness predicate: approved, scheduled at or
// before now, and owned by an active account.
func ReadyJobs(snap *store.Snapshot, now time.Time) []models.Job {
	active := activeAccounts(snap.Accounts)

	var jobs []models.Job
	for _, item := range snap.WorkItems {
		if !item.Due(now) {
			continue
		}
		account, ok := active[item.AccountID]
		if !ok {
			continue
		}
		jobs = append(jobs, models.Job{WorkItem: item, Account: account})
	}
	return jobs
}

func activeAccounts(accounts []models.Account) map[string]models.Account {
	index := make(map[string]models.Account, len(accounts))
	for _, a := range accounts {
		if !a.Active() {
			continue
		}
		if _, dup := index[a.ID]; !dup {
			index[a.ID] = a
		}
	}
	return index
}
