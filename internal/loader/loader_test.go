package loader

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/store"
)

type staticStore struct {
	snap *store.Snapshot
	err  error
}

func (s staticStore) Load(context.Context) (*store.Snapshot, error) { return s.snap, s.err }
func (s staticStore) Save(context.Context, *store.Snapshot) error   { return nil }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLoadFiltersAndJoins(t *testing.T) {
	snap := store.NewSnapshot(
		[]models.Account{
			{ID: "active", Status: models.AccountActive, DisplayName: "A"},
			{ID: "inactive", Status: models.AccountInactive},
		},
		[]models.WorkItem{
			{ID: "ready-1", AccountID: "active", ScheduledAt: now.Add(-time.Hour), Status: models.StatusApproved},
			{ID: "future", AccountID: "active", ScheduledAt: now.Add(time.Minute), Status: models.StatusApproved},
			{ID: "draft", AccountID: "active", ScheduledAt: now.Add(-time.Hour), Status: models.StatusDraft},
			{ID: "published", AccountID: "active", ScheduledAt: now.Add(-time.Hour), Status: models.StatusPublished},
			{ID: "inactive-acc", AccountID: "inactive", ScheduledAt: now.Add(-time.Hour), Status: models.StatusApproved},
			{ID: "unknown-acc", AccountID: "ghost", ScheduledAt: now.Add(-time.Hour), Status: models.StatusApproved},
			{ID: "ready-2", AccountID: "active", ScheduledAt: now, Status: models.StatusApproved},
		},
	)
	l := New(staticStore{snap: snap}, zaptest.NewLogger(t).Sugar())

	got, jobs, err := l.Load(context.Background(), now)
	require.NoError(t, err)
	assert.Same(t, snap, got)
	require.Len(t, jobs, 2)
	assert.Equal(t, "ready-1", jobs[0].ID())
	assert.Equal(t, "ready-2", jobs[1].ID())
	assert.Equal(t, "A", jobs[0].Account.DisplayName)
}

func TestLoadKeepsStoreOrderOnEqualTimes(t *testing.T) {
	var items []models.WorkItem
	for i := 9; i >= 0; i-- {
		items = append(items, models.WorkItem{
			ID: fmt.Sprintf("w%d", i), AccountID: "a", ScheduledAt: now, Status: models.StatusApproved,
		})
	}
	snap := store.NewSnapshot([]models.Account{{ID: "a", Status: models.AccountActive}}, items)

	jobs := ReadyJobs(snap, now)
	require.Len(t, jobs, 10)
	for i, job := range jobs {
		assert.Equal(t, items[i].ID, job.ID())
	}
}

func TestLoadInactiveAccountYieldsNothing(t *testing.T) {
	snap := store.NewSnapshot(
		[]models.Account{{ID: "a", Status: models.AccountInactive}},
		[]models.WorkItem{{ID: "w", AccountID: "a", ScheduledAt: now.Add(-time.Minute), Status: models.StatusApproved}},
	)
	_, jobs, err := New(staticStore{snap: snap}, nil).Load(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestLoadAbsentStoreIsSoftEmpty(t *testing.T) {
	l := New(staticStore{err: errors.Wrap(store.ErrNotFound, "workbook")}, zaptest.NewLogger(t).Sugar())
	snap, jobs, err := l.Load(context.Background(), now)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Empty(t, jobs)
}

func TestLoadPropagatesOtherErrors(t *testing.T) {
	l := New(staticStore{err: errors.New("disk on fire")}, nil)
	_, _, err := l.Load(context.Background(), now)
	assert.ErrorContains(t, err, "disk on fire")
}

// Randomised store contents: nothing that fails the predicate ever shows up.
func TestReadyJobsNeverLeaksIneligibleItems(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	statuses := []models.WorkItemStatus{models.StatusDraft, models.StatusApproved, models.StatusPublished, models.StatusFailed}

	for round := 0; round < 200; round++ {
		var accounts []models.Account
		for i := 0; i < 4; i++ {
			st := models.AccountInactive
			if rng.Intn(2) == 0 {
				st = models.AccountActive
			}
			accounts = append(accounts, models.Account{ID: fmt.Sprintf("a%d", i), Status: st})
		}
		var items []models.WorkItem
		for i := 0; i < 20; i++ {
			items = append(items, models.WorkItem{
				ID:          fmt.Sprintf("w%d", i),
				AccountID:   fmt.Sprintf("a%d", rng.Intn(6)),
				ScheduledAt: now.Add(time.Duration(rng.Intn(120)-60) * time.Minute),
				Status:      statuses[rng.Intn(len(statuses))],
			})
		}
		snap := store.NewSnapshot(accounts, items)
		activeByID := map[string]bool{}
		for _, a := range accounts {
			activeByID[a.ID] = a.Active()
		}

		for _, job := range ReadyJobs(snap, now) {
			item := job.WorkItem
			require.Equal(t, models.StatusApproved, item.Status)
			require.False(t, item.ScheduledAt.After(now))
			require.True(t, activeByID[item.AccountID])
			require.Equal(t, item.AccountID, job.Account.ID)
		}
	}
}

func TestPendingReport(t *testing.T) {
	snap := store.NewSnapshot(
		[]models.Account{{ID: "a", Status: models.AccountActive}, {ID: "off", Status: models.AccountInactive}},
		[]models.WorkItem{
			{ID: "ready", AccountID: "a", ScheduledAt: now, Status: models.StatusApproved},
			{ID: "later", AccountID: "a", ScheduledAt: now.Add(time.Hour), Status: models.StatusApproved},
			{ID: "off", AccountID: "off", ScheduledAt: now, Status: models.StatusApproved},
			{ID: "ghost", AccountID: "ghost", ScheduledAt: now, Status: models.StatusApproved},
			{ID: "nodate", AccountID: "a", Status: models.StatusApproved},
			{ID: "done", AccountID: "a", ScheduledAt: now, Status: models.StatusPublished},
		},
	)
	report, err := New(staticStore{snap: snap}, nil).Pending(context.Background(), now)
	require.NoError(t, err)

	assert.True(t, report.StoreFound)
	require.Len(t, report.Ready, 1)
	assert.Equal(t, "ready", report.Ready[0].ID())
	assert.Len(t, report.NotDue, 1)
	assert.Len(t, report.InactiveAccount, 1)
	assert.Len(t, report.UnknownAccount, 1)
	assert.Len(t, report.Unscheduled, 1)
	assert.Equal(t, 5, report.ByStatus[models.StatusApproved])
	assert.Equal(t, 1, report.ByStatus[models.StatusPublished])
}
