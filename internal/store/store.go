// Package store holds the record store adapter: two named collections,
// accounts and work items, loaded as a snapshot and committed wholesale.
package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"cycle-scheduler/internal/models"
)

var (
	// ErrNotFound means the backing store does not exist yet.
	ErrNotFound = errors.New("record store not found")

	// ErrBusy marks a transient write failure: another writer holds the store.
	ErrBusy = errors.New("record store busy")

	// ErrUnknownWorkItem is returned when a mutation names an id the snapshot does not hold.
	ErrUnknownWorkItem = errors.New("unknown work item")

	// ErrInvalidTransition is returned for status changes the engine never makes.
	ErrInvalidTransition = errors.New("invalid work item transition")
)

// Store loads and persists snapshots. Implementations must treat Save as a
// single commit: readers never observe half of a snapshot.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Snapshot is an owned, mutable copy of the store contents for one cycle.
type Snapshot struct {
	Accounts  []models.Account
	WorkItems []models.WorkItem

	// Revision is an opaque backend version tag (an ETag for S3).
	Revision string

	index       map[string]int
	dirty       map[string]struct{}
	scheduleRaw map[string]string
}

// NewSnapshot copies the given collections into a fresh snapshot.
func NewSnapshot(accounts []models.Account, items []models.WorkItem) *Snapshot {
	s := &Snapshot{
		Accounts:  append([]models.Account(nil), accounts...),
		WorkItems: append([]models.WorkItem(nil), items...),
		dirty:     make(map[string]struct{}),
	}
	s.reindex()
	return s
}

func (s *Snapshot) reindex() {
	s.index = make(map[string]int, len(s.WorkItems))
	for i, item := range s.WorkItems {
		if _, seen := s.index[item.ID]; !seen {
			s.index[item.ID] = i
		}
	}
}

// WorkItem returns a copy of the work item with the given id.
func (s *Snapshot) WorkItem(id string) (models.WorkItem, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.WorkItem{}, false
	}
	return s.WorkItems[i], true
}

// MarkPublished moves an approved item to published.
func (s *Snapshot) MarkPublished(id string) error {
	return s.transition(id, models.StatusApproved, func(item *models.WorkItem) {
		item.Status = models.StatusPublished
		item.ErrorDetail = ""
	})
}

// MarkFailed moves an approved item to failed and records the actor's detail verbatim.
func (s *Snapshot) MarkFailed(id, detail string) error {
	return s.transition(id, models.StatusApproved, func(item *models.WorkItem) {
		item.Status = models.StatusFailed
		item.ErrorDetail = detail
	})
}

// Requeue resets a failed item to approved so a later cycle picks it up again.
func (s *Snapshot) Requeue(id string) error {
	return s.transition(id, models.StatusFailed, func(item *models.WorkItem) {
		item.Status = models.StatusApproved
		item.ErrorDetail = ""
	})
}

func (s *Snapshot) transition(id string, from models.WorkItemStatus, apply func(*models.WorkItem)) error {
	i, ok := s.index[id]
	if !ok {
		return errors.Wrapf(ErrUnknownWorkItem, "work item %q", id)
	}
	item := &s.WorkItems[i]
	if item.Status != from {
		return errors.Wrapf(ErrInvalidTransition, "work item %q is %s, want %s", id, item.Status, from)
	}
	apply(item)
	if s.dirty == nil {
		s.dirty = make(map[string]struct{})
	}
	s.dirty[id] = struct{}{}
	return nil
}

// Dirty returns the mutated work items in store order.
func (s *Snapshot) Dirty() []models.WorkItem {
	out := make([]models.WorkItem, 0, len(s.dirty))
	for _, item := range s.WorkItems {
		if _, ok := s.dirty[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out
}

// HasChanges reports whether any work item was mutated since load.
func (s *Snapshot) HasChanges() bool {
	return len(s.dirty) > 0
}

// MarkClean forgets pending mutations after a successful commit.
func (s *Snapshot) MarkClean() {
	s.dirty = make(map[string]struct{})
}
