package models

import (
	"time"
)

// WorkItemStatus enumerates lifecycle states of a work item at rest.
type WorkItemStatus string

const (
	StatusDraft     WorkItemStatus = "draft"
	StatusApproved  WorkItemStatus = "approved"
	StatusPublished WorkItemStatus = "published"
	StatusFailed    WorkItemStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s WorkItemStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// WorkItem is a job definition persisted in the record store.
type WorkItem struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Status      WorkItemStatus `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	TargetRef   string         `json:"target_ref,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// Due reports whether the item is approved and scheduled at or before now.
// An item without a schedule is never due.
func (w WorkItem) Due(now time.Time) bool {
	if w.Status != StatusApproved || w.ScheduledAt.IsZero() {
		return false
	}
	return !w.ScheduledAt.After(now)
}

// Job is a work item resolved against its active account. It lives for one cycle.
type Job struct {
	WorkItem WorkItem `json:"work_item"`
	Account  Account  `json:"account"`
}

// ID returns the id of the underlying work item.
func (j Job) ID() string {
	return j.WorkItem.ID
}

// Result is what the actor reports for a single job.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Outcome pairs a job with the result of executing it.
type Outcome struct {
	Job      Job
	Result   Result
	Duration time.Duration
}
