// Package scheduler drives cycles: load ready jobs, dispatch them through the
// worker pool, reconcile outcomes and flush once. A single-flight guard keeps
// cycles from overlapping; triggers that arrive mid-cycle are dropped.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cycle-scheduler/internal/actor"
	"cycle-scheduler/internal/loader"
	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/reconcile"
	"cycle-scheduler/internal/store"
	"cycle-scheduler/internal/telemetry"
	"cycle-scheduler/internal/worker"
)

const DefaultSchedule = "@every 1m"

// ErrCycleInProgress is returned when an operation needs the guard and a cycle holds it.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Trigger sources recorded on each cycle.
const (
	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerOnce     = "run-once"
)

type Options struct {
	Schedule    string
	Location    *time.Location
	Concurrency int
	Flush       reconcile.Options

	// Now overrides the clock used for readiness checks.
	Now func() time.Time
}

// CycleReport describes one finished or aborted cycle.
type CycleReport struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Jobs       int       `json:"jobs"`
	Published  int       `json:"published"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Flushed    bool      `json:"flushed"`
	Error      string    `json:"error,omitempty"`
}

// Status is a point-in-time view for the admin API.
type Status struct {
	Running   bool         `json:"running"`
	NextRun   time.Time    `json:"next_run,omitempty"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
}

type Scheduler struct {
	store      store.Store
	loader     *loader.Loader
	pool       *worker.Pool
	reconciler *reconcile.Reconciler
	gateway    actor.Gateway
	schedule   cron.Schedule
	loc        *time.Location
	now        func() time.Time
	logger     *zap.SugaredLogger

	guard Guard
	wg    sync.WaitGroup

	mu      sync.RWMutex
	last    *CycleReport
	nextRun time.Time
}

func New(st store.Store, gw actor.Gateway, opts Options, logger *zap.SugaredLogger) (*Scheduler, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "parse poll schedule %q", opts.Schedule)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		store:      st,
		loader:     loader.New(st, logger.Named("loader")),
		pool:       worker.NewPool(opts.Concurrency, logger.Named("worker")),
		reconciler: reconcile.New(st, opts.Flush, logger.Named("reconcile")),
		gateway:    gw,
		schedule:   schedule,
		loc:        opts.Location,
		now:        opts.Now,
		logger:     logger,
	}, nil
}

// Run fires one cycle immediately and then one per schedule tick until ctx
// is done. It returns after the in-flight cycle, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("scheduler started", "concurrency", s.pool.Concurrency())
	s.Trigger(ctx, TriggerStartup)

	for {
		next := s.schedule.Next(time.Now().In(s.loc))
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Infow("scheduler stopping, waiting for in-flight cycle")
			s.wg.Wait()
			return nil
		case <-timer.C:
			s.Trigger(ctx, TriggerSchedule)
		}
	}
}

// Trigger starts a cycle in the background and reports whether it did. A
// trigger that finds the guard held is dropped, not queued. The cycle is not
// cancelled when ctx is.
func (s *Scheduler) Trigger(ctx context.Context, source string) bool {
	release, ok := s.guard.TryAcquire()
	if !ok {
		telemetry.TriggersDropped.Inc()
		s.logger.Infow("trigger dropped, cycle in progress", "trigger", source)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		_, _ = s.runCycle(context.WithoutCancel(ctx), source)
	}()
	return true
}

// RunOnce runs a cycle on the calling goroutine.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleReport, error) {
	release, ok := s.guard.TryAcquire()
	if !ok {
		telemetry.TriggersDropped.Inc()
		return CycleReport{}, ErrCycleInProgress
	}
	defer release()
	return s.runCycle(ctx, TriggerOnce)
}

// Wait blocks until every background cycle started by Trigger has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.guard.Running(), NextRun: s.nextRun}
	if s.last != nil {
		last := *s.last
		st.LastCycle = &last
	}
	return st
}

func (s *Scheduler) runCycle(ctx context.Context, source string) (report CycleReport, err error) {
	report = CycleReport{
		ID:        uuid.NewString(),
		Trigger:   source,
		StartedAt: s.now(),
	}
	log := s.logger.With("cycle_id", report.ID)
	telemetry.CyclesStarted.Inc()
	log.Infow("cycle started", "trigger", source)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("cycle panicked: %v", r)
			log.Errorw("cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
		report.FinishedAt = s.now()
		s.finish(log, &report, err)
	}()

	snap, jobs, err := s.loader.Load(ctx, report.StartedAt)
	if err != nil {
		return report, err
	}
	report.Jobs = len(jobs)
	if len(jobs) == 0 {
		log.Infow("no ready jobs")
		return report, nil
	}
	log.Infow("dispatching jobs", "jobs", len(jobs), "concurrency", s.pool.Concurrency())

	outcomes := s.pool.Run(ctx, jobs, s.gateway)
	sum := s.reconciler.Apply(snap, outcomes)
	report.Published, report.Failed, report.Skipped = sum.Published, sum.Failed, sum.Skipped
	log.Infow("batch finished",
		"published", sum.Published,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
	)

	if err := s.reconciler.Flush(ctx, snap); err != nil {
		return report, err
	}
	report.Flushed = true
	return report, nil
}

func (s *Scheduler) finish(log *zap.SugaredLogger, report *CycleReport, err error) {
	elapsed := report.FinishedAt.Sub(report.StartedAt)
	telemetry.CycleDuration.Observe(elapsed.Seconds())

	if err != nil {
		report.Error = err.Error()
		telemetry.CyclesFailed.Inc()
		log.Errorw("cycle failed",
			"jobs", report.Jobs,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		telemetry.CyclesCompleted.Inc()
		log.Infow("cycle completed",
			"jobs", report.Jobs,
			"published", report.Published,
			"failed", report.Failed,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	s.mu.Lock()
	last := *report
	s.last = &last
	s.mu.Unlock()
}

// Requeue resets a failed work item to approved and persists it. It takes the
// guard so it never races a cycle's flush.
func (s *Scheduler) Requeue(ctx context.Context, id string) error {
	release, ok := s.guard.TryAcquire()
	if !ok {
		return ErrCycleInProgress
	}
	defer release()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load record store")
	}
	if err := snap.Requeue(id); err != nil {
		return err
	}
	if err := s.reconciler.Flush(ctx, snap); err != nil {
		return err
	}
	s.logger.Infow("work item requeued", "work_item_id", id)
	return nil
}

// WorkItems lists items with the given status, in store order. An absent
// store yields an empty list.
func (s *Scheduler) WorkItems(ctx context.Context, status models.WorkItemStatus) ([]models.WorkItem, error) {
	snap, err := s.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load record store")
	}
	var out []models.WorkItem
	for _, item := range snap.WorkItems {
		if item.Status == status {
			out = append(out, item)
		}
	}
	return out, nil
}
