// Package reconcile applies a cycle's outcomes to the loaded snapshot and
// commits it with a single persisted write.
package reconcile

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/store"
	"cycle-scheduler/internal/telemetry"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = time.Second
)

// ErrFlushFailed marks a flush that hit a non-transient error or ran out of attempts.
var ErrFlushFailed = errors.New("flush failed")

// Options tunes the flush retry policy. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Summary counts what Apply did to the snapshot.
type Summary struct {
	Published int
	Failed    int
	Skipped   int
}

type Reconciler struct {
	store       store.Store
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.SugaredLogger

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

func New(st store.Store, opts Options, logger *zap.SugaredLogger) *Reconciler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reconciler{
		store:       st,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		logger:      logger,
		wait:        sleep,
	}
}

// Apply records each outcome on the snapshot. Items without an outcome are
// left alone. An outcome whose item is gone or no longer approved is skipped.
func (r *Reconciler) Apply(snap *store.Snapshot, outcomes []models.Outcome) Summary {
	var sum Summary
	for _, out := range outcomes {
		id := out.Job.ID()
		var err error
		if out.Result.Success {
			err = snap.MarkPublished(id)
		} else {
			err = snap.MarkFailed(id, out.Result.Error)
		}
		switch {
		case err != nil:
			sum.Skipped++
			r.logger.Warnw("outcome not applied", "work_item_id", id, "error", err)
		case out.Result.Success:
			sum.Published++
		default:
			sum.Failed++
		}
	}
	return sum
}

// Flush commits the snapshot. Only store.ErrBusy is retried, with a fixed
// delay between attempts, at most maxAttempts times in total.
func (r *Reconciler) Flush(ctx context.Context, snap *store.Snapshot) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		telemetry.FlushAttempts.Inc()
		err := r.store.Save(ctx, snap)
		if err == nil {
			if attempt > 1 {
				r.logger.Infow("flush succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !errors.Is(err, store.ErrBusy) {
			r.logger.Errorw("flush failed", "attempt", attempt, "error", err)
			return errors.Mark(errors.Wrap(err, "flush"), ErrFlushFailed)
		}
		if attempt == r.maxAttempts {
			break
		}

		telemetry.FlushRetries.Inc()
		r.logger.Warnw("store busy, retrying flush",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"delay", r.retryDelay.String(),
			"error", err,
		)
		if err := r.wait(ctx, r.retryDelay); err != nil {
			return errors.Mark(errors.Wrap(err, "wait before flush retry"), ErrFlushFailed)
		}
	}

	r.logger.Errorw("flush gave up", "attempts", r.maxAttempts, "error", lastErr)
	return errors.Mark(
		errors.Wrapf(lastErr, "store still busy after %d attempts", r.maxAttempts),
		ErrFlushFailed,
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
