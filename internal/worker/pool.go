// Package worker drains a cycle's ready jobs through the actor with a fixed
// concurrency ceiling.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cycle-scheduler/internal/actor"
	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/telemetry"
)

// DefaultConcurrency bounds the actor's heavyweight per-job resource, not CPU.
const DefaultConcurrency = 3

// Pool runs jobs with at most Concurrency actor calls in flight.
type Pool struct {
	concurrency int
	logger      *zap.SugaredLogger
}

func NewPool(concurrency int, logger *zap.SugaredLogger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pool{concurrency: concurrency, logger: logger}
}

// Concurrency returns the configured ceiling.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run blocks until every job has produced exactly one outcome. Workers claim
// jobs from a shared FIFO channel, so no job is claimed twice. Outcome order
// follows completion, not input order.
func (p *Pool) Run(ctx context.Context, jobs []models.Job, gw actor.Gateway) []models.Outcome {
	if len(jobs) == 0 {
		return nil
	}

	queue := make(chan models.Job, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes = make([]models.Outcome, 0, len(jobs))
	)
	workers := min(p.concurrency, len(jobs))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range queue {
				out := p.execute(ctx, workerID, job, gw)
				mu.Lock()
				outcomes = append(outcomes, out)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return outcomes
}

// execute calls the actor once. A panic inside the actor is contained here and
// reported as a failed result carrying the panic message.
func (p *Pool) execute(ctx context.Context, workerID int, job models.Job, gw actor.Gateway) (out models.Outcome) {
	start := time.Now()
	out.Job = job
	telemetry.InFlightGauge.Inc()

	defer func() {
		if r := recover(); r != nil {
			out.Result = actor.Failure(faultMessage(r))
			p.logger.Errorw("actor panic recovered",
				"worker_id", workerID,
				"work_item_id", job.ID(),
				"panic", r,
			)
		}
		telemetry.InFlightGauge.Dec()
		out.Duration = time.Since(start)
		p.logOutcome(workerID, out)
	}()

	p.logger.Debugw("job started",
		"worker_id", workerID,
		"work_item_id", job.ID(),
		"account_id", job.Account.ID,
	)
	out.Result = gw.Execute(ctx, job)
	return out
}

func (p *Pool) logOutcome(workerID int, out models.Outcome) {
	if out.Result.Success {
		telemetry.JobsPublished.Inc()
		p.logger.Infow("job succeeded",
			"worker_id", workerID,
			"work_item_id", out.Job.ID(),
			"account_id", out.Job.Account.ID,
			"duration_ms", out.Duration.Milliseconds(),
		)
		return
	}
	telemetry.JobsFailed.Inc()
	p.logger.Warnw("job failed",
		"worker_id", workerID,
		"work_item_id", out.Job.ID(),
		"account_id", out.Job.Account.ID,
		"duration_ms", out.Duration.Milliseconds(),
		"detail", out.Result.Error,
	)
}

func faultMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}
