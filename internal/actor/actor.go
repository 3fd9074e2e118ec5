// Package actor defines the narrow contract the scheduler calls per job.
// The actor performs the job's real effect; the scheduler never interprets
// its error text, it only persists it.
package actor

import (
	"context"
	"time"

	"cycle-scheduler/internal/models"
)

// Gateway executes one job. Implementations own any retries and must release
// whatever they acquire before returning, on every path.
type Gateway interface {
	Execute(ctx context.Context, job models.Job) models.Result
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, job models.Job) models.Result

func (f Func) Execute(ctx context.Context, job models.Job) models.Result {
	return f(ctx, job)
}

// Success and Failure build results.
func Success() models.Result { return models.Result{Success: true} }

func Failure(detail string) models.Result {
	return models.Result{Success: false, Error: detail}
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every call to next. A non-positive timeout returns next unchanged.
func WithTimeout(next Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return next
	}
	return &timeoutGateway{next: next, timeout: timeout}
}

func (g *timeoutGateway) Execute(ctx context.Context, job models.Job) models.Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Execute(ctx, job)
}
