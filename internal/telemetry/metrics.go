package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CyclesStarted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_cycles_started_total", Help: "Cycles that acquired the guard"})
	CyclesCompleted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_cycles_completed_total", Help: "Cycles that finished normally, including empty ones"})
	CyclesFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_cycles_failed_total", Help: "Cycles aborted by a fatal error"})
	TriggersDropped  = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_triggers_dropped_total", Help: "Triggers ignored because a cycle was running"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_trigger_rate_limited_total", Help: "Manual triggers rejected by the rate limiter"})
	JobsPublished    = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_jobs_published_total", Help: "Jobs the actor completed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_jobs_failed_total", Help: "Jobs the actor reported as failed"})
	FlushAttempts    = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_flush_attempts_total", Help: "Persisted write attempts"})
	FlushRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_flush_retries_total", Help: "Write attempts repeated after a busy store"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scheduler_jobs_inflight", Help: "Actor calls currently in flight"})
	CycleDuration    = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_cycle_duration_seconds",
		Help:    "Wall time of completed and failed cycles",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CyclesStarted,
			CyclesCompleted,
			CyclesFailed,
			TriggersDropped,
			RateLimitRejects,
			JobsPublished,
			JobsFailed,
			FlushAttempts,
			FlushRetries,
			InFlightGauge,
			CycleDuration,
		)
	})
	return promhttp.Handler()
}
