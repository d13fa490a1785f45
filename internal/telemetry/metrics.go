package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_jobs_submitted_total", Help: "Jobs accepted by the engine"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_jobs_completed_total", Help: "Jobs that reached completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_jobs_failed_total", Help: "Jobs that reached failed"})
	TasksCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_tasks_completed_total", Help: "Tasks completed successfully"})
	TasksRequeued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_tasks_requeued_total", Help: "Task attempts that failed with retries remaining"})
	TasksFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_tasks_failed_total", Help: "Tasks that exhausted their retries"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "process_engine_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "process_engine_queue_depth", Help: "Tasks waiting for execution"})
	ExecutingGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "process_engine_executing", Help: "Tasks currently executing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			TasksCompleted,
			TasksRequeued,
			TasksFailed,
			RateLimitRejects,
			QueueDepthGauge,
			ExecutingGauge,
		)
	})
	return promhttp.Handler()
}
