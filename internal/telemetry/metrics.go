package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_submitted_total", Help: "Jobs accepted into the work queue"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Submissions rejected by the per-owner rate limit"})
	CapacityRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_capacity_rejects_total", Help: "Submissions rejected by queue or per-owner depth limits"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs that finished successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Jobs that ended in failure"})
	JobsTimedOut     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_timed_out_total", Help: "Jobs that exceeded their timeout"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_cancelled_total", Help: "Jobs cancelled by their owner"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_queue_depth", Help: "Jobs currently waiting in the priority queue"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently executing"})

	SchedulerRuns   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_runs_total", Help: "Scheduled job callback invocations"})
	SchedulerErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_errors_total", Help: "Scheduled job callbacks that returned an error"})

	AgentRuns  = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_runs_total", Help: "Bounded execution loop runs"})
	AgentSteps = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_steps_total", Help: "Bounded execution loop steps"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			RateLimitRejects,
			CapacityRejects,
			JobsCompleted,
			JobsFailed,
			JobsTimedOut,
			JobsCancelled,
			QueueDepthGauge,
			InFlightGauge,
			SchedulerRuns,
			SchedulerErrors,
			AgentRuns,
			AgentSteps,
		)
	})
	return promhttp.Handler()
}
