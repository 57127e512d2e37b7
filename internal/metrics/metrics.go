// Package metrics exposes Prometheus instrumentation for job lifecycle
// events. No HTTP exposition server is started here (out of scope); the
// registry is available for an embedding application to serve.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the collector registry jobs' metrics are registered against.
// Callers may serve it themselves (e.g. promhttp.HandlerFor(metrics.Registry, ...)).
var Registry = prometheus.NewRegistry()

var (
	// JobsStarted counts jobs started, by mode.
	JobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_jobs_started_total",
		Help: "Number of jobs started, by execution mode.",
	}, []string{"mode"})

	// JobsCompleted counts jobs that reached a terminal state, by mode and
	// outcome (success, failure, cancelled).
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_jobs_completed_total",
		Help: "Number of jobs reaching a terminal state, by mode and outcome.",
	}, []string{"mode", "outcome"})

	// HooksFired counts completion hook invocations.
	HooksFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "run_completion_hooks_fired_total",
		Help: "Number of completion hook callbacks invoked.",
	})

	// ClusterQueuedJobs is the last observed count of queued/running jobs
	// seen via qstat, used to drive admission throttling.
	ClusterQueuedJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "run_cluster_queued_jobs",
		Help: "Most recently observed count of this user's queued cluster jobs.",
	})

	// ClusterThrottleWaitSeconds observes time spent blocked in the
	// admission-throttle backoff loop.
	ClusterThrottleWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "run_cluster_throttle_wait_seconds",
		Help:    "Time spent blocked waiting for cluster queue depth to drop below the admission threshold.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})
)

func init() {
	Registry.MustRegister(JobsStarted, JobsCompleted, HooksFired, ClusterQueuedJobs, ClusterThrottleWaitSeconds)
}
