// Package metrics exposes Prometheus instrumentation for the core runtime.
// Counters and gauges are registered once at package init and shared by the
// orchestrator, cache tier, and plugin registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal tracks tasks reaching a terminal state.
	// Labels:
	//   - state: "succeeded", "failed", or "cancelled"
	//   - capability: the capability the task targeted
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reicore_tasks_total",
		Help: "Total number of tasks by terminal state",
	}, []string{"state", "capability"})

	// TaskRetries counts retry attempts scheduled after a failed attempt.
	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reicore_task_retries_total",
		Help: "Total number of task retry attempts",
	}, []string{"capability"})

	// TaskDuration tracks end-to-end task execution latency in seconds.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reicore_task_duration_seconds",
		Help:    "Duration of task execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"capability"})

	// QueueDepth is the number of tasks waiting for a worker slot.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reicore_queue_depth",
		Help: "Number of queued tasks awaiting execution",
	})

	// CacheHits counts cache hits per tier ("local" or "remote").
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reicore_cache_hits_total",
		Help: "Total cache hits by tier",
	}, []string{"tier"})

	// CacheMisses counts lookups that missed both tiers.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reicore_cache_misses_total",
		Help: "Total cache misses across all tiers",
	})

	// BreakerTransitions counts circuit breaker state changes by target state.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reicore_breaker_transitions_total",
		Help: "Circuit breaker state transitions by new state",
	}, []string{"state"})

	// PluginsEnabled is the number of plugin instances currently enabled.
	PluginsEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reicore_plugins_enabled",
		Help: "Number of plugin instances in the enabled state",
	})
)
