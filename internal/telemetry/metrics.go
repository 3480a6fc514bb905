package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "observatory",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// JobsSubmittedTotal counts submitted jobs by tier and priority.
var JobsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "observatory",
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Total number of analysis jobs submitted.",
	},
	[]string{"tier", "priority"},
)

// JobsFinishedTotal counts jobs reaching a terminal status.
var JobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "observatory",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total number of analysis jobs reaching a terminal status.",
	},
	[]string{"status", "error_kind"},
)

// JobsReapedTotal counts rows removed or timed out by the TTL reaper.
var JobsReapedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "observatory",
		Subsystem: "jobs",
		Name:      "reaped_total",
		Help:      "Total number of jobs deleted or timed out by the reaper.",
	},
	[]string{"action"},
)

// DispatcherRetriesTotal counts backend retry attempts.
var DispatcherRetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "observatory",
		Subsystem: "dispatcher",
		Name:      "retries_total",
		Help:      "Total number of backend invocation retries.",
	},
)

// DispatcherBackendDuration tracks backend call latency.
var DispatcherBackendDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "observatory",
		Subsystem: "dispatcher",
		Name:      "backend_duration_seconds",
		Help:      "LLM backend invocation duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
)

// RateLimitDecisionsTotal counts rate-limiter admission decisions.
var RateLimitDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "observatory",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Total number of rate-limit admission decisions.",
	},
	[]string{"tier", "result"},
)

// OpsNotificationsTotal counts outbound ops-alert notifications sent by type.
var OpsNotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "observatory",
		Subsystem: "ops",
		Name:      "notifications_total",
		Help:      "Total number of operator notifications sent.",
	},
	[]string{"type"},
)

// All returns all Observatory-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsSubmittedTotal,
		JobsFinishedTotal,
		JobsReapedTotal,
		DispatcherRetriesTotal,
		DispatcherBackendDuration,
		RateLimitDecisionsTotal,
		OpsNotificationsTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and the Observatory metrics above.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(HTTPRequestDuration)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
