package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "jobs",
		Name:      "executions_total",
		Help:      "Number of jobs whose module was actually invoked.",
	})

	jobCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "jobs",
		Name:      "cache_hits_total",
		Help:      "Number of submissions answered from the memoization index.",
	})

	jobFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "jobs",
		Name:      "failures_total",
		Help:      "Number of jobs that ended in a failed state.",
	})
)
