package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Number of pipeline runs started.",
	})

	pipelineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "pipeline",
		Name:      "run_failures_total",
		Help:      "Number of pipeline runs that ended in an error.",
	})

	stepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "pipeline",
		Name:      "steps_skipped_total",
		Help:      "Number of optional steps skipped for unresolvable inputs.",
	})
)
