package telemetry

import "github.com/prometheus/client_golang/prometheus"

var JobsAdmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ruleengine",
		Subsystem: "jobs",
		Name:      "admitted_total",
		Help:      "Total number of jobs admitted and submitted to the executor.",
	},
	[]string{"cloud", "type"},
)

var JobAdmissionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "ruleengine",
		Subsystem: "jobs",
		Name:      "admission_duration_seconds",
		Help:      "Job admission handling duration in seconds.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
)

var JobLockConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ruleengine",
		Subsystem: "jobs",
		Name:      "lock_conflicts_total",
		Help:      "Total number of admissions rejected because of a held job lock.",
	},
)

var JobsReconciledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ruleengine",
		Subsystem: "jobs",
		Name:      "reconciled_total",
		Help:      "Total number of job status transitions written by the reconciler.",
	},
	[]string{"status"},
)

var EventAssemblerBatchSize = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "ruleengine",
		Subsystem: "event_assembler",
		Name:      "batch_size",
		Help:      "Number of events merged per assembler tick.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
)

var EventAssemblerTickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "ruleengine",
		Subsystem: "event_assembler",
		Name:      "tick_duration_seconds",
		Help:      "Event assembler tick duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

var ShardPartsWrittenTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ruleengine",
		Subsystem: "shards",
		Name:      "parts_written_total",
		Help:      "Total number of shard parts written to the blob store.",
	},
)

var RulesetReleaseTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ruleengine",
		Subsystem: "rulesets",
		Name:      "release_total",
		Help:      "Total number of ruleset releases by outcome.",
	},
	[]string{"outcome"},
)

// All returns all rule-engine-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsAdmittedTotal,
		JobAdmissionDuration,
		JobLockConflictsTotal,
		JobsReconciledTotal,
		EventAssemblerBatchSize,
		EventAssemblerTickDuration,
		ShardPartsWrittenTotal,
		RulesetReleaseTotal,
	}
}
