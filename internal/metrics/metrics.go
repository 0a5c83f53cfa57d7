// Package metrics exposes prometheus instruments for interaction turns and lifecycle sweeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketbot_interaction_turns_total",
		Help: "Inbound interaction turns by verb family and terminal outcome",
	}, []string{"verb", "outcome"})

	TurnFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketbot_interaction_failures_total",
		Help: "Failed interaction turns by normalized error category",
	}, []string{"category"})

	DialogsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketbot_dialogs_pending",
		Help: "Dialog requests currently awaiting a reply",
	})

	SweepResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketbot_sweep_results_total",
		Help: "Per-listing sweep outcomes by job",
	}, []string{"job", "outcome"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketbot_sweep_duration_seconds",
		Help:    "Wall time of one lifecycle sweep",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	SweepSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketbot_sweep_skipped_total",
		Help: "Ticks skipped because the previous sweep of the same job was still running",
	}, []string{"job"})
)

// ObserveTurn records the terminal outcome of one interaction turn.
func ObserveTurn(verb, outcome string) {
	if verb == "" {
		verb = "unknown"
	}
	TurnsTotal.WithLabelValues(verb, outcome).Inc()
}

// ObserveFailure records a normalized failure category.
func ObserveFailure(category string) {
	if category == "" {
		category = "unknown"
	}
	TurnFailuresTotal.WithLabelValues(category).Inc()
}

// ObserveSweepOutcome records one per-listing sweep outcome.
func ObserveSweepOutcome(job, outcome string) {
	SweepResultsTotal.WithLabelValues(job, outcome).Inc()
}
