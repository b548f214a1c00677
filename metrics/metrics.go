// Package metrics holds the prometheus collectors describing a portfolio run.
// Each process registers its own collectors; the Collector process can export them to a text file
// for a node exporter to pick up.
package metrics

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	VerdictLabel = "verdict"
	EngineLabel  = "engine"
	ReasonLabel  = "reason"

	ReasonTimeout = "timeout"
	ReasonPayload = "payload"
	ReasonClosed  = "closed"
)

var (
	workerVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satfolio_worker_verdicts_total",
			Help: "Local verdicts produced by the workers of this process",
		},
		[]string{EngineLabel, VerdictLabel},
	)

	solveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satfolio_worker_solve_duration_seconds",
			Help:    "Time spent by a worker loading, simplifying and searching its problem",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{EngineLabel},
	)

	engineConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satfolio_engine_conflicts_total",
			Help: "Conflicts reached by the engines of this process, when the engine reports them",
		},
		[]string{EngineLabel},
	)

	degradedSlots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satfolio_collector_degraded_slots_total",
			Help: "Contributor results replaced by an unknown verdict by the collector",
		},
		[]string{ReasonLabel},
	)

	aggregateVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satfolio_aggregate_verdicts_total",
			Help: "Aggregate verdicts resolved by the collector",
		},
		[]string{VerdictLabel},
	)

	registry = prometheus.NewRegistry()
	once     sync.Once
)

// Register registers the collectors of the package. It can safely be called several times.
func Register() {
	once.Do(func() {
		registry.MustRegister(workerVerdicts, solveDuration, engineConflicts, degradedSlots, aggregateVerdicts)
	})
}

// Gatherer returns the registry holding the collectors of the package.
func Gatherer() prometheus.Gatherer {
	return registry
}

// ObserveWorker records the outcome of a local solve.
func ObserveWorker(engine, verdict string, seconds float64, conflicts int64) {
	workerVerdicts.WithLabelValues(engine, verdict).Inc()
	solveDuration.WithLabelValues(engine).Observe(seconds)
	if conflicts > 0 {
		engineConflicts.WithLabelValues(engine).Add(float64(conflicts))
	}
}

// SlotDegraded records a contributor result replaced by an unknown verdict.
func SlotDegraded(reason string) {
	degradedSlots.WithLabelValues(reason).Inc()
}

// Aggregate records the verdict resolved by the collector.
func Aggregate(verdict string) {
	aggregateVerdicts.WithLabelValues(verdict).Inc()
}

// WriteFile writes the current value of every collector to path, in the prometheus text format.
func WriteFile(path string) error {
	Register()
	return errors.Wrapf(prometheus.WriteToTextfile(path, registry), "could not write metrics to %q", path)
}
