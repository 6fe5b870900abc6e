// Package telemetry exposes Prometheus metrics for the reconciliation
// pipeline and its read side.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. Each instance carries its own
// registry so tests can build stacks without colliding registrations.
type Metrics struct {
	registry *prometheus.Registry

	// Reconciliation
	BatchesReconciled *prometheus.CounterVec
	RecordsAppended   *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	SweepDuration     prometheus.Histogram

	// Ingestion
	IngestRuns *prometheus.CounterVec

	// Read side
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	ActivePositions *prometheus.GaugeVec
}

// New creates a new metrics registry with all shortwatch metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BatchesReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shortwatch",
				Name:      "batches_reconciled_total",
				Help:      "Batches that reached the reconciler, by outcome",
			},
			[]string{"country", "mode", "outcome"},
		),
		RecordsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shortwatch",
				Name:      "records_appended_total",
				Help:      "Disclosure records appended to the ledger",
			},
			[]string{"country"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shortwatch",
				Name:      "transitions_total",
				Help:      "Position state transitions applied, by kind",
			},
			[]string{"kind"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "shortwatch",
				Name:      "sweep_duration_seconds",
				Help:      "Full ledger replay duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
		IngestRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shortwatch",
				Name:      "ingest_runs_total",
				Help:      "Ingestion attempts, by status",
			},
			[]string{"country", "status"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shortwatch",
				Name:      "cache_hits_total",
				Help:      "Result cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shortwatch",
				Name:      "cache_misses_total",
				Help:      "Result cache misses",
			},
		),
		ActivePositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shortwatch",
				Name:      "active_positions",
				Help:      "Open positions per country after the latest reconcile",
			},
			[]string{"country"},
		),
	}

	m.registry.MustRegister(
		m.BatchesReconciled,
		m.RecordsAppended,
		m.Transitions,
		m.SweepDuration,
		m.IngestRuns,
		m.CacheHits,
		m.CacheMisses,
		m.ActivePositions,
	)

	return m
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
