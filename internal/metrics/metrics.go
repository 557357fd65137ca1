// Package metrics provides Prometheus metrics for undolog runs.
//
// A run is a one-shot batch job, so metrics are not served over HTTP.
// They are collected in a private registry and can be written to a
// node_exporter textfile after the run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all run metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Counters
	Runs     *prometheus.CounterVec
	Tables   *prometheus.CounterVec
	Triggers *prometheus.CounterVec
	Retries  prometheus.Counter

	// Gauges
	LastRun prometheus.Gauge

	// Histograms
	TableDuration prometheus.Histogram
	RunDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "undolog",
			Name:      "runs_total",
			Help:      "Total runs by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: "ok", "partial", "aborted"
	)

	m.Tables = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "undolog",
			Name:      "tables_total",
			Help:      "Tables processed by final status",
		},
		[]string{"operation", "status"},
	)

	m.Triggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "undolog",
			Name:      "triggers_total",
			Help:      "Trigger operations by event and status",
		},
		[]string{"operation", "event", "status"},
	)

	m.Retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "undolog",
			Name:      "connectivity_failures_total",
			Help:      "Steps that failed with a connectivity error after all retries",
		},
	)

	m.LastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "undolog",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		},
	)

	m.TableDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "undolog",
			Name:      "table_duration_seconds",
			Help:      "Time to process one table",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	m.RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "undolog",
			Name:      "run_duration_seconds",
			Help:      "Time to complete a run",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.registry.MustRegister(
		m.Runs,
		m.Tables,
		m.Triggers,
		m.Retries,
		m.LastRun,
		m.TableDuration,
		m.RunDuration,
	)

	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTable records one processed table.
func (m *Metrics) ObserveTable(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Tables.WithLabelValues(operation, status).Inc()
	m.TableDuration.Observe(d.Seconds())
}

// ObserveTrigger records one trigger operation.
func (m *Metrics) ObserveTrigger(operation, event, status string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(operation, event, status).Inc()
}

// ObserveConnectivityFailure records a step that exhausted its retries.
func (m *Metrics) ObserveConnectivityFailure() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(operation, outcome string, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(operation, outcome).Inc()
	m.RunDuration.WithLabelValues(operation).Observe(d.Seconds())
	m.LastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes all metrics to path in the text exposition format,
// atomically, for collection by node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
