// Package metrics collects counters for one migration run and exports them as
// a Prometheus textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Patient outcomes.
const (
	PatientSucceeded  = "succeeded"
	PatientFailed     = "failed"
	PatientUnresolved = "unresolved"
)

// Note outcomes.
const (
	NoteEmitted   = "emitted"
	NoteSkipped   = "skipped"
	NoteDuplicate = "duplicate"
	NoteError     = "error"
)

// Run holds the collectors for a single run. A nil *Run is valid and records
// nothing, so components can be constructed without metrics in tests.
type Run struct {
	registry *prometheus.Registry

	patientsTotal   *prometheus.CounterVec
	notesTotal      *prometheus.CounterVec
	fetchTotal      *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	statementsTotal *prometheus.CounterVec
	breakerState    prometheus.Gauge
	lastRunUnix     prometheus.Gauge
}

// NewRun creates and registers the run collectors on a private registry.
func NewRun() (*Run, error) {
	m := &Run{registry: prometheus.NewRegistry()}

	m.patientsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notemigrate_patients_total",
		Help: "Patients processed, by outcome",
	}, []string{"outcome"})

	m.notesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notemigrate_notes_total",
		Help: "Remote notes seen, by outcome",
	}, []string{"outcome"})

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notemigrate_fetch_requests_total",
		Help: "Encounter-note fetch requests, by result",
	}, []string{"result"})

	m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notemigrate_fetch_duration_seconds",
		Help:    "Time taken by a single encounter-note fetch",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	m.statementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notemigrate_statements_total",
		Help: "SQL statements executed or deleted against patient_notes",
	}, []string{"operation", "status"})

	m.breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notemigrate_breaker_state",
		Help: "Telehealth API circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	m.lastRunUnix = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notemigrate_last_run_timestamp_seconds",
		Help: "Unix time the metrics were last written",
	})

	for _, c := range []prometheus.Collector{
		m.patientsTotal, m.notesTotal, m.fetchTotal, m.fetchDuration,
		m.statementsTotal, m.breakerState, m.lastRunUnix,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Run) Patient(outcome string) {
	if m == nil {
		return
	}
	m.patientsTotal.WithLabelValues(outcome).Inc()
}

func (m *Run) Notes(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notesTotal.WithLabelValues(outcome).Add(float64(n))
}

// Fetch records one HTTP fetch attempt.
func (m *Run) Fetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Run) Statement(operation, status string) {
	if m == nil {
		return
	}
	m.statementsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Run) BreakerState(state float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(state)
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Run) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile stamps the run time and writes every collector to path in the
// Prometheus text exposition format. An empty path is a no-op.
func (m *Run) WriteTextfile(path string, now time.Time) error {
	if m == nil || path == "" {
		return nil
	}
	m.lastRunUnix.Set(float64(now.Unix()))
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
