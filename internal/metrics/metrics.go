// Package metrics collects run diagnostics as Prometheus counters and writes
// them to a node_exporter textfile at the end of a batch.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"robots_timeline/internal/interpret"
)

const namespace = "robots_timeline"

// Metrics implements eventstore.Diagnostics and records interpreter stats.
// All methods are safe for concurrent use.
type Metrics struct {
	reg *prometheus.Registry

	partitionsSkipped *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	entriesMalformed  prometheus.Counter
	eventsLoaded      prometheus.Counter
	ambiguous         prometheus.Counter
	transitions       *prometheus.CounterVec
	records           prometheus.Counter
	publishers        *prometheus.CounterVec
	lastRun           prometheus.Gauge
	runDuration       prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		partitionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_skipped_total",
			Help:      "Event partitions that contributed no events, by reason.",
		}, []string{"reason"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events that produced no transitions, by reason.",
		}, []string{"reason"}),
		entriesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_malformed_total",
			Help:      "Event entries skipped because their payload had the wrong shape.",
		}),
		eventsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_loaded_total",
			Help:      "Events loaded from partitions.",
		}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambiguous_signals_total",
			Help:      "Allow-only rule changes that left the blocked state unchanged.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Blocking signals derived from events, by cause.",
		}, []string{"cause"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_records_total",
			Help:      "Daily records written to the sinks.",
		}),
		publishers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishers_total",
			Help:      "Publishers handled, by status.",
		}, []string{"status"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	m.reg.MustRegister(
		m.partitionsSkipped,
		m.eventsDropped,
		m.entriesMalformed,
		m.eventsLoaded,
		m.ambiguous,
		m.transitions,
		m.records,
		m.publishers,
		m.lastRun,
		m.runDuration,
	)
	return m
}

// Registry exposes the underlying registry as a gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// PartitionSkipped implements eventstore.Diagnostics.
func (m *Metrics) PartitionSkipped(reason string) {
	m.partitionsSkipped.WithLabelValues(reason).Inc()
}

// EventDropped implements eventstore.Diagnostics.
func (m *Metrics) EventDropped(reason string) {
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// EntriesMalformed implements eventstore.Diagnostics.
func (m *Metrics) EntriesMalformed(n int) {
	m.entriesMalformed.Add(float64(n))
}

// EventsLoaded implements eventstore.Diagnostics.
func (m *Metrics) EventsLoaded(n int) {
	m.eventsLoaded.Add(float64(n))
}

// ObserveReplay records the stats of one interpreter pass.
func (m *Metrics) ObserveReplay(s interpret.Stats) {
	if s.Untimestamped > 0 {
		m.eventsDropped.WithLabelValues("untimestamped").Add(float64(s.Untimestamped))
	}
	m.ambiguous.Add(float64(s.Ambiguous))
	for cause, n := range s.Transitions {
		m.transitions.WithLabelValues(string(cause)).Add(float64(n))
	}
}

// RecordsWritten counts records handed to the sinks.
func (m *Metrics) RecordsWritten(n int) {
	m.records.Add(float64(n))
}

// PublisherDone counts one publisher with the given status.
func (m *Metrics) PublisherDone(status string) {
	m.publishers.WithLabelValues(status).Inc()
}

// RunFinished stamps the end time and duration of a run.
func (m *Metrics) RunFinished(started, finished time.Time) {
	m.lastRun.Set(float64(finished.Unix()))
	m.runDuration.Set(finished.Sub(started).Seconds())
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
