package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the timing pipeline. A single
// instance is shared by the ingest loop, tracker and sweeper; a nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SamplesProcessed *prometheus.CounterVec // by engine
	SamplesRejected  *prometheus.CounterVec // by reason
	Transitions      *prometheus.CounterVec // by from, to
	PassesFinalized  *prometheus.CounterVec // by state, cause
	EventsDropped    prometheus.Counter
	SweepRuns        prometheus.Counter
	OpenPasses       prometheus.Gauge
	UploadAttempts   *prometheus.CounterVec // by result
}

// NewMetrics builds a Metrics with its own registry, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}
	m.SamplesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "split_samples_processed_total",
		Help: "RSSI samples accepted by the pass tracker",
	}, []string{"engine"})
	m.SamplesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "split_samples_rejected_total",
		Help: "RSSI samples dropped before reaching the tracker",
	}, []string{"reason"})
	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "split_pass_transitions_total",
		Help: "Pass state transitions",
	}, []string{"from", "to"})
	m.PassesFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "split_passes_finalized_total",
		Help: "Passes closed, by terminal state and cause",
	}, []string{"state", "cause"})
	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "split_events_dropped_total",
		Help: "Pass events dropped because the event queue was full",
	})
	m.SweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "split_loss_sweep_runs_total",
		Help: "Loss sweep executions",
	})
	m.OpenPasses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "split_open_passes",
		Help: "Passes currently open across all beacons",
	})
	m.UploadAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "split_upload_attempts_total",
		Help: "Split upload attempts by result",
	}, []string{"result"})

	reg.MustRegister(
		m.SamplesProcessed,
		m.SamplesRejected,
		m.Transitions,
		m.PassesFinalized,
		m.EventsDropped,
		m.SweepRuns,
		m.OpenPasses,
		m.UploadAttempts,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it directly).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncSample(engine string) {
	if m == nil {
		return
	}
	m.SamplesProcessed.WithLabelValues(engine).Inc()
}

func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.SamplesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncFinalized(state, cause string) {
	if m == nil {
		return
	}
	m.PassesFinalized.WithLabelValues(state, cause).Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) IncSweep() {
	if m == nil {
		return
	}
	m.SweepRuns.Inc()
}

func (m *Metrics) SetOpenPasses(n int) {
	if m == nil {
		return
	}
	m.OpenPasses.Set(float64(n))
}

func (m *Metrics) IncUpload(result string) {
	if m == nil {
		return
	}
	m.UploadAttempts.WithLabelValues(result).Inc()
}
