package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes engine and pool state to Prometheus on a private
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	status        *prometheus.GaugeVec
	activeEngines prometheus.Gauge
	phaseSeconds  *prometheus.HistogramVec
}

// NewMetrics creates and registers the drift collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drift_engine_ticks_total",
				Help: "Ticks completed per engine",
			},
			[]string{"engine"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drift_engine_status",
				Help: "Engine status: 0 pending, 1 ready, 2 degraded, 3 disposed",
			},
			[]string{"engine"},
		),
		activeEngines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drift_active_engines",
				Help: "Number of pooled engines marked active",
			},
		),
		phaseSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drift_phase_seconds",
				Help:    "Time spent per frame phase in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
			},
			[]string{"phase"},
		),
	}
	m.registry.MustRegister(m.ticks, m.status, m.activeEngines, m.phaseSeconds)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordTick counts one completed tick of engine.
func (m *Metrics) RecordTick(engine string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(engine).Inc()
}

// SetStatus records the numeric status of engine.
func (m *Metrics) SetStatus(engine string, status int) {
	if m == nil {
		return
	}
	m.status.WithLabelValues(engine).Set(float64(status))
}

// SetActiveEngines records the number of active engines.
func (m *Metrics) SetActiveEngines(n int) {
	if m == nil {
		return
	}
	m.activeEngines.Set(float64(n))
}

// ObservePerf records the phase durations of one frame. It has the shape
// of PerfCollector.Observer.
func (m *Metrics) ObservePerf(s PerfSample) {
	if m == nil {
		return
	}
	for phase, d := range s.Phases {
		m.phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// NewServer returns an HTTP server exposing the registry on /metrics.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
