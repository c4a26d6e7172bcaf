package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for reconciliation runs. A nil
// *Metrics is a valid no-op collector.
type Metrics struct {
	config MetricsConfig

	runsCompleted       *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
	resourcesReconciled *prometheus.CounterVec
	resourceDuration    *prometheus.HistogramVec
	providerErrors      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When disabled, the returned
// collector records nothing.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of reconciliation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of reconciliation runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		resourcesReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "resources_reconciled_total",
				Help:      "Total number of resources reconciled, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "resource_duration_seconds",
				Help:      "Duration of per-resource reconciliation in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.resourcesReconciled,
		m.resourceDuration,
		m.providerErrors,
	)
	return m
}

// RunCompleted records the completion of a run.
func (m *Metrics) RunCompleted(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ResourceReconciled records one per-resource outcome.
func (m *Metrics) ResourceReconciled(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.resourcesReconciled.WithLabelValues(kind, outcome).Inc()
	m.resourceDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ProviderError records a provider failure by reason.
func (m *Metrics) ProviderError(kind, reason string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(kind, reason).Inc()
}

// Handler returns the HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP listener when configured. It returns
// immediately; the listener runs until the process exits.
func (m *Metrics) Serve() {
	if m == nil || m.config.ListenAddress == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()
}

// Registry exposes the underlying registry, used by tests to gather.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
