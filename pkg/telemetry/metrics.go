package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for config generation. It satisfies
// engine.MetricsRecorder. A disabled instance drops every observation.
type Metrics struct {
	config MetricsConfig

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	conflicts          *prometheus.CounterVec
	overrides          *prometheus.CounterVec
	factsCollected     *prometheus.CounterVec
	policyViolations   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of artifact generations by outcome",
			},
			[]string{"status", "ensure"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of resolve, validate and render in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "configuration_conflicts_total",
				Help:      "Total number of configuration conflicts by code",
			},
			[]string{"code"},
		),
		overrides: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_overrides_total",
				Help:      "Total number of requested values replaced by platform constraints",
			},
			[]string{"field"},
		),
		factsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "facts_collected_total",
				Help:      "Total number of fact collections by source",
			},
			[]string{"source", "status"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of advisory policy violations",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.generations,
		m.generationDuration,
		m.conflicts,
		m.overrides,
		m.factsCollected,
		m.policyViolations,
	)

	return m, nil
}

// RecordGenerate records one generation with its outcome and duration.
func (m *Metrics) RecordGenerate(status, ensure string, duration time.Duration) {
	if m.generations == nil {
		return
	}
	m.generations.WithLabelValues(status, ensure).Inc()
	m.generationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordConflict records a configuration conflict by code.
func (m *Metrics) RecordConflict(code string) {
	if m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(code).Inc()
}

// RecordOverride records a platform override of a requested value.
func (m *Metrics) RecordOverride(field string) {
	if m.overrides == nil {
		return
	}
	m.overrides.WithLabelValues(field).Inc()
}

// RecordFactsCollected records a fact collection from source (local, ssh).
func (m *Metrics) RecordFactsCollected(source string, err error) {
	if m.factsCollected == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.factsCollected.WithLabelValues(source, status).Inc()
}

// RecordPolicyViolation records an advisory policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the registry until ctx is cancelled. It does
// nothing when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", m.config.ListenAddress).Str("path", m.config.Path).Msg("Metrics server started")
	return nil
}
