package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for executions, host runs and
// playbook validation.
type Metrics struct {
	config MetricsConfig

	executionsStarted   prometheus.Counter
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec

	hostRuns        *prometheus.CounterVec
	hostRunDuration *prometheus.HistogramVec

	validations        *prometheus.CounterVec
	securityViolations *prometheus.CounterVec

	errorsByCode *prometheus.CounterVec

	activeExecutions prometheus.Gauge
	registeredHosts  prometheus.Gauge
	catalogScripts   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled configuration yields a
// collector whose Record methods do nothing.
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

		executionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions started",
			},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_finished_total",
				Help:      "Total number of executions that reached a terminal status",
			},
			[]string{"status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall time of executions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		hostRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_runs_total",
				Help:      "Total number of per-host script runs",
			},
			[]string{"result"},
		),
		hostRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "host_run_duration_seconds",
				Help:      "Duration of per-host script runs in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),

		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playbook_validations_total",
				Help:      "Total number of playbook validations",
			},
			[]string{"valid"},
		),
		securityViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playbook_security_violations_total",
				Help:      "Total number of security violations found in playbooks",
			},
			[]string{"family"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Current number of executions that are not terminal",
			},
		),
		registeredHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_hosts",
				Help:      "Current number of registered hosts",
			},
		),
		catalogScripts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_scripts",
				Help:      "Current number of scripts in the catalog",
			},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.hostRuns,
		m.hostRunDuration,
		m.validations,
		m.securityViolations,
		m.errorsByCode,
		m.activeExecutions,
		m.registeredHosts,
		m.catalogScripts,
	)

	return m, nil
}

// RecordExecutionStarted counts a started execution.
func (m *Metrics) RecordExecutionStarted() {
	if m == nil || m.executionsStarted == nil {
		return
	}
	m.executionsStarted.Inc()
	m.activeExecutions.Inc()
}

// RecordExecutionFinished records a terminal execution with its duration.
func (m *Metrics) RecordExecutionFinished(status string, duration time.Duration) {
	if m == nil || m.executionsCompleted == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeExecutions.Dec()
}

// RecordHostRun records the outcome of a single host run.
func (m *Metrics) RecordHostRun(success bool, duration time.Duration) {
	if m == nil || m.hostRuns == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.hostRuns.WithLabelValues(result).Inc()
	m.hostRunDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordValidation records a playbook validation and its violations per
// rule family.
func (m *Metrics) RecordValidation(valid bool, violationsByFamily map[string]int) {
	if m == nil || m.validations == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.validations.WithLabelValues(label).Inc()
	for family, n := range violationsByFamily {
		m.securityViolations.WithLabelValues(family).Add(float64(n))
	}
}

// RecordError counts an error by its code.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// SetRegisteredHosts sets the registered host gauge.
func (m *Metrics) SetRegisteredHosts(count int) {
	if m == nil || m.registeredHosts == nil {
		return
	}
	m.registeredHosts.Set(float64(count))
}

// SetCatalogScripts sets the catalog size gauge.
func (m *Metrics) SetCatalogScripts(count int) {
	if m == nil || m.catalogScripts == nil {
		return
	}
	m.catalogScripts.Set(float64(count))
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics on the configured listen address in the
// background. The returned server can be shut down by the caller.
func (m *Metrics) StartMetricsServer() *http.Server {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return server
}
