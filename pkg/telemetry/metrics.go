package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for modctl operations.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec

	// Effect metrics
	effectsApplied *prometheus.CounterVec
	effectDuration *prometheus.HistogramVec

	// Domain metrics
	migrationsApplied *prometheus.CounterVec
	buildsCompleted   *prometheus.CounterVec
	runnableCalls     *prometheus.CounterVec
	valueResolutions  *prometheus.CounterVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	// State metrics
	serviceStatus  *prometheus.GaugeVec
	stagedChanges  prometheus.Gauge
	activeCommands prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. With metrics disabled every
// recording method is a no-op.
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

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of top-level operations started",
			},
			[]string{"operation"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of top-level operations completed",
			},
			[]string{"operation", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of top-level operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),

		effectsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "effects_applied_total",
				Help:      "Total number of staged changes applied",
			},
			[]string{"change", "status"},
		),
		effectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "effect_duration_seconds",
				Help:      "Duration of applying a staged change in seconds",
				Buckets:   buckets,
			},
			[]string{"change"},
		),

		migrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_applied_total",
				Help:      "Total number of migrations applied",
			},
			[]string{"module", "status"},
		),
		buildsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of module builds",
			},
			[]string{"module", "status"},
		),
		runnableCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runnable_invocations_total",
				Help:      "Total number of runnable invocations",
			},
			[]string{"kind", "status"},
		),
		valueResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "value_resolutions_total",
				Help:      "Total number of value resolutions",
			},
			[]string{"source", "status"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		serviceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_online",
				Help:      "Observed service status (1=online, 0=offline or unknown)",
			},
			[]string{"module", "service"},
		),
		stagedChanges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "staged_changes",
				Help:      "Number of staged changes waiting to be applied",
			},
		),
		activeCommands: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Current number of running top-level operations",
			},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.effectsApplied,
		m.effectDuration,
		m.migrationsApplied,
		m.buildsCompleted,
		m.runnableCalls,
		m.valueResolutions,
		m.errorsByCode,
		m.serviceStatus,
		m.stagedChanges,
		m.activeCommands,
	)

	return m, nil
}

// Execution Metrics

// RecordExecutionStarted increments the counter for started operations.
func (m *Metrics) RecordExecutionStarted(operation string) {
	if m == nil || m.executionsStarted == nil {
		return
	}
	m.executionsStarted.WithLabelValues(operation).Inc()
	m.activeCommands.Inc()
}

// RecordExecutionCompleted records a finished operation.
func (m *Metrics) RecordExecutionCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.executionsCompleted == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(operation, status).Inc()
	m.executionDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeCommands.Dec()
}

// Effect Metrics

// RecordEffect records one applied staged change.
func (m *Metrics) RecordEffect(change, status string, duration time.Duration) {
	if m == nil || m.effectsApplied == nil {
		return
	}
	m.effectsApplied.WithLabelValues(change, status).Inc()
	m.effectDuration.WithLabelValues(change).Observe(duration.Seconds())
}

// SetStagedChanges sets the number of queued staged changes.
func (m *Metrics) SetStagedChanges(count int) {
	if m == nil || m.stagedChanges == nil {
		return
	}
	m.stagedChanges.Set(float64(count))
}

// Domain Metrics

// RecordMigration records one migration attempt.
func (m *Metrics) RecordMigration(module, status string) {
	if m == nil || m.migrationsApplied == nil {
		return
	}
	m.migrationsApplied.WithLabelValues(module, status).Inc()
}

// RecordBuild records one build attempt.
func (m *Metrics) RecordBuild(module, status string) {
	if m == nil || m.buildsCompleted == nil {
		return
	}
	m.buildsCompleted.WithLabelValues(module, status).Inc()
}

// RecordRunnable records one runnable invocation.
func (m *Metrics) RecordRunnable(kind, status string) {
	if m == nil || m.runnableCalls == nil {
		return
	}
	m.runnableCalls.WithLabelValues(kind, status).Inc()
}

// RecordValueResolution records a value lookup. Source is "static" or
// "provider".
func (m *Metrics) RecordValueResolution(source, status string) {
	if m == nil || m.valueResolutions == nil {
		return
	}
	m.valueResolutions.WithLabelValues(source, status).Inc()
}

// SetServiceOnline records the observed status of a service.
func (m *Metrics) SetServiceOnline(module, service string, online bool) {
	if m == nil || m.serviceStatus == nil {
		return
	}
	value := 0.0
	if online {
		value = 1.0
	}
	m.serviceStatus.WithLabelValues(module, service).Set(value)
}

// Error Metrics

// RecordError records an error by its code.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the Prometheus registry, or nil when disabled.
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

// WriteTextfile writes the current metrics in the Prometheus text format to
// the configured textfile path. It is a no-op when no path is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}

// ServeMetrics serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context) error {
	if m.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
