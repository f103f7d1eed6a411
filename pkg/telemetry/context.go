package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that records nothing. Useful in tests.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes pending spans and writes the metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Metrics.WriteTextfile(); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return t.Tracer.Shutdown(ctx)
}

// Scope is an instrumented unit of work: a span, a logger carrying the
// span's identity, and a timer. A Scope is always usable; without
// telemetry in the context its span is a no-op.
type Scope struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	metrics *Metrics
	record  func(m *Metrics, status string, s *Scope)
}

// End finishes the scope, recording success or failure.
func (s *Scope) End(err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
		RecordError(s.Span, err)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()
	if s.record != nil {
		s.record(s.metrics, status, s)
	}
}

func newScope(ctx context.Context, start func(t *Tracer) (context.Context, trace.Span), fields map[string]interface{}) *Scope {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &Scope{
			Ctx:    ctx,
			Span:   trace.SpanFromContext(context.Background()),
			Logger: FromContext(ctx).WithFields(fields),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := start(tel.Tracer)
	logger := FromContext(ctx).WithFields(fields)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &Scope{
		Ctx:     logger.WithContext(spanCtx),
		Span:    span,
		Logger:  logger,
		Timer:   NewTimer(),
		metrics: tel.Metrics,
	}
}

// StartExecution begins the scope of a top-level operation.
func StartExecution(ctx context.Context, executionID, operation, target string) *Scope {
	s := newScope(ctx, func(t *Tracer) (context.Context, trace.Span) {
		return t.StartExecutionSpan(ctx, executionID, operation, target)
	}, map[string]interface{}{
		"execution_id": executionID,
		"operation":    operation,
	})
	s.metrics.RecordExecutionStarted(operation)
	s.record = func(m *Metrics, status string, s *Scope) {
		m.RecordExecutionCompleted(operation, status, s.Timer.Duration())
	}
	return s
}

// StartEffect begins the scope of one applied staged change.
func StartEffect(ctx context.Context, executionID, change, target string) *Scope {
	s := newScope(ctx, func(t *Tracer) (context.Context, trace.Span) {
		return t.StartEffectSpan(ctx, executionID, change, target)
	}, map[string]interface{}{
		"change": change,
		"target": target,
	})
	s.record = func(m *Metrics, status string, s *Scope) {
		m.RecordEffect(change, status, s.Timer.Duration())
	}
	return s
}

// StartRunnable begins the scope of a runnable invocation.
func StartRunnable(ctx context.Context, module, kind, label string) *Scope {
	s := newScope(ctx, func(t *Tracer) (context.Context, trace.Span) {
		return t.StartRunnableSpan(ctx, module, kind, label)
	}, map[string]interface{}{
		"runnable": label,
	})
	s.record = func(m *Metrics, status string, _ *Scope) {
		m.RecordRunnable(kind, status)
	}
	return s
}

// MetricsFromContext returns the metrics of the telemetry in ctx. The
// result is nil when there is none; all Metrics methods accept a nil
// receiver.
func MetricsFromContext(ctx context.Context) *Metrics {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.Metrics
	}
	return nil
}
