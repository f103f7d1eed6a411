// Package telemetry provides observability for modctl.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind one Telemetry value that travels in the
// context.
//
// # Usage
//
// Initialize telemetry at startup and put it in the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Scopes
//
// Engine code instruments its units of work with scopes. A scope starts a
// span, derives a logger carrying the identifying fields and times the
// work:
//
//	s := telemetry.StartExecution(ctx, ec.ID, "start", "api")
//	err := doWork(s.Ctx)
//	s.End(err)
//
// StartEffect and StartRunnable do the same for applied staged changes and
// runnable invocations. Without telemetry in the context a scope still
// works; its span is a no-op and its logger discards.
//
// # Metrics
//
// Key metrics:
//
//   - modctl_executions_started_total{operation}
//   - modctl_executions_completed_total{operation,status}
//   - modctl_execution_duration_seconds{operation,status}
//   - modctl_effects_applied_total{change,status}
//   - modctl_migrations_applied_total{module,status}
//   - modctl_builds_total{module,status}
//   - modctl_runnable_invocations_total{kind,status}
//   - modctl_value_resolutions_total{source,status}
//   - modctl_service_online{module,service}
//   - modctl_errors_by_code_total{code}
//
// A CLI invocation is short lived, so metrics are written to a textfile on
// Shutdown when Metrics.TextfilePath is set. Long-running commands serve
// them over HTTP with ServeMetrics.
//
// # Exporters
//
// Tracing supports "otlp" (gRPC), "stdout" (pretty printed to stderr) and
// "none".
package telemetry
