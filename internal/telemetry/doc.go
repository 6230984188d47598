// Package telemetry provides OpenTelemetry instrumentation for camlearnd.
//
// # Overview
//
// This package wires tracing, metrics, and the log bridge to an OTLP
// endpoint (an OTEL Collector, typically). Everything is optional: with
// telemetry disabled the accessors hand out no-op providers and the
// daemon behaves identically.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("camlearnd.feedback")
//	ctx, span := tracer.Start(ctx, "feedback.adjust")
//	defer span.End()
//
// # Error Handling
//
// Telemetry failures never crash the daemon. A failed exporter marks the
// instance degraded, logs a warning, and the affected signal falls back
// to no-op.
//
// # Testing
//
// Use TestTelemetry for in-memory spans and metrics:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
