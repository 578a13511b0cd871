// Package tracing provides OpenTelemetry span helpers for the scheduler
// and worker. Grounded on the pack's backend/internal/infrastructure/
// tracing/tracing.go (Provider/StartSpan/AddSpanEvent/RecordError shape),
// trimmed to the otel + otel/trace API packages only — this repo's go.mod
// does not carry an SDK or OTLP exporter (see DESIGN.md's "Dropped / not
// wired pack dependencies"), so no TracerProvider is constructed here:
// otel.Tracer resolves to the global no-op provider unless a host process
// sets one, which is exactly the teacher's own unexercised-tracing state.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/noetl/noetl"

// StartSpan starts a span under the package-wide tracer name.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// SpanFromContext returns the current span, or a no-op span if none.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent annotates the current span with a named event, e.g. a
// retry attempt or a gate re-evaluation.
func AddSpanEvent(ctx context.Context, name string, attrs ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, attrs...)
	}
}

// RecordError records err on the current span without ending it.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, opts...)
	}
}
