package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of engine spans
const TracerName = "bundle-engine"

// Span attribute keys
var (
	SpanBundleID      = attribute.Key("bundle.id")
	SpanQuantity      = attribute.Key("allocation.quantity")
	SpanTransactionID = attribute.Key("allocation.transaction_id")
	SpanOutcome       = attribute.Key("allocation.outcome")
)

// StartServiceSpan opens an internal span named "<service>.<method>" on the
// global tracer provider. Close it with EndSpan.
func StartServiceSpan(ctx context.Context, service, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, service+"."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID is the hex trace id active in ctx, or "" outside a sampled trace.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
