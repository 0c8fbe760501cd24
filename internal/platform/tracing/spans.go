package tracing

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for registry operations.
const (
	AttrSerialNumber = "provenance.serial_number"
	AttrIdentifier   = "provenance.identifier"
	AttrStage        = "provenance.stage"
	AttrOutcome      = "provenance.verification.outcome"
	AttrAttempt      = "provenance.reader.attempt"
	AttrErrorCode    = "error.code"
)

// TraceIDFromContext returns the active trace ID, or "" when no sampled span is
// in ctx.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
