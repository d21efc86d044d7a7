package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Spans go to the global tracer provider; nothing is recorded unless one is
// registered with otel.SetTracerProvider.
var tracer = otel.Tracer("asset-sync/agent")

func (a *Agent) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{
		attribute.String("agent.id", a.id),
		attribute.String("manifest.id", a.manifestID),
	}
	return tracer.Start(ctx, name, trace.WithAttributes(append(base, attrs...)...))
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
