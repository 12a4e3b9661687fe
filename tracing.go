package realtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "github.com/carpoolkit/realtime"

func defaultTracer() trace.Tracer {
	return otel.Tracer(defaultTracerName)
}

// startConnectSpan opens the span covering one dial attempt.
func startConnectSpan(ctx context.Context, tracer trace.Tracer, attempt int, host string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "realtime.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("realtime.attempt", attempt),
			attribute.String("server.address", host),
		),
	)
}

func endConnectSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
