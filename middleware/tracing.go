package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sightline/forensic/job"
)

// tracerName is the instrumentation scope name for forensic tracing.
const tracerName = "github.com/sightline/forensic"

// Tracing returns middleware that wraps job execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: forensic.job.id, forensic.job.name,
// forensic.queue, forensic.target, forensic.sources. On error, the
// span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "forensic.job.execute",
			trace.WithAttributes(
				attribute.String("forensic.job.id", j.ID.String()),
				attribute.String("forensic.job.name", j.Name),
				attribute.String("forensic.queue", j.Queue),
				attribute.String("forensic.target", string(j.Params.Target)),
				attribute.Int("forensic.sources", len(j.Params.Sources)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
