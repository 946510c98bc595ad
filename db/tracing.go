package db

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewOTelTracer adapts an OpenTelemetry tracer to the Tracer interface used
// by NewTracingHook. Spans are named "db <KIND>" and carry the statement text.
func NewOTelTracer(t trace.Tracer, system Dialect) Tracer {
	return &otelTracer{t: t, system: system}
}

type otelTracer struct {
	t      trace.Tracer
	system Dialect
}

func (o *otelTracer) StartSpan(ctx context.Context, query string, start time.Time) context.Context {
	ctx, _ = o.t.Start(ctx, "db "+StatementKind(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("db.system", string(o.system)),
			attribute.String("db.statement", trimQuery(query)),
		),
	)
	return ctx
}

func (o *otelTracer) EndSpan(ctx context.Context, err error, end time.Time) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(end))
}
