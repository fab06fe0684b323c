package hooks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fernandezvara/dbsource"
)

// TracingHook implements OpenTelemetry tracing
type TracingHook struct {
	tracer trace.Tracer
	system string
}

// NewTracingHook creates a new tracing hook
func NewTracingHook(tracer trace.Tracer) *TracingHook {
	return &TracingHook{tracer: tracer, system: "postgresql"}
}

// WithSystem overrides the db.system span attribute (default "postgresql")
func (h *TracingHook) WithSystem(system string) *TracingHook {
	h.system = system
	return h
}

type spanCtxKey struct{}

// BeforeQuery is called before a query is executed
func (h *TracingHook) BeforeQuery(ctx context.Context, event *dbsource.QueryEvent) context.Context {
	if h.tracer == nil {
		return ctx
	}

	op := OperationType(event.SQL)

	ctx, span := h.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)

	return context.WithValue(ctx, spanCtxKey{}, span)
}

// AfterQuery is called after a query is executed
func (h *TracingHook) AfterQuery(ctx context.Context, event *dbsource.QueryEvent) {
	spanVal := ctx.Value(spanCtxKey{})
	if spanVal == nil {
		return
	}

	span, ok := spanVal.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	query := event.SQL
	if len(query) > 500 {
		query = query[:500] + "..."
	}

	span.SetAttributes(
		attribute.String("db.system", h.system),
		attribute.String("db.statement", query),
		attribute.String("db.operation", OperationType(event.SQL)),
	)

	if event.Err != nil {
		span.RecordError(event.Err)
		span.SetStatus(codes.Error, event.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}
