package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/winguard/winguard/internal/observability"
)

type handleKey struct{}

// WithHandle makes h the tracer for everything run under ctx
func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// From returns the handle set by WithHandle, or nil when tracing is off.
func From(ctx context.Context) *Handle {
	h, _ := ctx.Value(handleKey{}).(*Handle)
	return h
}

// Start opens a span tagged with the op ID. With tracing off it returns a
// no-op span, so callers always defer End.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	h := From(ctx)
	if h == nil || h.Tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	attrs = append([]attribute.KeyValue{AttrOpID.String(observability.OpID(ctx))}, attrs...)
	return h.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End marks the span Ok or Error from err and ends it
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
