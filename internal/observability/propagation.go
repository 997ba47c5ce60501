package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Stream message fields carrying W3C trace context from the admission step
// to the order consumer.
const (
	FieldTraceParent = "traceparent"
	FieldTraceState  = "tracestate"
)

// InjectFields writes the trace context of ctx into a stream message field
// map. Nothing is written when tracing is disabled.
func InjectFields(ctx context.Context, fields map[string]interface{}) {
	if !Enabled() {
		return
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if v := carrier.Get(FieldTraceParent); v != "" {
		fields[FieldTraceParent] = v
	}
	if v := carrier.Get(FieldTraceState); v != "" {
		fields[FieldTraceState] = v
	}
}

// ExtractFields restores a remote span context from stream message fields.
func ExtractFields(ctx context.Context, fields map[string]interface{}) context.Context {
	parent, _ := fields[FieldTraceParent].(string)
	if parent == "" {
		return ctx
	}
	state, _ := fields[FieldTraceState].(string)
	carrier := propagation.MapCarrier{
		FieldTraceParent: parent,
		FieldTraceState:  state,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// GetTraceID returns the trace ID from context as a string
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the span ID from context as a string
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasSpanID() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
