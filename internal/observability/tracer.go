package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartConsumerSpan creates a span for work pulled off the order stream
func StartConsumerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for Dianping spans
var (
	AttrCacheKey      = attribute.Key("dianping.cache.key")
	AttrCacheStrategy = attribute.Key("dianping.cache.strategy")
	AttrVoucherID     = attribute.Key("dianping.voucher.id")
	AttrUserID        = attribute.Key("dianping.user.id")
	AttrOrderID       = attribute.Key("dianping.order.id")
	AttrStreamID      = attribute.Key("dianping.stream.message_id")
)
