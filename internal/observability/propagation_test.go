package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractFields_RestoresRemoteSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	fields := map[string]interface{}{
		FieldTraceParent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	ctx := ExtractFields(context.Background(), fields)

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsRemote() {
		t.Fatal("expected remote span context")
	}
	if got := sc.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %s", got)
	}
}

func TestExtractFields_NoTraceParent(t *testing.T) {
	ctx := context.Background()
	if got := ExtractFields(ctx, map[string]interface{}{"userId": "1"}); got != ctx {
		t.Fatal("expected context to be returned unchanged")
	}
}

func TestInjectFields_DisabledWritesNothing(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	fields := map[string]interface{}{}
	InjectFields(context.Background(), fields)
	if len(fields) != 0 {
		t.Fatalf("expected no fields, got %v", fields)
	}
}
