package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestInitStructured_JSON(t *testing.T) {
	var buf bytes.Buffer
	configure(&buf, "json", "debug")
	defer InitStructured("text", "info")

	Component("seckill.consumer").Debug("order persisted", "order_id", int64(42))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "seckill.consumer" {
		t.Fatalf("expected component field, got %v", rec["component"])
	}
	if rec["msg"] != "order persisted" {
		t.Fatalf("unexpected msg: %v", rec["msg"])
	}
}

func TestSetLevelFromString_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	configure(&buf, "text", "warn")
	defer InitStructured("text", "info")

	Op().Info("hidden")
	Op().Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestWithTrace_NoSpanReturnsLogger(t *testing.T) {
	l := Component("cache.rebuild")
	if WithTrace(context.Background(), l) != l {
		t.Fatal("expected the same logger without a span in context")
	}
}

func TestWithTrace_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	configure(&buf, FormatJSON, "info")
	defer InitStructured(FormatText, "info")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	WithTrace(ctx, Op()).Info("order persisted")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if rec["trace_id"] != traceID.String() || rec["span_id"] != spanID.String() {
		t.Fatalf("unexpected trace fields: %v", rec)
	}
}
