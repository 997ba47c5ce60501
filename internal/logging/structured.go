package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Handler formats for InitStructured. Text suits terminals and the CLI
// commands; json writes one object per line for log shippers.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// InitStructured swaps the operational logger for one writing format to
// stderr at level. Loggers already derived through Component keep their old
// handler, so call this before building long-lived components.
func InitStructured(format, level string) {
	configure(os.Stderr, format, level)
}

func configure(w io.Writer, format, level string) {
	SetLevelFromString(level)
	opLogger.Store(slog.New(newHandler(w, format)))
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// WithTrace tags l with the trace and span IDs active in ctx. A consumer
// line carries the trace the admission started, so both sides of an order
// can be joined in the log store. Without a valid span l is returned as is.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
