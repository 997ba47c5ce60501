package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects where admission, rebuild and consumer spans go.
type Config struct {
	Enabled     bool
	Exporter    string  // otlp-http
	Endpoint    string  // host:port of the collector, e.g. localhost:4318
	ServiceName string  // dianping
	SampleRate  float64 // fraction of new traces kept; in [0, 1]
}

var (
	tracer     trace.Tracer = noop.NewTracerProvider().Tracer("")
	sdkTracing *sdktrace.TracerProvider
)

// Init installs the tracer used by StartSpan and StartConsumerSpan. When
// tracing is disabled spans are no-ops and nothing is exported.
//
// Sampling is decided once per trace at admission. The consumer span
// continues the trace restored from the stream entry and follows that
// decision, so an order is either traced end to end or not at all.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		tracer = noop.NewTracerProvider().Tracer("")
		sdkTracing = nil
		return nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(cfg.ServiceName)
	sdkTracing = tp
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "otlp", "otlp-http":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp http exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
}

// newSampler keeps rate of root traces and defers to the parent otherwise.
func newSampler(rate float64) sdktrace.Sampler {
	root := sdktrace.AlwaysSample()
	switch {
	case rate <= 0:
		root = sdktrace.NeverSample()
	case rate < 1:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Shutdown flushes buffered spans, waiting at most five seconds.
func Shutdown(ctx context.Context) error {
	if sdkTracing == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sdkTracing.Shutdown(ctx)
}

// Enabled reports whether spans are exported.
func Enabled() bool {
	return sdkTracing != nil
}

// Tracer returns the tracer installed by Init.
func Tracer() trace.Tracer {
	return tracer
}
