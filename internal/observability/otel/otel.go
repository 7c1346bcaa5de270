package otel

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/winguard/winguard/internal/version"
)

// tracerName is the instrumentation scope of every winguard span
const tracerName = "github.com/winguard/winguard/internal/gate"

// AttrRevision tags the resource with the VCS revision of the binary
const AttrRevision = attribute.Key("winguard.revision")

// Handle owns the tracer for one process run. A nil Handle is valid and
// traces nothing.
type Handle struct {
	Tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Shutdown flushes buffered spans
func (h *Handle) Shutdown(ctx context.Context) error {
	if h == nil || h.shutdown == nil {
		return nil
	}
	return h.shutdown(ctx)
}

// Init builds a batching tracer provider for cfg and installs it globally
// with W3C trace-context propagation.
func Init(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("otel: resource: %w", err)
	}
	exporter, err := newExporter(ctx, cfg.Protocol, resolveEndpoint(cfg), cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("otel: %s exporter: %w", cfg.Protocol, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Handle{Tracer: tp.Tracer(tracerName), shutdown: tp.Shutdown}, nil
}

// InitWithProvider wraps an existing provider; tests pass an in-memory one
func InitWithProvider(tp trace.TracerProvider) *Handle {
	return &Handle{Tracer: tp.Tracer(tracerName)}
}

// resolveEndpoint: explicit config, then OTEL_EXPORTER_OTLP_ENDPOINT, then the
// collector's default port for the protocol.
func resolveEndpoint(cfg Config) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
		return env
	}
	if cfg.Protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318"
}

func newResource(serviceName string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.BuildVersion()),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersion(otel.Version()),
	}
	if rev := version.Revision(); rev != "" {
		attrs = append(attrs, AttrRevision.String(rev))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func newExporter(ctx context.Context, protocol, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	if protocol == ProtocolGRPC {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// samplerFor maps a ratio onto always/never/parent-based ratio sampling
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
