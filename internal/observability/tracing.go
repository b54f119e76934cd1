package observability

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "hookline"

// Tracer owns the tracer used by span actions. With no exporter it hands
// out the globally registered tracer, which is a no-op unless the
// instrumented application installed a provider of its own.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig selects where span actions send their spans.
type TraceConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string
	Insecure bool

	ServiceName    string
	ServiceVersion string
	Environment    string
	Attributes     map[string]string

	// SamplingRate is the fraction of root spans kept; parent decisions win.
	SamplingRate float64

	// Exporter replaces the OTLP exporter. Tests pass a tracetest exporter.
	Exporter sdktrace.SpanExporter

	// Global installs the provider and a trace-context plus baggage
	// propagator process-wide, so ambient tags travel with outgoing requests.
	Global bool
}

func (c TraceConfig) exporting() bool {
	return c.Exporter != nil || c.Endpoint != ""
}

// NewTracer builds the tracer for span actions and the shutdown func that
// flushes it. Exporter setup failures are returned alongside a usable
// no-op tracer so a bad collector address never disables the hooks.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error, error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	disabled := &Tracer{tracer: otel.Tracer(config.ServiceName)}
	noShutdown := func(context.Context) error { return nil }
	if !config.exporting() {
		return disabled, noShutdown, nil
	}

	exporter := config.Exporter
	if exporter == nil {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		var err error
		exporter, err = otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
		if err != nil {
			return disabled, noShutdown, fmt.Errorf("otlp exporter %s: %w", config.Endpoint, err)
		}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(traceResource(config)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(config.SamplingRate))),
	)
	if config.Global {
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown, nil
}

func traceResource(config TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName)}
	if config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for _, k := range slices.Sorted(maps.Keys(config.Attributes)) {
		attrs = append(attrs, attribute.String(k, config.Attributes[k]))
	}
	return resource.NewSchemaless(attrs...)
}

// sampler treats zero as "keep everything"; config defaults fill in 1.0 when
// an endpoint is set, and a zero from code means the field was left unset.
func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Tracer returns the OpenTelemetry tracer span actions start spans with.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// Enabled reports whether spans leave the process.
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// Start starts a span named after the instrumented operation.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err leaves it untouched.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
