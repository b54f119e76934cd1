package agent

import (
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/hooks"
)

// Option configures an Agent.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	logOutput     io.Writer
	registry      *hooks.Registry
	library       *actions.Library
	prometheus    *prometheus.Registry
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
}

// WithLogger sets the logger. Without it the agent builds one from the
// logging section of the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogOutput sets where a logger built from configuration writes.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithRegistry installs hooks into r instead of the global registry.
func WithRegistry(r *hooks.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithLibrary replaces the built-in action library.
func WithLibrary(l *actions.Library) Option {
	return func(o *options) {
		o.library = l
	}
}

// WithPrometheusRegistry registers self-monitoring metrics and Prometheus
// backed record_metric series with reg.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.prometheus = reg
	}
}

// WithMeterProvider sets the provider used when OpenTelemetry metrics are
// enabled. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracer overrides the tracer used by span actions.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}
