package config

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level,omitempty"`
	Format    string `yaml:"format,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`

	// RedactKeys extends the built-in list of attribute keys whose values are
	// masked in log output.
	RedactKeys []string `yaml:"redact_keys,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls OpenTelemetry tracing. Spans are exported only when
// an endpoint is set.
type TracingConfig struct {
	Endpoint       string            `yaml:"endpoint,omitempty"`
	ServiceName    string            `yaml:"service_name,omitempty"`
	ServiceVersion string            `yaml:"service_version,omitempty"`
	Environment    string            `yaml:"environment,omitempty"`
	SamplingRate   float64           `yaml:"sampling_rate,omitempty"`
	Insecure       bool              `yaml:"insecure,omitempty"`
	Attributes     map[string]string `yaml:"attributes,omitempty"`
}

// MetricsConfig selects the backends that record_metric actions write to.
type MetricsConfig struct {
	Prometheus bool   `yaml:"prometheus,omitempty"`
	OTel       bool   `yaml:"otel,omitempty"`
	Namespace  string `yaml:"namespace,omitempty"`

	// Buckets are the histogram buckets for non-counter Prometheus series.
	Buckets []float64 `yaml:"buckets,omitempty"`

	// ListenAddr is where `hookline watch` serves /metrics.
	ListenAddr string `yaml:"listen_addr,omitempty"`
}
