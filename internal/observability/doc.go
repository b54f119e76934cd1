// Package observability provides logging, self-monitoring metrics, tracing
// and metric recorders for hookline.
//
// # Logging
//
// NewLogger builds a slog.Logger from a LogConfig. Its handler is wrapped in a
// TagHandler, so every record logged with a context carries the ambient tags
// of the instrumented call that is current in that context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	logger.InfoContext(ctx, "charging card") // ... tags.route=/checkout context_id=...
//
// # Metrics
//
// Metrics counts what the runtime does: contexts opened, actions executed
// and failed, hooks built and rejected, recursion short-circuits and
// up-propagated values that had nowhere to go. It implements the observer
// interfaces of the callctx and hooks packages.
//
// # Recorders
//
// record_metric actions push measurements through a Recorder.
// PrometheusRecorder and OTelRecorder export them; MultiRecorder fans one
// measurement out to several recorders, isolating their failures.
//
// # Tracing
//
// NewTracer configures an OpenTelemetry tracer provider exporting over OTLP
// gRPC, or a no-op tracer when no endpoint is configured. span_start and
// span_end actions use it.
package observability
