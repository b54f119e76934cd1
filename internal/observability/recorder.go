package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder pushes a named measurement with tags. It is the metric
// collaborator of record_metric actions.
type Recorder interface {
	Record(ctx context.Context, name string, value float64, tags map[string]string) error
}

// isCounter reports whether a measurement name denotes a monotonic counter.
// Everything else is recorded as a distribution.
func isCounter(name string) bool {
	return strings.HasSuffix(name, "_total")
}

// PrometheusRecorder records measurements as Prometheus counters (names
// ending in _total) or histograms. The label names of a metric are fixed by
// its first measurement: later measurements fill missing labels with "" and
// drop labels the metric does not have.
type PrometheusRecorder struct {
	reg       prometheus.Registerer
	namespace string
	buckets   []float64

	mu     sync.Mutex
	series map[string]*promSeries
}

type promSeries struct {
	labels    []string
	counter   *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registering its metrics with reg.
// A nil reg uses the default registerer; nil buckets use the Prometheus
// defaults.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string, buckets []float64) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return &PrometheusRecorder{
		reg:       reg,
		namespace: namespace,
		buckets:   buckets,
		series:    make(map[string]*promSeries),
	}
}

// Record implements Recorder.
func (r *PrometheusRecorder) Record(_ context.Context, name string, value float64, tags map[string]string) error {
	tags = sanitizeLabels(tags)
	s, err := r.lookup(name, tags)
	if err != nil {
		return err
	}
	values := make([]string, len(s.labels))
	for i, l := range s.labels {
		values[i] = tags[l]
	}
	if s.counter != nil {
		if value < 0 {
			return fmt.Errorf("counter %s cannot decrease", name)
		}
		s.counter.WithLabelValues(values...).Add(value)
		return nil
	}
	s.histogram.WithLabelValues(values...).Observe(value)
	return nil
}

func (r *PrometheusRecorder) lookup(name string, tags map[string]string) (*promSeries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[name]; ok {
		return s, nil
	}

	labels := make([]string, 0, len(tags))
	for k := range tags {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	s := &promSeries{labels: labels}
	var collector prometheus.Collector
	if isCounter(name) {
		s.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      "Recorded by hookline record_metric actions",
		}, labels)
		collector = s.counter
	} else {
		s.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      "Recorded by hookline record_metric actions",
			Buckets:   r.buckets,
		}, labels)
		collector = s.histogram
	}

	if err := r.reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register metric %s: %w", name, err)
		}
		switch existing := already.ExistingCollector.(type) {
		case *prometheus.CounterVec:
			s.counter, s.histogram = existing, nil
		case *prometheus.HistogramVec:
			s.counter, s.histogram = nil, existing
		default:
			return nil, fmt.Errorf("register metric %s: %w", name, err)
		}
	}
	r.series[name] = s
	return s, nil
}

// sanitizeLabels maps tag keys to valid Prometheus label names.
func sanitizeLabels(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[labelName(k)] = v
	}
	return out
}

func labelName(k string) string {
	var b strings.Builder
	for i, r := range k {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// OTelRecorder records measurements with an OpenTelemetry meter: Float64
// counters for names ending in _total, Float64 histograms otherwise.
type OTelRecorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTelRecorder creates a recorder using meter.
func NewOTelRecorder(meter metric.Meter) *OTelRecorder {
	return &OTelRecorder{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Record implements Recorder.
func (r *OTelRecorder) Record(ctx context.Context, name string, value float64, tags map[string]string) error {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	opt := metric.WithAttributes(attrs...)

	if isCounter(name) {
		c, err := r.counter(name)
		if err != nil {
			return err
		}
		c.Add(ctx, value, opt)
		return nil
	}
	h, err := r.histogram(name)
	if err != nil {
		return err
	}
	h.Record(ctx, value, opt)
	return nil
}

func (r *OTelRecorder) counter(name string) (metric.Float64Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c, nil
	}
	c, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", name, err)
	}
	r.counters[name] = c
	return c, nil
}

func (r *OTelRecorder) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h, nil
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil, fmt.Errorf("create histogram %s: %w", name, err)
	}
	r.histograms[name] = h
	return h, nil
}

// MultiRecorder passes every measurement to a fixed, ordered list of
// recorders. A failing or panicking recorder does not keep the others from
// recording; failures are logged and returned joined.
type MultiRecorder struct {
	recorders []Recorder
	logger    *slog.Logger
}

// NewMultiRecorder creates a MultiRecorder. Nil recorders are skipped.
func NewMultiRecorder(logger *slog.Logger, recorders ...Recorder) *MultiRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	list := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			list = append(list, r)
		}
	}
	return &MultiRecorder{
		recorders: list,
		logger:    logger.With("component", "recorder"),
	}
}

// Len returns the number of recorders.
func (m *MultiRecorder) Len() int {
	return len(m.recorders)
}

// Record implements Recorder.
func (m *MultiRecorder) Record(ctx context.Context, name string, value float64, tags map[string]string) error {
	var errs []error
	for i, r := range m.recorders {
		if err := recordIsolated(ctx, r, name, value, tags); err != nil {
			m.logger.Warn("recorder failed",
				"recorder", i,
				"metric", name,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func recordIsolated(ctx context.Context, r Recorder, name string, value float64, tags map[string]string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("recorder panic: %v", p)
		}
	}()
	return r.Record(ctx, name, value, tags)
}
