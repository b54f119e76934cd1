// Package agent assembles the hookline runtime from configuration: the
// propagation policy, the context manager, the action library with its
// telemetry backends, and the method hooks installed into a registry.
package agent

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/config"
	"github.com/haasonsaas/hookline/internal/hooks"
	"github.com/haasonsaas/hookline/internal/observability"
	"github.com/haasonsaas/hookline/internal/propagation"
)

const instrumentationName = "github.com/haasonsaas/hookline"

// Agent owns the hooks it installs. Reload replaces them atomically per
// method; calls already entered finish against the hook they entered.
type Agent struct {
	logger   *slog.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	policy   *propagation.Swappable
	manager  *callctx.Manager
	library  *actions.Library
	builder  *hooks.Builder
	registry *hooks.Registry
	shutdown func(context.Context) error

	mu      sync.Mutex
	cfg     *config.Config
	reports map[hooks.Method]*hooks.BuildReport
	watcher *config.Watcher
}

// New builds an agent from cfg and installs its hooks. Hooks that fail to
// build are reported in the returned error; the agent is usable regardless
// unless the error is a construction failure, in which case it is nil.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("agent: config is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Output:     o.logOutput,
			AddSource:  cfg.Logging.AddSource,
			RedactKeys: cfg.Logging.RedactKeys,
		})
	}
	promReg := o.prometheus
	if promReg == nil {
		promReg = prometheus.NewRegistry()
	}
	registry := o.registry
	if registry == nil {
		hooks.SetGlobalLogger(logger)
		registry = hooks.Global()
	}
	library := o.library
	if library == nil {
		library = actions.NewBuiltinLibrary()
	}

	tc := cfg.Observability.Tracing
	tracer, shutdown, err := observability.NewTracer(observability.TraceConfig{
		Endpoint:       tc.Endpoint,
		Insecure:       tc.Insecure,
		ServiceName:    tc.ServiceName,
		ServiceVersion: tc.ServiceVersion,
		Environment:    tc.Environment,
		Attributes:     tc.Attributes,
		SamplingRate:   tc.SamplingRate,
		Global:         o.tracer == nil,
	})
	if err != nil {
		logger.Warn("span export disabled", "error", err)
	}

	env := &actions.Environment{
		Name:   "default",
		Tracer: tracer.Tracer(),
		Logger: logger,
	}
	if o.tracer != nil {
		env.Tracer = o.tracer
	}
	if recorder := newRecorder(cfg.Observability.Metrics, promReg, o, logger); recorder.Len() > 0 {
		env.Recorder = recorder
	}

	metrics := observability.NewMetricsWithRegistry(promReg)
	policy := propagation.NewSwappable(cfg.Propagation.Policy())
	manager := callctx.NewManager(policy, callctx.WithLogger(logger), callctx.WithObserver(metrics))

	a := &Agent{
		logger:   logger.With("component", "agent"),
		metrics:  metrics,
		gatherer: promReg,
		policy:   policy,
		manager:  manager,
		library:  library,
		builder:  hooks.NewBuilder(library, env, manager, logger, metrics),
		registry: registry,
		shutdown: shutdown,
		reports:  map[hooks.Method]*hooks.BuildReport{},
	}
	return a, a.Reload(cfg)
}

func newRecorder(mc config.MetricsConfig, reg *prometheus.Registry, o options, logger *slog.Logger) *observability.MultiRecorder {
	var recorders []observability.Recorder
	if mc.Prometheus {
		recorders = append(recorders, observability.NewPrometheusRecorder(reg, mc.Namespace, mc.Buckets))
	}
	if mc.OTel {
		mp := o.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		recorders = append(recorders, observability.NewOTelRecorder(mp.Meter(instrumentationName)))
	}
	return observability.NewMultiRecorder(logger, recorders...)
}

// Reload applies a new configuration. The propagation policy is swapped and
// every configured hook rebuilt. A hook whose build is rejected leaves the
// previously installed hook of its method in place; methods no longer
// configured lose their hook. Logging and telemetry backends are fixed at
// construction.
func (a *Agent) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("agent: config is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.policy.Swap(cfg.Propagation.Policy())

	var errs []error
	keep := make(map[hooks.Method]bool, len(cfg.Hooks))
	reports := make(map[hooks.Method]*hooks.BuildReport, len(cfg.Hooks))
	for _, hc := range cfg.Hooks {
		method := hc.Target()
		keep[method] = true
		hook, report, err := a.builder.Build(method, hc.CallSpecs(cfg.Actions))
		reports[method] = report
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.registry.Install(hook)
	}
	if removed := a.registry.Retain(keep); len(removed) > 0 {
		a.logger.Info("hooks removed", "count", len(removed))
	}

	a.cfg = cfg
	a.reports = reports
	err := errors.Join(errs...)
	a.metrics.ConfigReloaded(err)
	a.logger.Info("config applied", "hooks", len(cfg.Hooks), "rejected", len(errs))
	return err
}

// Watch reloads the configuration whenever the file at path changes until
// ctx is done or Close is called.
func (a *Agent) Watch(ctx context.Context, path string) error {
	a.mu.Lock()
	if a.watcher != nil {
		a.mu.Unlock()
		return fmt.Errorf("agent: already watching")
	}
	debounce := time.Duration(a.cfg.Watch.DebounceMs) * time.Millisecond
	w := config.NewWatcher(path, debounce, func(cfg *config.Config, err error) {
		if err != nil {
			a.metrics.ConfigReloaded(err)
			return
		}
		if err := a.Reload(cfg); err != nil {
			a.logger.Warn("reload rejected hooks", "error", err)
		}
	}, a.logger)
	a.watcher = w
	a.mu.Unlock()

	return w.Start(ctx)
}

// Enter runs the entry side of the hook installed for method and returns the
// call to finish with Exit. Without a hook the call is inert.
func (a *Agent) Enter(ctx context.Context, method hooks.Method, args []any, receiver any) *Call {
	call := &Call{ctx: ctx, c: callctx.Noop, args: args, receiver: receiver}
	hook, ok := a.registry.Lookup(method)
	if !ok {
		return call
	}
	call.hook = hook
	call.ctx, call.c = hook.OnEnter(ctx, args, receiver)
	return call
}

// Reports returns the build reports of the last applied configuration,
// ordered by method.
func (a *Agent) Reports() []*hooks.BuildReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*hooks.BuildReport, 0, len(a.reports))
	for _, r := range a.reports {
		if r != nil {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(x, y *hooks.BuildReport) int {
		return cmp.Compare(x.Method.String(), y.Method.String())
	})
	return out
}

// Config returns the last applied configuration.
func (a *Agent) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Registry returns the registry the agent installs hooks into.
func (a *Agent) Registry() *hooks.Registry { return a.registry }

// Manager returns the context manager shared by the agent's hooks.
func (a *Agent) Manager() *callctx.Manager { return a.manager }

// Gatherer exposes the agent's Prometheus metrics.
func (a *Agent) Gatherer() prometheus.Gatherer { return a.gatherer }

// Logger returns the agent's logger.
func (a *Agent) Logger() *slog.Logger { return a.logger }

// Close stops watching and flushes telemetry.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Library returns the action library hooks are compiled from.
func (a *Agent) Library() *actions.Library { return a.library }
