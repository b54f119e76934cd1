package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/hooks"
)

// Metrics provides the self-monitoring metrics of the runtime.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	manager := callctx.NewManager(policy, callctx.WithObserver(metrics))
//	builder := hooks.NewBuilder(library, env, manager, logger, metrics)
type Metrics struct {
	// ContextsOpened counts opened call contexts.
	ContextsOpened prometheus.Counter

	// PropagationDropped counts up-propagated values whose parent was
	// closed or collected.
	// Labels: key
	PropagationDropped *prometheus.CounterVec

	// ActionExecutions counts action executions.
	// Labels: phase, action, status (success|error)
	ActionExecutions *prometheus.CounterVec

	// RecursionGateHits counts hook entries short-circuited by the
	// recursion gate.
	// Labels: method
	RecursionGateHits *prometheus.CounterVec

	// HookBuilds counts hook builds.
	// Labels: status (success|rejected)
	HookBuilds *prometheus.CounterVec

	// ConfigReloads counts configuration reloads.
	// Labels: status (success|error)
	ConfigReloads *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with Prometheus's default
// registry. It should be called once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates and registers all metrics with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ContextsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hookline_contexts_opened_total",
				Help: "Total number of call contexts opened",
			},
		),

		PropagationDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookline_propagation_dropped_total",
				Help: "Total number of up-propagated values dropped because the parent context was gone",
			},
			[]string{"key"},
		),

		ActionExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookline_action_executions_total",
				Help: "Total number of action executions by phase, action and status",
			},
			[]string{"phase", "action", "status"},
		),

		RecursionGateHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookline_recursion_blocked_total",
				Help: "Total number of hook entries short-circuited by the recursion gate",
			},
			[]string{"method"},
		),

		HookBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookline_hook_builds_total",
				Help: "Total number of hook builds by status",
			},
			[]string{"status"},
		),

		ConfigReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookline_config_reloads_total",
				Help: "Total number of configuration reloads by status",
			},
			[]string{"status"},
		),
	}
}

// ContextOpened implements callctx.Observer.
func (m *Metrics) ContextOpened() {
	m.ContextsOpened.Inc()
}

// UpPropagationDropped implements callctx.Observer.
func (m *Metrics) UpPropagationDropped(key string) {
	m.PropagationDropped.WithLabelValues(key).Inc()
}

// ActionExecuted implements hooks.Observer.
func (m *Metrics) ActionExecuted(phase actions.Phase, action string, err error) {
	m.ActionExecutions.WithLabelValues(string(phase), action, status(err)).Inc()
}

// RecursionBlocked implements hooks.Observer.
func (m *Metrics) RecursionBlocked(method hooks.Method) {
	m.RecursionGateHits.WithLabelValues(method.String()).Inc()
}

// HookBuilt implements hooks.Observer.
func (m *Metrics) HookBuilt(_ hooks.Method, err error) {
	if err != nil {
		m.HookBuilds.WithLabelValues("rejected").Inc()
		return
	}
	m.HookBuilds.WithLabelValues("success").Inc()
}

// ConfigReloaded records the outcome of a configuration reload.
func (m *Metrics) ConfigReloaded(err error) {
	m.ConfigReloads.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
