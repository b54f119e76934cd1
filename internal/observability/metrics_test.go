package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/hooks"
	"github.com/haasonsaas/hookline/internal/propagation"
)

// Compile-time checks that Metrics can observe the runtime.
var (
	_ callctx.Observer = (*Metrics)(nil)
	_ hooks.Observer   = (*Metrics)(nil)
)

func TestMetrics_ActionExecutions(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.ActionExecuted(actions.PhaseEntry, "start", nil)
	m.ActionExecuted(actions.PhaseEntry, "start", nil)
	m.ActionExecuted(actions.PhaseExit, "stop", errors.New("boom"))

	if count := testutil.CollectAndCount(m.ActionExecutions); count != 2 {
		t.Errorf("Expected 2 label combinations, got %d", count)
	}

	expected := `
		# HELP hookline_action_executions_total Total number of action executions by phase, action and status
		# TYPE hookline_action_executions_total counter
		hookline_action_executions_total{action="start",phase="entry",status="success"} 2
		hookline_action_executions_total{action="stop",phase="exit",status="error"} 1
	`
	if err := testutil.CollectAndCompare(m.ActionExecutions, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestMetrics_HookBuildsAndRecursion(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	method := hooks.Method{Type: "svc.T", Signature: "Do()"}

	m.HookBuilt(method, nil)
	m.HookBuilt(method, errors.New("cycle"))
	m.HookBuilt(method, nil)
	m.RecursionBlocked(method)
	m.ConfigReloaded(nil)
	m.ConfigReloaded(errors.New("bad yaml"))

	if got := testutil.ToFloat64(m.HookBuilds.WithLabelValues("success")); got != 2 {
		t.Errorf("successful builds = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HookBuilds.WithLabelValues("rejected")); got != 1 {
		t.Errorf("rejected builds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecursionGateHits.WithLabelValues("svc.T.Do()")); got != 1 {
		t.Errorf("recursion gate hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloads.WithLabelValues("error")); got != 1 {
		t.Errorf("failed reloads = %v, want 1", got)
	}
}

func TestMetrics_ObservesContextManager(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	policy := propagation.NewStaticPolicy(map[string]propagation.KeySettings{
		"status": {Up: true},
	}, nil)
	manager := callctx.NewManager(policy, callctx.WithObserver(m))

	parent := manager.Open(context.Background())
	ctx := manager.MakeCurrent(context.Background(), parent, false)
	child := manager.Open(ctx)
	_ = child.SetData("status", "done")

	if err := manager.Close(parent); err != nil {
		t.Fatalf("Close(parent) error = %v", err)
	}
	if err := manager.Close(child); err != nil {
		t.Fatalf("Close(child) error = %v", err)
	}

	if got := testutil.ToFloat64(m.ContextsOpened); got != 2 {
		t.Errorf("contexts opened = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PropagationDropped.WithLabelValues("status")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}
