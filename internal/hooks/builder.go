package hooks

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/depgraph"
)

// BuildReport describes the outcome of building one hook.
type BuildReport struct {
	Method Method

	// Order holds the call labels of every phase in execution order.
	Order map[actions.Phase][]string

	// BindingErrors lists the calls replaced by no-op actions.
	BindingErrors []*actions.BindingError
}

// Builder compiles and orders configured action calls into hooks.
type Builder struct {
	library  *actions.Library
	env      *actions.Environment
	manager  *callctx.Manager
	logger   *slog.Logger
	observer Observer
}

// NewBuilder creates a builder. Hooks it builds share manager.
func NewBuilder(library *actions.Library, env *actions.Environment, manager *callctx.Manager, logger *slog.Logger, observer Observer) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Builder{
		library:  library,
		env:      env,
		manager:  manager,
		logger:   logger,
		observer: observer,
	}
}

// Build creates the hook of method. Calls that cannot be compiled or bound
// are replaced by no-op actions and reported. A dependency cycle in any phase
// rejects the whole hook with a *depgraph.CycleError.
func (b *Builder) Build(method Method, calls []actions.CallSpec) (*MethodHook, *BuildReport, error) {
	config, report, err := b.configure(method, calls)
	b.observer.HookBuilt(method, err)
	if err != nil {
		b.logger.Error("hook rejected", "component", "hooks", "method", method.String(), "error", err)
		return nil, report, err
	}
	for _, bindErr := range report.BindingErrors {
		b.logger.Warn("action replaced by no-op",
			"component", "hooks",
			"method", method.String(),
			"action", bindErr.Call,
			"error", bindErr.Err)
	}
	hook := NewMethodHook(method, config, b.manager, WithLogger(b.logger), WithObserver(b.observer))
	return hook, report, nil
}

func (b *Builder) configure(method Method, calls []actions.CallSpec) (*Configuration, *BuildReport, error) {
	report := &BuildReport{
		Method: method,
		Order:  make(map[actions.Phase][]string),
	}

	byPhase := make(map[actions.Phase][]actions.CallSpec)
	for _, call := range calls {
		if !call.Phase.Valid() {
			return nil, report, fmt.Errorf("hook %s: call %s has unknown phase %q", method, call.Label(), call.Phase)
		}
		byPhase[call.Phase] = append(byPhase[call.Phase], call)
	}

	phases := make(map[actions.Phase][]actions.BoundAction)
	for _, phase := range actions.Phases() {
		specs := byPhase[phase]
		if len(specs) == 0 {
			continue
		}

		bound := make([]actions.BoundAction, len(specs))
		nodes := make([]depgraph.Node, len(specs))
		for i, spec := range specs {
			a, void, err := b.bind(spec)
			if err != nil {
				var bindErr *actions.BindingError
				if errors.As(err, &bindErr) {
					report.BindingErrors = append(report.BindingErrors, bindErr)
				}
				a = actions.Noop(spec, err)
			}
			bound[i] = a
			nodes[i] = a.Spec().Node(void)
		}

		order, err := depgraph.Resolve(nodes)
		if err != nil {
			return nil, report, fmt.Errorf("hook %s phase %s: %w", method, phase, err)
		}

		ordered := make([]actions.BoundAction, len(order))
		labels := make([]string, len(order))
		for i, idx := range order {
			ordered[i] = bound[idx]
			labels[i] = bound[idx].Name()
		}
		phases[phase] = ordered
		report.Order[phase] = labels
	}
	return NewConfiguration(phases), report, nil
}

func (b *Builder) bind(spec actions.CallSpec) (actions.BoundAction, bool, error) {
	compiled, err := b.library.Compile(spec.ActionID, b.env)
	if err != nil {
		return nil, false, &actions.BindingError{Call: spec.Label(), ActionID: spec.ActionID, Err: err}
	}
	a, err := actions.Bind(spec, compiled)
	if err != nil {
		return nil, compiled.Definition.Void, &actions.BindingError{Call: spec.Label(), ActionID: spec.ActionID, Err: err}
	}
	return a, compiled.Definition.Void, nil
}
