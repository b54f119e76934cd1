package actions

import (
	"fmt"
	"maps"
	"sync/atomic"
)

// Stats counts executions of a bound action.
type Stats struct {
	Executions uint64
	Failures   uint64
	Skipped    uint64
}

// BoundAction is a compiled action combined with its argument sources.
type BoundAction interface {
	// Name is the label of the call.
	Name() string

	// Spec returns the call the action was bound from.
	Spec() CallSpec

	// Applies evaluates the call's conditions. An action whose conditions are
	// unmet is skipped.
	Applies(ec *ExecutionContext) bool

	// Execute runs the action and stores its result. A failure leaves the
	// context untouched and returns an *ExecutionError.
	Execute(ec *ExecutionContext) error

	// Stats returns the execution counters.
	Stats() Stats
}

type dynamicArg struct {
	pos    int
	access Accessor
}

type binding struct {
	spec CallSpec
	fn   Func
	void bool

	executions atomic.Uint64
	failures   atomic.Uint64
	skipped    atomic.Uint64
}

func (b *binding) Name() string   { return b.spec.Label() }
func (b *binding) Spec() CallSpec { return b.spec }

func (b *binding) Applies(ec *ExecutionContext) bool {
	if b.spec.Conditions.Empty() || b.spec.Conditions.Met(ec.Context) {
		return true
	}
	b.skipped.Add(1)
	return false
}

func (b *binding) Stats() Stats {
	return Stats{
		Executions: b.executions.Load(),
		Failures:   b.failures.Load(),
		Skipped:    b.skipped.Load(),
	}
}

func (b *binding) invoke(ec *ExecutionContext, args []any) (err error) {
	b.executions.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{Call: b.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			b.failures.Add(1)
		}
	}()

	result, ferr := b.fn(ec.Args, ec.Receiver, ec.ReturnValue, ec.Thrown, args)
	if ferr != nil {
		return &ExecutionError{Call: b.Name(), Err: ferr}
	}
	if b.void || b.spec.DataKey == "" {
		return nil
	}
	if err := ec.Context.SetData(b.spec.DataKey, result); err != nil {
		return &ExecutionError{Call: b.Name(), Err: err}
	}
	return nil
}

// constantAction reuses one argument slice for every call.
type constantAction struct {
	binding
	args []any
}

func (a *constantAction) Execute(ec *ExecutionContext) error {
	return a.invoke(ec, a.args)
}

// dynamicAction copies a template per call and fills the dynamic positions.
type dynamicAction struct {
	binding
	template []any
	dynamic  []dynamicArg
}

func (a *dynamicAction) Execute(ec *ExecutionContext) error {
	args := make([]any, len(a.template))
	copy(args, a.template)
	for _, d := range a.dynamic {
		args[d.pos] = d.access(ec)
	}
	return a.invoke(ec, args)
}

// Bind combines a call with a compiled action. Default data inputs of the
// definition apply to inputs the call sets neither as constant nor as data.
func Bind(spec CallSpec, compiled Compiled) (BoundAction, error) {
	def := compiled.Definition
	if compiled.Func == nil {
		return nil, fmt.Errorf("action %s has no compiled function", def.ID)
	}
	spec = WithDefaults(spec, def)

	positions := make(map[string]int, len(def.Inputs))
	for i, name := range def.Inputs {
		positions[name] = i
	}
	for name := range spec.ConstantInput {
		if _, ok := positions[name]; !ok {
			return nil, fmt.Errorf("action %s has no input %q", def.ID, name)
		}
	}

	template := make([]any, len(def.Inputs))
	var dynamic []dynamicArg
	for name, expr := range spec.DataInput {
		pos, ok := positions[name]
		if !ok {
			return nil, fmt.Errorf("action %s has no input %q", def.ID, name)
		}
		if _, isConst := spec.ConstantInput[name]; isConst {
			return nil, fmt.Errorf("input %q is both constant and data", name)
		}
		access, err := ParseAccessor(expr)
		if err != nil {
			return nil, err
		}
		dynamic = append(dynamic, dynamicArg{pos: pos, access: access})
	}
	for name, v := range spec.ConstantInput {
		template[positions[name]] = v
	}

	if len(dynamic) == 0 {
		a := &constantAction{args: template}
		a.spec, a.fn, a.void = spec, compiled.Func, def.Void
		return a, nil
	}
	a := &dynamicAction{template: template, dynamic: dynamic}
	a.spec, a.fn, a.void = spec, compiled.Func, def.Void
	return a, nil
}

// WithDefaults returns spec with the definition's default data inputs added
// for every input the call sets neither as constant nor as data.
func WithDefaults(spec CallSpec, def Definition) CallSpec {
	if len(def.DefaultDataInput) == 0 {
		return spec
	}
	dataInput := make(map[string]string, len(spec.DataInput)+len(def.DefaultDataInput))
	for name, expr := range def.DefaultDataInput {
		if _, isConst := spec.ConstantInput[name]; !isConst {
			dataInput[name] = expr
		}
	}
	maps.Copy(dataInput, spec.DataInput)
	spec.DataInput = dataInput
	return spec
}

// noopAction stands in for a call that could not be bound.
type noopAction struct {
	spec CallSpec
	err  error
}

// Noop returns an action that does nothing, used in place of a call that
// failed to bind.
func Noop(spec CallSpec, err error) BoundAction {
	return &noopAction{spec: spec, err: err}
}

func (a *noopAction) Name() string                    { return a.spec.Label() }
func (a *noopAction) Spec() CallSpec                  { return a.spec }
func (a *noopAction) Applies(*ExecutionContext) bool  { return false }
func (a *noopAction) Execute(*ExecutionContext) error { return nil }
func (a *noopAction) Stats() Stats                    { return Stats{} }

// Cause returns the binding error the no-op replaced, if a is a no-op.
func Cause(a BoundAction) error {
	if n, ok := a.(*noopAction); ok {
		return n.err
	}
	return nil
}
