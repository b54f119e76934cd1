package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/propagation"
)

func newExecutionContext(t *testing.T) *ExecutionContext {
	t.Helper()
	m := callctx.NewManager(propagation.NewStaticPolicy(nil, nil))
	return &ExecutionContext{
		Ctx:     context.Background(),
		Args:    []any{"first", 2},
		Context: m.Open(context.Background()),
		Type:    "pkg.Service",
		Method:  "Handle",
	}
}

func compiledFunc(inputs []string, void bool, fn Func) Compiled {
	return Compiled{
		Definition: Definition{ID: "test", Inputs: inputs, Void: void},
		Func:       fn,
	}
}

func TestBind_ConstantReusesArguments(t *testing.T) {
	var seen [][]any
	c := compiledFunc([]string{"a", "b"}, false, func(_ []any, _, _ any, _ error, in []any) (any, error) {
		seen = append(seen, in)
		return in[0].(string) + in[1].(string), nil
	})
	bound, err := Bind(CallSpec{
		DataKey:       "out",
		ConstantInput: map[string]any{"a": "x", "b": "y"},
	}, c)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, ok := bound.(*constantAction); !ok {
		t.Fatalf("expected constant binding, got %T", bound)
	}

	ec := newExecutionContext(t)
	for i := 0; i < 2; i++ {
		if err := bound.Execute(ec); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if &seen[0][0] != &seen[1][0] {
		t.Error("expected the argument slice to be reused")
	}
	if v, _ := ec.Context.GetData("out"); v != "xy" {
		t.Errorf("out = %v, want xy", v)
	}
}

func TestBind_DynamicFillsTemplate(t *testing.T) {
	c := compiledFunc([]string{"prefix", "value"}, false, func(_ []any, _, _ any, _ error, in []any) (any, error) {
		return in[0].(string) + in[1].(string), nil
	})
	bound, err := Bind(CallSpec{
		DataKey:       "out",
		ConstantInput: map[string]any{"prefix": "arg="},
		DataInput:     map[string]string{"value": "_arg0"},
	}, c)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, ok := bound.(*dynamicAction); !ok {
		t.Fatalf("expected dynamic binding, got %T", bound)
	}

	ec := newExecutionContext(t)
	if err := bound.Execute(ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v, _ := ec.Context.GetData("out"); v != "arg=first" {
		t.Errorf("out = %v, want arg=first", v)
	}

	ec.Args = []any{"second"}
	if err := bound.Execute(ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v, _ := ec.Context.GetData("out"); v != "arg=second" {
		t.Errorf("out = %v, want arg=second", v)
	}
}

func TestBind_ReadsContextData(t *testing.T) {
	c := compiledFunc([]string{"v"}, false, func(_ []any, _, _ any, _ error, in []any) (any, error) {
		return in[0], nil
	})
	bound, err := Bind(CallSpec{DataKey: "copy", DataInput: map[string]string{"v": "source"}}, c)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	ec := newExecutionContext(t)
	_ = ec.Context.SetData("source", 42)
	if err := bound.Execute(ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v, _ := ec.Context.GetData("copy"); v != 42 {
		t.Errorf("copy = %v, want 42", v)
	}
}

func TestBind_VoidDoesNotWrite(t *testing.T) {
	c := compiledFunc(nil, true, func([]any, any, any, error, []any) (any, error) {
		return "ignored", nil
	})
	bound, err := Bind(CallSpec{DataKey: "out"}, c)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	ec := newExecutionContext(t)
	if err := bound.Execute(ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, ok := ec.Context.GetData("out"); ok {
		t.Error("void action must not write")
	}
}

func TestBind_FailureLeavesContextUntouched(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		fn   Func
	}{
		{
			name: "error",
			fn: func([]any, any, any, error, []any) (any, error) {
				return "partial", boom
			},
		},
		{
			name: "panic",
			fn: func([]any, any, any, error, []any) (any, error) {
				panic("kaboom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound, err := Bind(CallSpec{Name: "failing", DataKey: "out"}, compiledFunc(nil, false, tt.fn))
			if err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			ec := newExecutionContext(t)
			err = bound.Execute(ec)
			var execErr *ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("expected ExecutionError, got %v", err)
			}
			if execErr.Call != "failing" {
				t.Errorf("Call = %q, want failing", execErr.Call)
			}
			if _, ok := ec.Context.GetData("out"); ok {
				t.Error("failed action must not write")
			}
			stats := bound.Stats()
			if stats.Executions != 1 || stats.Failures != 1 {
				t.Errorf("stats = %+v", stats)
			}

			// The binding stays usable.
			if err := bound.Execute(ec); err == nil {
				t.Error("expected second execution to fail again")
			}
			if bound.Stats().Executions != 2 {
				t.Errorf("executions = %d, want 2", bound.Stats().Executions)
			}
		})
	}
}

func TestBind_Conditions(t *testing.T) {
	c := compiledFunc(nil, false, func([]any, any, any, error, []any) (any, error) {
		return true, nil
	})

	tests := []struct {
		name  string
		cond  Conditions
		data  map[string]any
		apply bool
	}{
		{name: "none", apply: true},
		{name: "only if null, missing", cond: Conditions{OnlyIfNull: "k"}, apply: true},
		{name: "only if null, set", cond: Conditions{OnlyIfNull: "k"}, data: map[string]any{"k": 1}},
		{name: "only if not null, set", cond: Conditions{OnlyIfNotNull: "k"}, data: map[string]any{"k": 1}, apply: true},
		{name: "only if not null, nil", cond: Conditions{OnlyIfNotNull: "k"}, data: map[string]any{"k": nil}},
		{name: "only if true", cond: Conditions{OnlyIfTrue: "k"}, data: map[string]any{"k": true}, apply: true},
		{name: "only if true, non bool", cond: Conditions{OnlyIfTrue: "k"}, data: map[string]any{"k": "true"}},
		{name: "only if false", cond: Conditions{OnlyIfFalse: "k"}, data: map[string]any{"k": false}, apply: true},
		{name: "only if false, missing", cond: Conditions{OnlyIfFalse: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound, err := Bind(CallSpec{DataKey: "out", Conditions: tt.cond}, c)
			if err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			ec := newExecutionContext(t)
			for k, v := range tt.data {
				_ = ec.Context.SetData(k, v)
			}
			if got := bound.Applies(ec); got != tt.apply {
				t.Errorf("Applies() = %v, want %v", got, tt.apply)
			}
			if !tt.apply && bound.Stats().Skipped != 1 {
				t.Errorf("skipped = %d, want 1", bound.Stats().Skipped)
			}
		})
	}
}

func TestBind_Errors(t *testing.T) {
	c := compiledFunc([]string{"a"}, false, func([]any, any, any, error, []any) (any, error) {
		return nil, nil
	})

	tests := []struct {
		name string
		spec CallSpec
	}{
		{name: "unknown constant input", spec: CallSpec{ConstantInput: map[string]any{"zz": 1}}},
		{name: "unknown data input", spec: CallSpec{DataInput: map[string]string{"zz": "k"}}},
		{name: "constant and data", spec: CallSpec{ConstantInput: map[string]any{"a": 1}, DataInput: map[string]string{"a": "k"}}},
		{name: "bad special variable", spec: CallSpec{DataInput: map[string]string{"a": "_bogus"}}},
		{name: "bad argument index", spec: CallSpec{DataInput: map[string]string{"a": "_argx"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Bind(tt.spec, c); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Bind(CallSpec{}, Compiled{Definition: Definition{ID: "x"}}); err == nil {
		t.Error("expected error for missing function")
	}
}

func TestBind_DefaultDataInput(t *testing.T) {
	c := Compiled{
		Definition: Definition{
			ID:               "d",
			Inputs:           []string{"v"},
			DefaultDataInput: map[string]string{"v": VarMethodName},
		},
		Func: func(_ []any, _, _ any, _ error, in []any) (any, error) { return in[0], nil },
	}

	bound, err := Bind(CallSpec{DataKey: "out"}, c)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	ec := newExecutionContext(t)
	if err := bound.Execute(ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v, _ := ec.Context.GetData("out"); v != "Handle" {
		t.Errorf("out = %v, want Handle", v)
	}

	bound, err = Bind(CallSpec{DataKey: "out", ConstantInput: map[string]any{"v": "fixed"}}, c)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := bound.Execute(ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v, _ := ec.Context.GetData("out"); v != "fixed" {
		t.Errorf("out = %v, want fixed", v)
	}
}

func TestNoop(t *testing.T) {
	cause := errors.New("unbindable")
	a := Noop(CallSpec{ActionID: "x", DataKey: "k"}, cause)
	if a.Applies(newExecutionContext(t)) {
		t.Error("noop must not apply")
	}
	if a.Name() != "k" {
		t.Errorf("Name() = %q, want k", a.Name())
	}
	if !errors.Is(Cause(a), cause) {
		t.Errorf("Cause() = %v", Cause(a))
	}
}

func TestCallSpec_Node(t *testing.T) {
	spec := CallSpec{
		DataKey:    "out",
		DataInput:  map[string]string{"a": "in", "b": "_this"},
		Conditions: Conditions{OnlyIfTrue: "flag"},
	}
	n := spec.Node(false)
	reads, writes, _ := n.Effective()
	if !reads["in"] || !reads["flag"] || reads["_this"] {
		t.Errorf("unexpected reads %v", reads)
	}
	if !writes["out"] {
		t.Errorf("unexpected writes %v", writes)
	}

	_, writes, _ = spec.Node(true).Effective()
	if len(writes) != 0 {
		t.Errorf("void call must write nothing, got %v", writes)
	}
}

func TestParseAccessor_Thrown(t *testing.T) {
	get, err := ParseAccessor(VarThrown)
	if err != nil {
		t.Fatalf("ParseAccessor() error = %v", err)
	}
	ec := newExecutionContext(t)
	if v := get(ec); v != nil {
		t.Errorf("no error thrown: got %#v, want nil", v)
	}
	ec.Thrown = errors.New("declined")
	if v, ok := get(ec).(error); !ok || v.Error() != "declined" {
		t.Errorf("thrown = %#v, want declined", get(ec))
	}
}
