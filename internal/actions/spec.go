// Package actions binds configured action calls to compiled actions and
// executes them against a single instrumented call.
package actions

import (
	"context"
	"strconv"
	"strings"

	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/depgraph"
)

// Phase is one of the six execution points around an instrumented call.
type Phase string

const (
	PhasePreEntry  Phase = "pre_entry"
	PhaseEntry     Phase = "entry"
	PhasePostEntry Phase = "post_entry"
	PhasePreExit   Phase = "pre_exit"
	PhaseExit      Phase = "exit"
	PhasePostExit  Phase = "post_exit"
)

// Phases returns all phases in execution order.
func Phases() []Phase {
	return []Phase{PhasePreEntry, PhaseEntry, PhasePostEntry, PhasePreExit, PhaseExit, PhasePostExit}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePreEntry, PhaseEntry, PhasePostEntry, PhasePreExit, PhaseExit, PhasePostExit:
		return true
	}
	return false
}

// Special input expressions resolved from the call instead of the context data.
const (
	VarArgs        = "_args"
	VarThis        = "_this"
	VarReturnValue = "_returnValue"
	VarThrown      = "_thrown"
	VarContext     = "_context"
	VarCtx         = "_ctx"
	VarMethodName  = "_methodName"
	VarClass       = "_class"
	varArgPrefix   = "_arg"
)

// Conditions gate the execution of an action on context data.
type Conditions struct {
	OnlyIfNull    string `yaml:"only_if_null" json:"only_if_null,omitempty"`
	OnlyIfNotNull string `yaml:"only_if_not_null" json:"only_if_not_null,omitempty"`
	OnlyIfTrue    string `yaml:"only_if_true" json:"only_if_true,omitempty"`
	OnlyIfFalse   string `yaml:"only_if_false" json:"only_if_false,omitempty"`
}

// Keys returns the data keys referenced by the conditions.
func (c Conditions) Keys() []string {
	var keys []string
	for _, k := range []string{c.OnlyIfNull, c.OnlyIfNotNull, c.OnlyIfTrue, c.OnlyIfFalse} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Empty reports whether no condition is set.
func (c Conditions) Empty() bool {
	return len(c.Keys()) == 0
}

// Met evaluates the conditions against a context.
func (c Conditions) Met(ctx *callctx.Context) bool {
	if c.OnlyIfNull != "" && !isNull(ctx, c.OnlyIfNull) {
		return false
	}
	if c.OnlyIfNotNull != "" && isNull(ctx, c.OnlyIfNotNull) {
		return false
	}
	if c.OnlyIfTrue != "" {
		v, _ := ctx.GetData(c.OnlyIfTrue)
		if b, ok := v.(bool); !ok || !b {
			return false
		}
	}
	if c.OnlyIfFalse != "" {
		v, _ := ctx.GetData(c.OnlyIfFalse)
		if b, ok := v.(bool); !ok || b {
			return false
		}
	}
	return true
}

func isNull(ctx *callctx.Context, key string) bool {
	v, ok := ctx.GetData(key)
	return !ok || v == nil
}

// CallSpec is one configured invocation of an action. It is immutable once
// built and shared by every call of the hook it belongs to.
type CallSpec struct {
	// Name labels the call in logs and errors. Defaults to DataKey, then
	// ActionID.
	Name string

	ActionID string
	DataKey  string
	Phase    Phase

	ConstantInput map[string]any
	DataInput     map[string]string

	Reads              map[string]bool
	Writes             map[string]bool
	ReadsBeforeWritten map[string]bool

	Conditions
}

// Label returns the display name of the call.
func (s CallSpec) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.DataKey != "":
		return s.DataKey
	default:
		return s.ActionID
	}
}

// Node returns the dependency description of the call. A void call writes
// nothing implicitly.
func (s CallSpec) Node(void bool) depgraph.Node {
	var reads []string
	for _, expr := range s.DataInput {
		if key, ok := DataKeyOf(expr); ok {
			reads = append(reads, key)
		}
	}
	reads = append(reads, s.Conditions.Keys()...)

	var writes []string
	if !void && s.DataKey != "" {
		writes = []string{s.DataKey}
	}

	return depgraph.Node{
		Name:               s.Label(),
		ImplicitReads:      reads,
		ImplicitWrites:     writes,
		Reads:              s.Reads,
		Writes:             s.Writes,
		ReadsBeforeWritten: s.ReadsBeforeWritten,
	}
}

// ExecutionContext is everything an action can see of one call. It is built
// at entry, extended with the outcome at exit and dropped afterwards.
type ExecutionContext struct {
	// Ctx is the Go context handed to actions. It carries the recursion
	// gate, so instrumented code called from an action does not re-enter
	// hooks.
	Ctx context.Context

	Args        []any
	Receiver    any
	ReturnValue any
	Thrown      error

	// Context is the call's data scope.
	Context *callctx.Context

	Type   string
	Method string
}

// Accessor reads one argument value from a call.
type Accessor func(ec *ExecutionContext) any

// DataKeyOf reports whether expr refers to context data rather than to a
// special variable, and returns the key.
func DataKeyOf(expr string) (string, bool) {
	if expr == "" || strings.HasPrefix(expr, "_") {
		return "", false
	}
	return expr, true
}

// ParseAccessor turns an input expression into an Accessor.
func ParseAccessor(expr string) (Accessor, error) {
	switch expr {
	case VarArgs:
		return func(ec *ExecutionContext) any { return ec.Args }, nil
	case VarThis:
		return func(ec *ExecutionContext) any { return ec.Receiver }, nil
	case VarReturnValue:
		return func(ec *ExecutionContext) any { return ec.ReturnValue }, nil
	case VarThrown:
		return func(ec *ExecutionContext) any { return ec.Thrown }, nil
	case VarContext:
		return func(ec *ExecutionContext) any { return ec.Context }, nil
	case VarCtx:
		return func(ec *ExecutionContext) any { return ec.Ctx }, nil
	case VarMethodName:
		return func(ec *ExecutionContext) any { return ec.Method }, nil
	case VarClass:
		return func(ec *ExecutionContext) any { return ec.Type }, nil
	}

	if strings.HasPrefix(expr, varArgPrefix) {
		idx, err := strconv.Atoi(strings.TrimPrefix(expr, varArgPrefix))
		if err != nil || idx < 0 {
			return nil, &InputError{Expr: expr, Reason: "invalid argument index"}
		}
		return func(ec *ExecutionContext) any {
			if idx >= len(ec.Args) {
				return nil
			}
			return ec.Args[idx]
		}, nil
	}

	key, ok := DataKeyOf(expr)
	if !ok {
		return nil, &InputError{Expr: expr, Reason: "unknown special variable"}
	}
	return func(ec *ExecutionContext) any {
		v, _ := ec.Context.GetData(key)
		return v
	}, nil
}
