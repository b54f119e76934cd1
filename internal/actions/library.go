package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Func is a compiled action. additional holds the bound inputs in the order
// of the definition's Inputs. A Func must not modify additional: bindings
// with constant inputs only pass the same slice to every call, including
// concurrent ones.
type Func func(args []any, receiver, returnValue any, thrown error, additional []any) (any, error)

// Recorder pushes a named measurement. It is the metric collaborator used by
// the record_metric action.
type Recorder interface {
	Record(ctx context.Context, name string, value float64, tags map[string]string) error
}

// Environment is what compiled actions may depend on. Compiled forms are
// cached per environment name.
type Environment struct {
	Name     string
	Recorder Recorder
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Definition declares an action.
type Definition struct {
	ID string

	// Inputs are the names of the additional arguments, in call order.
	Inputs []string

	// DefaultDataInput supplies input expressions a call does not set itself.
	DefaultDataInput map[string]string

	// Void actions produce no value to store.
	Void bool

	// Compile produces the callable form for an environment.
	Compile func(env *Environment) (Func, error)
}

// Compiled is a definition together with its callable form.
type Compiled struct {
	Definition Definition
	Func       Func
}

// Library resolves action ids to compiled actions. It plays the part of the
// action compiler: compiled forms are cached per (action id, environment) and
// concurrent compiles of the same key are collapsed.
type Library struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	cache map[string]Compiled
	group singleflight.Group
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		defs:  make(map[string]Definition),
		cache: make(map[string]Compiled),
	}
}

// Register adds or replaces a definition and drops its cached forms.
func (l *Library) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if def.Compile == nil {
		return fmt.Errorf("action %s: compile function is required", def.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[def.ID] = def
	for key, c := range l.cache {
		if c.Definition.ID == def.ID {
			delete(l.cache, key)
		}
	}
	return nil
}

// RegisterFunc registers an action that does not depend on the environment.
func (l *Library) RegisterFunc(id string, inputs []string, void bool, fn Func) error {
	return l.Register(Definition{
		ID:     id,
		Inputs: inputs,
		Void:   void,
		Compile: func(*Environment) (Func, error) {
			return fn, nil
		},
	})
}

// Definition returns the definition registered under id.
func (l *Library) Definition(id string) (Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.defs[id]
	return def, ok
}

// IDs returns the registered action ids, sorted.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.defs))
	for id := range l.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compile returns the compiled form of id for env.
func (l *Library) Compile(id string, env *Environment) (Compiled, error) {
	if env == nil {
		env = &Environment{}
	}
	key := id + "@" + env.Name

	l.mu.RLock()
	if c, ok := l.cache[key]; ok {
		l.mu.RUnlock()
		return c, nil
	}
	def, ok := l.defs[id]
	l.mu.RUnlock()
	if !ok {
		return Compiled{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		fn, err := def.Compile(env)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", id, err)
		}
		if fn == nil {
			return nil, fmt.Errorf("compile %s: no function produced", id)
		}
		c := Compiled{Definition: def, Func: fn}
		l.mu.Lock()
		l.cache[key] = c
		l.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return Compiled{}, err
	}
	return v.(Compiled), nil
}

// Reset drops every cached compiled form.
func (l *Library) Reset() {
	l.mu.Lock()
	l.cache = make(map[string]Compiled)
	l.mu.Unlock()
}

// CachedCount returns the number of cached compiled forms.
func (l *Library) CachedCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}
