package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/tags"
)

type gateKey struct{}

// Gate returns a context in which hooks short-circuit. Actions always run
// with a gated context, so instrumented code they call does not re-enter
// hooks.
func Gate(ctx context.Context) context.Context {
	if Gated(ctx) {
		return ctx
	}
	return context.WithValue(ctx, gateKey{}, true)
}

// Gated reports whether the recursion gate is set in ctx.
func Gated(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(gateKey{}).(bool)
	return v
}

// MethodHook executes the configured actions of one method. A MethodHook is
// safe for concurrent calls; its configuration never changes after creation.
type MethodHook struct {
	id       string
	method   Method
	config   *Configuration
	manager  *callctx.Manager
	logger   *slog.Logger
	observer Observer

	calls atomic.Uint64
	// active is shared with ResetCopy copies so calls in flight across a swap
	// are counted once whichever hook they exit through.
	active *atomic.Int64
}

// HookOption configures a MethodHook.
type HookOption func(*MethodHook)

// WithLogger sets the hook logger.
func WithLogger(logger *slog.Logger) HookOption {
	return func(h *MethodHook) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver sets the self-monitoring observer.
func WithObserver(o Observer) HookOption {
	return func(h *MethodHook) {
		if o != nil {
			h.observer = o
		}
	}
}

// NewMethodHook creates a hook for method.
func NewMethodHook(method Method, config *Configuration, manager *callctx.Manager, opts ...HookOption) *MethodHook {
	h := &MethodHook{
		id:       uuid.New().String(),
		method:   method,
		config:   config,
		manager:  manager,
		logger:   slog.Default(),
		observer: nopObserver{},
		active:   new(atomic.Int64),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hooks", "method", method.String())
	return h
}

// ID returns the registration id of the hook.
func (h *MethodHook) ID() string { return h.id }

// Method returns the hooked method.
func (h *MethodHook) Method() Method { return h.method }

// Configuration returns the bound actions of the hook.
func (h *MethodHook) Configuration() *Configuration { return h.config }

// Manager returns the context manager of the hook.
func (h *MethodHook) Manager() *callctx.Manager { return h.manager }

// Calls returns the number of entries that ran actions.
func (h *MethodHook) Calls() uint64 { return h.calls.Load() }

// Active returns the number of calls entered and not yet exited.
func (h *MethodHook) Active() int64 { return h.active.Load() }

// ResetCopy returns a hook sharing the bound actions under a new id with a
// fresh call count. Calls still in flight stay counted by Active on both.
func (h *MethodHook) ResetCopy() *MethodHook {
	return &MethodHook{
		id:       uuid.New().String(),
		method:   h.method,
		config:   h.config,
		manager:  h.manager,
		logger:   h.logger,
		observer: h.observer,
		active:   h.active,
	}
}

// OnEnter runs the entry phases for a call. It opens the call's Context, runs
// the pre-entry, entry and post-entry actions and then makes the Context
// current with its tag scope open. The returned context must be handed to
// the instrumented body and to OnExit.
//
// With the recursion gate set, OnEnter returns ctx unchanged and
// callctx.Noop without running any action.
func (h *MethodHook) OnEnter(ctx context.Context, args []any, receiver any) (context.Context, *callctx.Context) {
	if h.manager == nil {
		panic(fmt.Sprintf("hooks: hook for %s has no context manager", h.method))
	}
	if Gated(ctx) {
		h.observer.RecursionBlocked(h.method)
		return ctx, callctx.Noop
	}

	h.calls.Add(1)
	c := h.manager.Open(ctx)
	ec := &actions.ExecutionContext{
		Ctx:      Gate(ctx),
		Args:     args,
		Receiver: receiver,
		Context:  c,
		Type:     h.method.Type,
		Method:   h.method.Name(),
	}
	h.run(ec, actions.PhasePreEntry)
	h.run(ec, actions.PhaseEntry)
	h.run(ec, actions.PhasePostEntry)

	h.active.Add(1)
	return h.manager.MakeCurrent(ctx, c, true), c
}

// OnExit runs the exit phases for a call and closes its Context. ctx should
// be the context returned by OnEnter.
func (h *MethodHook) OnExit(ctx context.Context, args []any, receiver, returnValue any, thrown error, c *callctx.Context) error {
	if c.IsNoop() {
		return nil
	}
	if h.manager == nil {
		panic(fmt.Sprintf("hooks: hook for %s has no context manager", h.method))
	}
	if c.Manager() != h.manager {
		return ErrForeignContext
	}
	if c.Closed() {
		return ErrStaleContext
	}

	ec := &actions.ExecutionContext{
		Ctx:         Gate(ctx),
		Args:        args,
		Receiver:    receiver,
		ReturnValue: returnValue,
		Thrown:      thrown,
		Context:     c,
		Type:        h.method.Type,
		Method:      h.method.Name(),
	}
	h.run(ec, actions.PhasePreExit)
	h.run(ec, actions.PhaseExit)
	h.run(ec, actions.PhasePostExit)

	err := h.manager.Close(c)
	if c.Closed() {
		h.active.Add(-1)
	}
	if errors.Is(err, tags.ErrScopeOrder) {
		// Calls handed off to other goroutines may outlive this one.
		h.logger.Debug("call exited before nested calls", "context_id", c.ID())
		return nil
	}
	return err
}

func (h *MethodHook) run(ec *actions.ExecutionContext, phase actions.Phase) {
	for _, a := range h.config.phase(phase) {
		if !a.Applies(ec) {
			continue
		}
		err := execute(a, ec)
		h.observer.ActionExecuted(phase, a.Name(), err)
		if err != nil {
			h.logger.Warn("action failed",
				"phase", phase,
				"action", a.Name(),
				"context_id", ec.Context.ID(),
				"error", err)
		}
	}
}

func execute(a actions.BoundAction, ec *actions.ExecutionContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &actions.ExecutionError{Call: a.Name(), Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return a.Execute(ec)
}
