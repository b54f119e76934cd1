package callctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"weak"

	"github.com/google/uuid"

	"github.com/haasonsaas/hookline/internal/propagation"
	"github.com/haasonsaas/hookline/internal/tags"
)

type currentKey struct{}

// Observer receives self-monitoring signals from a Manager.
type Observer interface {
	ContextOpened()
	UpPropagationDropped(key string)
}

// Manager opens, activates and closes Contexts according to a propagation
// policy. A Manager keeps no references to the Contexts it creates.
type Manager struct {
	policy   propagation.Policy
	logger   *slog.Logger
	observer Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver sets the self-monitoring observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates a Manager. A nil policy propagates nothing.
func NewManager(policy propagation.Policy, opts ...Option) *Manager {
	if policy == nil {
		policy = propagation.NewStaticPolicy(nil, nil)
	}
	m := &Manager{
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "callctx")
	return m
}

// Policy returns the propagation policy of the Manager.
func (m *Manager) Policy() propagation.Policy {
	return m.policy
}

// Current returns the current Context of ctx, or nil.
func Current(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(currentKey{}).(*Context)
	return c
}

// Open creates a Context whose parent is the current Context of ctx. The new
// Context sees the common tags plus every value of the parent that the policy
// propagates down, as they are at this moment.
func (m *Manager) Open(ctx context.Context) *Context {
	inherited := make(map[string]any)
	for k, v := range m.policy.CommonTags() {
		inherited[k] = v
	}

	c := &Context{
		id:        uuid.NewString(),
		manager:   m,
		inherited: inherited,
		local:     make(map[string]any),
	}

	if parent := Current(ctx); !parent.IsNoop() {
		c.parent = weak.Make(parent)
		c.hasParent = true
		for k, v := range parent.Data() {
			if m.policy.IsPropagatedDown(k) {
				inherited[k] = v
			}
		}
	}

	if m.observer != nil {
		m.observer.ContextOpened()
	}
	return c
}

// MakeCurrent returns a context in which c is current. The previously current
// Context is kept as c's enclosing Context until c is closed. With
// openTagScope, every visible key the policy marks as a tag and whose value is
// primitive is published as an ambient tag until c is closed.
func (m *Manager) MakeCurrent(ctx context.Context, c *Context, openTagScope bool) context.Context {
	if c.IsNoop() {
		return ctx
	}
	prev := Current(ctx)

	var tagValues map[string]any
	if openTagScope {
		tagValues = make(map[string]any)
		for k, v := range c.Data() {
			if m.policy.IsTag(k) && tags.IsPrimitive(v) {
				tagValues[k] = v
			}
		}
	}

	ctx = context.WithValue(ctx, currentKey{}, c)

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev != c {
		c.enclosing = prev
	}
	if openTagScope && c.tagScope == nil && !c.closed {
		ctx, c.tagScope = tags.OpenScope(ctx, tagValues)
	}
	return ctx
}

// Close closes c. Local values the policy propagates up are written into the
// parent when the parent is still reachable and open; otherwise they are
// dropped. The tag scope, if any, is closed. Closing twice is a no-op.
//
// A tag scope that still has nested scopes open, typically those of calls
// handed to other goroutines, is detached rather than left open: c is closed
// and its values propagated, and Close then reports tags.ErrScopeOrder.
func (m *Manager) Close(c *Context) error {
	if c.IsNoop() {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var scopeErr error
	if c.tagScope != nil {
		if err := c.tagScope.Close(); errors.Is(err, tags.ErrScopeOrder) {
			c.tagScope.Detach()
			scopeErr = fmt.Errorf("close context %s: %w", c.id, err)
		}
		c.tagScope = nil
	}
	c.closed = true
	c.enclosing = nil

	var up map[string]any
	for k, v := range c.local {
		if m.policy.IsPropagatedUp(k) {
			if up == nil {
				up = make(map[string]any)
			}
			up[k] = v
		}
	}
	c.mu.Unlock()

	if len(up) > 0 && c.hasParent {
		m.propagateUp(c, up)
	}
	return scopeErr
}

func (m *Manager) propagateUp(c *Context, up map[string]any) {
	parent := c.parent.Value()
	if parent != nil && parent.receiveUp(up) {
		return
	}
	for k := range up {
		m.logger.Debug("dropped up-propagation", "context_id", c.id, "key", k)
		if m.observer != nil {
			m.observer.UpPropagationDropped(k)
		}
	}
}

// GetData resolves key in c.
func (m *Manager) GetData(c *Context, key string) (any, bool) {
	return c.GetData(key)
}
