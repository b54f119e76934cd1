// Package callctx holds the data scope of instrumented calls.
//
// Every instrumented invocation owns a Context. A Context inherits a snapshot
// of its parent's down-propagated data when it is opened, collects local
// writes while the call runs, and hands up-propagated values back to the
// parent when it is closed. The parent link is weak: a Context never keeps its
// ancestors alive, so long asynchronous chains do not pin memory.
//
// The "current" Context of a flow of control is carried by a Go
// context.Context. Goroutines see the Context they were handed and nothing
// else; handing a retained Context to another goroutine and calling
// MakeCurrent there is the supported way to correlate async work with the
// call that spawned it.
package callctx

import (
	"errors"
	"maps"
	"sync"
	"weak"

	"github.com/haasonsaas/hookline/internal/tags"
)

var (
	// ErrClosed is returned when writing to a closed Context.
	ErrClosed = errors.New("callctx: context is closed")

	// ErrNoop is returned when writing to the Noop sentinel.
	ErrNoop = errors.New("callctx: write to noop context")
)

// Noop is the sentinel returned when a hook short-circuits, for example
// because the recursion gate is set. It holds no data and closing it does
// nothing.
var Noop = &Context{id: "noop", noop: true, closed: true}

// Context is the propagated data of one logical invocation.
type Context struct {
	id        string
	noop      bool
	manager   *Manager
	parent    weak.Pointer[Context]
	hasParent bool

	mu        sync.RWMutex
	inherited map[string]any
	local     map[string]any
	closed    bool
	tagScope  *tags.Scope
	enclosing *Context
}

// ID returns the unique id of the Context.
func (c *Context) ID() string {
	return c.id
}

// IsNoop reports whether c is the Noop sentinel.
func (c *Context) IsNoop() bool {
	return c == nil || c.noop
}

// Parent returns the parent Context if it is still reachable.
func (c *Context) Parent() *Context {
	if c.IsNoop() || !c.hasParent {
		return nil
	}
	return c.parent.Value()
}

// HasParent reports whether the Context was opened under another Context.
func (c *Context) HasParent() bool {
	return !c.IsNoop() && c.hasParent
}

// GetData returns the visible value of key: the local value if one was
// written, otherwise the value inherited when the Context was opened.
func (c *Context) GetData(key string) (any, bool) {
	if c.IsNoop() {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.local[key]; ok {
		return v, true
	}
	v, ok := c.inherited[key]
	return v, ok
}

// SetData writes a local value.
func (c *Context) SetData(key string, value any) error {
	if c.IsNoop() {
		return ErrNoop
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.local[key] = value
	return nil
}

// Data returns a copy of every visible entry.
func (c *Context) Data() map[string]any {
	if c.IsNoop() {
		return map[string]any{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visibleLocked()
}

// LocalData returns a copy of the entries written in this Context.
func (c *Context) LocalData() map[string]any {
	if c.IsNoop() {
		return map[string]any{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.local)
}

// Closed reports whether the Context has been closed.
func (c *Context) Closed() bool {
	if c.IsNoop() {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// TagScopeActive reports whether the Context currently publishes tags.
func (c *Context) TagScopeActive() bool {
	if c.IsNoop() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tagScope != nil
}

// Enclosing returns the Context that was current when c was made current.
func (c *Context) Enclosing() *Context {
	if c.IsNoop() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enclosing
}

// Manager returns the Manager that opened the Context.
func (c *Context) Manager() *Manager {
	if c.IsNoop() {
		return nil
	}
	return c.manager
}

func (c *Context) visibleLocked() map[string]any {
	out := make(map[string]any, len(c.inherited)+len(c.local))
	maps.Copy(out, c.inherited)
	maps.Copy(out, c.local)
	return out
}

// receiveUp stores values propagated up from a closing child. It returns
// false when the Context is already closed and the values were dropped.
func (c *Context) receiveUp(values map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	maps.Copy(c.local, values)
	return true
}
