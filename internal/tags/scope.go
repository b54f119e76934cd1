// Package tags publishes a projection of call context data as ambient tags.
//
// A tag scope is a nested key/value overlay attached to a Go context. Code that
// only sees the context (log handlers, span processors, outgoing clients) can
// read the active tags with FromContext. Scopes are mirrored into OpenTelemetry
// baggage so that tracers and propagators pick them up without knowing about
// this package.
//
// Scopes nest strictly: a scope may only be closed once every scope opened
// inside it has been closed.
package tags

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync/atomic"

	"go.opentelemetry.io/otel/baggage"
)

var (
	// ErrScopeOrder is returned when a scope is closed while scopes opened
	// inside it are still open.
	ErrScopeOrder = errors.New("tags: scope closed out of order")

	// ErrScopeClosed is returned when a scope is closed twice.
	ErrScopeClosed = errors.New("tags: scope already closed")
)

type scopeKey struct{}

// Scope is one open overlay of ambient tags.
type Scope struct {
	parent *Scope
	own    map[string]string
	all    map[string]string

	openChildren atomic.Int32
	closed       atomic.Bool
}

// OpenScope projects values onto a new scope nested in the scope of ctx, if
// any. Values that are not primitive are skipped. The returned context carries
// the scope and the matching baggage members.
func OpenScope(ctx context.Context, values map[string]any) (context.Context, *Scope) {
	parent := activeScope(ctx)

	own := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := Format(v); ok {
			own[k] = s
		}
	}

	all := make(map[string]string, len(own))
	if parent != nil {
		maps.Copy(all, parent.all)
		parent.openChildren.Add(1)
	}
	maps.Copy(all, own)

	s := &Scope{parent: parent, own: own, all: all}
	ctx = context.WithValue(ctx, scopeKey{}, s)
	return withBaggage(ctx, own), s
}

// Close removes the overlay. The tags visible through contexts derived from
// the scope fall back to the enclosing scope.
func (s *Scope) Close() error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrScopeClosed
	}
	if s.openChildren.Load() > 0 {
		return ErrScopeOrder
	}
	if !s.closed.CompareAndSwap(false, true) {
		return ErrScopeClosed
	}
	if s.parent != nil {
		s.parent.openChildren.Add(-1)
	}
	return nil
}

// Detach closes the scope even while scopes opened inside it are still open.
// Those scopes keep the tags they were opened with. It reports whether any
// nested scope was still open.
func (s *Scope) Detach() bool {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return false
	}
	if s.parent != nil {
		s.parent.openChildren.Add(-1)
	}
	return s.openChildren.Load() > 0
}

// Closed reports whether the scope has been closed.
func (s *Scope) Closed() bool {
	return s.closed.Load()
}

// Tags returns a copy of the tags contributed by this scope alone.
func (s *Scope) Tags() map[string]string {
	return maps.Clone(s.own)
}

// FromContext returns the ambient tags of ctx: the merged tags of the
// innermost scope that is still open. The result is a copy.
func FromContext(ctx context.Context) map[string]string {
	s := activeScope(ctx)
	if s == nil {
		return map[string]string{}
	}
	return maps.Clone(s.all)
}

// Keys returns the sorted ambient tag keys of ctx.
func Keys(ctx context.Context) []string {
	t := FromContext(ctx)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func activeScope(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	for s != nil && s.closed.Load() {
		s = s.parent
	}
	return s
}

func withBaggage(ctx context.Context, own map[string]string) context.Context {
	if len(own) == 0 {
		return ctx
	}
	bag := baggage.FromContext(ctx)
	for k, v := range own {
		m, err := baggage.NewMemberRaw(k, v)
		if err != nil {
			continue
		}
		if next, err := bag.SetMember(m); err == nil {
			bag = next
		}
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
