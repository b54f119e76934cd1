package hooks

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps instrumented methods to their hooks. Lookups are lock free;
// installing or removing a hook publishes a new map, so calls already inside
// a hook keep the hook they entered with.
type Registry struct {
	hooks  atomic.Pointer[map[Method]*MethodHook]
	logger atomic.Pointer[slog.Logger]
	mu     sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{}
	r.SetLogger(logger)
	empty := make(map[Method]*MethodHook)
	r.hooks.Store(&empty)
	return r
}

// SetLogger replaces the registry logger. It is safe to call while hooks are
// being installed.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger.Store(logger.With("component", "hooks"))
}

func (r *Registry) log() *slog.Logger {
	return r.logger.Load()
}

// Lookup returns the hook installed for method.
func (r *Registry) Lookup(method Method) (*MethodHook, bool) {
	h, ok := (*r.hooks.Load())[method]
	return h, ok
}

// Install sets the hook of its method and returns the hook it replaced.
func (r *Registry) Install(hook *MethodHook) *MethodHook {
	var prev *MethodHook
	r.update(func(m map[Method]*MethodHook) {
		prev = m[hook.Method()]
		m[hook.Method()] = hook
	})
	r.log().Debug("installed hook",
		"id", hook.ID(),
		"method", hook.Method().String(),
		"actions", hook.Configuration().Len())
	return prev
}

// Remove deletes the hook of method.
func (r *Registry) Remove(method Method) bool {
	var removed bool
	r.update(func(m map[Method]*MethodHook) {
		if _, removed = m[method]; removed {
			delete(m, method)
		}
	})
	if removed {
		r.log().Debug("removed hook", "method", method.String())
	}
	return removed
}

// Retain removes every hook whose method is not in keep.
func (r *Registry) Retain(keep map[Method]bool) []Method {
	var removed []Method
	r.update(func(m map[Method]*MethodHook) {
		for method := range m {
			if !keep[method] {
				delete(m, method)
				removed = append(removed, method)
			}
		}
	})
	return removed
}

// Reset replaces every hook with a copy that has fresh bookkeeping.
func (r *Registry) Reset() {
	r.update(func(m map[Method]*MethodHook) {
		for method, h := range m {
			m[method] = h.ResetCopy()
		}
	})
	r.log().Debug("reset hooks")
}

// Clear removes all hooks.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	empty := make(map[Method]*MethodHook)
	r.hooks.Store(&empty)
	r.log().Debug("cleared all hooks")
}

// Len returns the number of installed hooks.
func (r *Registry) Len() int {
	return len(*r.hooks.Load())
}

// List returns the installed hooks ordered by method.
func (r *Registry) List() []*MethodHook {
	m := *r.hooks.Load()
	result := make([]*MethodHook, 0, len(m))
	for _, h := range m {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Method().String() < result[j].Method().String()
	})
	return result
}

func (r *Registry) update(fn func(map[Method]*MethodHook)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.hooks.Load()
	next := make(map[Method]*MethodHook, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	fn(next)
	r.hooks.Store(&next)
}
