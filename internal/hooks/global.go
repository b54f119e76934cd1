package hooks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/hookline/internal/callctx"
)

var (
	globalRegistry *Registry
	globalOnce     sync.Once
	globalMu       sync.RWMutex
)

// Global returns the process-wide hook registry.
// The registry is created lazily on first access.
func Global() *Registry {
	globalOnce.Do(func() {
		globalMu.Lock()
		if globalRegistry == nil {
			globalRegistry = NewRegistry(nil)
		}
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRegistry
}

// SetGlobalRegistry replaces the global registry.
// This should only be called during initialization.
func SetGlobalRegistry(r *Registry) {
	globalOnce.Do(func() {})
	globalMu.Lock()
	globalRegistry = r
	globalMu.Unlock()
}

// SetGlobalLogger sets the logger for the global registry.
func SetGlobalLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	Global().SetLogger(logger)
}

// Enter runs the entry side of the globally installed hook of method. Without
// a hook it returns ctx and callctx.Noop.
func Enter(ctx context.Context, method Method, args []any, receiver any) (context.Context, *callctx.Context, *MethodHook) {
	h, ok := Global().Lookup(method)
	if !ok {
		return ctx, callctx.Noop, nil
	}
	ctx, c := h.OnEnter(ctx, args, receiver)
	return ctx, c, h
}
