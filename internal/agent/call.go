package agent

import (
	"context"

	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/hooks"
)

// Call is one instrumented invocation between Enter and Exit.
type Call struct {
	ctx      context.Context
	hook     *hooks.MethodHook
	c        *callctx.Context
	args     []any
	receiver any
}

// Ctx returns the context to run the instrumented body with. It carries the
// call's data scope and ambient tags.
func (c *Call) Ctx() context.Context { return c.ctx }

// Context returns the call's data scope, callctx.Noop when no hook ran.
func (c *Call) Context() *callctx.Context { return c.c }

// Hooked reports whether a hook handled the call.
func (c *Call) Hooked() bool { return c.hook != nil && !c.c.IsNoop() }

// Exit runs the exit side of the hook with the outcome of the call and closes
// its context. Exiting twice returns hooks.ErrStaleContext.
func (c *Call) Exit(returnValue any, thrown error) error {
	if c.hook == nil {
		return nil
	}
	return c.hook.OnExit(c.ctx, c.args, c.receiver, returnValue, thrown, c.c)
}
