package actions

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when the library has no action with the
// requested id.
var ErrUnknownAction = errors.New("unknown action")

// InputError reports an input expression that cannot be resolved.
type InputError struct {
	Expr   string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %q: %s", e.Expr, e.Reason)
}

// BindingError reports an action call that could not be compiled or bound.
// The call is replaced by a no-op action.
type BindingError struct {
	Call     string
	ActionID string
	Err      error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("bind %s (action %s): %v", e.Call, e.ActionID, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// ExecutionError reports a failed action execution. No context data is
// written for the failing call.
type ExecutionError struct {
	Call string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Call, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
