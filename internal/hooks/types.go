// Package hooks runs configured actions around instrumented method calls.
package hooks

import (
	"errors"
	"strings"

	"github.com/haasonsaas/hookline/internal/actions"
)

var (
	// ErrStaleContext is returned by OnExit for a Context that is already
	// closed.
	ErrStaleContext = errors.New("hooks: context already closed")

	// ErrForeignContext is returned by OnExit for a Context opened by a
	// different context manager.
	ErrForeignContext = errors.New("hooks: context not opened by this hook's manager")
)

// Method identifies an instrumented method by its declaring type and
// signature.
type Method struct {
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

// String returns Type.Signature.
func (m Method) String() string {
	if m.Type == "" {
		return m.Signature
	}
	return m.Type + "." + m.Signature
}

// Name returns the method name without its parameter list.
func (m Method) Name() string {
	if i := strings.IndexByte(m.Signature, '('); i >= 0 {
		return m.Signature[:i]
	}
	return m.Signature
}

// Observer receives self-monitoring signals from hooks.
type Observer interface {
	ActionExecuted(phase actions.Phase, action string, err error)
	RecursionBlocked(method Method)
	HookBuilt(method Method, err error)
}

type nopObserver struct{}

func (nopObserver) ActionExecuted(actions.Phase, string, error) {}
func (nopObserver) RecursionBlocked(Method)                     {}
func (nopObserver) HookBuilt(Method, error)                     {}

// Configuration is the immutable set of bound actions of one method, ordered
// per phase.
type Configuration struct {
	phases [6][]actions.BoundAction
}

func phaseIndex(p actions.Phase) int {
	switch p {
	case actions.PhasePreEntry:
		return 0
	case actions.PhaseEntry:
		return 1
	case actions.PhasePostEntry:
		return 2
	case actions.PhasePreExit:
		return 3
	case actions.PhaseExit:
		return 4
	case actions.PhasePostExit:
		return 5
	}
	return -1
}

// NewConfiguration creates a configuration from already ordered phase lists.
// Unknown phases are ignored.
func NewConfiguration(phases map[actions.Phase][]actions.BoundAction) *Configuration {
	c := &Configuration{}
	for p, list := range phases {
		if i := phaseIndex(p); i >= 0 {
			c.phases[i] = append([]actions.BoundAction(nil), list...)
		}
	}
	return c
}

// Actions returns a copy of the ordered actions of a phase.
func (c *Configuration) Actions(p actions.Phase) []actions.BoundAction {
	i := phaseIndex(p)
	if c == nil || i < 0 {
		return nil
	}
	return append([]actions.BoundAction(nil), c.phases[i]...)
}

func (c *Configuration) phase(p actions.Phase) []actions.BoundAction {
	if c == nil {
		return nil
	}
	return c.phases[phaseIndex(p)]
}

// Len returns the number of actions across all phases.
func (c *Configuration) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, list := range c.phases {
		n += len(list)
	}
	return n
}
