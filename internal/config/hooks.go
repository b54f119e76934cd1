package config

import (
	"fmt"
	"maps"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/hooks"
)

// HookConfig lists the action calls of one instrumented method per phase.
type HookConfig struct {
	Type   string `yaml:"type"`
	Method string `yaml:"method"`

	PreEntry  []CallConfig `yaml:"pre_entry,omitempty"`
	Entry     []CallConfig `yaml:"entry,omitempty"`
	PostEntry []CallConfig `yaml:"post_entry,omitempty"`
	PreExit   []CallConfig `yaml:"pre_exit,omitempty"`
	Exit      []CallConfig `yaml:"exit,omitempty"`
	PostExit  []CallConfig `yaml:"post_exit,omitempty"`
}

// CallConfig is one configured action call.
type CallConfig struct {
	Name      string            `yaml:"name,omitempty"`
	Action    string            `yaml:"action"`
	DataKey   string            `yaml:"data_key,omitempty"`
	Constants map[string]any    `yaml:"constants,omitempty"`
	Data      map[string]string `yaml:"data,omitempty"`

	Reads              KeyOverrides `yaml:"reads,omitempty"`
	Writes             KeyOverrides `yaml:"writes,omitempty"`
	ReadsBeforeWritten KeyOverrides `yaml:"reads_before_written,omitempty"`

	OnlyIfNull    string `yaml:"only_if_null,omitempty"`
	OnlyIfNotNull string `yaml:"only_if_not_null,omitempty"`
	OnlyIfTrue    string `yaml:"only_if_true,omitempty"`
	OnlyIfFalse   string `yaml:"only_if_false,omitempty"`
}

// Target returns the instrumented method the hook applies to.
func (h HookConfig) Target() hooks.Method {
	return hooks.Method{Type: h.Type, Signature: h.Method}
}

// Calls returns the configured calls of a phase.
func (h HookConfig) Calls(phase actions.Phase) []CallConfig {
	switch phase {
	case actions.PhasePreEntry:
		return h.PreEntry
	case actions.PhaseEntry:
		return h.Entry
	case actions.PhasePostEntry:
		return h.PostEntry
	case actions.PhasePreExit:
		return h.PreExit
	case actions.PhaseExit:
		return h.Exit
	case actions.PhasePostExit:
		return h.PostExit
	}
	return nil
}

// CallSpecs resolves the hook's calls into call specs in phase order.
// Calls naming an alias use the alias' action, with the alias inputs
// overridden by the call's own.
func (h HookConfig) CallSpecs(aliases map[string]ActionAlias) []actions.CallSpec {
	var specs []actions.CallSpec
	for _, phase := range actions.Phases() {
		for _, call := range h.Calls(phase) {
			specs = append(specs, call.Spec(phase, aliases))
		}
	}
	return specs
}

// Spec resolves the call against the alias table.
func (c CallConfig) Spec(phase actions.Phase, aliases map[string]ActionAlias) actions.CallSpec {
	id := c.Action
	constants := map[string]any{}
	data := map[string]string{}
	if alias, ok := aliases[c.Action]; ok {
		id = alias.Action
		maps.Copy(constants, alias.Constants)
		maps.Copy(data, alias.Data)
	}
	for input, v := range c.Constants {
		constants[input] = v
		delete(data, input)
	}
	for input, expr := range c.Data {
		data[input] = expr
		delete(constants, input)
	}

	return actions.CallSpec{
		Name:               c.Name,
		ActionID:           id,
		DataKey:            c.DataKey,
		Phase:              phase,
		ConstantInput:      constants,
		DataInput:          data,
		Reads:              c.Reads.overrides(),
		Writes:             c.Writes.overrides(),
		ReadsBeforeWritten: c.ReadsBeforeWritten.overrides(),
		Conditions: actions.Conditions{
			OnlyIfNull:    c.OnlyIfNull,
			OnlyIfNotNull: c.OnlyIfNotNull,
			OnlyIfTrue:    c.OnlyIfTrue,
			OnlyIfFalse:   c.OnlyIfFalse,
		},
	}
}

// KeyOverrides declares the data keys a call reads or writes beyond what its
// inputs imply. A list of keys sets each one; a mapping may also set a key to
// false to drop an implied read or write:
//
//	reads: [elapsed]
//	reads: {elapsed: true, start: false}
type KeyOverrides map[string]bool

// UnmarshalYAML accepts a list of keys or a key to bool mapping.
func (k *KeyOverrides) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var keys []string
		if err := value.Decode(&keys); err != nil {
			return err
		}
		out := make(KeyOverrides, len(keys))
		for _, key := range keys {
			out[key] = true
		}
		*k = out
		return nil
	case yaml.MappingNode:
		var m map[string]bool
		if err := value.Decode(&m); err != nil {
			return err
		}
		*k = m
		return nil
	}
	return fmt.Errorf("line %d: expected a list of keys or a mapping of key to bool", value.Line)
}

// JSONSchema describes both accepted forms.
func (KeyOverrides) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			{Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "boolean"}},
		},
	}
}

func (k KeyOverrides) overrides() map[string]bool {
	if len(k) == 0 {
		return nil
	}
	return maps.Clone(map[string]bool(k))
}
