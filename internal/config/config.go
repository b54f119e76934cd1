// Package config loads hookline configuration files: logging and telemetry
// settings, the propagation policy, action aliases and the hooks to install.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/hookline/internal/propagation"
)

// Config is the root of a hookline configuration file.
type Config struct {
	Version       int                 `yaml:"version,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
	Propagation   PropagationConfig   `yaml:"propagation,omitempty"`

	// Actions are named aliases for library actions with default inputs.
	// Hook calls may reference an alias wherever an action id is expected.
	Actions map[string]ActionAlias `yaml:"actions,omitempty"`

	Hooks []HookConfig `yaml:"hooks,omitempty"`
	Watch WatchConfig  `yaml:"watch,omitempty"`
}

// PropagationConfig describes how data keys travel between call contexts.
type PropagationConfig struct {
	// CommonTags are injected into every root context as down-propagated tags.
	CommonTags map[string]string                  `yaml:"common_tags,omitempty"`
	Keys       map[string]propagation.KeySettings `yaml:"keys,omitempty"`
}

// Policy builds the propagation policy described by the section.
func (p PropagationConfig) Policy() *propagation.StaticPolicy {
	return propagation.NewStaticPolicy(p.Keys, p.CommonTags)
}

// ActionAlias binds a configuration name to a library action.
type ActionAlias struct {
	Action    string            `yaml:"action"`
	Constants map[string]any    `yaml:"constants,omitempty"`
	Data      map[string]string `yaml:"data,omitempty"`
}

// WatchConfig controls configuration hot reload.
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms,omitempty"`
}

// Load reads, validates and decodes the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := fromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document held in memory. Format is "yaml",
// "json" or "json5". Includes are not resolved.
func Parse(data []byte, format string) (*Config, error) {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" || format == "yml" {
		format = "yaml"
	}
	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), "config."+format)
	if err != nil {
		return nil, err
	}
	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}
	if len(includes) > 0 {
		return nil, fmt.Errorf("%s requires loading from a file", includeKey)
	}
	return fromRaw(raw)
}

func fromRaw(raw map[string]any) (*Config, error) {
	if err := ValidateRaw(raw); err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "hookline"
	}
	if cfg.Observability.Tracing.Endpoint != "" && cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	if cfg.Observability.Metrics.ListenAddr == "" {
		cfg.Observability.Metrics.ListenAddr = ":9464"
	}
	if cfg.Watch.DebounceMs <= 0 {
		cfg.Watch.DebounceMs = 250
	}
}
