package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a decoded configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks the configuration for problems the schema cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return &ValidationError{Issues: []string{"config is nil"}}
	}
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	var issues []string
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		issues = append(issues, fmt.Sprintf("observability.tracing.sampling_rate %v must be between 0 and 1", r))
	}

	for key := range c.Propagation.CommonTags {
		if strings.TrimSpace(key) == "" {
			issues = append(issues, "propagation.common_tags has an empty key")
		}
	}
	for name, alias := range c.Actions {
		if strings.TrimSpace(alias.Action) == "" {
			issues = append(issues, fmt.Sprintf("actions.%s.action is required", name))
		}
		if _, chained := c.Actions[alias.Action]; chained && alias.Action != name {
			issues = append(issues, fmt.Sprintf("actions.%s refers to alias %q; aliases must name library actions", name, alias.Action))
		}
	}

	seen := make(map[string]int, len(c.Hooks))
	for i, h := range c.Hooks {
		prefix := fmt.Sprintf("hooks[%d]", i)
		if strings.TrimSpace(h.Type) == "" {
			issues = append(issues, prefix+".type is required")
		}
		if strings.TrimSpace(h.Method) == "" {
			issues = append(issues, prefix+".method is required")
		}
		target := h.Target().String()
		if first, dup := seen[target]; dup {
			issues = append(issues, fmt.Sprintf("%s duplicates hooks[%d] for %s", prefix, first, target))
		} else {
			seen[target] = i
		}
		for _, spec := range h.CallSpecs(c.Actions) {
			if strings.TrimSpace(spec.ActionID) == "" {
				issues = append(issues, fmt.Sprintf("%s.%s: call %q has no action", prefix, spec.Phase, spec.Label()))
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
