// Package propagation defines how individual data keys travel between call
// contexts: down into children, up into parents, and out into ambient tags.
package propagation

import (
	"maps"
	"sync"
)

// Policy answers propagation questions for data keys.
type Policy interface {
	// IsPropagatedDown reports whether children inherit the key.
	IsPropagatedDown(key string) bool

	// IsPropagatedUp reports whether a closing child writes the key back into
	// its parent.
	IsPropagatedUp(key string) bool

	// IsTag reports whether the key is published as an ambient tag.
	IsTag(key string) bool

	// CommonTags returns the baseline values injected into every root context.
	// Callers must not modify the returned map.
	CommonTags() map[string]any
}

// KeySettings is the propagation behavior of a single data key.
type KeySettings struct {
	Down bool `yaml:"down,omitempty" json:"down,omitempty"`
	Up   bool `yaml:"up,omitempty" json:"up,omitempty"`
	Tag  bool `yaml:"tag,omitempty" json:"tag,omitempty"`
}

// StaticPolicy is an immutable Policy built from per-key settings.
type StaticPolicy struct {
	keys       map[string]KeySettings
	commonTags map[string]any
}

// NewStaticPolicy creates a policy from explicit key settings and common tags.
// Common tag keys are always propagated down and published as tags.
func NewStaticPolicy(keys map[string]KeySettings, commonTags map[string]string) *StaticPolicy {
	p := &StaticPolicy{
		keys:       make(map[string]KeySettings, len(keys)+len(commonTags)),
		commonTags: make(map[string]any, len(commonTags)),
	}
	maps.Copy(p.keys, keys)
	for k, v := range commonTags {
		p.commonTags[k] = v
		s := p.keys[k]
		s.Down = true
		s.Tag = true
		p.keys[k] = s
	}
	return p
}

// IsPropagatedDown implements Policy.
func (p *StaticPolicy) IsPropagatedDown(key string) bool {
	return p.keys[key].Down
}

// IsPropagatedUp implements Policy.
func (p *StaticPolicy) IsPropagatedUp(key string) bool {
	return p.keys[key].Up
}

// IsTag implements Policy.
func (p *StaticPolicy) IsTag(key string) bool {
	return p.keys[key].Tag
}

// CommonTags implements Policy.
func (p *StaticPolicy) CommonTags() map[string]any {
	return p.commonTags
}

// Settings returns the settings of a key and whether the key is configured.
func (p *StaticPolicy) Settings(key string) (KeySettings, bool) {
	s, ok := p.keys[key]
	return s, ok
}

// Swappable is a Policy whose underlying policy can be replaced on
// configuration reload. Contexts already open keep the answers they got when
// they consulted it.
type Swappable struct {
	mu      sync.RWMutex
	current Policy
}

// NewSwappable wraps an initial policy. A nil policy propagates nothing.
func NewSwappable(initial Policy) *Swappable {
	if initial == nil {
		initial = NewStaticPolicy(nil, nil)
	}
	return &Swappable{current: initial}
}

// Swap replaces the active policy.
func (s *Swappable) Swap(p Policy) {
	if p == nil {
		return
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

func (s *Swappable) get() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsPropagatedDown implements Policy.
func (s *Swappable) IsPropagatedDown(key string) bool { return s.get().IsPropagatedDown(key) }

// IsPropagatedUp implements Policy.
func (s *Swappable) IsPropagatedUp(key string) bool { return s.get().IsPropagatedUp(key) }

// IsTag implements Policy.
func (s *Swappable) IsTag(key string) bool { return s.get().IsTag(key) }

// CommonTags implements Policy.
func (s *Swappable) CommonTags() map[string]any { return s.get().CommonTags() }

var (
	_ Policy = (*StaticPolicy)(nil)
	_ Policy = (*Swappable)(nil)
)
