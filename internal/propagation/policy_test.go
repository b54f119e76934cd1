package propagation

import "testing"

func TestStaticPolicy(t *testing.T) {
	p := NewStaticPolicy(map[string]KeySettings{
		"down_only": {Down: true},
		"up_tag":    {Up: true, Tag: true},
	}, map[string]string{"service": "checkout"})

	tests := []struct {
		key             string
		down, up, isTag bool
	}{
		{key: "down_only", down: true},
		{key: "up_tag", up: true, isTag: true},
		{key: "service", down: true, isTag: true},
		{key: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := p.IsPropagatedDown(tt.key); got != tt.down {
				t.Errorf("IsPropagatedDown(%q) = %v, want %v", tt.key, got, tt.down)
			}
			if got := p.IsPropagatedUp(tt.key); got != tt.up {
				t.Errorf("IsPropagatedUp(%q) = %v, want %v", tt.key, got, tt.up)
			}
			if got := p.IsTag(tt.key); got != tt.isTag {
				t.Errorf("IsTag(%q) = %v, want %v", tt.key, got, tt.isTag)
			}
		})
	}

	if got := p.CommonTags()["service"]; got != "checkout" {
		t.Errorf("CommonTags()[service] = %v, want checkout", got)
	}
}

func TestSwappable(t *testing.T) {
	s := NewSwappable(nil)
	if s.IsPropagatedDown("a") {
		t.Fatal("empty policy should not propagate")
	}

	s.Swap(NewStaticPolicy(map[string]KeySettings{"a": {Down: true}}, nil))
	if !s.IsPropagatedDown("a") {
		t.Error("expected swapped policy to propagate a")
	}

	s.Swap(nil)
	if !s.IsPropagatedDown("a") {
		t.Error("nil swap must keep the previous policy")
	}
}
