package actions

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLibrary_CompileCachesPerEnvironment(t *testing.T) {
	l := NewLibrary()
	var compiles atomic.Int32
	err := l.Register(Definition{
		ID: "counted",
		Compile: func(*Environment) (Func, error) {
			compiles.Add(1)
			return func([]any, any, any, error, []any) (any, error) { return nil, nil }, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	a := &Environment{Name: "a"}
	b := &Environment{Name: "b"}
	for _, env := range []*Environment{a, a, b, b, nil} {
		if _, err := l.Compile("counted", env); err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
	}
	if got := compiles.Load(); got != 3 {
		t.Errorf("compiles = %d, want 3", got)
	}
	if l.CachedCount() != 3 {
		t.Errorf("CachedCount() = %d, want 3", l.CachedCount())
	}

	l.Reset()
	if l.CachedCount() != 0 {
		t.Errorf("CachedCount() after Reset = %d", l.CachedCount())
	}
}

func TestLibrary_ConcurrentCompile(t *testing.T) {
	l := NewLibrary()
	var compiles atomic.Int32
	release := make(chan struct{})
	_ = l.Register(Definition{
		ID: "slow",
		Compile: func(*Environment) (Func, error) {
			compiles.Add(1)
			<-release
			return func([]any, any, any, error, []any) (any, error) { return nil, nil }, nil
		},
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Compile("slow", &Environment{Name: "env"})
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
	}
	if got := compiles.Load(); got < 1 || got > 8 {
		t.Errorf("compiles = %d", got)
	}
	if l.CachedCount() != 1 {
		t.Errorf("CachedCount() = %d, want 1", l.CachedCount())
	}
}

func TestLibrary_UnknownAction(t *testing.T) {
	l := NewLibrary()
	_, err := l.Compile("missing", nil)
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestLibrary_CompileFailure(t *testing.T) {
	l := NewLibrary()
	_ = l.Register(Definition{
		ID: "broken",
		Compile: func(*Environment) (Func, error) {
			return nil, errors.New("bad source")
		},
	})
	if _, err := l.Compile("broken", nil); err == nil {
		t.Fatal("expected compile error")
	}
	if l.CachedCount() != 0 {
		t.Error("failed compiles must not be cached")
	}
}

func TestLibrary_RegisterReplacesCachedForm(t *testing.T) {
	l := NewLibrary()
	_ = l.RegisterFunc("v", nil, false, func([]any, any, any, error, []any) (any, error) { return 1, nil })
	if _, err := l.Compile("v", nil); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	_ = l.RegisterFunc("v", nil, false, func([]any, any, any, error, []any) (any, error) { return 2, nil })
	if l.CachedCount() != 0 {
		t.Fatalf("expected cache to be cleared, got %d", l.CachedCount())
	}
	c, err := l.Compile("v", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if v, _ := c.Func(nil, nil, nil, nil, nil); v != 2 {
		t.Errorf("got %v, want 2", v)
	}
}

func TestLibrary_RegisterValidation(t *testing.T) {
	l := NewLibrary()
	if err := l.Register(Definition{}); err == nil {
		t.Error("expected error for empty id")
	}
	if err := l.Register(Definition{ID: "x"}); err == nil {
		t.Error("expected error for missing compile function")
	}
}

func TestLibrary_IDs(t *testing.T) {
	l := NewBuiltinLibrary()
	ids := l.IDs()
	if !slices.IsSorted(ids) {
		t.Errorf("ids not sorted: %v", ids)
	}
	for _, id := range []string{TimestampNanos, RecordMetric, SpanStart, SpanEnd, Log} {
		if !slices.Contains(ids, id) {
			t.Errorf("missing built-in %s", id)
		}
	}
}
