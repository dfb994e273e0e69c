package schema

import (
	"context"
	"testing"
)

type countingLoader struct {
	calls int
	info  *Info
	err   error
}

func (l *countingLoader) IntrospectSchema(ctx context.Context, scenarioID string) (*Info, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.info, nil
}

func TestCacheLazyLoad(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{info: &Info{Tables: []Table{{Name: "params"}}}}
	cache := NewCache(loader)
	ctx := context.Background()

	info, err := cache.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !info.HasTable("params") {
		t.Error("expected params table")
	}
	if loader.calls != 1 {
		t.Fatalf("loader called %d times, want 1", loader.calls)
	}

	// Second hit is served from the cache.
	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}

	// A different scenario loads independently.
	if _, err := cache.Get(ctx, "s2"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loader.calls != 2 {
		t.Errorf("loader called %d times, want 2", loader.calls)
	}
}

func TestCacheInvalidate(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{info: &Info{}}
	cache := NewCache(loader)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	cache.Invalidate("s1")
	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loader.calls != 2 {
		t.Errorf("loader called %d times after invalidation, want 2", loader.calls)
	}
}

func TestSchemaLookups(t *testing.T) {
	t.Parallel()

	info := &Info{Tables: []Table{
		{Name: "Params", Columns: []Column{{Name: "key", Type: "TEXT"}, {Name: "value", Type: "REAL"}}},
	}}

	if !info.HasTable("params") {
		t.Error("table lookup should be case-insensitive")
	}
	if !info.HasColumn("PARAMS", "Value") {
		t.Error("column lookup should be case-insensitive")
	}
	if info.HasColumn("params", "missing") {
		t.Error("unexpected column hit")
	}
	if info.HasColumn("other", "key") {
		t.Error("unexpected table hit")
	}
	if ctxt := info.Context(); ctxt == "" {
		t.Error("empty prompt context")
	}
}
