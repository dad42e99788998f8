package relay

import (
	"context"
	"testing"
	"time"
)

func okHandler(_ context.Context, _ *ToolCallContext, _ map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()

	meta := ToolMetadata{
		Name:           "status.get",
		Version:        "1.0",
		Risk:           RiskLow,
		Tags:           []string{"status", "health"},
		RoutingSummary: "Report runtime status.",
	}
	if err := r.Register(meta, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := r.Metadata("status.get")
	if !ok || got.Version != "1.0" {
		t.Fatalf("metadata lookup failed: %+v ok=%v", got, ok)
	}
	if _, ok := r.Handler("status.get"); !ok {
		t.Fatal("handler lookup failed")
	}
	if _, ok := r.Metadata("nope"); ok {
		t.Error("unknown tool should not resolve")
	}
}

func TestRegistryRejectsDuplicatesAndBadInput(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()

	if err := r.Register(ToolMetadata{Name: "a.b"}, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ToolMetadata{Name: "a.b"}, okHandler); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := r.Register(ToolMetadata{}, okHandler); err == nil {
		t.Error("empty name should fail")
	}
	if err := r.Register(ToolMetadata{Name: "c.d"}, nil); err == nil {
		t.Error("nil handler should fail")
	}
}

func TestRegistryFindTools(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()

	metas := []ToolMetadata{
		{Name: "weather.get", Tags: []string{"weather", "forecast"}, RoutingSummary: "Get weather for a location."},
		{Name: "memory.search", Tags: []string{"memory", "recall"}, RoutingSummary: "Search long-term memory."},
		{Name: "task.create", Tags: []string{"task"}, RoutingSummary: "Create a task."},
	}
	for _, meta := range metas {
		if err := r.Register(meta, okHandler); err != nil {
			t.Fatalf("register %s: %v", meta.Name, err)
		}
	}

	items := r.FindTools("weather forecast", 2)
	if len(items) == 0 {
		t.Fatal("expected shortlist items")
	}
	if items[0].Name != "weather.get" {
		t.Errorf("top item = %s, want weather.get", items[0].Name)
	}
	for _, item := range items {
		if item.Name == "task.create" {
			t.Error("unrelated tool should not rank for a weather query")
		}
	}
}

func TestRegistryFindToolsCached(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()
	now := time.Now()
	r.now = func() time.Time { return now }

	if err := r.Register(ToolMetadata{Name: "status.get", Tags: []string{"status"}, RoutingSummary: "status"}, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	first := r.FindTools("status", 3)
	second := r.FindTools("status", 3)
	if len(first) != len(second) {
		t.Fatalf("cached result differs: %d vs %d", len(first), len(second))
	}

	// Registration invalidates the cache; the new tool becomes visible.
	if err := r.Register(ToolMetadata{Name: "status.extra", Tags: []string{"status"}, RoutingSummary: "more status"}, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	third := r.FindTools("status", 3)
	if len(third) < 2 {
		t.Errorf("after invalidation got %d items, want 2", len(third))
	}
}

func TestRegistryExpiredRefreshKeepsOrderConsistent(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()
	now := time.Now()
	r.now = func() time.Time { return now }

	if err := r.Register(ToolMetadata{Name: "status.get", Tags: []string{"status"}, RoutingSummary: "status"}, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.FindTools("status", 3)
	now = now.Add(toolCacheTTL + time.Second)
	r.FindTools("status", 3)

	r.mu.Lock()
	orderLen, cacheLen := len(r.order), len(r.cache)
	r.mu.Unlock()
	if orderLen != cacheLen {
		t.Fatalf("order has %d keys, cache has %d; refresh must not duplicate keys", orderLen, cacheLen)
	}

	// Fill the cache to capacity. A stale order slot for the refreshed key
	// would trigger an early eviction that deletes the fresh entry.
	for i := 0; i < toolCacheMaxSize-1; i++ {
		r.FindTools("filler", i+2)
	}
	r.mu.Lock()
	_, alive := r.cache["status|3"]
	r.mu.Unlock()
	if !alive {
		t.Error("refreshed entry was evicted ahead of older keys")
	}
}

func TestRegistryHandlerWrapper(t *testing.T) {
	var wrapped []string
	r := NewToolRegistry(WithHandlerWrapper(func(name string, h ToolHandler) ToolHandler {
		wrapped = append(wrapped, name)
		return func(ctx context.Context, call *ToolCallContext, args map[string]any) (map[string]any, error) {
			out, err := h(ctx, call, args)
			if out != nil {
				out["wrapped"] = name
			}
			return out, err
		}
	}))
	defer r.Close()

	if err := r.Register(ToolMetadata{Name: "status.get"}, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(wrapped) != 1 || wrapped[0] != "status.get" {
		t.Fatalf("wrapper applied to %v, want [status.get]", wrapped)
	}

	h, ok := r.Handler("status.get")
	if !ok {
		t.Fatal("handler lookup failed")
	}
	out, err := h(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out["wrapped"] != "status.get" {
		t.Errorf("stored handler is not the wrapped one: %+v", out)
	}
}

func TestRegistrySubstringFallback(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()
	if err := r.Register(ToolMetadata{Name: "memory.search", Tags: []string{"memory"}, RoutingSummary: "Search memory."}, okHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Force the substring path regardless of FTS availability.
	r.mu.Lock()
	r.ftsOK = false
	r.mu.Unlock()

	items := r.FindTools("memory", 3)
	if len(items) != 1 || items[0].Name != "memory.search" {
		t.Errorf("fallback shortlist = %+v, want memory.search", items)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewToolRegistry()
	defer r.Close()
	for _, name := range []string{"b.two", "a.one", "c.three"} {
		if err := r.Register(ToolMetadata{Name: name}, okHandler); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	list := r.List()
	if len(list) != 3 || list[0].Name != "a.one" || list[2].Name != "c.three" {
		t.Errorf("list not sorted by name: %+v", list)
	}
}
