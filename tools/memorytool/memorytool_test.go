package memorytool

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nevindra/relay"
)

// fakeStore overrides only the store methods the memory tools touch.
type fakeStore struct {
	relay.Store
	memories  []relay.MemoryRecord
	messages  []relay.MessageRecord
	summaries map[int64]string
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{summaries: map[int64]string{}}
}

func (f *fakeStore) WriteMemory(_ context.Context, rec relay.MemoryRecord) (int64, error) {
	f.nextID++
	rec.ID = f.nextID
	f.memories = append(f.memories, rec)
	return rec.ID, nil
}

func (f *fakeStore) ListMemory(_ context.Context, sessionID int64, limit int) ([]relay.MemoryRecord, error) {
	var out []relay.MemoryRecord
	for i := len(f.memories) - 1; i >= 0; i-- {
		if f.memories[i].SessionID == sessionID {
			out = append(out, f.memories[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, sessionID int64, limit int) ([]relay.MessageRecord, error) {
	var out []relay.MessageRecord
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) UpsertSessionSummary(_ context.Context, sessionID int64, summary string) error {
	f.summaries[sessionID] = summary
	return nil
}

func fixture(t *testing.T) (*relay.ToolRegistry, *fakeStore) {
	t.Helper()
	registry := relay.NewToolRegistry()
	t.Cleanup(func() { registry.Close() })
	store := newFakeStore()
	if err := Register(registry, store); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry, store
}

func handlerFor(t *testing.T, registry *relay.ToolRegistry, name string) relay.ToolHandler {
	t.Helper()
	handler, ok := registry.Handler(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return handler
}

func TestWritePersistsClassifiedCard(t *testing.T) {
	registry, store := fixture(t)
	write := handlerFor(t, registry, "memory.write")
	call := &relay.ToolCallContext{SessionID: 1, UserID: 2}

	out, err := write(context.Background(), call, map[string]any{"content": "remember that I prefer metric units"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if out["status"] != "ok" || out["card_type"] != relay.CardPreference {
		t.Errorf("out = %+v, want ok preference card", out)
	}
	if len(store.memories) != 1 || store.memories[0].UserID != 2 {
		t.Errorf("memories = %+v", store.memories)
	}
}

func TestWriteIgnoresNonReusableText(t *testing.T) {
	registry, store := fixture(t)
	write := handlerFor(t, registry, "memory.write")
	call := &relay.ToolCallContext{SessionID: 1}

	tests := []struct {
		content string
		reason  string
	}{
		{"", "empty"},
		{"thanks for the quick help", "not_reusable"},
	}
	for _, tt := range tests {
		out, err := write(context.Background(), call, map[string]any{"content": tt.content})
		if err != nil {
			t.Fatalf("write(%q): %v", tt.content, err)
		}
		if out["status"] != "ignored" || out["reason"] != tt.reason {
			t.Errorf("write(%q) = %+v, want ignored/%s", tt.content, out, tt.reason)
		}
	}
	if len(store.memories) != 0 {
		t.Error("ignored writes must not persist")
	}
}

func TestSearchReturnsRankedItems(t *testing.T) {
	registry, store := fixture(t)
	search := handlerFor(t, registry, "memory.search")
	call := &relay.ToolCallContext{SessionID: 1}

	store.memories = []relay.MemoryRecord{
		{ID: 1, SessionID: 1, CardType: relay.CardFact, Content: "office is in Bengaluru"},
		{ID: 2, SessionID: 1, CardType: relay.CardFact, Content: "user timezone is IST"},
	}
	store.nextID = 2

	out, err := search(context.Background(), call, map[string]any{"query": "timezone"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	items, ok := out["items"].([]map[string]any)
	if !ok || len(items) == 0 {
		t.Fatalf("items = %+v", out["items"])
	}
	top, _ := items[0]["content"].(string)
	if !strings.Contains(top, "timezone") {
		t.Errorf("top item = %q, want the timezone card first", top)
	}
}

func TestSummarizeWritesSummaryCard(t *testing.T) {
	registry, store := fixture(t)
	summarize := handlerFor(t, registry, "memory.summarize")
	call := &relay.ToolCallContext{SessionID: 1, UserID: 2}

	store.messages = []relay.MessageRecord{
		{SessionID: 1, Role: "user", Content: "plan the trip"},
		{SessionID: 1, Role: "assistant", Content: "booked for friday"},
	}

	out, err := summarize(context.Background(), call, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("out = %+v", out)
	}
	if store.summaries[1] == "" {
		t.Error("session summary not upserted")
	}
	if len(store.memories) != 1 || store.memories[0].CardType != relay.CardSessionSummary {
		t.Errorf("memories = %+v, want one session_summary card", store.memories)
	}
}

func TestClipRuneBoundary(t *testing.T) {
	if got := clip("héllo", 2); got != "h" {
		t.Errorf("clip mid-rune = %q, want h", got)
	}
	long := "remember that " + strings.Repeat("日本語メモ", 100)
	got := clip(long, 900)
	if len(got) > 900 {
		t.Errorf("clip kept %d bytes, want <= 900", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("clip produced invalid UTF-8: %q", got)
	}
}

func TestFailureFix(t *testing.T) {
	registry, store := fixture(t)
	failureFix := handlerFor(t, registry, "memory.failure_fix")
	call := &relay.ToolCallContext{SessionID: 1, UserID: 2}

	out, err := failureFix(context.Background(), call, map[string]any{"error_signature": "timeout:x"})
	if err != nil {
		t.Fatalf("failure_fix: %v", err)
	}
	if out["status"] != "ignored" || out["reason"] != "missing_fields" {
		t.Errorf("partial args = %+v, want ignored", out)
	}

	out, err = failureFix(context.Background(), call, map[string]any{
		"error_signature": "timeout:x",
		"fix":             "switch_provider",
		"source":          "provider",
	})
	if err != nil {
		t.Fatalf("failure_fix: %v", err)
	}
	if out["status"] != "ok" || out["card_type"] != relay.CardFailureFix {
		t.Errorf("out = %+v, want a failure_fix card", out)
	}
	if len(store.memories) != 1 {
		t.Errorf("memories = %d, want 1", len(store.memories))
	}
}
