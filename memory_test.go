package relay

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClassifyCardType(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"I prefer short answers", CardPreference},
		{"my favorite editor is vim", CardPreference},
		{"we decided to ship on tuesday", CardDecision},
		{"todo: rotate the api key", CardOpenLoop},
		{"follow up with the billing team", CardOpenLoop},
		{"the office is in Bengaluru", CardFact},
	}
	for _, tt := range tests {
		if got := ClassifyCardType(tt.text); got != tt.want {
			t.Errorf("ClassifyCardType(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestShouldPersistMemory(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"remember that my timezone is IST", true},
		{"I prefer metric units", true},
		{"todo: renew the domain", true},
		{"ok", false},
		{"thanks, that was helpful", false},
		{"  hi  ", false},
	}
	for _, tt := range tests {
		if got := ShouldPersistMemory(tt.text); got != tt.want {
			t.Errorf("ShouldPersistMemory(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMakeFailureFixCard(t *testing.T) {
	card := MakeFailureFixCard(3, 7, "provider timeout sig", "switch_provider", "reflexion")
	if card.CardType != CardFailureFix {
		t.Errorf("card type = %s, want %s", card.CardType, CardFailureFix)
	}
	if card.SessionID != 3 || card.UserID != 7 {
		t.Errorf("ids = %d/%d, want 3/7", card.SessionID, card.UserID)
	}
	if !strings.Contains(card.Content, "provider timeout sig") || !strings.Contains(card.Content, "switch_provider") {
		t.Errorf("content = %q, want signature and fix", card.Content)
	}
	if card.Confidence != 0.8 || card.SuccessCount != 1 {
		t.Errorf("confidence/success = %v/%d, want 0.8/1", card.Confidence, card.SuccessCount)
	}

	long := strings.Repeat("s", 400)
	clipped := MakeFailureFixCard(1, 1, long, "fix", "src")
	if len(clipped.ErrorSignature) != 256 {
		t.Errorf("signature length = %d, want clipped to 256", len(clipped.ErrorSignature))
	}
}

func TestShouldCompact(t *testing.T) {
	tests := []struct {
		turns  int
		tokens int
		want   bool
	}{
		{5, 100, true},
		{10, 0, true},
		{3, 1200, true},
		{3, 100, false},
		{7, 1199, false},
	}
	for _, tt := range tests {
		if got := ShouldCompact(tt.turns, tt.tokens); got != tt.want {
			t.Errorf("ShouldCompact(%d, %d) = %v, want %v", tt.turns, tt.tokens, got, tt.want)
		}
	}
}

func TestRetrieveMemorySnippetsRanking(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	const sessionID = int64(1)

	seed := []MemoryRecord{
		{SessionID: sessionID, CardType: CardFact, Content: "the office wifi password changed"},
		{SessionID: sessionID, CardType: CardFact, Content: "user timezone is IST"},
		{SessionID: sessionID, CardType: CardPreference, Content: "prefers short replies"},
	}
	for _, rec := range seed {
		if _, err := store.WriteMemory(ctx, rec); err != nil {
			t.Fatalf("write memory: %v", err)
		}
	}

	snippets, err := RetrieveMemorySnippets(ctx, store, sessionID, "timezone", 3, 200)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(snippets) == 0 {
		t.Fatal("expected snippets")
	}
	if !strings.Contains(snippets[0].Content, "timezone") {
		t.Errorf("top snippet = %q, want the lexical match first", snippets[0].Content)
	}
}

func TestRetrieveMemorySnippetsPinnedBoost(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	const sessionID = int64(1)

	if _, err := store.WriteMemory(ctx, MemoryRecord{SessionID: sessionID, CardType: CardFact, Content: "pinned card about deploys", Pinned: true}); err != nil {
		t.Fatalf("write memory: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.WriteMemory(ctx, MemoryRecord{SessionID: sessionID, CardType: CardFact, Content: "filler card number " + strings.Repeat("x", i+1)}); err != nil {
			t.Fatalf("write memory: %v", err)
		}
	}

	snippets, err := RetrieveMemorySnippets(ctx, store, sessionID, "", 2, 200)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(snippets) == 0 || !strings.Contains(snippets[0].Content, "pinned") {
		t.Errorf("snippets = %+v, want the pinned card on top", snippets)
	}
}

func TestRetrieveMemorySnippetsDedupes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	const sessionID = int64(1)

	for _, content := range []string{
		"User Timezone is IST",
		"user   timezone is ist",
		"a different card",
	} {
		if _, err := store.WriteMemory(ctx, MemoryRecord{SessionID: sessionID, CardType: CardFact, Content: content}); err != nil {
			t.Fatalf("write memory: %v", err)
		}
	}

	snippets, err := RetrieveMemorySnippets(ctx, store, sessionID, "", 10, 200)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(snippets) != 2 {
		t.Errorf("snippets = %d, want near-duplicates collapsed to 2", len(snippets))
	}
}

func TestSummarizeRecentMessages(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	const sessionID = int64(1)

	for _, msg := range []MessageRecord{
		{SessionID: sessionID, Role: "user", Content: "what is the plan"},
		{SessionID: sessionID, Role: "assistant", Content: "ship tuesday"},
	} {
		if _, err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append message: %v", err)
		}
	}

	got, err := SummarizeRecentMessages(ctx, store, sessionID, 5)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	want := "user:what is the plan | assistant:ship tuesday"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	if got := truncate("héllo", 2); got != "h" {
		t.Errorf("truncate mid-rune = %q, want h", got)
	}
	long := strings.Repeat("日本語テキスト", 60)
	for _, n := range []int{80, 500, 900} {
		got := truncate(long, n)
		if len(got) > n {
			t.Errorf("truncate(.., %d) kept %d bytes", n, len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(.., %d) produced invalid UTF-8: %q", n, got)
		}
	}
	if got := truncate("plain ascii", 5); got != "plain" {
		t.Errorf("ascii truncate = %q, want plain", got)
	}
}
