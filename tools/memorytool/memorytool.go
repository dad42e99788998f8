// Package memorytool registers the memory.* tools: card search, card
// writes, session summarization, and failure-fix learning cards.
package memorytool

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nevindra/relay"
)

// Register adds the memory tools to registry, backed by store.
func Register(registry *relay.ToolRegistry, store relay.Store) error {
	search := func(ctx context.Context, call *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		query := strings.TrimSpace(stringArg(args, "query"))
		topK := intArg(args, "top_k", 4)
		snippets, err := relay.RetrieveMemorySnippets(ctx, store, call.SessionID, query, topK, 280)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(snippets))
		for _, sn := range snippets {
			items = append(items, map[string]any{
				"memory_id": sn.ID,
				"card_type": sn.CardType,
				"content":   sn.Content,
				"score":     sn.Score,
			})
		}
		return map[string]any{"items": items}, nil
	}

	write := func(ctx context.Context, call *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		text := strings.TrimSpace(stringArg(args, "content"))
		if text == "" {
			return map[string]any{"status": "ignored", "reason": "empty"}, nil
		}
		if !relay.ShouldPersistMemory(text) {
			return map[string]any{"status": "ignored", "reason": "not_reusable"}, nil
		}
		cardType := relay.ClassifyCardType(text)
		id, err := store.WriteMemory(ctx, relay.MemoryRecord{
			SessionID:  call.SessionID,
			UserID:     call.UserID,
			CardType:   cardType,
			Content:    clip(text, 900),
			Source:     "memory.write",
			Confidence: 0.7,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "memory_id": id, "card_type": cardType}, nil
	}

	summarize := func(ctx context.Context, call *relay.ToolCallContext, _ map[string]any) (map[string]any, error) {
		summary, err := relay.SummarizeRecentMessages(ctx, store, call.SessionID, 10)
		if err != nil {
			return nil, err
		}
		if err := store.UpsertSessionSummary(ctx, call.SessionID, summary); err != nil {
			return nil, err
		}
		cardID, err := store.WriteMemory(ctx, relay.MemoryRecord{
			SessionID:  call.SessionID,
			UserID:     call.UserID,
			CardType:   relay.CardSessionSummary,
			Content:    summary,
			Source:     "memory.summarize",
			Confidence: 0.9,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "summary_card_id": cardID, "summary": summary}, nil
	}

	failureFix := func(ctx context.Context, call *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		signature := strings.TrimSpace(stringArg(args, "error_signature"))
		fix := strings.TrimSpace(stringArg(args, "fix"))
		source := strings.TrimSpace(stringArg(args, "source"))
		if source == "" {
			source = "runtime"
		}
		if signature == "" || fix == "" {
			return map[string]any{"status": "ignored", "reason": "missing_fields"}, nil
		}
		card := relay.MakeFailureFixCard(call.SessionID, call.UserID, signature, fix, source)
		id, err := store.WriteMemory(ctx, card)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "memory_id": id, "card_type": card.CardType}, nil
	}

	metas := []struct {
		meta    relay.ToolMetadata
		handler relay.ToolHandler
	}{
		{
			meta: relay.ToolMetadata{
				Name:              "memory.search",
				Version:           "2.0",
				Risk:              relay.RiskLow,
				Tags:              []string{"memory", "search", "retrieval"},
				RoutingSummary:    "Find top compact memory cards relevant to a query.",
				InvocationSummary: "memory.search(query, top_k=4) returns compact snippets.",
				FullSchema:        `{"type":"object","properties":{"query":{"type":"string"},"top_k":{"type":"integer","minimum":1,"maximum":8}},"required":["query"]}`,
				Examples:          []string{"memory.search(query='user preferences', top_k=3)"},
				Timeout:           8 * time.Second,
				Idempotent:        true,
			},
			handler: search,
		},
		{
			meta: relay.ToolMetadata{
				Name:              "memory.write",
				Version:           "2.0",
				Risk:              relay.RiskLow,
				Tags:              []string{"memory", "write", "card"},
				RoutingSummary:    "Write reusable info as typed compact memory card.",
				InvocationSummary: "memory.write(content) stores fact/decision/preference/open_loop.",
				FullSchema:        `{"type":"object","properties":{"content":{"type":"string","maxLength":1000}},"required":["content"]}`,
				Examples:          []string{"memory.write(content='Remember my timezone is Asia/Kolkata')"},
				Timeout:           8 * time.Second,
				Idempotent:        false,
			},
			handler: write,
		},
		{
			meta: relay.ToolMetadata{
				Name:              "memory.summarize",
				Version:           "2.0",
				Risk:              relay.RiskLow,
				Tags:              []string{"memory", "summary", "compaction"},
				RoutingSummary:    "Refresh session summary and write a session_summary card.",
				InvocationSummary: "memory.summarize() updates summary state from recent turns.",
				FullSchema:        `{"type":"object","properties":{}}`,
				Examples:          []string{"memory.summarize()"},
				Timeout:           8 * time.Second,
				Idempotent:        false,
			},
			handler: summarize,
		},
		{
			meta: relay.ToolMetadata{
				Name:              "memory.failure_fix",
				Version:           "2.0",
				Risk:              relay.RiskLow,
				Tags:              []string{"memory", "failure_fix", "recovery"},
				RoutingSummary:    "Store compact error->fix learning card for future recovery.",
				InvocationSummary: "memory.failure_fix(error_signature, fix, source='tool|provider|agent').",
				FullSchema:        `{"type":"object","properties":{"error_signature":{"type":"string"},"fix":{"type":"string"},"source":{"type":"string"}},"required":["error_signature","fix"]}`,
				Examples:          []string{"memory.failure_fix(error_signature='timeout:x', fix='retry with lower top_k', source='provider')"},
				Timeout:           8 * time.Second,
				Idempotent:        false,
			},
			handler: failureFix,
		},
	}

	for _, t := range metas {
		if err := registry.Register(t.meta, t.handler); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
