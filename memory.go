package relay

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Memory card types.
const (
	CardFact           = "fact"
	CardDecision       = "decision"
	CardPreference     = "preference"
	CardOpenLoop       = "open_loop"
	CardSessionSummary = "session_summary"
	CardFailureFix     = "failure_fix"
)

// ClassifyCardType picks a card type from the text's phrasing.
func ClassifyCardType(text string) string {
	t := strings.ToLower(text)
	if strings.Contains(t, "prefer") || strings.Contains(t, "favorite") {
		return CardPreference
	}
	if strings.Contains(t, "decide") || strings.Contains(t, "decided") || strings.Contains(t, "decision") {
		return CardDecision
	}
	if strings.Contains(t, "todo") || strings.Contains(t, "later") || strings.Contains(t, "follow up") {
		return CardOpenLoop
	}
	return CardFact
}

// ShouldPersistMemory filters out turns too short or too generic to be
// worth a card.
func ShouldPersistMemory(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if len(t) < 10 {
		return false
	}
	for _, k := range []string{"remember", "prefer", "decision", "decide", "decided", "todo", "follow up", "favorite", "my "} {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// MakeFailureFixCard builds the card persisted when a reflexion strategy
// recovers a failure, so later runs can recall what worked.
func MakeFailureFixCard(sessionID, userID int64, errorSignature, fixText, source string) MemoryRecord {
	return MemoryRecord{
		SessionID:      sessionID,
		UserID:         userID,
		CardType:       CardFailureFix,
		Content:        truncate(fmt.Sprintf("error=%s; fix=%s", errorSignature, fixText), 900),
		ErrorSignature: truncate(errorSignature, 256),
		FixText:        truncate(fixText, 500),
		Source:         truncate(source, 64),
		Confidence:     0.8,
		SuccessCount:   1,
	}
}

// ShouldCompact decides when a session summary refresh is due.
func ShouldCompact(turnCount, tokenEstimate int) bool {
	const everyNTurns, tokenThreshold = 5, 1200
	return turnCount%everyNTurns == 0 || tokenEstimate >= tokenThreshold
}

// MemorySnippet is one ranked retrieval result.
type MemorySnippet struct {
	ID       int64
	CardType string
	Content  string
	Score    float64
}

var cardTypeWeight = map[string]float64{
	CardSessionSummary: 3.0,
	CardFailureFix:     2.5,
	CardPreference:     2.0,
	CardDecision:       1.8,
	CardFact:           1.5,
	CardOpenLoop:       1.3,
}

// RetrieveMemorySnippets ranks the session's recent cards against query:
// lexical match count weighted heavily, plus recency, a pinned boost, and
// the card-type weight; near-duplicate contents are collapsed.
func RetrieveMemorySnippets(ctx context.Context, store Store, sessionID int64, query string, topK, maxSnippetChars int) ([]MemorySnippet, error) {
	rows, err := store.ListMemory(ctx, sessionID, 120)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}

	type scored struct {
		row   MemoryRecord
		score float64
	}
	queryL := strings.ToLower(strings.TrimSpace(query))
	ranked := make([]scored, 0, len(rows))
	for idx, row := range rows {
		lexical := 0.0
		if queryL != "" {
			lexical = float64(strings.Count(strings.ToLower(row.Content), queryL))
		}
		recency := 5.0 - float64(idx)*0.2
		if recency < 0 {
			recency = 0
		}
		pinned := 0.0
		if row.Pinned {
			pinned = 4.0
		}
		typeWeight, ok := cardTypeWeight[row.CardType]
		if !ok {
			typeWeight = 1.0
		}
		ranked = append(ranked, scored{row, lexical*5.0 + recency + pinned + typeWeight})
	}
	// Sort by score desc, then newest id first.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0; j-- {
			a, b := ranked[j-1], ranked[j]
			if b.score > a.score || (b.score == a.score && b.row.ID > a.row.ID) {
				ranked[j-1], ranked[j] = b, a
			} else {
				break
			}
		}
	}

	var out []MemorySnippet
	seen := map[string]bool{}
	for _, sc := range ranked {
		key := dedupeKey(sc.row.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, MemorySnippet{
			ID:       sc.row.ID,
			CardType: sc.row.CardType,
			Content:  truncate(sc.row.Content, maxSnippetChars),
			Score:    sc.score,
		})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func dedupeKey(text string) string {
	return truncate(strings.Join(strings.Fields(strings.ToLower(text)), " "), 120)
}

// SummarizeRecentMessages builds a compact pipe-joined transcript of the
// last few messages for the session summary row.
func SummarizeRecentMessages(ctx context.Context, store Store, sessionID int64, maxMessages int) (string, error) {
	rows, err := store.RecentMessages(ctx, sessionID, maxMessages)
	if err != nil {
		return "", fmt.Errorf("recent messages: %w", err)
	}
	parts := make([]string, 0, len(rows))
	for _, m := range rows {
		parts = append(parts, m.Role+":"+truncate(m.Content, 80))
	}
	return truncate(strings.Join(parts, " | "), 500), nil
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
