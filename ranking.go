package relay

import (
	"sort"
	"strings"
)

// synonymTable expands query tokens for the token-overlap "semantic" score.
// This is a small hardcoded heuristic, deliberately not an embedding model;
// the entries are fixed sample data, not an extension point.
var synonymTable = map[string][]string{
	"umbrella": {"rain", "forecast", "weather"},
	"remind":   {"schedule", "task", "remember"},
	"note":     {"memory", "write", "save"},
	"weather":  {"forecast", "temperature", "rain"},
	"status":   {"health", "state", "report"},
}

// followUpMarkers flag utterances that refer back to a previous request,
// shifting ranking weight toward session history.
var followUpMarkers = []string{"also", "again", "same", "too", "as well", "one more"}

// intentKeywords are the explicit markers that justify acting without high
// ranking confidence.
var intentKeywords = []string{"status", "remember", "search", "task", "memory", "fix", "weather", "recall"}

// RankedTool is one tool with its combined hybrid score.
type RankedTool struct {
	Name     string
	Score    float64
	Lexical  float64
	Semantic float64
	History  float64
}

// RankedSelection is the outcome of hybrid tool selection.
type RankedSelection struct {
	Tools      []RankedTool
	Confidence float64
	FollowUp   bool
	// NeedsClarification is set when no explicit intent keyword matched and
	// confidence fell below the abstention threshold. Callers must return a
	// clarifying question instead of guessing.
	NeedsClarification bool
}

const clarificationThreshold = 0.58

// RankTools combines normalized lexical, semantic, and history scores for
// the shortlisted tools. history holds recent successful tool names, most
// recent first.
func RankTools(registry *ToolRegistry, query string, shortlist []ToolShortlistItem, history []string) RankedSelection {
	if len(shortlist) == 0 {
		return RankedSelection{NeedsClarification: !intentKeywordMatched(query), Confidence: 0.05}
	}

	queryTokens := expandQueryTokens(query)
	followUp := isFollowUp(query)

	lexWeight, semWeight, histWeight := 0.45, 0.40, 0.15
	if followUp {
		lexWeight, semWeight, histWeight = 0.35, 0.25, 0.40
	}

	maxLex := 0.0
	for _, item := range shortlist {
		if item.Score > maxLex {
			maxLex = item.Score
		}
	}

	ranked := make([]RankedTool, 0, len(shortlist))
	for _, item := range shortlist {
		lex := 0.0
		if maxLex > 0 {
			lex = item.Score / maxLex
		}
		sem := semanticScore(registry, item, queryTokens)
		hist := historyScore(item.Name, history)
		ranked = append(ranked, RankedTool{
			Name:     item.Name,
			Score:    lexWeight*lex + semWeight*sem + histWeight*hist,
			Lexical:  lex,
			Semantic: sem,
			History:  hist,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})

	top := ranked[0].Score
	margin := top
	if len(ranked) > 1 {
		margin = top - ranked[1].Score
	}
	confidence := 0.65*top + 0.35*margin
	if confidence < 0.05 {
		confidence = 0.05
	}
	if confidence > 0.99 {
		confidence = 0.99
	}

	matched := intentKeywordMatched(query)
	return RankedSelection{
		Tools:              ranked,
		Confidence:         confidence,
		FollowUp:           followUp,
		NeedsClarification: !matched && confidence < clarificationThreshold,
	}
}

// expandQueryTokens tokenizes the query and appends synonym expansions.
func expandQueryTokens(query string) map[string]bool {
	tokens := map[string]bool{}
	for _, tok := range queryTokenPat.FindAllString(strings.ToLower(query), -1) {
		tokens[tok] = true
		for _, syn := range synonymTable[tok] {
			tokens[syn] = true
		}
	}
	return tokens
}

// semanticScore is the Jaccard overlap between expanded query tokens and
// the tool's tag, summary, and example text.
func semanticScore(registry *ToolRegistry, item ToolShortlistItem, queryTokens map[string]bool) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	var body strings.Builder
	body.WriteString(item.Name)
	body.WriteString(" ")
	body.WriteString(strings.Join(item.Tags, " "))
	body.WriteString(" ")
	body.WriteString(item.RoutingSummary)
	body.WriteString(" ")
	body.WriteString(item.InvocationSummary)
	if meta, ok := registry.Metadata(item.Name); ok {
		body.WriteString(" ")
		body.WriteString(strings.Join(meta.Examples, " "))
	}

	toolTokens := map[string]bool{}
	for _, tok := range queryTokenPat.FindAllString(strings.ToLower(body.String()), -1) {
		toolTokens[tok] = true
	}
	if len(toolTokens) == 0 {
		return 0
	}

	intersection := 0
	for tok := range queryTokens {
		if toolTokens[tok] {
			intersection++
		}
	}
	union := len(queryTokens) + len(toolTokens) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// historyScore rewards tools the session already used successfully:
// frequency, a most-recent-match bonus, and a same-namespace bonus.
func historyScore(name string, history []string) float64 {
	if len(history) == 0 {
		return 0
	}
	freq := 0
	namespaceHit := false
	ns := toolNamespace(name)
	for _, h := range history {
		if h == name {
			freq++
		}
		if ns != "" && toolNamespace(h) == ns {
			namespaceHit = true
		}
	}

	score := float64(freq) / float64(len(history))
	if history[0] == name {
		score += 0.5
	}
	if namespaceHit {
		score += 0.25
	}
	if score > 1 {
		score = 1
	}
	return score
}

func toolNamespace(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return ""
}

func isFollowUp(query string) bool {
	q := " " + strings.ToLower(query) + " "
	for _, marker := range followUpMarkers {
		if strings.Contains(q, " "+marker+" ") {
			return true
		}
	}
	return false
}

func intentKeywordMatched(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range intentKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
