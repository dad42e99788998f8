package relay

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// TokenEstimator turns text into an estimated token count. Accuracy is not
// required; determinism is — trim decisions and budget checks replay
// identically for identical inputs.
type TokenEstimator func(text string) int

// DefaultTokenEstimator estimates one token per four characters, rounded up.
func DefaultTokenEstimator(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// ToolDocMode selects how much tool documentation enters a compiled context.
type ToolDocMode string

const (
	ToolDocsNone       ToolDocMode = "none"
	ToolDocsRouting    ToolDocMode = "routing"           // name+summary+tags, shortlist only
	ToolDocsInvocation ToolDocMode = "invocation"        // call shapes for the selected subset
	ToolDocsFull       ToolDocMode = "full_for_selected" // full JSON schema, selected only
)

// InvocationDoc is the call-shape summary for one selected tool.
type InvocationDoc struct {
	Name              string
	InvocationSummary string
	Examples          []string
}

// SchemaDoc carries one selected tool's full schema.
type SchemaDoc struct {
	Name       string
	FullSchema string
}

// ToolDocsBundle is the tool documentation assembled for one compile call.
type ToolDocsBundle struct {
	Mode            ToolDocMode
	Routing         []ToolShortlistItem
	Invocation      []InvocationDoc
	Full            []SchemaDoc
	EstimatedTokens int
}

// BuildToolDocsBundle assembles tool docs from the registry for the given
// mode. Full schemas are emitted only for names in selected — never for a
// tool that merely ranked well. This bounds worst-case prompt size
// independent of catalog growth.
func BuildToolDocsBundle(registry *ToolRegistry, query string, mode ToolDocMode, selected []string, k int, est TokenEstimator) ToolDocsBundle {
	if est == nil {
		est = DefaultTokenEstimator
	}
	bundle := ToolDocsBundle{Mode: mode}
	if mode == ToolDocsNone {
		return bundle
	}

	shortlist := registry.FindTools(query, k)
	bundle.Routing = shortlist

	selectedSet := make(map[string]bool, len(selected))
	for _, name := range selected {
		selectedSet[name] = true
	}

	if mode == ToolDocsInvocation || mode == ToolDocsFull {
		targets := selected
		if len(targets) == 0 {
			for _, item := range shortlist {
				targets = append(targets, item.Name)
			}
		}
		sort.Strings(targets)
		for _, name := range targets {
			meta, ok := registry.Metadata(name)
			if !ok {
				continue
			}
			bundle.Invocation = append(bundle.Invocation, InvocationDoc{
				Name:              meta.Name,
				InvocationSummary: meta.InvocationSummary,
				Examples:          meta.Examples,
			})
		}
	}

	if mode == ToolDocsFull {
		names := make([]string, 0, len(selectedSet))
		for name := range selectedSet {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			meta, ok := registry.Metadata(name)
			if !ok {
				continue
			}
			bundle.Full = append(bundle.Full, SchemaDoc{Name: meta.Name, FullSchema: meta.FullSchema})
		}
	}

	var sb strings.Builder
	for _, r := range bundle.Routing {
		sb.WriteString(r.Name)
		sb.WriteString(r.RoutingSummary)
	}
	for _, inv := range bundle.Invocation {
		sb.WriteString(inv.Name)
		sb.WriteString(inv.InvocationSummary)
	}
	for _, f := range bundle.Full {
		sb.WriteString(f.Name)
		sb.WriteString(f.FullSchema)
	}
	bundle.EstimatedTokens = est(sb.String())
	return bundle
}

// CompileInput is everything one compile call may draw from.
type CompileInput struct {
	Role           string
	System         string
	User           string
	RecentTurns    []string // "role: text", oldest first
	Memories       []string // oldest-appended first
	TaskPayload    string
	HandoffPayload string
	ToolDocs       ToolDocsBundle
	Metadata       map[string]string
	MaxInputTokens int
}

// CompiledContext is the result of one compile call. When OverBudget is
// true the prompt still reflects the final trim state; callers must treat
// it as a retryable pipeline error, not a crash.
type CompiledContext struct {
	Prompt           string
	IncludedTurns    []string
	IncludedMemories []string
	TrimActions      []string
	DroppedSections  []string
	SectionTokens    map[string]int
	EstimatedTokens  int
	OverBudget       bool
}

// CompilerOption configures a ContextCompiler.
type CompilerOption func(*ContextCompiler)

// WithTokenEstimator replaces the default length/4 estimator.
func WithTokenEstimator(est TokenEstimator) CompilerOption {
	return func(c *ContextCompiler) { c.estimate = est }
}

// ContextCompiler renders a bounded prompt from named sections, trimming
// deterministically until the estimate fits the budget.
type ContextCompiler struct {
	estimate TokenEstimator
}

// NewContextCompiler creates a compiler with the default estimator.
func NewContextCompiler(opts ...CompilerOption) *ContextCompiler {
	c := &ContextCompiler{estimate: DefaultTokenEstimator}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Estimate exposes the compiler's token estimator.
func (c *ContextCompiler) Estimate(text string) int { return c.estimate(text) }

// Dedupe thresholds: turns collapse at a slightly stricter ratio than
// memory snippets because turns carry role prefixes that inflate
// similarity.
const (
	turnSimilarityThreshold   = 0.92
	memorySimilarityThreshold = 0.90
	trimIterationCap          = 32
	userCompressFloor         = 40
)

// Compile preprocesses (dedupe), renders, and trims until the estimated
// token count fits in.MaxInputTokens or no trim step applies.
func (c *ContextCompiler) Compile(in CompileInput) CompiledContext {
	turns := dedupeSnippets(in.RecentTurns, turnSimilarityThreshold, true)
	memories := dedupeSnippets(in.Memories, memorySimilarityThreshold, false)

	state := compileState{
		in:         in,
		turns:      turns,
		memories:   memories,
		user:       in.User,
		metadata:   in.Metadata,
		invocation: append([]InvocationDoc(nil), in.ToolDocs.Invocation...),
	}

	var trims []string
	var prompt string
	var estimated int
	overBudget := false

	for i := 0; ; i++ {
		prompt = c.render(&state)
		estimated = c.estimate(prompt)
		if estimated <= in.MaxInputTokens || i >= trimIterationCap {
			if estimated > in.MaxInputTokens {
				trims = append(trims, "over_budget_failure")
				overBudget = true
			}
			break
		}

		action, ok := state.trimOnce()
		if !ok {
			trims = append(trims, "over_budget_failure")
			overBudget = true
			break
		}
		trims = append(trims, action)
	}

	return CompiledContext{
		Prompt:           prompt,
		IncludedTurns:    state.turns,
		IncludedMemories: state.memories,
		TrimActions:      trims,
		DroppedSections:  state.dropped,
		SectionTokens:    c.sectionTokens(&state),
		EstimatedTokens:  estimated,
		OverBudget:       overBudget,
	}
}

// compileState is the mutable trim state for one compile call.
type compileState struct {
	in         CompileInput
	turns      []string
	memories   []string
	user       string
	metadata   map[string]string
	invocation []InvocationDoc
	dropped    []string
}

// trimOnce applies the highest-priority applicable trim step and reports
// which. The order is part of the contract: memories age out before turns,
// turns before tool docs, and the user message is only compressed last.
func (s *compileState) trimOnce() (string, bool) {
	if len(s.memories) > 0 {
		s.memories = s.memories[1:]
		return "drop_memory", true
	}
	if len(s.turns) > 0 {
		s.turns = s.turns[1:]
		return "drop_turn", true
	}
	if len(s.invocation) > 1 {
		s.invocation = s.invocation[:1]
		return "drop_invocation_extra", true
	}
	if len(s.metadata) > 0 {
		s.metadata = nil
		s.dropped = append(s.dropped, "metadata")
		return "drop_metadata", true
	}
	if len(s.user) > userCompressFloor {
		half := len(s.user) / 2
		if half < userCompressFloor {
			half = userCompressFloor
		}
		// Do not cut inside a multi-byte rune.
		for half > 0 && !utf8.RuneStart(s.user[half]) {
			half--
		}
		s.user = s.user[:half]
		return "compress_user", true
	}
	return "", false
}

// render produces the prompt text from the current state. Section order is
// fixed; empty sections are omitted.
func (c *ContextCompiler) render(s *compileState) string {
	var b strings.Builder
	section := func(name, body string) {
		if body == "" {
			return
		}
		b.WriteString("## ")
		b.WriteString(name)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	section("role", s.in.Role)
	section("system", s.in.System)
	if len(s.turns) > 0 {
		section("recent_turns", strings.Join(s.turns, "\n"))
	}
	if len(s.memories) > 0 {
		section("memories", strings.Join(s.memories, "\n"))
	}
	section("task_payload", s.in.TaskPayload)
	section("handoff_payload", s.in.HandoffPayload)
	section("tool_routing", renderRouting(s.in.ToolDocs))
	section("tool_invocation", renderInvocation(s.invocation))
	section("tool_full_schema", renderSchemas(s.in.ToolDocs))
	if len(s.metadata) > 0 {
		section("metadata", renderMetadata(s.metadata))
	}
	section("user", s.user)
	return strings.TrimRight(b.String(), "\n")
}

func (c *ContextCompiler) sectionTokens(s *compileState) map[string]int {
	out := map[string]int{}
	add := func(name, body string) {
		if body != "" {
			out[name] = c.estimate(body)
		}
	}
	add("role", s.in.Role)
	add("system", s.in.System)
	add("recent_turns", strings.Join(s.turns, "\n"))
	add("memories", strings.Join(s.memories, "\n"))
	add("task_payload", s.in.TaskPayload)
	add("handoff_payload", s.in.HandoffPayload)
	add("tool_routing", renderRouting(s.in.ToolDocs))
	add("tool_invocation", renderInvocation(s.invocation))
	add("tool_full_schema", renderSchemas(s.in.ToolDocs))
	add("metadata", renderMetadata(s.metadata))
	add("user", s.user)
	return out
}

func renderRouting(docs ToolDocsBundle) string {
	if docs.Mode != ToolDocsRouting && docs.Mode != ToolDocsInvocation && docs.Mode != ToolDocsFull {
		return ""
	}
	var parts []string
	for _, item := range docs.Routing {
		parts = append(parts, fmt.Sprintf("- %s [%s]: %s", item.Name, strings.Join(item.Tags, ","), item.RoutingSummary))
	}
	return strings.Join(parts, "\n")
}

func renderInvocation(invocation []InvocationDoc) string {
	var parts []string
	for _, inv := range invocation {
		line := fmt.Sprintf("- %s: %s", inv.Name, inv.InvocationSummary)
		if len(inv.Examples) > 0 {
			line += " e.g. " + inv.Examples[0]
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

func renderSchemas(docs ToolDocsBundle) string {
	if docs.Mode != ToolDocsFull {
		return ""
	}
	var parts []string
	for _, sd := range docs.Full {
		parts = append(parts, fmt.Sprintf("- %s: %s", sd.Name, sd.FullSchema))
	}
	return strings.Join(parts, "\n")
}

func renderMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, k+"="+metadata[k])
	}
	return strings.Join(parts, " ")
}

// --- Deduplication ---

var (
	rolePrefixPat  = regexp.MustCompile(`^[a-z_]+:\s*`)
	punctuationPat = regexp.MustCompile(`[^\pL\pN\s]`)

	// boilerplatePats match canned disclaimer turns. At most one instance
	// survives dedupe regardless of similarity score, so repeated refusals
	// cannot crowd a small budget.
	boilerplatePats = []string{
		"as an ai",
		"i'm sorry, but i can",
		"i am sorry, but i can",
		"i cannot help with",
	}
)

// snippetSignature normalizes text for duplicate detection: role prefix
// stripped, NFKC-normalized, lowercased, punctuation removed, whitespace
// collapsed.
func snippetSignature(text string, stripRole bool) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if stripRole {
		s = rolePrefixPat.ReplaceAllString(s, "")
	}
	s = norm.NFKC.String(s)
	s = punctuationPat.ReplaceAllString(s, "")
	s = wsRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func isBoilerplate(sig string) bool {
	for _, p := range boilerplatePats {
		if strings.Contains(sig, p) {
			return true
		}
	}
	return false
}

// dedupeSnippets keeps the first occurrence of each distinct snippet,
// collapsing exact matches and near-duplicates above the threshold.
// stripRoles controls whether role prefixes are ignored when comparing.
func dedupeSnippets(items []string, threshold float64, stripRoles bool) []string {
	var kept []string
	var keptSigs []string
	boilerplateSeen := false

	for _, item := range items {
		sig := snippetSignature(item, stripRoles)
		if sig == "" {
			continue
		}
		if isBoilerplate(sig) {
			if boilerplateSeen {
				continue
			}
			boilerplateSeen = true
		}
		dup := false
		for _, prev := range keptSigs {
			if prev == sig || bigramDice(prev, sig) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, item)
		keptSigs = append(keptSigs, sig)
	}
	return kept
}

// bigramDice computes the Sørensen–Dice coefficient over character bigrams.
// Deterministic and cheap; good enough to catch near-identical turns.
func bigramDice(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) < 2 || len(b) < 2 {
		return 0.0
	}
	counts := make(map[string]int)
	for i := 0; i+2 <= len(a); i++ {
		counts[a[i:i+2]]++
	}
	overlap := 0
	for i := 0; i+2 <= len(b); i++ {
		bg := b[i : i+2]
		if counts[bg] > 0 {
			counts[bg]--
			overlap++
		}
	}
	return 2.0 * float64(overlap) / float64(len(a)-1+len(b)-1)
}
