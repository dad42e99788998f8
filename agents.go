package relay

import (
	"context"
	"strings"
	"sync"
)

// Agent identifiers as they appear in transfer events and trace output.
const (
	AgentOrchestrator = "orchestrator_agent"
	AgentPlanner      = "planner_agent"
	AgentMemory       = "memory_agent"
	AgentExecution    = "execution_agent"
	AgentReply        = "reply_agent"
)

// --- Orchestrator ---

// OrchestratorDecision is the intent classification for one user turn.
type OrchestratorDecision struct {
	Intent             string
	ShouldSearchMemory bool
	ShouldWriteMemory  bool
}

// OrchestratorAgent classifies the inbound message into a coarse intent
// that gates the memory stages.
type OrchestratorAgent struct{}

// Decide classifies text. Slash commands and bare keywords are enough;
// anything unrecognized is a chat turn with memory search enabled.
func (OrchestratorAgent) Decide(userText string) OrchestratorDecision {
	text := strings.ToLower(userText)
	if strings.HasPrefix(text, "/status") || strings.Contains(text, "status") {
		return OrchestratorDecision{Intent: "status"}
	}
	if strings.Contains(text, "remember") || strings.HasPrefix(text, "/memory") {
		return OrchestratorDecision{Intent: "memory", ShouldSearchMemory: true, ShouldWriteMemory: true}
	}
	return OrchestratorDecision{Intent: "chat", ShouldSearchMemory: true}
}

// --- Planner ---

// PlannerOutput is the plan for one run. Transfer is nil when no tool
// phase is needed.
type PlannerOutput struct {
	PlanSteps       []string
	ToolIntentQuery string
	Transfer        *Transfer
}

// PlannerAgent decides whether the turn needs a tool phase and, if so,
// emits the handoff contract for the execution agent.
type PlannerAgent struct{}

var plannerToolTokens = []string{"status", "remember", "search", "task", "memory", "fix"}

// Plan builds the step list and, when tools are needed, the Transfer.
func (PlannerAgent) Plan(userText string, trace TraceContext, budget TransferBudget) PlannerOutput {
	text := strings.ToLower(strings.TrimSpace(userText))
	toolNeeded := strings.HasPrefix(text, "/")
	for _, tok := range plannerToolTokens {
		if strings.Contains(text, tok) {
			toolNeeded = true
			break
		}
	}

	steps := []string{"interpret_intent", "prepare_response"}
	out := PlannerOutput{PlanSteps: steps}
	if !toolNeeded {
		return out
	}

	out.PlanSteps = []string{"interpret_intent", "execute_tools", "prepare_response"}
	out.ToolIntentQuery = truncate(text, 80)
	out.Transfer = &Transfer{
		TargetAgent:    AgentExecution,
		Subtask:        "execute shortlisted tools for current user request",
		InputSummary:   truncate(userText, 240),
		Constraints:    []string{"bounded_context", "tool_schema_on_demand"},
		ExpectedOutput: "json",
		Budget:         budget,
		FallbackPolicy: "return_partial",
		Trace:          trace,
	}
	return out
}

// --- Memory agent ---

// MemoryAgentOutput is the result of the memory phase.
type MemoryAgentOutput struct {
	Snippets    []string
	WroteMemory bool
}

// MemoryAgent runs memory search and writes through the tool executor so
// every access goes through the same permission and audit path as any
// other tool call.
type MemoryAgent struct {
	executor *ToolExecutor
}

// NewMemoryAgent creates a memory agent over executor.
func NewMemoryAgent(executor *ToolExecutor) *MemoryAgent {
	return &MemoryAgent{executor: executor}
}

// Handle searches and/or writes memory for the turn. Tool errors degrade
// to an empty result rather than failing the run; memory is advisory.
func (a *MemoryAgent) Handle(ctx context.Context, call *ToolCallContext, userText string, search, write bool, topK int, rec *TraceRecorder, trace TraceContext) MemoryAgentOutput {
	var out MemoryAgentOutput
	trace.AgentID = AgentMemory

	if search {
		res, err := a.executor.Execute(ctx, call, "memory.search", map[string]any{"query": userText, "top_k": topK}, rec, trace)
		if err == nil && res.Status == ToolStatusOK {
			if items, ok := res.Output["items"].([]map[string]any); ok {
				for _, item := range items {
					if content, ok := item["content"].(string); ok {
						out.Snippets = append(out.Snippets, content)
					}
				}
			}
		}
	}

	if write && userText != "" {
		res, err := a.executor.Execute(ctx, call, "memory.write", map[string]any{"content": userText}, rec, trace)
		out.WroteMemory = err == nil && res.Status == ToolStatusOK
	}
	return out
}

// --- Execution agent ---

// ExecutionResult is the outcome of the tool phase.
type ExecutionResult struct {
	SelectedTools      []string
	Outputs            []map[string]any
	NeedsClarification bool
	Confidence         float64
	InjectionLog       map[string]int
}

// maxToolsPerTransfer caps how many tools one handoff may invoke.
const maxToolsPerTransfer = 2

// ExecutionAgent selects and invokes tools for a transfer. Selection is
// intent-first: explicit remember/recall phrasing pins the memory tools,
// then shortlist keyword hits fill in, then hybrid ranking orders the
// candidates and decides whether to abstain.
type ExecutionAgent struct {
	registry *ToolRegistry
	executor *ToolExecutor

	mu      sync.Mutex
	history map[int64][]string // per-session recent successful tool names, most recent first
}

// NewExecutionAgent creates an execution agent over registry and executor.
func NewExecutionAgent(registry *ToolRegistry, executor *ToolExecutor) *ExecutionAgent {
	return &ExecutionAgent{registry: registry, executor: executor, history: make(map[int64][]string)}
}

// historyMax bounds the per-session success history used for rank boosts.
const historyMax = 16

// recentHistory returns a copy of the session's success history.
func (a *ExecutionAgent) recentHistory(sessionID int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.history[sessionID]...)
}

// recordSuccess prepends toolName to the session's history.
func (a *ExecutionAgent) recordSuccess(sessionID int64, toolName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := append([]string{toolName}, a.history[sessionID]...)
	if len(h) > historyMax {
		h = h[:historyMax]
	}
	a.history[sessionID] = h
}

var rememberPhrases = []string{"remember that", "remember ", "my timezone is", "my time zone is", "note that"}

var recallPhrases = []string{"what is my", "what's my", "do you remember", "recall", "what did i", "did i tell you"}

func isRememberIntent(text string) bool {
	for _, k := range rememberPhrases {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func isRecallIntent(text string) bool {
	for _, k := range recallPhrases {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// ExecuteFromTransfer runs the tool phase for one transfer. When ranking
// abstains the result carries NeedsClarification and no tools run.
func (a *ExecutionAgent) ExecuteFromTransfer(ctx context.Context, transfer *Transfer, call *ToolCallContext, rec *TraceRecorder) ExecutionResult {
	trace := transfer.Trace
	trace.AgentID = AgentExecution

	routingBundle := BuildToolDocsBundle(a.registry, transfer.InputSummary, ToolDocsRouting, nil, 4, nil)
	rec.Record(trace, EventToolDocInjection, "ok", map[string]any{
		"mode":          string(ToolDocsRouting),
		"routing_count": len(routingBundle.Routing),
	})

	text := strings.ToLower(transfer.InputSummary)
	var selected []string

	// Intent-first routing: avoid noisy memory.search on write-intent turns.
	if isRememberIntent(text) {
		selected = []string{"memory.write"}
	} else if isRecallIntent(text) {
		selected = []string{"memory.search"}
	}

	for _, item := range routingBundle.Routing {
		n := item.Name
		switch {
		case strings.HasPrefix(n, "memory") && containsAny(text, "remember", "preference", "memory", "fix"):
			selected = appendUnique(selected, n)
		case n == "status.get" && strings.Contains(text, "status"):
			selected = appendUnique(selected, n)
		case strings.HasPrefix(n, "task.") && strings.Contains(text, "task"):
			selected = appendUnique(selected, n)
		}
	}

	// A pinned memory intent keeps the tool path focused to a single tool.
	if len(selected) > 0 && (selected[0] == "memory.write" || selected[0] == "memory.search") {
		selected = selected[:1]
	}

	ranking := RankTools(a.registry, transfer.InputSummary, routingBundle.Routing, a.recentHistory(call.SessionID))
	if len(selected) == 0 {
		if ranking.NeedsClarification {
			return ExecutionResult{
				NeedsClarification: true,
				Confidence:         ranking.Confidence,
				InjectionLog:       map[string]int{"routing_count": len(routingBundle.Routing)},
			}
		}
		for _, rt := range ranking.Tools {
			selected = appendUnique(selected, rt.Name)
			if len(selected) >= maxToolsPerTransfer {
				break
			}
		}
	}

	invocationBundle := BuildToolDocsBundle(a.registry, transfer.InputSummary, ToolDocsInvocation, selected, 4, nil)
	rec.Record(trace, EventToolDocInjection, "ok", map[string]any{
		"mode":             string(ToolDocsInvocation),
		"invocation_count": len(invocationBundle.Invocation),
	})

	if len(selected) > maxToolsPerTransfer {
		selected = selected[:maxToolsPerTransfer]
	}

	var outputs []map[string]any
	for _, toolName := range selected {
		// Full schema enters context only at the actual invocation step.
		fullBundle := BuildToolDocsBundle(a.registry, transfer.InputSummary, ToolDocsFull, []string{toolName}, 4, nil)
		rec.Record(trace, EventToolDocInjection, "ok", map[string]any{
			"mode":              string(ToolDocsFull),
			"tool":              toolName,
			"full_schema_count": len(fullBundle.Full),
		})

		args := a.argsFor(toolName, transfer, call)
		if args == nil {
			continue
		}
		res, err := a.executor.Execute(ctx, call, toolName, args, rec, trace)
		if err != nil {
			outputs = append(outputs, map[string]any{"tool": toolName, "status": res.Status, "error": err.Error()})
			continue
		}
		out := res.Output
		if out == nil {
			out = map[string]any{}
		}
		out["tool"] = toolName
		out["status"] = res.Status
		outputs = append(outputs, out)
		if res.Status == ToolStatusOK {
			a.recordSuccess(call.SessionID, toolName)
		}
	}

	return ExecutionResult{
		SelectedTools: selected,
		Outputs:       outputs,
		Confidence:    ranking.Confidence,
		InjectionLog: map[string]int{
			"routing_count":     len(routingBundle.Routing),
			"invocation_count":  len(invocationBundle.Invocation),
			"full_schema_count": len(selected),
		},
	}
}

// argsFor builds the arguments for the known tool shapes. Unknown tools
// are skipped rather than called with a guessed payload.
func (a *ExecutionAgent) argsFor(toolName string, transfer *Transfer, call *ToolCallContext) map[string]any {
	switch toolName {
	case "memory.search":
		return map[string]any{"query": transfer.InputSummary, "top_k": 3}
	case "memory.write":
		return map[string]any{"content": transfer.InputSummary}
	case "memory.failure_fix":
		return map[string]any{
			"error_signature": "generic",
			"fix":             truncate(transfer.InputSummary, 120),
			"source":          AgentExecution,
		}
	case "status.get":
		return map[string]any{}
	case "task.update":
		if call.TaskID == 0 {
			return nil
		}
		return map[string]any{
			"task_id":    call.TaskID,
			"status":     TaskRunning,
			"step_index": 0,
			"agent_id":   AgentExecution,
			"detail":     "execution agent tool phase",
		}
	case "weather.get":
		return map[string]any{"query": transfer.InputSummary}
	}
	return nil
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}

// --- Reply agent ---

// ReplyAgent composes the final assistant text from whatever the run
// produced, in priority order.
type ReplyAgent struct{}

// Compose returns provider text when present, the top memory snippet as a
// fallback, and an echo as the last resort.
func (ReplyAgent) Compose(providerText, userText string, memorySnippets []string) string {
	if providerText != "" {
		return strings.TrimSpace(providerText)
	}
	if len(memorySnippets) > 0 {
		return "I found related context: " + truncate(memorySnippets[0], 160)
	}
	return "Received: " + truncate(userText, 220)
}
