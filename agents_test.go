package relay

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOrchestratorDecide(t *testing.T) {
	tests := []struct {
		text   string
		intent string
		search bool
		write  bool
	}{
		{"/status", "status", false, false},
		{"what's the runtime status?", "status", false, false},
		{"remember that I like tea", "memory", true, true},
		{"/memory save this", "memory", true, true},
		{"tell me a joke", "chat", true, false},
	}
	for _, tt := range tests {
		got := OrchestratorAgent{}.Decide(tt.text)
		if got.Intent != tt.intent || got.ShouldSearchMemory != tt.search || got.ShouldWriteMemory != tt.write {
			t.Errorf("Decide(%q) = %+v, want intent=%s search=%v write=%v", tt.text, got, tt.intent, tt.search, tt.write)
		}
	}
}

func TestPlannerPlan(t *testing.T) {
	trace := TraceContext{RequestID: "req-1"}
	budget := TransferBudget{MaxInputTokens: 2048, ReservedOutputTokens: 256}

	chat := PlannerAgent{}.Plan("tell me something nice", trace, budget)
	if chat.Transfer != nil {
		t.Errorf("plain chat should not need a transfer, got %+v", chat.Transfer)
	}
	if len(chat.PlanSteps) != 2 {
		t.Errorf("chat plan = %v, want two steps", chat.PlanSteps)
	}

	tool := PlannerAgent{}.Plan("check the status of my task", trace, budget)
	if tool.Transfer == nil {
		t.Fatal("tool turn should carry a transfer")
	}
	if tool.Transfer.TargetAgent != AgentExecution {
		t.Errorf("target = %s, want %s", tool.Transfer.TargetAgent, AgentExecution)
	}
	if tool.Transfer.Budget != budget {
		t.Errorf("budget = %+v, want %+v", tool.Transfer.Budget, budget)
	}
	if tool.Transfer.Trace.RequestID != "req-1" {
		t.Error("trace context must ride the transfer")
	}
	if tool.ToolIntentQuery == "" {
		t.Error("tool turn should record its intent query")
	}
}

func executionFixture(t *testing.T) (*ExecutionAgent, *memStore) {
	t.Helper()
	store := newMemStore()
	registry := NewToolRegistry()
	t.Cleanup(func() { registry.Close() })

	searchHandler := func(_ context.Context, _ *ToolCallContext, _ map[string]any) (map[string]any, error) {
		return map[string]any{"status": "ok", "items": []map[string]any{{"content": "tz card"}}}, nil
	}
	writeHandler := func(ctx context.Context, call *ToolCallContext, args map[string]any) (map[string]any, error) {
		content, _ := args["content"].(string)
		_, err := store.WriteMemory(ctx, MemoryRecord{SessionID: call.SessionID, Content: content, CardType: CardFact})
		return map[string]any{"status": "ok"}, err
	}
	statusHandler := func(_ context.Context, _ *ToolCallContext, _ map[string]any) (map[string]any, error) {
		return map[string]any{"status": "ok", "report": "all good"}, nil
	}

	metas := []struct {
		meta    ToolMetadata
		handler ToolHandler
	}{
		{ToolMetadata{Name: "memory.search", Risk: RiskLow, Idempotent: true, Tags: []string{"memory", "recall", "search"}, RoutingSummary: "Search long-term memory."}, searchHandler},
		{ToolMetadata{Name: "memory.write", Risk: RiskLow, Tags: []string{"memory", "remember"}, RoutingSummary: "Save a memory card."}, writeHandler},
		{ToolMetadata{Name: "status.get", Risk: RiskLow, Idempotent: true, Tags: []string{"status", "health"}, RoutingSummary: "Report runtime status."}, statusHandler},
	}
	for _, m := range metas {
		if err := registry.Register(m.meta, m.handler); err != nil {
			t.Fatalf("register %s: %v", m.meta.Name, err)
		}
	}

	executor := NewToolExecutor(registry, NewPolicyEngine(ProfileExecuteSafe), NewBreakerRegistry(3, time.Minute), nil, WithExecutorRetryPolicy(quickRetry()))
	return NewExecutionAgent(registry, executor), store
}

func transferFor(input string) *Transfer {
	return &Transfer{
		TargetAgent:    AgentExecution,
		Subtask:        "execute shortlisted tools for current user request",
		InputSummary:   input,
		ExpectedOutput: "json",
		Budget:         TransferBudget{MaxInputTokens: 2048, ReservedOutputTokens: 256},
		Trace:          TraceContext{RequestID: "req-1"},
	}
}

func TestExecutionAgentRememberIntent(t *testing.T) {
	agent, store := executionFixture(t)
	rec := NewTraceRecorder(nil, nil)
	call := &ToolCallContext{SessionID: 1}

	res := agent.ExecuteFromTransfer(context.Background(), transferFor("remember that my timezone is IST"), call, rec)
	if len(res.SelectedTools) != 1 || res.SelectedTools[0] != "memory.write" {
		t.Fatalf("selected = %v, want only memory.write", res.SelectedTools)
	}
	if len(store.memories) != 1 {
		t.Errorf("memories persisted = %d, want 1", len(store.memories))
	}
}

func TestExecutionAgentRecallIntent(t *testing.T) {
	agent, _ := executionFixture(t)
	rec := NewTraceRecorder(nil, nil)

	res := agent.ExecuteFromTransfer(context.Background(), transferFor("do you remember what my timezone is"), &ToolCallContext{SessionID: 1}, rec)
	if len(res.SelectedTools) != 1 || res.SelectedTools[0] != "memory.search" {
		t.Fatalf("selected = %v, want only memory.search", res.SelectedTools)
	}
	if len(res.Outputs) != 1 || res.Outputs[0]["status"] != ToolStatusOK {
		t.Errorf("outputs = %+v, want one ok result", res.Outputs)
	}
}

func TestExecutionAgentClarificationAbstention(t *testing.T) {
	agent, _ := executionFixture(t)
	rec := NewTraceRecorder(nil, nil)

	res := agent.ExecuteFromTransfer(context.Background(), transferFor("zzz qqq nothing relevant"), &ToolCallContext{SessionID: 1}, rec)
	if !res.NeedsClarification {
		t.Fatalf("result = %+v, want clarification abstention", res)
	}
	if len(res.Outputs) != 0 {
		t.Error("abstention must not invoke tools")
	}
}

func TestExecutionAgentRecordsDocInjection(t *testing.T) {
	agent, _ := executionFixture(t)
	rec := NewTraceRecorder(nil, nil)

	agent.ExecuteFromTransfer(context.Background(), transferFor("check status please"), &ToolCallContext{SessionID: 1}, rec)

	modes := map[string]bool{}
	for _, ev := range rec.Events() {
		if ev.Event == EventToolDocInjection {
			if mode, ok := ev.Extra["mode"].(string); ok {
				modes[mode] = true
			}
		}
	}
	for _, mode := range []string{string(ToolDocsRouting), string(ToolDocsInvocation), string(ToolDocsFull)} {
		if !modes[mode] {
			t.Errorf("missing %s injection event, got %v", mode, modes)
		}
	}
}

func TestExecutionAgentHistoryPerSession(t *testing.T) {
	agent, _ := executionFixture(t)
	rec := NewTraceRecorder(nil, nil)

	agent.ExecuteFromTransfer(context.Background(), transferFor("check status please"), &ToolCallContext{SessionID: 1}, rec)

	if got := agent.recentHistory(1); len(got) != 1 || got[0] != "status.get" {
		t.Fatalf("session 1 history = %v, want [status.get]", got)
	}
	if got := agent.recentHistory(2); len(got) != 0 {
		t.Errorf("session 2 history = %v, want empty", got)
	}
}

func TestExecutionAgentConcurrentSessions(t *testing.T) {
	agent, _ := executionFixture(t)

	var wg sync.WaitGroup
	for s := int64(1); s <= 4; s++ {
		wg.Add(1)
		go func(sessionID int64) {
			defer wg.Done()
			rec := NewTraceRecorder(nil, nil)
			for i := 0; i < 10; i++ {
				agent.ExecuteFromTransfer(context.Background(), transferFor("check status please"), &ToolCallContext{SessionID: sessionID}, rec)
			}
		}(s)
	}
	wg.Wait()

	for s := int64(1); s <= 4; s++ {
		h := agent.recentHistory(s)
		if len(h) != 10 {
			t.Errorf("session %d history length = %d, want 10", s, len(h))
		}
		for _, name := range h {
			if name != "status.get" {
				t.Fatalf("session %d history contains %q", s, name)
			}
		}
	}
}

func TestReplyCompose(t *testing.T) {
	tests := []struct {
		name         string
		providerText string
		snippets     []string
		want         string
	}{
		{"provider wins", "  all set  ", []string{"card"}, "all set"},
		{"memory fallback", "", []string{"timezone is IST"}, "I found related context: timezone is IST"},
		{"echo last resort", "", nil, "Received: hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReplyAgent{}.Compose(tt.providerText, "hi", tt.snippets)
			if got != tt.want {
				t.Errorf("Compose = %q, want %q", got, tt.want)
			}
		})
	}
}
