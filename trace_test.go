package relay

import (
	"testing"
)

func TestTraceRecorderCollectsEvents(t *testing.T) {
	rec := NewTraceRecorder(nil, nil)
	ctx := TraceContext{RequestID: "req-1", TaskID: 4, SessionID: 2, AgentID: AgentPlanner, Phase: "plan"}

	rec.Record(ctx, EventPipelineStart, "ok", nil)
	rec.Record(ctx, EventToolCall, "error", map[string]any{"tool": "weather.get"})

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	first := events[0]
	if first.Event != EventPipelineStart || first.RequestID != "req-1" || first.TaskID != 4 || first.AgentID != AgentPlanner {
		t.Errorf("first event = %+v", first)
	}
	if got := events[1].Extra["tool"]; got != "weather.get" {
		t.Errorf("extra tool = %v, want weather.get", got)
	}
}

func TestTraceRecorderForwardsToSink(t *testing.T) {
	var forwarded []TraceEvent
	rec := NewTraceRecorder(nil, func(ev TraceEvent) { forwarded = append(forwarded, ev) })

	rec.Record(TraceContext{RequestID: "req-1"}, EventPipelineEnd, "completed", nil)
	if len(forwarded) != 1 || forwarded[0].Event != EventPipelineEnd {
		t.Errorf("forwarded = %+v, want one pipeline_end", forwarded)
	}
}

func TestBuildTraceSummary(t *testing.T) {
	rec := NewTraceRecorder(nil, nil)
	base := TraceContext{RequestID: "req-1", TaskID: 9, SessionID: 3}

	orchestrator := base
	orchestrator.AgentID = AgentOrchestrator
	execution := base
	execution.AgentID = AgentExecution

	rec.Record(orchestrator, EventPipelineStart, "ok", nil)
	rec.Record(orchestrator, EventContextCompiled, "ok", map[string]any{"estimated_tokens": 100, "trim_actions": "drop_memory"})
	rec.Record(orchestrator, EventContextCompiled, "ok", map[string]any{"estimated_tokens": 200})
	rec.Record(orchestrator, EventTransferCreated, "ok", nil)
	rec.Record(execution, EventToolCall, "ok", nil)
	rec.Record(execution, EventToolCall, "blocked", nil)
	rec.Record(execution, EventToolRetry, "retry", nil)
	rec.Record(base, EventProviderAttempt, "ok", nil)
	rec.Record(base, EventProviderRetry, "retry", nil)
	rec.Record(base, EventProviderBlocked, "blocked", nil)
	rec.Record(orchestrator, EventPipelineEnd, "completed", nil)

	sum := BuildTraceSummary(rec, 9, 3, "req-1", TaskCompleted)

	if sum.TaskID != 9 || sum.SessionID != 3 || sum.RequestID != "req-1" {
		t.Errorf("identity fields = %+v", sum)
	}
	if sum.AgentSequence != AgentOrchestrator+","+AgentExecution {
		t.Errorf("agent sequence = %s", sum.AgentSequence)
	}
	if sum.TransferCount != 1 {
		t.Errorf("transfers = %d, want 1", sum.TransferCount)
	}
	if sum.ProviderAttempts != 1 || sum.ToolAttempts != 2 {
		t.Errorf("attempts = %d/%d, want 1/2", sum.ProviderAttempts, sum.ToolAttempts)
	}
	if sum.RetryCount != 2 {
		t.Errorf("retries = %d, want 2", sum.RetryCount)
	}
	// One blocked tool call plus one provider_blocked event.
	if sum.BreakerEvents != 2 {
		t.Errorf("breaker events = %d, want 2", sum.BreakerEvents)
	}
	if sum.TrimEventCount != 1 {
		t.Errorf("trim events = %d, want 1", sum.TrimEventCount)
	}
	if sum.AvgEstimatedTokens != 150 {
		t.Errorf("avg tokens = %v, want 150", sum.AvgEstimatedTokens)
	}
	if sum.OutcomeStatus != TaskCompleted {
		t.Errorf("outcome = %s, want %s", sum.OutcomeStatus, TaskCompleted)
	}
}
