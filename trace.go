package relay

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Trace event names. Trace-summary aggregation depends on these exact
// strings; renaming one silently zeroes a summary column.
const (
	EventPipelineStart     = "pipeline_start"
	EventPipelineEnd       = "pipeline_end"
	EventContextCompiled   = "context_compiled"
	EventTransferCreated   = "transfer_created"
	EventToolDocInjection  = "tool_doc_injection"
	EventToolCall          = "tool_call"
	EventToolRetry         = "tool_retry"
	EventProviderAttempt   = "provider_attempt"
	EventProviderRetry     = "provider_retry"
	EventProviderBlocked   = "provider_blocked"
	EventReflexionDecision = "reflexion_decision"
	EventReflexionRetry    = "reflexion_retry"
)

// TraceContext identifies which run and stage an event belongs to.
type TraceContext struct {
	RequestID string
	TaskID    int64
	SessionID int64
	AgentID   string
	Phase     string
}

// TraceEvent is one structured state-transition record.
type TraceEvent struct {
	Event     string
	Status    string
	RequestID string
	TaskID    int64
	SessionID int64
	AgentID   string
	Phase     string
	Extra     map[string]any
	At        time.Time
}

// TraceSink receives every event as it is recorded. Optional; used to ship
// events to an external observability backend.
type TraceSink func(ev TraceEvent)

// TraceRecorder collects one run's events. It replaces a process-global
// ring buffer: the pipeline owns one recorder per run and hands it to the
// summary builder, so event lifetime is bounded by the run.
type TraceRecorder struct {
	mu     sync.Mutex
	events []TraceEvent
	logger *slog.Logger
	sink   TraceSink
}

// NewTraceRecorder creates a recorder logging through logger (nil for none)
// and forwarding to sink (nil for none).
func NewTraceRecorder(logger *slog.Logger, sink TraceSink) *TraceRecorder {
	if logger == nil {
		logger = nopLogger
	}
	return &TraceRecorder{logger: logger, sink: sink}
}

// Record appends one event, logs it, and forwards it to the sink.
func (r *TraceRecorder) Record(ctx TraceContext, event, status string, extra map[string]any) {
	ev := TraceEvent{
		Event:     event,
		Status:    status,
		RequestID: ctx.RequestID,
		TaskID:    ctx.TaskID,
		SessionID: ctx.SessionID,
		AgentID:   ctx.AgentID,
		Phase:     ctx.Phase,
		Extra:     extra,
		At:        time.Now(),
	}

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	attrs := []any{
		"status", status,
		"request_id", ctx.RequestID,
		"task_id", ctx.TaskID,
		"session_id", ctx.SessionID,
		"agent_id", ctx.AgentID,
		"phase", ctx.Phase,
	}
	for k, v := range extra {
		attrs = append(attrs, k, v)
	}
	r.logger.Info(event, attrs...)

	if r.sink != nil {
		r.sink(ev)
	}
}

// Events returns a copy of everything recorded so far.
func (r *TraceRecorder) Events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// BuildTraceSummary aggregates the recorder's events into the persisted
// per-task summary row.
func BuildTraceSummary(rec *TraceRecorder, taskID, sessionID int64, requestID, outcomeStatus string) TaskTraceSummary {
	var (
		agents         []string
		seenAgent      = map[string]bool{}
		tokens         []int
		transferCount  int
		providerCount  int
		toolCount      int
		retryCount     int
		breakerEvents  int
		trimEventCount int
	)

	for _, ev := range rec.Events() {
		if ev.AgentID != "" && !seenAgent[ev.AgentID] {
			seenAgent[ev.AgentID] = true
			agents = append(agents, ev.AgentID)
		}
		switch ev.Event {
		case EventTransferCreated:
			transferCount++
		case EventProviderAttempt:
			providerCount++
		case EventToolCall:
			toolCount++
			if ev.Status == "blocked" {
				breakerEvents++
			}
		case EventProviderRetry, EventToolRetry, EventReflexionRetry:
			retryCount++
		case EventProviderBlocked:
			if ev.Status == "blocked" {
				breakerEvents++
			}
		case EventContextCompiled:
			if et := intExtra(ev.Extra, "estimated_tokens"); et > 0 {
				tokens = append(tokens, et)
			}
			if s, _ := ev.Extra["trim_actions"].(string); s != "" {
				trimEventCount++
			}
		}
	}

	avg := 0.0
	if len(tokens) > 0 {
		sum := 0
		for _, t := range tokens {
			sum += t
		}
		avg = float64(sum) / float64(len(tokens))
	}

	return TaskTraceSummary{
		TaskID:             taskID,
		SessionID:          sessionID,
		RequestID:          requestID,
		AgentSequence:      strings.Join(agents, ","),
		TransferCount:      transferCount,
		ProviderAttempts:   providerCount,
		ToolAttempts:       toolCount,
		RetryCount:         retryCount,
		BreakerEvents:      breakerEvents,
		TrimEventCount:     trimEventCount,
		AvgEstimatedTokens: avg,
		OutcomeStatus:      outcomeStatus,
		CreatedAt:          time.Now(),
	}
}

func intExtra(extra map[string]any, key string) int {
	switch v := extra[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
