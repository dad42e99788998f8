package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed user-visible failure texts. Raw error text is never shown to end
// users, only logged and fingerprinted.
const (
	replyTimeout = "Request timed out while coordinating agents. Please try again."
	replyFailure = "I hit a runtime issue while processing that. Please try again."

	replyClarification = "I'm not sure which action you want. I can check status, save or search memory, or manage tasks. Could you clarify?"
)

// PipelineConfig holds the runtime knobs for a Pipeline. Zero values are
// replaced with defaults in NewPipeline.
type PipelineConfig struct {
	Model                string
	ProviderOrder        []string
	MaxInputTokens       int
	ReservedOutputTokens int
	RecentTurnCount      int
	MemorySnippetCap     int
	RequestTimeout       time.Duration
	RetryAttempts        int
	TaskReuseWindow      time.Duration
	ReflexionMaxPerStep  int
}

func (c *PipelineConfig) applyDefaults() {
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = 2048
	}
	if c.ReservedOutputTokens <= 0 {
		c.ReservedOutputTokens = 256
	}
	if c.RecentTurnCount <= 0 {
		c.RecentTurnCount = 6
	}
	if c.MemorySnippetCap <= 0 {
		c.MemorySnippetCap = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 25 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.TaskReuseWindow <= 0 {
		c.TaskReuseWindow = 45 * time.Minute
	}
	if c.ReflexionMaxPerStep <= 0 {
		c.ReflexionMaxPerStep = 2
	}
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the structured logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithTraceSink forwards every trace event to an external sink.
func WithTraceSink(sink TraceSink) PipelineOption {
	return func(p *Pipeline) { p.sink = sink }
}

// WithSafeMode sets the safe-mode getter, polled once per run.
func WithSafeMode(g SafeModeGetter) PipelineOption {
	return func(p *Pipeline) { p.safeMode = g }
}

// WithPipelineTracer sets the span tracer. Each run gets a root span with
// child spans per stage.
func WithPipelineTracer(t Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline is the per-request orchestration state machine. One instance
// serves the whole process; per-session serialization happens through the
// lock registry, so a Pipeline is safe for concurrent Handle calls.
type Pipeline struct {
	store    Store
	registry *ToolRegistry
	executor *ToolExecutor
	router   *ProviderRouter
	compiler *ContextCompiler
	locks    *SessionLocks
	cfg      PipelineConfig

	orchestrator OrchestratorAgent
	planner      PlannerAgent
	memoryAgent  *MemoryAgent
	execution    *ExecutionAgent
	reply        ReplyAgent

	safeMode SafeModeGetter
	logger   *slog.Logger
	sink     TraceSink
	tracer   Tracer
	now      func() time.Time
}

// NewPipeline wires the pipeline over its collaborators.
func NewPipeline(store Store, registry *ToolRegistry, executor *ToolExecutor, router *ProviderRouter, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		store:       store,
		registry:    registry,
		executor:    executor,
		router:      router,
		compiler:    NewContextCompiler(),
		locks:       NewSessionLocks(),
		cfg:         cfg,
		memoryAgent: NewMemoryAgent(executor),
		execution:   NewExecutionAgent(registry, executor),
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.safeMode == nil {
		p.safeMode = func() bool { return false }
	}
	if p.tracer == nil {
		p.tracer = nopTracer{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Handle runs the full pipeline for one inbound message. It always returns
// a RunResult with user-presentable text; the error is non-nil only for
// infrastructure failures before a task exists (identity or task rows).
func (p *Pipeline) Handle(ctx context.Context, in Inbound) (RunResult, error) {
	release := p.locks.Acquire(in.Channel + ":" + in.ChatID)
	defer release()

	userID, err := p.store.EnsureUser(ctx, in.UserID)
	if err != nil {
		return RunResult{}, fmt.Errorf("ensure user: %w", err)
	}
	sessionID, err := p.store.EnsureSession(ctx, userID, in.Channel, in.ChatID)
	if err != nil {
		return RunResult{}, fmt.Errorf("ensure session: %w", err)
	}

	task, err := p.resolveTask(ctx, sessionID, in.Text)
	if err != nil {
		return RunResult{}, err
	}

	requestID := uuid.NewString()
	call := &ToolCallContext{
		SessionID: sessionID,
		UserID:    userID,
		TaskID:    task.ID,
		RequestID: requestID,
	}
	trace := TraceContext{
		RequestID: requestID,
		TaskID:    task.ID,
		SessionID: sessionID,
		AgentID:   AgentOrchestrator,
		Phase:     "run",
	}
	rec := NewTraceRecorder(p.logger, p.sink)
	rec.Record(trace, EventPipelineStart, "ok", nil)

	if _, err := p.store.AppendMessage(ctx, MessageRecord{SessionID: sessionID, Role: "user", Content: in.Text}); err != nil {
		p.logger.Warn("persist user message failed", "error", err)
	}
	_ = p.store.UpdateTask(ctx, task.ID, TaskRunning, task.StepIndex)

	runCtx, span := p.tracer.Start(ctx, "pipeline.run",
		StringAttr("request.id", requestID),
		IntAttr("session.id", int(sessionID)),
		IntAttr("task.id", int(task.ID)),
	)
	replyText, runErr := p.runWithRecovery(runCtx, call, in.Text, rec, trace)

	status := TaskCompleted
	if runErr != nil {
		status = TaskFailed
		span.Error(runErr)
		if errors.Is(runErr, context.DeadlineExceeded) {
			replyText = replyTimeout
		} else {
			replyText = replyFailure
		}
		info := Classify(runErr, "pipeline", "task_pipeline")
		if _, ferr := p.store.UpsertFailureFingerprint(ctx, info); ferr != nil {
			p.logger.Warn("fingerprint upsert failed", "error", ferr)
		}
		p.logger.Error("pipeline run failed", "request_id", requestID, "signature", info.MessageSignature)
	}
	span.SetAttr(StringAttr("run.status", status))
	span.End()

	if _, err := p.store.AppendMessage(ctx, MessageRecord{SessionID: sessionID, Role: "assistant", Content: replyText}); err != nil {
		p.logger.Warn("persist assistant message failed", "error", err)
	}
	_ = p.store.UpdateTask(ctx, task.ID, status, task.StepIndex+1)

	p.compactIfDue(ctx, sessionID, userID, in.Text)

	rec.Record(trace, EventPipelineEnd, status, nil)
	if err := p.store.AppendTraceSummary(ctx, BuildTraceSummary(rec, task.ID, sessionID, requestID, status)); err != nil {
		p.logger.Warn("persist trace summary failed", "error", err)
	}

	return RunResult{TaskID: task.ID, Status: status, ReplyText: replyText}, nil
}

// resolveTask reuses the session's latest task when it saw activity within
// the reuse window, otherwise creates a fresh one.
func (p *Pipeline) resolveTask(ctx context.Context, sessionID int64, text string) (Task, error) {
	latest, ok, err := p.store.LatestTask(ctx, sessionID)
	if err != nil {
		return Task{}, fmt.Errorf("latest task: %w", err)
	}
	if ok && p.now().Sub(latest.UpdatedAt) <= p.cfg.TaskReuseWindow {
		return latest, nil
	}
	task, err := p.store.CreateTask(ctx, sessionID, truncate(text, 120))
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// runWithRecovery wraps the core run in the outer timeout and retry
// boundary. Budget and transient errors get another full pass; permission
// and configuration errors escalate immediately.
func (p *Pipeline) runWithRecovery(ctx context.Context, call *ToolCallContext, text string, rec *TraceRecorder, trace TraceContext) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		replyText, err := p.runOnce(runCtx, call, text, rec, trace)
		if err == nil {
			return replyText, nil
		}
		lastErr = err
		if runCtx.Err() != nil {
			return "", runCtx.Err()
		}
		var permErr *PermissionError
		var cfgErr *ConfigError
		if errors.As(err, &permErr) || errors.As(err, &cfgErr) {
			return "", err
		}
		p.logger.Warn("pipeline attempt failed", "attempt", attempt, "error", err)
	}
	return "", lastErr
}

// runOnce executes stages 3 through 9 for one attempt.
func (p *Pipeline) runOnce(ctx context.Context, call *ToolCallContext, text string, rec *TraceRecorder, trace TraceContext) (string, error) {
	// Stage 3: intent classification.
	decision := p.orchestrator.Decide(text)

	// Stage 4: memory phase.
	memCtx, memSpan := p.tracer.Start(ctx, "agent.memory", StringAttr("agent.id", AgentMemory))
	memOut := p.memoryAgent.Handle(memCtx, call, text, decision.ShouldSearchMemory, decision.ShouldWriteMemory, p.cfg.MemorySnippetCap, rec, trace)
	memSpan.SetAttr(IntAttr("memory.snippets", len(memOut.Snippets)))
	memSpan.End()

	turns, err := p.recentTurns(ctx, call.SessionID)
	if err != nil {
		return "", err
	}

	// Stage 5: planner context with routing-mode tool docs.
	budget := TransferBudget{MaxInputTokens: p.cfg.MaxInputTokens, ReservedOutputTokens: p.cfg.ReservedOutputTokens}
	plannerTrace := trace
	plannerTrace.AgentID = AgentPlanner
	plan := p.planner.Plan(text, plannerTrace, budget)

	routingDocs := BuildToolDocsBundle(p.registry, plan.ToolIntentQuery, ToolDocsRouting, nil, 4, p.compiler.Estimate)
	plannerCtx := p.compiler.Compile(CompileInput{
		Role:           AgentPlanner,
		User:           text,
		RecentTurns:    turns,
		Memories:       memOut.Snippets,
		ToolDocs:       routingDocs,
		MaxInputTokens: p.cfg.MaxInputTokens,
	})
	p.recordCompiled(rec, plannerTrace, plannerCtx)
	if plannerCtx.OverBudget {
		return "", &BudgetError{EstimatedTokens: plannerCtx.EstimatedTokens, MaxInputTokens: p.cfg.MaxInputTokens}
	}

	// Stage 6: tool phase behind the planner's transfer.
	var executionSummary string
	if plan.Transfer != nil {
		if err := p.store.AppendTransferEvent(ctx, TransferEvent{
			TaskID:       call.TaskID,
			SessionID:    call.SessionID,
			RequestID:    call.RequestID,
			FromAgent:    AgentPlanner,
			ToAgent:      plan.Transfer.TargetAgent,
			Subtask:      plan.Transfer.Subtask,
			InputSummary: plan.Transfer.InputSummary,
		}); err != nil {
			p.logger.Warn("persist transfer failed", "error", err)
		}
		rec.Record(plannerTrace, EventTransferCreated, "ok", map[string]any{"target": plan.Transfer.TargetAgent})

		execCtx, execSpan := p.tracer.Start(ctx, "agent.execution", StringAttr("agent.id", AgentExecution))
		execResult := p.execution.ExecuteFromTransfer(execCtx, plan.Transfer, call, rec)
		execSpan.SetAttr(
			IntAttr("tools.selected", len(execResult.SelectedTools)),
			BoolAttr("needs_clarification", execResult.NeedsClarification),
		)
		execSpan.End()
		if execResult.NeedsClarification {
			return replyClarification, nil
		}
		executionSummary = summarizeExecution(execResult)
	}

	// Stage 7: reply context, no tool docs.
	replyTrace := trace
	replyTrace.AgentID = AgentReply
	replyCtx := p.compiler.Compile(CompileInput{
		Role:           AgentReply,
		User:           text,
		RecentTurns:    turns,
		Memories:       memOut.Snippets,
		HandoffPayload: executionSummary,
		ToolDocs:       ToolDocsBundle{Mode: ToolDocsNone},
		MaxInputTokens: p.cfg.MaxInputTokens,
	})
	p.recordCompiled(rec, replyTrace, replyCtx)
	if replyCtx.OverBudget {
		return "", &BudgetError{EstimatedTokens: replyCtx.EstimatedTokens, MaxInputTokens: p.cfg.MaxInputTokens}
	}

	// Stage 8: provider dispatch with reflexion recovery.
	providerText := p.dispatchWithReflexion(ctx, call, replyCtx, turns, memOut.Snippets, text, rec, trace)

	// Stage 9: final composition.
	return p.reply.Compose(providerText, text, memOut.Snippets), nil
}

// dispatchWithReflexion calls the provider chain and, on total failure,
// applies at most one bounded recovery strategy. A run without provider
// text is not an error; the reply agent has fallbacks.
func (p *Pipeline) dispatchWithReflexion(ctx context.Context, call *ToolCallContext, compiled CompiledContext, turns, memories []string, text string, rec *TraceRecorder, trace TraceContext) string {
	trace.AgentID = AgentReply
	ctx, span := p.tracer.Start(ctx, "provider.dispatch", StringAttr("agent.id", AgentReply))
	defer span.End()
	req := ProviderRequest{
		Model:           p.cfg.Model,
		Prompt:          compiled.Prompt,
		MaxOutputTokens: p.cfg.ReservedOutputTokens,
	}
	logger := p.providerCallLogger(ctx, call, rec, trace)

	resp, err := p.router.DispatchWithFallback(ctx, req, p.cfg.ProviderOrder, logger)
	if err == nil {
		return resp.OutputText
	}

	info := Classify(err, "provider", "provider_router")
	fingerprint, ferr := p.store.UpsertFailureFingerprint(ctx, info)
	if ferr != nil {
		p.logger.Warn("fingerprint upsert failed", "error", ferr)
	}

	safeMode := p.safeMode()
	if !ShouldTriggerReflexion(info.Retryable, 0, p.cfg.ReflexionMaxPerStep, safeMode) {
		return ""
	}

	decision := ReflexionLiteDecide(CompactErrorSummary(err), len(p.cfg.ProviderOrder) > 1, safeMode)
	rec.Record(trace, EventReflexionDecision, "ok", map[string]any{
		"strategy":   decision.Strategy,
		"reason":     decision.Reason,
		"confidence": decision.Confidence,
	})

	var recovered *ProviderResponse
	switch decision.Strategy {
	case StrategySwitchProvider:
		order := reversedOrder(p.cfg.ProviderOrder)
		rec.Record(trace, EventReflexionRetry, "ok", map[string]any{"strategy": decision.Strategy})
		if resp, rerr := p.router.DispatchWithFallback(ctx, req, order, logger); rerr == nil {
			recovered = &resp
		}
	case StrategyReduceContext:
		reduced := p.compiler.Compile(CompileInput{
			Role:           AgentReply,
			User:           text,
			RecentTurns:    lastN(turns, 2),
			Memories:       firstN(memories, 1),
			ToolDocs:       ToolDocsBundle{Mode: ToolDocsNone},
			MaxInputTokens: p.cfg.MaxInputTokens / 2,
		})
		p.recordCompiled(rec, trace, reduced)
		req.Prompt = reduced.Prompt
		rec.Record(trace, EventReflexionRetry, "ok", map[string]any{"strategy": decision.Strategy})
		if resp, rerr := p.router.DispatchWithFallback(ctx, req, p.cfg.ProviderOrder, logger); rerr == nil {
			recovered = &resp
		}
	case StrategyRetrySame:
		rec.Record(trace, EventReflexionRetry, "ok", map[string]any{"strategy": decision.Strategy})
		if resp, rerr := p.router.DispatchWithFallback(ctx, req, p.cfg.ProviderOrder, logger); rerr == nil {
			recovered = &resp
		}
	case StrategySkipTool, StrategyAbort:
		// Give up on provider text; the reply agent falls back.
	}

	if recovered == nil {
		return ""
	}

	if fingerprint.ID != 0 {
		if merr := p.store.MarkFingerprintRecovered(ctx, fingerprint.ID, decision.Strategy); merr != nil {
			p.logger.Warn("mark fingerprint recovered failed", "error", merr)
		}
	}
	card := MakeFailureFixCard(call.SessionID, call.UserID, info.MessageSignature, decision.Strategy+": "+decision.Reason, "reflexion")
	if _, werr := p.store.WriteMemory(ctx, card); werr != nil {
		p.logger.Warn("persist failure fix card failed", "error", werr)
	}
	return recovered.OutputText
}

// providerCallLogger persists provider call rows and mirrors attempt
// outcomes into trace events.
func (p *Pipeline) providerCallLogger(ctx context.Context, call *ToolCallContext, rec *TraceRecorder, trace TraceContext) CallLogger {
	return func(provider, model, status string) {
		event := EventProviderAttempt
		switch {
		case strings.HasPrefix(status, "retry_"):
			event = EventProviderRetry
		case status == "blocked_by_breaker":
			event = EventProviderBlocked
			status = "blocked"
		}
		rec.Record(trace, event, status, map[string]any{"provider": provider, "model": model})

		if err := p.store.AppendProviderCall(ctx, ProviderCallRecord{
			TaskID:    call.TaskID,
			SessionID: call.SessionID,
			RequestID: call.RequestID,
			Provider:  provider,
			Model:     model,
			Status:    status,
		}); err != nil {
			p.logger.Warn("persist provider call failed", "error", err)
		}
	}
}

// recentTurns loads the last N messages as "role: text" lines, oldest
// first, for the compiler.
func (p *Pipeline) recentTurns(ctx context.Context, sessionID int64) ([]string, error) {
	msgs, err := p.store.RecentMessages(ctx, sessionID, p.cfg.RecentTurnCount)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	turns := make([]string, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, m.Role+": "+m.Content)
	}
	return turns, nil
}

// compactIfDue refreshes the session summary when the turn count or token
// pressure warrants it. Best effort; failures are logged, never surfaced.
func (p *Pipeline) compactIfDue(ctx context.Context, sessionID, userID int64, lastText string) {
	msgs, err := p.store.RecentMessages(ctx, sessionID, 50)
	if err != nil {
		return
	}
	tokens := 0
	for _, m := range msgs {
		tokens += DefaultTokenEstimator(m.Content)
	}
	if !ShouldCompact(len(msgs), tokens) {
		return
	}

	summary, err := SummarizeRecentMessages(ctx, p.store, sessionID, 10)
	if err != nil || summary == "" {
		return
	}
	if err := p.store.UpsertSessionSummary(ctx, sessionID, summary); err != nil {
		p.logger.Warn("persist session summary failed", "error", err)
	}
	if ShouldPersistMemory(lastText) {
		card := MemoryRecord{
			SessionID:  sessionID,
			UserID:     userID,
			CardType:   ClassifyCardType(lastText),
			Content:    truncate(lastText, 900),
			Source:     "compaction",
			Confidence: 0.6,
		}
		if _, err := p.store.WriteMemory(ctx, card); err != nil {
			p.logger.Warn("persist compaction card failed", "error", err)
		}
	}
}

func (p *Pipeline) recordCompiled(rec *TraceRecorder, trace TraceContext, compiled CompiledContext) {
	status := "ok"
	if compiled.OverBudget {
		status = "over_budget"
	}
	rec.Record(trace, EventContextCompiled, status, map[string]any{
		"estimated_tokens": compiled.EstimatedTokens,
		"trim_actions":     strings.Join(compiled.TrimActions, ","),
	})
}

func summarizeExecution(res ExecutionResult) string {
	if len(res.Outputs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		tool, _ := out["tool"].(string)
		status, _ := out["status"].(string)
		parts = append(parts, tool+"="+status)
	}
	return "tools: " + strings.Join(parts, ", ")
}

func reversedOrder(order []string) []string {
	out := make([]string, len(order))
	for i, n := range order {
		out[len(order)-1-i] = n
	}
	return out
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
