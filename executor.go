package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Tool call result statuses reported to the call logger and audit trail.
const (
	ToolStatusOK                  = "ok"
	ToolStatusError               = "error"
	ToolStatusBlocked             = "blocked"
	ToolStatusWaitingConfirmation = "waiting_confirmation"
)

// ConfirmationBackend creates a pending-confirmation record for a tool call
// that requires explicit user approval. Optional; without one,
// confirmation-required calls fail as blocked.
type ConfirmationBackend interface {
	CreateConfirmation(ctx context.Context, call *ToolCallContext, toolName string, args map[string]any) (string, error)
}

// SafeModeGetter reports the runtime safe-mode flag. Polled on every call
// rather than cached so external admin toggles take effect immediately.
type SafeModeGetter func() bool

// ToolCallLogger receives one line per tool call outcome, with the run
// context so implementations can persist full audit rows.
type ToolCallLogger func(call *ToolCallContext, toolName, status, detail string)

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithExecutorLogger sets the structured logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) { e.logger = l }
}

// WithExecutorRetryPolicy sets the retry policy for idempotent tools.
func WithExecutorRetryPolicy(p RetryPolicy) ExecutorOption {
	return func(e *ToolExecutor) { e.retry = p }
}

// WithConfirmationBackend enables the confirmation workflow.
func WithConfirmationBackend(b ConfirmationBackend) ExecutorOption {
	return func(e *ToolExecutor) { e.confirmations = b }
}

// WithToolCallLogger sets the external call logger.
func WithToolCallLogger(l ToolCallLogger) ExecutorOption {
	return func(e *ToolExecutor) { e.callLogger = l }
}

// ToolExecutor invokes tool handlers under risk gating, breaker protection,
// per-tool timeouts, and retry for idempotent tools. Side-effecting tools
// are never silently retried.
type ToolExecutor struct {
	registry      *ToolRegistry
	policy        *PolicyEngine
	breakers      *BreakerRegistry
	safeMode      SafeModeGetter
	confirmations ConfirmationBackend
	callLogger    ToolCallLogger
	retry         RetryPolicy
	logger        *slog.Logger
}

// NewToolExecutor creates an executor over the given registry, policy
// engine, and breaker registry. safeMode may be nil (treated as off).
func NewToolExecutor(registry *ToolRegistry, policy *PolicyEngine, breakers *BreakerRegistry, safeMode SafeModeGetter, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		registry: registry,
		policy:   policy,
		breakers: breakers,
		safeMode: safeMode,
		retry:    DefaultRetryPolicy(),
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.safeMode == nil {
		e.safeMode = func() bool { return false }
	}
	return e
}

// ExecuteResult carries a tool call outcome: the handler result for ok,
// or the confirmation id for waiting_confirmation.
type ExecuteResult struct {
	Status         string
	Output         map[string]any
	ConfirmationID string
	Attempts       int
}

func toolBreakerKey(name string) string { return "tool:" + name }

func (e *ToolExecutor) log(call *ToolCallContext, name, status, detail string) {
	if e.callLogger != nil {
		e.callLogger(call, name, status, detail)
	}
}

// Execute runs tool name with args. It returns a *ConfigError for unknown
// tools, a *PermissionError when the policy or breaker blocks the call, a
// waiting_confirmation result when approval is required, and the handler
// result otherwise.
func (e *ToolExecutor) Execute(ctx context.Context, call *ToolCallContext, name string, args map[string]any, rec *TraceRecorder, trace TraceContext) (ExecuteResult, error) {
	meta, ok := e.registry.Metadata(name)
	if !ok {
		err := &ConfigError{Msg: "tool " + name + " is not registered"}
		e.log(call, name, ToolStatusError, err.Error())
		return ExecuteResult{Status: ToolStatusError}, err
	}
	handler, _ := e.registry.Handler(name)

	decision := e.policy.EvaluateToolRisk(meta.Risk, e.safeMode())
	if !decision.Allowed {
		e.log(call, name, ToolStatusBlocked, decision.Reason)
		e.record(rec, trace, name, ToolStatusBlocked, map[string]any{"reason": decision.Reason})
		return ExecuteResult{Status: ToolStatusBlocked}, &PermissionError{Tool: name, Reason: decision.Reason}
	}
	if decision.RequiresConfirmation {
		if e.confirmations == nil {
			reason := "confirmation_required_but_no_backend"
			e.log(call, name, ToolStatusBlocked, reason)
			e.record(rec, trace, name, ToolStatusBlocked, map[string]any{"reason": reason})
			return ExecuteResult{Status: ToolStatusBlocked}, &PermissionError{Tool: name, Reason: reason}
		}
		id, err := e.confirmations.CreateConfirmation(ctx, call, name, args)
		if err != nil {
			e.log(call, name, ToolStatusError, err.Error())
			return ExecuteResult{Status: ToolStatusError}, fmt.Errorf("create confirmation for %s: %w", name, err)
		}
		e.log(call, name, ToolStatusWaitingConfirmation, id)
		e.record(rec, trace, name, ToolStatusWaitingConfirmation, map[string]any{"confirmation_id": id})
		return ExecuteResult{Status: ToolStatusWaitingConfirmation, ConfirmationID: id}, nil
	}

	breaker := e.breakers.ForKey(toolBreakerKey(name))
	if !breaker.Allow() {
		reason := "breaker_open"
		e.log(call, name, ToolStatusBlocked, reason)
		e.record(rec, trace, name, ToolStatusBlocked, map[string]any{"reason": reason})
		return ExecuteResult{Status: ToolStatusBlocked}, &PermissionError{Tool: name, Reason: reason}
	}

	policy := e.retry
	if !meta.Idempotent {
		policy.MaxAttempts = 1
	}

	attempts := 0
	onAttempt := func(attempt int, status string, info ErrorInfo) {
		attempts = attempt
		if status == "retry" {
			e.record(rec, trace, name, "retrying", map[string]any{"attempt": attempt, "signature": info.MessageSignature})
		}
	}

	output, err := RunWithRetry(ctx, policy, "tool", name, onAttempt, func() (map[string]any, error) {
		return e.invoke(ctx, handler, call, args, meta.Timeout)
	})
	if err != nil {
		breaker.RecordFailure()
		e.log(call, name, ToolStatusError, err.Error())
		e.record(rec, trace, name, ToolStatusError, map[string]any{"attempts": attempts})
		return ExecuteResult{Status: ToolStatusError, Attempts: attempts}, err
	}

	breaker.RecordSuccess()
	e.log(call, name, ToolStatusOK, "")
	e.record(rec, trace, name, ToolStatusOK, map[string]any{"attempts": attempts})
	return ExecuteResult{Status: ToolStatusOK, Output: output, Attempts: attempts}, nil
}

// record emits the tool_call / tool_retry trace events when a recorder is
// attached.
func (e *ToolExecutor) record(rec *TraceRecorder, trace TraceContext, name, status string, extra map[string]any) {
	if rec == nil {
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["tool"] = name
	event := EventToolCall
	if status == "retrying" {
		event = EventToolRetry
		status = "retry"
	}
	rec.Record(trace, event, status, extra)
}

// invoke runs the handler under the metadata timeout.
func (e *ToolExecutor) invoke(ctx context.Context, handler ToolHandler, call *ToolCallContext, args map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := handler(ctx, call, args)
		done <- result{out, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("tool timeout: %w", ctx.Err())
	case r := <-done:
		return r.out, r.err
	}
}
