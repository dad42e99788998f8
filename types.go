package relay

import "time"

// --- Call-scoped types ---

// ToolCallContext identifies the pipeline run a tool call belongs to.
// Created once per run and passed by reference through every stage; its
// fields end up on persisted audit rows, never the struct itself.
type ToolCallContext struct {
	SessionID int64
	UserID    int64
	TaskID    int64 // 0 when no task is attached yet
	RequestID string
	Extra     map[string]any
}

// Inbound is one user message entering the pipeline.
type Inbound struct {
	Channel string
	ChatID  string
	UserID  string
	Text    string
}

// RunResult is the outcome of a pipeline run.
type RunResult struct {
	TaskID    int64
	Status    string // "completed" or "failed"
	ReplyText string
}

// --- Tool catalog types ---

// RiskLevel is the coarse sensitivity classification of a tool action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ToolMetadata describes a registered tool. Registered once at startup and
// immutable afterwards; owned by the ToolRegistry.
type ToolMetadata struct {
	Name              string
	Version           string
	Risk              RiskLevel
	Tags              []string
	RoutingSummary    string // short text used for shortlist ranking
	InvocationSummary string // call-shape summary shown to the selected subset
	FullSchema        string // JSON schema, shown only at actual invocation
	Examples          []string
	Timeout           time.Duration
	Idempotent        bool
}

// ToolShortlistItem is one ranked result from a registry query.
type ToolShortlistItem struct {
	Name              string
	Tags              []string
	RoutingSummary    string
	InvocationSummary string
	Score             float64
}

// --- Handoff types ---

// TransferBudget bounds the context of the receiving agent.
type TransferBudget struct {
	MaxInputTokens       int
	ReservedOutputTokens int
}

// Transfer is the handoff contract from the planner to the execution agent.
// Immutable once created; persisted as a TransferEvent.
type Transfer struct {
	TargetAgent       string
	Subtask           string
	InputSummary      string
	Constraints       []string
	ExpectedOutput    string
	Budget            TransferBudget
	RelevantMemoryIDs []int64
	FallbackPolicy    string
	Trace             TraceContext
}

// --- Provider protocol types ---

// ProviderRequest is one generation request.
type ProviderRequest struct {
	Model           string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	Metadata        map[string]string
}

// ProviderResponse is a successful generation result.
type ProviderResponse struct {
	Provider   string
	Model      string
	OutputText string
	Raw        map[string]any
}

// --- Persisted audit rows (written through the Store seam) ---

// Task status values. Transitions are monotonic within a run:
// pending/running → completed|failed, never reversed.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

type Task struct {
	ID        int64
	SessionID int64
	Status    string
	Summary   string
	StepIndex int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MessageRecord struct {
	ID        int64
	SessionID int64
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

type ToolCallRecord struct {
	TaskID    int64
	SessionID int64
	RequestID string
	ToolName  string
	Status    string // ok, error, blocked, waiting_confirmation
	Detail    string
	CreatedAt time.Time
}

type ProviderCallRecord struct {
	TaskID    int64
	SessionID int64
	RequestID string
	Provider  string
	Model     string
	Status    string
	CreatedAt time.Time
}

type TransferEvent struct {
	TaskID       int64
	SessionID    int64
	RequestID    string
	FromAgent    string
	ToAgent      string
	Subtask      string
	InputSummary string
	CreatedAt    time.Time
}

// FailureFingerprint is the persisted aggregate identity for a class of
// failures, keyed by (category, component, error type, message signature).
type FailureFingerprint struct {
	ID               int64
	Category         string
	Component        string
	ErrorType        string
	MessageSignature string
	StatusCode       int
	FirstSeen        time.Time
	LastSeen         time.Time
	OccurrenceCount  int
	RecoveredCount   int
	LastRecovery     string
}

// MemoryRecord is one persisted memory card.
type MemoryRecord struct {
	ID             int64
	SessionID      int64
	UserID         int64
	CardType       string // fact, decision, preference, open_loop, session_summary, failure_fix
	Content        string
	Pinned         bool
	ErrorSignature string
	FixText        string
	Source         string
	Confidence     float64
	SuccessCount   int
	CreatedAt      time.Time
}

type SessionSummary struct {
	SessionID int64
	Summary   string
	UpdatedAt time.Time
}

// TaskTraceSummary aggregates one run's trace events for later diagnostics.
type TaskTraceSummary struct {
	TaskID             int64
	SessionID          int64
	RequestID          string
	AgentSequence      string // comma-joined, first-appearance order
	TransferCount      int
	ProviderAttempts   int
	ToolAttempts       int
	RetryCount         int
	BreakerEvents      int
	TrimEventCount     int
	AvgEstimatedTokens float64
	OutcomeStatus      string
	CreatedAt          time.Time
}
