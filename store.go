package relay

import "context"

// Store is the persistence seam the pipeline writes through. The core does
// not own a schema; store/sqlite and store/postgres implement this
// interface. Each call is one discrete read/write unit — callers must not
// assume pipeline-run-level transactional atomicity across calls.
type Store interface {
	// --- Identity ---
	EnsureUser(ctx context.Context, externalID string) (int64, error)
	EnsureSession(ctx context.Context, userID int64, channel, chatID string) (int64, error)

	// --- Tasks ---
	CreateTask(ctx context.Context, sessionID int64, summary string) (Task, error)
	LatestTask(ctx context.Context, sessionID int64) (Task, bool, error)
	UpdateTask(ctx context.Context, taskID int64, status string, stepIndex int) error

	// --- Messages ---
	AppendMessage(ctx context.Context, msg MessageRecord) (int64, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]MessageRecord, error)

	// --- Audit rows ---
	AppendToolCall(ctx context.Context, rec ToolCallRecord) error
	AppendProviderCall(ctx context.Context, rec ProviderCallRecord) error
	AppendTransferEvent(ctx context.Context, ev TransferEvent) error
	AppendTraceSummary(ctx context.Context, sum TaskTraceSummary) error

	// --- Failure fingerprints ---
	UpsertFailureFingerprint(ctx context.Context, info ErrorInfo) (FailureFingerprint, error)
	MarkFingerprintRecovered(ctx context.Context, fingerprintID int64, strategy string) error
	GetFingerprint(ctx context.Context, info ErrorInfo) (FailureFingerprint, bool, error)

	// --- Memory ---
	WriteMemory(ctx context.Context, rec MemoryRecord) (int64, error)
	ListMemory(ctx context.Context, sessionID int64, limit int) ([]MemoryRecord, error)
	CountMemory(ctx context.Context, sessionID int64) (int, error)

	// --- Session summaries ---
	UpsertSessionSummary(ctx context.Context, sessionID int64, summary string) error
	GetSessionSummary(ctx context.Context, sessionID int64) (SessionSummary, bool, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
