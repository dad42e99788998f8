// Package sqlite implements relay.Store using pure-Go SQLite.
// Zero CGO required; suitable for single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/relay"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements relay.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ relay.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			channel TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(user_id, channel, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			step_index INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER,
			session_id INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS provider_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER,
			session_id INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transfer_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER,
			session_id INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			subtask TEXT NOT NULL DEFAULT '',
			input_summary TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trace_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER,
			session_id INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			agent_sequence TEXT NOT NULL DEFAULT '',
			transfer_count INTEGER NOT NULL DEFAULT 0,
			provider_attempts INTEGER NOT NULL DEFAULT 0,
			tool_attempts INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			breaker_events INTEGER NOT NULL DEFAULT 0,
			trim_event_count INTEGER NOT NULL DEFAULT 0,
			avg_estimated_tokens REAL NOT NULL DEFAULT 0,
			outcome_status TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS failure_fingerprints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			component TEXT NOT NULL,
			error_type TEXT NOT NULL,
			message_signature TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			recovered_count INTEGER NOT NULL DEFAULT 0,
			last_recovery TEXT NOT NULL DEFAULT '',
			UNIQUE(category, component, error_type, message_signature)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			card_type TEXT NOT NULL,
			content TEXT NOT NULL,
			pinned INTEGER NOT NULL DEFAULT 0,
			error_signature TEXT NOT NULL DEFAULT '',
			fix_text TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id INTEGER PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memory_cards_session ON memory_cards(session_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser returns the id for externalID, creating the row if needed.
func (s *Store) EnsureUser(ctx context.Context, externalID string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (external_id, created_at) VALUES (?, ?)`,
		externalID, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE external_id = ?`, externalID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure user select: %w", err)
	}
	return id, nil
}

// EnsureSession returns the session id for (userID, channel, chatID),
// creating the row if needed.
func (s *Store) EnsureSession(ctx context.Context, userID int64, channel, chatID string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (user_id, channel, chat_id, created_at) VALUES (?, ?, ?, ?)`,
		userID, channel, chatID, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("ensure session: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE user_id = ? AND channel = ? AND chat_id = ?`,
		userID, channel, chatID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure session select: %w", err)
	}
	return id, nil
}

// CreateTask inserts a new pending task for the session.
func (s *Store) CreateTask(ctx context.Context, sessionID int64, summary string) (relay.Task, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (session_id, status, summary, step_index, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		sessionID, relay.TaskPending, summary, now.Unix(), now.Unix(),
	)
	if err != nil {
		return relay.Task{}, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return relay.Task{}, fmt.Errorf("create task id: %w", err)
	}
	s.logger.Debug("sqlite: task created", "task_id", id, "session_id", sessionID)
	return relay.Task{
		ID:        id,
		SessionID: sessionID,
		Status:    relay.TaskPending,
		Summary:   summary,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// LatestTask returns the most recently updated task for the session.
func (s *Store) LatestTask(ctx context.Context, sessionID int64) (relay.Task, bool, error) {
	var t relay.Task
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, status, summary, step_index, created_at, updated_at
		 FROM tasks WHERE session_id = ? ORDER BY updated_at DESC, id DESC LIMIT 1`,
		sessionID,
	).Scan(&t.ID, &t.SessionID, &t.Status, &t.Summary, &t.StepIndex, &created, &updated)
	if err == sql.ErrNoRows {
		return relay.Task{}, false, nil
	}
	if err != nil {
		return relay.Task{}, false, fmt.Errorf("latest task: %w", err)
	}
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return t, true, nil
}

// UpdateTask sets the task's status and step index.
func (s *Store) UpdateTask(ctx context.Context, taskID int64, status string, stepIndex int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, step_index = ?, updated_at = ? WHERE id = ?`,
		status, stepIndex, time.Now().Unix(), taskID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// AppendMessage inserts one conversation message and returns its id.
func (s *Store) AppendMessage(ctx context.Context, msg relay.MessageRecord) (int64, error) {
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, at.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append message id: %w", err)
	}
	return id, nil
}

// RecentMessages returns the last limit messages for the session, ordered
// chronologically (oldest first).
func (s *Store) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]relay.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []relay.MessageRecord
	for rows.Next() {
		var m relay.MessageRecord
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendToolCall inserts one tool call audit row.
func (s *Store) AppendToolCall(ctx context.Context, rec relay.ToolCallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (task_id, session_id, request_id, tool_name, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.SessionID, rec.RequestID, rec.ToolName, rec.Status, rec.Detail, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append tool call: %w", err)
	}
	return nil
}

// AppendProviderCall inserts one provider call audit row.
func (s *Store) AppendProviderCall(ctx context.Context, rec relay.ProviderCallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_calls (task_id, session_id, request_id, provider, model, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.SessionID, rec.RequestID, rec.Provider, rec.Model, rec.Status, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append provider call: %w", err)
	}
	return nil
}

// AppendTransferEvent inserts one handoff audit row.
func (s *Store) AppendTransferEvent(ctx context.Context, ev relay.TransferEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfer_events (task_id, session_id, request_id, from_agent, to_agent, subtask, input_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TaskID, ev.SessionID, ev.RequestID, ev.FromAgent, ev.ToAgent, ev.Subtask, ev.InputSummary, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append transfer event: %w", err)
	}
	return nil
}

// AppendTraceSummary inserts one per-task trace summary row.
func (s *Store) AppendTraceSummary(ctx context.Context, sum relay.TaskTraceSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trace_summaries (task_id, session_id, request_id, agent_sequence, transfer_count,
			provider_attempts, tool_attempts, retry_count, breaker_events, trim_event_count,
			avg_estimated_tokens, outcome_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.TaskID, sum.SessionID, sum.RequestID, sum.AgentSequence, sum.TransferCount,
		sum.ProviderAttempts, sum.ToolAttempts, sum.RetryCount, sum.BreakerEvents, sum.TrimEventCount,
		sum.AvgEstimatedTokens, sum.OutcomeStatus, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append trace summary: %w", err)
	}
	return nil
}

// UpsertFailureFingerprint increments the occurrence count for info's
// identity, inserting the row on first sight, and returns the stored row.
func (s *Store) UpsertFailureFingerprint(ctx context.Context, info relay.ErrorInfo) (relay.FailureFingerprint, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failure_fingerprints
			(category, component, error_type, message_signature, status_code, first_seen, last_seen, occurrence_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT(category, component, error_type, message_signature)
		 DO UPDATE SET last_seen = excluded.last_seen, occurrence_count = occurrence_count + 1`,
		info.Category, info.Component, info.ErrorType, info.MessageSignature, info.HTTPStatus, now, now,
	)
	if err != nil {
		return relay.FailureFingerprint{}, fmt.Errorf("upsert fingerprint: %w", err)
	}
	fp, ok, err := s.GetFingerprint(ctx, info)
	if err != nil {
		return relay.FailureFingerprint{}, err
	}
	if !ok {
		return relay.FailureFingerprint{}, fmt.Errorf("upsert fingerprint: row missing after upsert")
	}
	return fp, nil
}

// MarkFingerprintRecovered records one successful recovery for the row.
func (s *Store) MarkFingerprintRecovered(ctx context.Context, fingerprintID int64, strategy string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE failure_fingerprints
		 SET recovered_count = recovered_count + 1, last_recovery = ?
		 WHERE id = ?`,
		strategy, fingerprintID,
	)
	if err != nil {
		return fmt.Errorf("mark fingerprint recovered: %w", err)
	}
	return nil
}

// GetFingerprint looks up the fingerprint row for info's identity.
func (s *Store) GetFingerprint(ctx context.Context, info relay.ErrorInfo) (relay.FailureFingerprint, bool, error) {
	var fp relay.FailureFingerprint
	var first, last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category, component, error_type, message_signature, status_code,
			first_seen, last_seen, occurrence_count, recovered_count, last_recovery
		 FROM failure_fingerprints
		 WHERE category = ? AND component = ? AND error_type = ? AND message_signature = ?`,
		info.Category, info.Component, info.ErrorType, info.MessageSignature,
	).Scan(&fp.ID, &fp.Category, &fp.Component, &fp.ErrorType, &fp.MessageSignature, &fp.StatusCode,
		&first, &last, &fp.OccurrenceCount, &fp.RecoveredCount, &fp.LastRecovery)
	if err == sql.ErrNoRows {
		return relay.FailureFingerprint{}, false, nil
	}
	if err != nil {
		return relay.FailureFingerprint{}, false, fmt.Errorf("get fingerprint: %w", err)
	}
	fp.FirstSeen = time.Unix(first, 0)
	fp.LastSeen = time.Unix(last, 0)
	return fp, true, nil
}

// WriteMemory inserts one memory card and returns its id.
func (s *Store) WriteMemory(ctx context.Context, rec relay.MemoryRecord) (int64, error) {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_cards
			(session_id, user_id, card_type, content, pinned, error_signature, fix_text, source, confidence, success_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.UserID, rec.CardType, rec.Content, boolToInt(rec.Pinned),
		rec.ErrorSignature, rec.FixText, rec.Source, rec.Confidence, rec.SuccessCount, at.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("write memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write memory id: %w", err)
	}
	return id, nil
}

// ListMemory returns the session's cards, most recent first.
func (s *Store) ListMemory(ctx context.Context, sessionID int64, limit int) ([]relay.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, card_type, content, pinned, error_signature, fix_text, source, confidence, success_count, created_at
		 FROM memory_cards WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var out []relay.MemoryRecord
	for rows.Next() {
		var m relay.MemoryRecord
		var pinned int
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.CardType, &m.Content, &pinned,
			&m.ErrorSignature, &m.FixText, &m.Source, &m.Confidence, &m.SuccessCount, &created); err != nil {
			return nil, fmt.Errorf("scan memory card: %w", err)
		}
		m.Pinned = pinned != 0
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory cards: %w", err)
	}
	return out, nil
}

// CountMemory returns the number of cards stored for the session.
func (s *Store) CountMemory(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_cards WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memory: %w", err)
	}
	return n, nil
}

// CountTasks returns the number of tasks for the session.
func (s *Store) CountTasks(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// CountProviderCalls returns the number of provider call rows for the session.
func (s *Store) CountProviderCalls(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM provider_calls WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count provider calls: %w", err)
	}
	return n, nil
}

// UpsertSessionSummary replaces the session's summary text.
func (s *Store) UpsertSessionSummary(ctx context.Context, sessionID int64, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, summary, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		sessionID, summary, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session summary: %w", err)
	}
	return nil
}

// GetSessionSummary returns the session's summary row if present.
func (s *Store) GetSessionSummary(ctx context.Context, sessionID int64) (relay.SessionSummary, bool, error) {
	var sum relay.SessionSummary
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, summary, updated_at FROM session_summaries WHERE session_id = ?`,
		sessionID,
	).Scan(&sum.SessionID, &sum.Summary, &updated)
	if err == sql.ErrNoRows {
		return relay.SessionSummary{}, false, nil
	}
	if err != nil {
		return relay.SessionSummary{}, false, fmt.Errorf("get session summary: %w", err)
	}
	sum.UpdatedAt = time.Unix(updated, 0)
	return sum, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
