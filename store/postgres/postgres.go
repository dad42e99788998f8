// Package postgres implements relay.Store using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/relay"
)

// Store implements relay.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ relay.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			channel TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(user_id, channel, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			step_index INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id BIGSERIAL PRIMARY KEY,
			task_id BIGINT,
			session_id BIGINT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS provider_calls (
			id BIGSERIAL PRIMARY KEY,
			task_id BIGINT,
			session_id BIGINT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transfer_events (
			id BIGSERIAL PRIMARY KEY,
			task_id BIGINT,
			session_id BIGINT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			subtask TEXT NOT NULL DEFAULT '',
			input_summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trace_summaries (
			id BIGSERIAL PRIMARY KEY,
			task_id BIGINT,
			session_id BIGINT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			agent_sequence TEXT NOT NULL DEFAULT '',
			transfer_count INT NOT NULL DEFAULT 0,
			provider_attempts INT NOT NULL DEFAULT 0,
			tool_attempts INT NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,
			breaker_events INT NOT NULL DEFAULT 0,
			trim_event_count INT NOT NULL DEFAULT 0,
			avg_estimated_tokens DOUBLE PRECISION NOT NULL DEFAULT 0,
			outcome_status TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS failure_fingerprints (
			id BIGSERIAL PRIMARY KEY,
			category TEXT NOT NULL,
			component TEXT NOT NULL,
			error_type TEXT NOT NULL,
			message_signature TEXT NOT NULL,
			status_code INT NOT NULL DEFAULT 0,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			occurrence_count INT NOT NULL DEFAULT 1,
			recovered_count INT NOT NULL DEFAULT 0,
			last_recovery TEXT NOT NULL DEFAULT '',
			UNIQUE(category, component, error_type, message_signature)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_cards (
			id BIGSERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			card_type TEXT NOT NULL,
			content TEXT NOT NULL,
			pinned BOOLEAN NOT NULL DEFAULT false,
			error_signature TEXT NOT NULL DEFAULT '',
			fix_text TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			success_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id BIGINT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_cards_session ON memory_cards(session_id)`,
	}
	for _, ddl := range indexes {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// EnsureUser returns the id for externalID, creating the row if needed.
func (s *Store) EnsureUser(ctx context.Context, externalID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (external_id) VALUES ($1)
		 ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		 RETURNING id`,
		externalID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}
	return id, nil
}

// EnsureSession returns the session id for (userID, channel, chatID),
// creating the row if needed.
func (s *Store) EnsureSession(ctx context.Context, userID int64, channel, chatID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (user_id, channel, chat_id) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, channel, chat_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id`,
		userID, channel, chatID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure session: %w", err)
	}
	return id, nil
}

// CreateTask inserts a new pending task for the session.
func (s *Store) CreateTask(ctx context.Context, sessionID int64, summary string) (relay.Task, error) {
	t := relay.Task{SessionID: sessionID, Status: relay.TaskPending, Summary: summary}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (session_id, status, summary) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		sessionID, relay.TaskPending, summary,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return relay.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// LatestTask returns the most recently updated task for the session.
func (s *Store) LatestTask(ctx context.Context, sessionID int64) (relay.Task, bool, error) {
	var t relay.Task
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, status, summary, step_index, created_at, updated_at
		 FROM tasks WHERE session_id = $1 ORDER BY updated_at DESC, id DESC LIMIT 1`,
		sessionID,
	).Scan(&t.ID, &t.SessionID, &t.Status, &t.Summary, &t.StepIndex, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.Task{}, false, nil
	}
	if err != nil {
		return relay.Task{}, false, fmt.Errorf("latest task: %w", err)
	}
	return t, true, nil
}

// UpdateTask sets the task's status and step index.
func (s *Store) UpdateTask(ctx context.Context, taskID int64, status string, stepIndex int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, step_index = $2, updated_at = now() WHERE id = $3`,
		status, stepIndex, taskID,
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
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		msg.SessionID, msg.Role, msg.Content, at,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

// RecentMessages returns the last limit messages for the session, ordered
// chronologically (oldest first).
func (s *Store) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]relay.MessageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM messages WHERE session_id = $1 ORDER BY id DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []relay.MessageRecord
	for rows.Next() {
		var m relay.MessageRecord
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendToolCall inserts one tool call audit row.
func (s *Store) AppendToolCall(ctx context.Context, rec relay.ToolCallRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_calls (task_id, session_id, request_id, tool_name, status, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TaskID, rec.SessionID, rec.RequestID, rec.ToolName, rec.Status, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("append tool call: %w", err)
	}
	return nil
}

// AppendProviderCall inserts one provider call audit row.
func (s *Store) AppendProviderCall(ctx context.Context, rec relay.ProviderCallRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_calls (task_id, session_id, request_id, provider, model, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TaskID, rec.SessionID, rec.RequestID, rec.Provider, rec.Model, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("append provider call: %w", err)
	}
	return nil
}

// AppendTransferEvent inserts one handoff audit row.
func (s *Store) AppendTransferEvent(ctx context.Context, ev relay.TransferEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfer_events (task_id, session_id, request_id, from_agent, to_agent, subtask, input_summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.TaskID, ev.SessionID, ev.RequestID, ev.FromAgent, ev.ToAgent, ev.Subtask, ev.InputSummary,
	)
	if err != nil {
		return fmt.Errorf("append transfer event: %w", err)
	}
	return nil
}

// AppendTraceSummary inserts one per-task trace summary row.
func (s *Store) AppendTraceSummary(ctx context.Context, sum relay.TaskTraceSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trace_summaries (task_id, session_id, request_id, agent_sequence, transfer_count,
			provider_attempts, tool_attempts, retry_count, breaker_events, trim_event_count,
			avg_estimated_tokens, outcome_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sum.TaskID, sum.SessionID, sum.RequestID, sum.AgentSequence, sum.TransferCount,
		sum.ProviderAttempts, sum.ToolAttempts, sum.RetryCount, sum.BreakerEvents, sum.TrimEventCount,
		sum.AvgEstimatedTokens, sum.OutcomeStatus,
	)
	if err != nil {
		return fmt.Errorf("append trace summary: %w", err)
	}
	return nil
}

// UpsertFailureFingerprint increments the occurrence count for info's
// identity, inserting the row on first sight, and returns the stored row.
func (s *Store) UpsertFailureFingerprint(ctx context.Context, info relay.ErrorInfo) (relay.FailureFingerprint, error) {
	var fp relay.FailureFingerprint
	err := s.pool.QueryRow(ctx,
		`INSERT INTO failure_fingerprints (category, component, error_type, message_signature, status_code)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (category, component, error_type, message_signature)
		 DO UPDATE SET last_seen = now(), occurrence_count = failure_fingerprints.occurrence_count + 1
		 RETURNING id, category, component, error_type, message_signature, status_code,
			first_seen, last_seen, occurrence_count, recovered_count, last_recovery`,
		info.Category, info.Component, info.ErrorType, info.MessageSignature, info.HTTPStatus,
	).Scan(&fp.ID, &fp.Category, &fp.Component, &fp.ErrorType, &fp.MessageSignature, &fp.StatusCode,
		&fp.FirstSeen, &fp.LastSeen, &fp.OccurrenceCount, &fp.RecoveredCount, &fp.LastRecovery)
	if err != nil {
		return relay.FailureFingerprint{}, fmt.Errorf("upsert fingerprint: %w", err)
	}
	return fp, nil
}

// MarkFingerprintRecovered records one successful recovery for the row.
func (s *Store) MarkFingerprintRecovered(ctx context.Context, fingerprintID int64, strategy string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE failure_fingerprints
		 SET recovered_count = recovered_count + 1, last_recovery = $1
		 WHERE id = $2`,
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
	err := s.pool.QueryRow(ctx,
		`SELECT id, category, component, error_type, message_signature, status_code,
			first_seen, last_seen, occurrence_count, recovered_count, last_recovery
		 FROM failure_fingerprints
		 WHERE category = $1 AND component = $2 AND error_type = $3 AND message_signature = $4`,
		info.Category, info.Component, info.ErrorType, info.MessageSignature,
	).Scan(&fp.ID, &fp.Category, &fp.Component, &fp.ErrorType, &fp.MessageSignature, &fp.StatusCode,
		&fp.FirstSeen, &fp.LastSeen, &fp.OccurrenceCount, &fp.RecoveredCount, &fp.LastRecovery)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.FailureFingerprint{}, false, nil
	}
	if err != nil {
		return relay.FailureFingerprint{}, false, fmt.Errorf("get fingerprint: %w", err)
	}
	return fp, true, nil
}

// WriteMemory inserts one memory card and returns its id.
func (s *Store) WriteMemory(ctx context.Context, rec relay.MemoryRecord) (int64, error) {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO memory_cards
			(session_id, user_id, card_type, content, pinned, error_signature, fix_text, source, confidence, success_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		rec.SessionID, rec.UserID, rec.CardType, rec.Content, rec.Pinned,
		rec.ErrorSignature, rec.FixText, rec.Source, rec.Confidence, rec.SuccessCount, at,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("write memory: %w", err)
	}
	return id, nil
}

// ListMemory returns the session's cards, most recent first.
func (s *Store) ListMemory(ctx context.Context, sessionID int64, limit int) ([]relay.MemoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, card_type, content, pinned, error_signature, fix_text, source, confidence, success_count, created_at
		 FROM memory_cards WHERE session_id = $1 ORDER BY id DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var out []relay.MemoryRecord
	for rows.Next() {
		var m relay.MemoryRecord
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.CardType, &m.Content, &m.Pinned,
			&m.ErrorSignature, &m.FixText, &m.Source, &m.Confidence, &m.SuccessCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory card: %w", err)
		}
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
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_cards WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memory: %w", err)
	}
	return n, nil
}

// CountTasks returns the number of tasks for the session.
func (s *Store) CountTasks(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// CountProviderCalls returns the number of provider call rows for the session.
func (s *Store) CountProviderCalls(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM provider_calls WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count provider calls: %w", err)
	}
	return n, nil
}

// UpsertSessionSummary replaces the session's summary text.
func (s *Store) UpsertSessionSummary(ctx context.Context, sessionID int64, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_summaries (session_id, summary, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (session_id) DO UPDATE SET summary = EXCLUDED.summary, updated_at = now()`,
		sessionID, summary,
	)
	if err != nil {
		return fmt.Errorf("upsert session summary: %w", err)
	}
	return nil
}

// GetSessionSummary returns the session's summary row if present.
func (s *Store) GetSessionSummary(ctx context.Context, sessionID int64) (relay.SessionSummary, bool, error) {
	var sum relay.SessionSummary
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, summary, updated_at FROM session_summaries WHERE session_id = $1`,
		sessionID,
	).Scan(&sum.SessionID, &sum.Summary, &sum.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.SessionSummary{}, false, nil
	}
	if err != nil {
		return relay.SessionSummary{}, false, fmt.Errorf("get session summary: %w", err)
	}
	return sum, true, nil
}
