package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memStore is the in-memory Store used across the package tests.
type memStore struct {
	mu sync.Mutex

	users    map[string]int64
	sessions map[string]int64

	tasks         []Task
	messages      []MessageRecord
	toolCalls     []ToolCallRecord
	providerCalls []ProviderCallRecord
	transfers     []TransferEvent
	traceSums     []TaskTraceSummary
	fingerprints  []FailureFingerprint
	recovered     map[int64]string
	memories      []MemoryRecord
	sessionSums   map[int64]SessionSummary

	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]int64{},
		sessions:    map[string]int64{},
		recovered:   map[int64]string{},
		sessionSums: map[int64]SessionSummary{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) EnsureUser(_ context.Context, externalID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[externalID]; ok {
		return id, nil
	}
	id := m.id()
	m.users[externalID] = id
	return id, nil
}

func (m *memStore) EnsureSession(_ context.Context, userID int64, channel, chatID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d|%s|%s", userID, channel, chatID)
	if id, ok := m.sessions[key]; ok {
		return id, nil
	}
	id := m.id()
	m.sessions[key] = id
	return id, nil
}

func (m *memStore) CreateTask(_ context.Context, sessionID int64, summary string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	task := Task{ID: m.id(), SessionID: sessionID, Status: TaskPending, Summary: summary, CreatedAt: now, UpdatedAt: now}
	m.tasks = append(m.tasks, task)
	return task, nil
}

func (m *memStore) LatestTask(_ context.Context, sessionID int64) (Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.tasks) - 1; i >= 0; i-- {
		if m.tasks[i].SessionID == sessionID {
			return m.tasks[i], true, nil
		}
	}
	return Task{}, false, nil
}

func (m *memStore) UpdateTask(_ context.Context, taskID int64, status string, stepIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == taskID {
			m.tasks[i].Status = status
			m.tasks[i].StepIndex = stepIndex
			m.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return errors.New("task not found")
}

func (m *memStore) AppendMessage(_ context.Context, msg MessageRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *memStore) RecentMessages(_ context.Context, sessionID int64, limit int) ([]MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []MessageRecord
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			all = append(all, msg)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *memStore) AppendToolCall(_ context.Context, rec ToolCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = append(m.toolCalls, rec)
	return nil
}

func (m *memStore) AppendProviderCall(_ context.Context, rec ProviderCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerCalls = append(m.providerCalls, rec)
	return nil
}

func (m *memStore) AppendTransferEvent(_ context.Context, ev TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, ev)
	return nil
}

func (m *memStore) AppendTraceSummary(_ context.Context, sum TaskTraceSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traceSums = append(m.traceSums, sum)
	return nil
}

func (m *memStore) UpsertFailureFingerprint(_ context.Context, info ErrorInfo) (FailureFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.fingerprints {
		f := &m.fingerprints[i]
		if f.Category == info.Category && f.Component == info.Component &&
			f.ErrorType == info.ErrorType && f.MessageSignature == info.MessageSignature {
			f.OccurrenceCount++
			f.LastSeen = time.Now()
			return *f, nil
		}
	}
	f := FailureFingerprint{
		ID:               m.id(),
		Category:         info.Category,
		Component:        info.Component,
		ErrorType:        info.ErrorType,
		MessageSignature: info.MessageSignature,
		StatusCode:       info.HTTPStatus,
		FirstSeen:        time.Now(),
		LastSeen:         time.Now(),
		OccurrenceCount:  1,
	}
	m.fingerprints = append(m.fingerprints, f)
	return f, nil
}

func (m *memStore) MarkFingerprintRecovered(_ context.Context, fingerprintID int64, strategy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered[fingerprintID] = strategy
	for i := range m.fingerprints {
		if m.fingerprints[i].ID == fingerprintID {
			m.fingerprints[i].RecoveredCount++
			m.fingerprints[i].LastRecovery = strategy
		}
	}
	return nil
}

func (m *memStore) GetFingerprint(_ context.Context, info ErrorInfo) (FailureFingerprint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fingerprints {
		if f.Category == info.Category && f.Component == info.Component &&
			f.ErrorType == info.ErrorType && f.MessageSignature == info.MessageSignature {
			return f, true, nil
		}
	}
	return FailureFingerprint{}, false, nil
}

func (m *memStore) WriteMemory(_ context.Context, rec MemoryRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.memories = append(m.memories, rec)
	return rec.ID, nil
}

func (m *memStore) ListMemory(_ context.Context, sessionID int64, limit int) ([]MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryRecord
	for i := len(m.memories) - 1; i >= 0; i-- {
		if m.memories[i].SessionID == sessionID {
			out = append(out, m.memories[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) CountMemory(_ context.Context, sessionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.memories {
		if rec.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) UpsertSessionSummary(_ context.Context, sessionID int64, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionSums[sessionID] = SessionSummary{SessionID: sessionID, Summary: summary, UpdatedAt: time.Now()}
	return nil
}

func (m *memStore) GetSessionSummary(_ context.Context, sessionID int64) (SessionSummary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionSums[sessionID]
	return s, ok, nil
}

func (m *memStore) Init(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

var _ Store = (*memStore)(nil)

// stubAdapter is a scriptable provider for router and pipeline tests.
// The first failCount calls fail with failErr; later calls succeed.
type stubAdapter struct {
	mu        sync.Mutex
	name      string
	text      string
	failCount int
	failErr   error
	calls     int
	unhealthy bool
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Health() bool { return !s.unhealthy }

func (s *stubAdapter) Generate(_ context.Context, req ProviderRequest) (ProviderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failCount {
		err := s.failErr
		if err == nil {
			err = errors.New("stub failure")
		}
		return ProviderResponse{}, err
	}
	return ProviderResponse{Provider: s.name, Model: req.Model, OutputText: s.text}, nil
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// quickRetry keeps retry-heavy tests fast.
func quickRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, Jitter: 0}
}
