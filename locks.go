package relay

import "sync"

// SessionLocks serializes pipeline runs per logical session key
// (e.g. "telegram:12345"). Two concurrent messages in the same conversation
// run strictly one after the other; different sessions run concurrently.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionLocks creates an empty lock registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the session lock for key is held and returns the
// release function. Locks are created lazily and kept for the process
// lifetime; the key space is bounded by active conversations.
func (s *SessionLocks) Acquire(key string) (release func()) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
