package relay

import (
	"sync"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// BreakerSnapshot is a point-in-time view of one breaker, used by health
// and status introspection.
type BreakerSnapshot struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure"`
}

// CircuitBreaker is a per-resource failure-tracking gate. closed allows
// calls; reaching the failure threshold opens it; after the cool-down one
// half-open probe is allowed — success closes, failure re-opens.
// State is process-local and never persisted.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	coolDown         time.Duration
	now              func() time.Time

	state        string
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a closed breaker. Threshold and cool-down are
// clamped to at least 1 failure / 1 second.
func NewCircuitBreaker(failureThreshold int, coolDown time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if coolDown < time.Second {
		coolDown = time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. An open breaker whose cool-down
// has elapsed transitions to half-open and allows exactly one probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.lastFailure.IsZero() {
			return false
		}
		if b.now().Sub(b.lastFailure) >= b.coolDown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	}
	return true
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successCount++
	b.failureCount = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failure. A half-open probe failure re-opens
// immediately; otherwise the breaker opens at the failure threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		return
	}
	if b.failureCount >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// Snapshot returns the breaker's current state.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		LastFailure:  b.lastFailure,
	}
}

// BreakerRegistry lazily creates one breaker per namespaced key
// ("provider:<name>", "tool:<name>") so providers and tools fail
// independently.
type BreakerRegistry struct {
	mu               sync.Mutex
	failureThreshold int
	coolDown         time.Duration
	breakers         map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry whose breakers share the given
// threshold and cool-down.
func NewBreakerRegistry(failureThreshold int, coolDown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		breakers:         make(map[string]*CircuitBreaker),
	}
}

// ForKey returns the breaker for key, creating it on first use.
func (r *BreakerRegistry) ForKey(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewCircuitBreaker(r.failureThreshold, r.coolDown)
		r.breakers[key] = b
	}
	return b
}

// Snapshot returns the state of every breaker created so far.
func (r *BreakerRegistry) Snapshot() map[string]BreakerSnapshot {
	r.mu.Lock()
	keys := make([]string, 0, len(r.breakers))
	byKey := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, b := range r.breakers {
		keys = append(keys, k)
		byKey[k] = b
	}
	r.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(keys))
	for _, k := range keys {
		out[k] = byKey[k].Snapshot()
	}
	return out
}
