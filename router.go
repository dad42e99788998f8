package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// providerStats tracks live per-provider outcomes used by the scoring
// function. Guarded by the router's mutex.
type providerStats struct {
	successes     int
	failures      int
	lastLatencyMS int64
}

// ProviderStatus is the introspection view for one provider: adapter
// health, breaker state, and the live score.
type ProviderStatus struct {
	Name    string          `json:"name"`
	Healthy bool            `json:"healthy"`
	Breaker BreakerSnapshot `json:"breaker"`
	Score   float64         `json:"score"`
}

// RouterOption configures a ProviderRouter.
type RouterOption func(*ProviderRouter)

// WithRouterLogger sets the structured logger for dispatch events.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *ProviderRouter) { r.logger = l }
}

// WithRouterRetryPolicy sets the retry policy applied to each adapter call.
func WithRouterRetryPolicy(p RetryPolicy) RouterOption {
	return func(r *ProviderRouter) { r.retry = p }
}

// WithRouterBreakers sets the breaker registry. When not set the router
// creates its own with default thresholds.
func WithRouterBreakers(b *BreakerRegistry) RouterOption {
	return func(r *ProviderRouter) { r.breakers = b }
}

// ProviderRouter holds registered generative backends and dispatches a
// request across a fallback chain, ordering candidates by live score and
// guarding each with its breaker and the retry executor.
type ProviderRouter struct {
	mu       sync.Mutex
	adapters map[string]ProviderAdapter
	stats    map[string]*providerStats

	breakers *BreakerRegistry
	retry    RetryPolicy
	logger   *slog.Logger
}

// NewProviderRouter creates an empty router.
func NewProviderRouter(opts ...RouterOption) *ProviderRouter {
	r := &ProviderRouter{
		adapters: make(map[string]ProviderAdapter),
		stats:    make(map[string]*providerStats),
		retry:    DefaultRetryPolicy(),
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breakers == nil {
		r.breakers = NewBreakerRegistry(3, 20*time.Second)
	}
	return r
}

// Register adds an adapter under its name, replacing any previous one.
func (r *ProviderRouter) Register(a ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	if _, ok := r.stats[a.Name()]; !ok {
		r.stats[a.Name()] = &providerStats{}
	}
}

// Breakers exposes the router's breaker registry (shared with diagnostics).
func (r *ProviderRouter) Breakers() *BreakerRegistry { return r.breakers }

// Configured returns registered provider names, sorted.
func (r *ProviderRouter) Configured() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// breakerKey namespaces provider breakers away from tool breakers.
func breakerKey(name string) string { return "provider:" + name }

// score computes the live ordering score for one provider. Open breakers
// sort last without becoming invisible to diagnostics; half-open ones are
// penalized but probe-eligible.
func (r *ProviderRouter) score(name string, st *providerStats) float64 {
	s := 100.0 + 2.0*float64(st.successes) - 4.0*float64(st.failures) - float64(st.lastLatencyMS)/25.0
	switch r.breakers.ForKey(breakerKey(name)).Snapshot().State {
	case BreakerOpen:
		s -= 1000
	case BreakerHalfOpen:
		s -= 50
	}
	return s
}

// Scores returns the current score for every registered provider.
func (r *ProviderRouter) Scores() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.adapters))
	for name := range r.adapters {
		out[name] = r.score(name, r.stats[name])
	}
	return out
}

// Status returns breaker + adapter health for every provider. Health
// reflects both: an adapter behind an open breaker reports unhealthy.
func (r *ProviderRouter) Status() []ProviderStatus {
	r.mu.Lock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	adapters := make(map[string]ProviderAdapter, len(names))
	scores := make(map[string]float64, len(names))
	for _, n := range names {
		adapters[n] = r.adapters[n]
		scores[n] = r.score(n, r.stats[n])
	}
	r.mu.Unlock()

	out := make([]ProviderStatus, 0, len(names))
	for _, n := range names {
		snap := r.breakers.ForKey(breakerKey(n)).Snapshot()
		out = append(out, ProviderStatus{
			Name:    n,
			Healthy: adapters[n].Health() && snap.State != BreakerOpen,
			Breaker: snap,
			Score:   scores[n],
		})
	}
	return out
}

// Health returns per-provider boolean health (adapter and breaker combined).
func (r *ProviderRouter) Health() map[string]bool {
	out := make(map[string]bool)
	for _, st := range r.Status() {
		out[st.Name] = st.Healthy
	}
	return out
}

// DispatchWithFallback tries each candidate in providerOrder, re-sorted by
// current score descending (stable, so equal scores keep the caller's
// order). Breaker-denied candidates are skipped; each attempt goes through
// the retry executor and updates stats + breaker. On total failure the
// returned error aggregates every candidate's reason.
func (r *ProviderRouter) DispatchWithFallback(ctx context.Context, req ProviderRequest, providerOrder []string, callLogger CallLogger) (ProviderResponse, error) {
	ordered := r.orderByScore(providerOrder)

	var reasons []string
	for _, name := range ordered {
		r.mu.Lock()
		adapter, ok := r.adapters[name]
		r.mu.Unlock()
		if !ok {
			reasons = append(reasons, name+":not_registered")
			if callLogger != nil {
				callLogger(name, req.Model, "not_registered")
			}
			continue
		}

		breaker := r.breakers.ForKey(breakerKey(name))
		if !breaker.Allow() {
			reasons = append(reasons, name+":breaker_open")
			r.logger.Warn("provider blocked by breaker", "provider", name)
			if callLogger != nil {
				callLogger(name, req.Model, "blocked_by_breaker")
			}
			continue
		}

		start := time.Now()
		onAttempt := func(attempt int, status string, info ErrorInfo) {
			if callLogger != nil && status == "retry" {
				tag := "err"
				if info.HTTPStatus > 0 {
					tag = strconv.Itoa(info.HTTPStatus)
				}
				callLogger(name, req.Model, fmt.Sprintf("retry_%s_%d", tag, attempt))
			}
		}
		resp, err := RunWithRetry(ctx, r.retry, "provider", name, onAttempt, func() (ProviderResponse, error) {
			return adapter.Generate(ctx, req)
		})
		latency := time.Since(start).Milliseconds()

		r.mu.Lock()
		st := r.stats[name]
		st.lastLatencyMS = latency
		if err == nil {
			st.successes++
		} else {
			st.failures++
		}
		r.mu.Unlock()

		if err != nil {
			breaker.RecordFailure()
			reasons = append(reasons, fmt.Sprintf("%s:%v", name, err))
			r.logger.Warn("provider failed, trying next", "provider", name, "error", err)
			if callLogger != nil {
				callLogger(name, req.Model, "error")
			}
			continue
		}

		breaker.RecordSuccess()
		if callLogger != nil {
			callLogger(name, req.Model, "ok")
		}
		resp.Provider = name
		if resp.Model == "" {
			resp.Model = req.Model
		}
		return resp, nil
	}

	return ProviderResponse{}, fmt.Errorf("all providers failed: %s", strings.Join(reasons, " | "))
}

// orderByScore returns providerOrder re-sorted by current score descending.
func (r *ProviderRouter) orderByScore(providerOrder []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := make([]string, len(providerOrder))
	copy(ordered, providerOrder)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := -2000.0, -2000.0
		if st, ok := r.stats[ordered[i]]; ok {
			si = r.score(ordered[i], st)
		}
		if st, ok := r.stats[ordered[j]]; ok {
			sj = r.score(ordered[j], st)
		}
		return si > sj
	})
	return ordered
}
