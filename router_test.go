package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRouterDispatchFirstHealthy(t *testing.T) {
	router := NewProviderRouter(WithRouterRetryPolicy(quickRetry()))
	local := &stubAdapter{name: "local", text: "hello"}
	groq := &stubAdapter{name: "groq", text: "fallback"}
	router.Register(local)
	router.Register(groq)

	resp, err := router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"local", "groq"}, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Provider != "local" || resp.OutputText != "hello" {
		t.Errorf("resp = %+v, want local/hello", resp)
	}
	if groq.callCount() != 0 {
		t.Error("fallback should not be called when the primary succeeds")
	}
}

func TestRouterFallsBackOnFailure(t *testing.T) {
	router := NewProviderRouter(WithRouterRetryPolicy(quickRetry()))
	local := &stubAdapter{name: "local", failCount: 99, failErr: errors.New("connection refused")}
	groq := &stubAdapter{name: "groq", text: "fallback"}
	router.Register(local)
	router.Register(groq)

	var statuses []string
	logger := func(provider, _, status string) { statuses = append(statuses, provider+":"+status) }

	resp, err := router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"local", "groq"}, logger)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Provider != "groq" {
		t.Errorf("provider = %s, want groq", resp.Provider)
	}

	joined := strings.Join(statuses, " ")
	if !strings.Contains(joined, "local:error") || !strings.Contains(joined, "groq:ok") {
		t.Errorf("call log = %v, want local error then groq ok", statuses)
	}
}

func TestRouterAllProvidersFail(t *testing.T) {
	router := NewProviderRouter(WithRouterRetryPolicy(quickRetry()))
	router.Register(&stubAdapter{name: "local", failCount: 99, failErr: errors.New("boom")})

	_, err := router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"local", "ghost"}, nil)
	if err == nil {
		t.Fatal("expected aggregate failure")
	}
	if !strings.Contains(err.Error(), "all providers failed") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "ghost:not_registered") {
		t.Errorf("aggregate should name the unregistered candidate, got %v", err)
	}
}

func TestRouterBreakerSkipsProvider(t *testing.T) {
	breakers := NewBreakerRegistry(1, time.Minute)
	router := NewProviderRouter(WithRouterRetryPolicy(quickRetry()), WithRouterBreakers(breakers))
	local := &stubAdapter{name: "local", failCount: 99, failErr: errors.New("down")}
	groq := &stubAdapter{name: "groq", text: "ok"}
	router.Register(local)
	router.Register(groq)

	// First dispatch trips the local breaker.
	if _, err := router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"local", "groq"}, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	localCalls := local.callCount()

	var statuses []string
	logger := func(provider, _, status string) { statuses = append(statuses, provider+":"+status) }
	_, err := router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"local"}, logger)
	if err == nil {
		t.Fatal("expected failure with only the tripped provider as candidate")
	}
	if !strings.Contains(err.Error(), "local:breaker_open") {
		t.Errorf("error = %v, want breaker_open reason", err)
	}

	if local.callCount() != localCalls {
		t.Error("breaker-open provider must not be invoked")
	}
	if !strings.Contains(strings.Join(statuses, " "), "local:blocked_by_breaker") {
		t.Errorf("call log = %v, want blocked_by_breaker", statuses)
	}
}

func TestRouterScoring(t *testing.T) {
	router := NewProviderRouter(WithRouterRetryPolicy(quickRetry()))
	good := &stubAdapter{name: "good", text: "ok"}
	bad := &stubAdapter{name: "bad", failCount: 99, failErr: errors.New("down")}
	router.Register(good)
	router.Register(bad)

	// Give each provider a history.
	_, _ = router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"bad", "good"}, nil)
	_, _ = router.DispatchWithFallback(context.Background(), ProviderRequest{Model: "m"}, []string{"bad", "good"}, nil)

	scores := router.Scores()
	if scores["good"] <= scores["bad"] {
		t.Errorf("good score %v should beat bad score %v", scores["good"], scores["bad"])
	}
}

func TestRouterStatusReflectsBreaker(t *testing.T) {
	breakers := NewBreakerRegistry(1, time.Minute)
	router := NewProviderRouter(WithRouterRetryPolicy(quickRetry()), WithRouterBreakers(breakers))
	router.Register(&stubAdapter{name: "local", text: "ok"})

	breakers.ForKey("provider:local").RecordFailure()

	health := router.Health()
	if health["local"] {
		t.Error("open breaker should mark the provider unhealthy")
	}
	status := router.Status()
	if len(status) != 1 || status[0].Breaker.State != BreakerOpen {
		t.Errorf("status = %+v, want open breaker", status)
	}
}

func TestRouterConfigured(t *testing.T) {
	router := NewProviderRouter()
	router.Register(&stubAdapter{name: "b"})
	router.Register(&stubAdapter{name: "a"})
	got := router.Configured()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("configured = %v, want [a b]", got)
	}
}
