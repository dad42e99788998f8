package relay

import "context"

// ProviderAdapter is a generative backend registered by name into the
// ProviderRouter. Generate may fail; Health is a cheap liveness check that
// does not consume quota.
type ProviderAdapter interface {
	Name() string
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
	Health() bool
}

// CallLogger receives one status line per provider attempt outcome.
// Statuses: "ok", "error", "retry_<status>_<attempt>", "blocked_by_breaker",
// "not_registered".
type CallLogger func(provider, model, status string)
