// Package statustool registers status.get, the runtime diagnostics tool.
package statustool

import (
	"context"
	"time"

	"github.com/nevindra/relay"
)

// Counters is the optional stats surface a store may implement. Stores
// without it still work; the counters just report -1.
type Counters interface {
	CountTasks(ctx context.Context, sessionID int64) (int, error)
	CountProviderCalls(ctx context.Context, sessionID int64) (int, error)
}

// Register adds status.get to registry.
func Register(registry *relay.ToolRegistry, store relay.Store, router *relay.ProviderRouter) error {
	get := func(ctx context.Context, call *relay.ToolCallContext, _ map[string]any) (map[string]any, error) {
		tasks, providerCalls := -1, -1
		if c, ok := store.(Counters); ok {
			if n, err := c.CountTasks(ctx, call.SessionID); err == nil {
				tasks = n
			}
			if n, err := c.CountProviderCalls(ctx, call.SessionID); err == nil {
				providerCalls = n
			}
		}
		memories, err := store.CountMemory(ctx, call.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"session_id":     call.SessionID,
			"tasks":          tasks,
			"memories":       memories,
			"provider_calls": providerCalls,
			"providers":      router.Health(),
		}, nil
	}

	return registry.Register(relay.ToolMetadata{
		Name:              "status.get",
		Version:           "2.0",
		Risk:              relay.RiskLow,
		Tags:              []string{"status", "health", "diagnostics"},
		RoutingSummary:    "Return runtime health and persistence counters.",
		InvocationSummary: "status.get() returns counts and provider status.",
		FullSchema:        `{"type":"object","properties":{}}`,
		Examples:          []string{"status.get()"},
		Timeout:           5 * time.Second,
		Idempotent:        true,
	}, get)
}
