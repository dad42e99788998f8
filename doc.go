// Package relay is a resilient agent-pipeline runtime for conversational
// assistants in Go.
//
// One inbound user message drives a full pipeline run: intent decision,
// memory read/write, planning, risk-gated tool execution, and a generative
// provider call under token-budget and fallback constraints, finishing with
// reply composition. Every remote call is guarded by a per-resource circuit
// breaker and a classification-driven retry policy, and failures are
// fingerprinted so a bounded reflexion step can pick a recovery strategy.
//
// # Quick Start
//
//	store := sqlite.New("relay.db")
//	router := relay.NewProviderRouter()
//	router.Register(openaicompat.NewProvider(apiKey, model, baseURL))
//
//	registry := relay.NewToolRegistry()
//	memorytool.Register(registry, store)
//	statustool.Register(registry, store, router)
//
//	policy := relay.NewPolicyEngine(relay.ProfileExecuteSafe)
//	breakers := relay.NewBreakerRegistry(3, 20*time.Second)
//	executor := relay.NewToolExecutor(registry, policy, breakers, nil)
//
//	pipeline := relay.NewPipeline(store, registry, executor, router, relay.PipelineConfig{
//		Model:         model,
//		ProviderOrder: []string{"openai"},
//	})
//
//	result, err := pipeline.Handle(ctx, relay.Inbound{Channel: "cli", ChatID: "1", UserID: "1", Text: "hello"})
//
// # Core pieces
//
//   - [ProviderAdapter] — generative backend (register into [ProviderRouter])
//   - [ToolHandler] — callable capability (register with [ToolMetadata] into [ToolRegistry])
//   - [Store] — persistence seam (store/sqlite, store/postgres)
//   - [ContextCompiler] — budgeted prompt assembly with deterministic trimming
//   - [PolicyEngine] — permission profile × risk level gating
//   - [Pipeline] — the per-request orchestrator
package relay
