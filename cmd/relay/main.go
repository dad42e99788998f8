// Command relay runs the orchestration pipeline as a line-oriented REPL:
// each stdin line becomes one inbound message, each reply goes to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	relay "github.com/nevindra/relay"
	"github.com/nevindra/relay/internal/config"
	"github.com/nevindra/relay/observer"
	"github.com/nevindra/relay/provider/openaicompat"
	"github.com/nevindra/relay/store/postgres"
	"github.com/nevindra/relay/store/sqlite"
	"github.com/nevindra/relay/tools/memorytool"
	"github.com/nevindra/relay/tools/statustool"
	"github.com/nevindra/relay/tools/tasktool"
	"github.com/nevindra/relay/tools/weathertool"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg := config.Load(os.Getenv("RELAY_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Observability (optional)
	var inst *observer.Instruments
	var sink relay.TraceSink
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		sink = observer.NewTraceSink(inst)
	}

	// 3. Store
	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}

	// 4. Providers + router
	coolDown := time.Duration(cfg.Runtime.BreakerCoolDownSeconds) * time.Second
	providerBreakers := relay.NewBreakerRegistry(cfg.Runtime.BreakerFailureThreshold, coolDown)
	providerRetry := relay.DefaultRetryPolicy()
	providerRetry.MaxAttempts = cfg.Runtime.ProviderRetryAttempts
	router := relay.NewProviderRouter(
		relay.WithRouterLogger(logger),
		relay.WithRouterBreakers(providerBreakers),
		relay.WithRouterRetryPolicy(providerRetry),
	)

	model := registerProviders(router, cfg.Providers, inst)

	// 5. Tool registry + tools
	registryOpts := []relay.RegistryOption{relay.WithRegistryLogger(logger)}
	if inst != nil {
		registryOpts = append(registryOpts, relay.WithHandlerWrapper(func(name string, h relay.ToolHandler) relay.ToolHandler {
			return observer.WrapHandler(name, h, inst)
		}))
	}
	registry := relay.NewToolRegistry(registryOpts...)
	if err := memorytool.Register(registry, st); err != nil {
		log.Fatalf("register memory tools: %v", err)
	}
	if err := tasktool.Register(registry, st); err != nil {
		log.Fatalf("register task tools: %v", err)
	}
	if err := statustool.Register(registry, st, router); err != nil {
		log.Fatalf("register status tool: %v", err)
	}
	if err := weathertool.Register(registry, weathertool.Options{
		Enabled:   cfg.Tools.Weather.Enabled,
		APIKeyEnv: cfg.Tools.Weather.APIKeyEnv,
		Timeout:   time.Duration(cfg.Tools.Weather.TimeoutSeconds) * time.Second,
	}); err != nil {
		log.Fatalf("register weather tool: %v", err)
	}

	// 6. Policy, safe mode, executor
	safeMode := config.NewSafeModeFlag(cfg.Runtime.SafeMode)
	policy := relay.NewPolicyEngine(relay.PermissionProfile(cfg.Runtime.PermissionProfile))

	// Tool breakers trip later than provider breakers so a flaky tool does
	// not take the whole run down with it.
	toolThreshold := cfg.Runtime.BreakerFailureThreshold + 1
	if toolThreshold < 2 {
		toolThreshold = 2
	}
	toolBreakers := relay.NewBreakerRegistry(toolThreshold, coolDown)
	toolRetry := relay.DefaultRetryPolicy()
	toolRetry.MaxAttempts = cfg.Runtime.ToolRetryAttempts

	executor := relay.NewToolExecutor(registry, policy, toolBreakers, safeMode.Get,
		relay.WithExecutorLogger(logger),
		relay.WithExecutorRetryPolicy(toolRetry),
		relay.WithToolCallLogger(func(call *relay.ToolCallContext, name, status, detail string) {
			if call == nil {
				return
			}
			if err := st.AppendToolCall(ctx, relay.ToolCallRecord{
				TaskID:    call.TaskID,
				SessionID: call.SessionID,
				RequestID: call.RequestID,
				ToolName:  name,
				Status:    status,
				Detail:    detail,
			}); err != nil {
				logger.Warn("persist tool call failed", "tool", name, "error", err)
			}
		}),
	)

	// 7. Pipeline
	pipelineOpts := []relay.PipelineOption{
		relay.WithPipelineLogger(logger),
		relay.WithSafeMode(safeMode.Get),
	}
	if sink != nil {
		pipelineOpts = append(pipelineOpts, relay.WithTraceSink(sink))
	}
	if inst != nil {
		pipelineOpts = append(pipelineOpts, relay.WithPipelineTracer(observer.NewTracer()))
	}
	pipeline := relay.NewPipeline(st, registry, executor, router, relay.PipelineConfig{
		Model:                model,
		ProviderOrder:        cfg.Providers.FallbackOrder,
		MaxInputTokens:       cfg.Context.MaxInputTokens,
		ReservedOutputTokens: cfg.Context.ReservedOutputTokens,
		RecentTurnCount:      cfg.Context.RecentTurns,
		MemorySnippetCap:     cfg.Context.SnippetCap,
		RequestTimeout:       time.Duration(cfg.Runtime.RequestTimeoutSeconds) * time.Second,
		RetryAttempts:        cfg.Runtime.RetryAttempts,
		TaskReuseWindow:      time.Duration(cfg.Runtime.TaskReuseWindowMinutes) * time.Minute,
		ReflexionMaxPerStep:  cfg.Runtime.ReflexionMaxPerStep,
	}, pipelineOpts...)

	// 8. REPL loop
	fmt.Println("relay ready. Type a message, Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		res, err := pipeline.Handle(ctx, relay.Inbound{
			Channel: "cli",
			ChatID:  "local",
			UserID:  "local-user",
			Text:    text,
		})
		if err != nil {
			logger.Error("pipeline failed", "error", err)
			continue
		}
		fmt.Printf("[task %d %s] %s\n", res.TaskID, res.Status, res.ReplyText)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read stdin: %v", err)
	}
}

// openStore picks the persistence engine from config.
func openStore(ctx context.Context, db config.DatabaseConfig, logger *slog.Logger) (relay.Store, error) {
	if db.Engine == "postgres" {
		pool, err := pgxpool.New(ctx, db.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool), nil
	}
	return sqlite.New(db.Path, sqlite.WithLogger(logger)), nil
}

// registerProviders wires every enabled backend into the router, wrapped
// with OTEL instrumentation when the observer is on. Returns the default
// model: the first enabled provider in fallback order wins.
func registerProviders(router *relay.ProviderRouter, cfg config.ProvidersConfig, inst *observer.Instruments) string {
	model := ""
	register := func(name string, pc config.ProviderConfig) {
		if !pc.Enabled {
			return
		}
		opts := []openaicompat.ProviderOption{openaicompat.WithName(name)}
		if pc.TimeoutSeconds > 0 {
			client := &http.Client{Timeout: time.Duration(pc.TimeoutSeconds) * time.Second}
			opts = append(opts, openaicompat.WithHTTPClient(client))
		}
		var adapter relay.ProviderAdapter = openaicompat.NewProvider(os.Getenv(pc.APIKeyEnv), pc.Model, pc.BaseURL, opts...)
		if inst != nil {
			adapter = observer.WrapProvider(adapter, inst)
		}
		router.Register(adapter)
		if model == "" {
			model = pc.Model
		}
	}
	for _, name := range cfg.FallbackOrder {
		switch name {
		case "local":
			register("local", cfg.Local)
		case "groq":
			register("groq", cfg.Groq)
		}
	}
	return model
}
