// Package config loads the relay runtime configuration:
// defaults -> TOML file -> env vars (env wins).
package config

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Instance  InstanceConfig  `toml:"instance"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Context   ContextConfig   `toml:"context"`
	Database  DatabaseConfig  `toml:"database"`
	Providers ProvidersConfig `toml:"providers"`
	Tools     ToolsConfig     `toml:"tools"`
	Observer  ObserverConfig  `toml:"observer"`
}

type InstanceConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	Timezone    string `toml:"timezone"`
}

type RuntimeConfig struct {
	RequestTimeoutSeconds   int    `toml:"request_timeout_seconds"`
	RetryAttempts           int    `toml:"retry_attempts"`
	ProviderRetryAttempts   int    `toml:"provider_retry_attempts"`
	ToolRetryAttempts       int    `toml:"tool_retry_attempts"`
	BreakerFailureThreshold int    `toml:"breaker_failure_threshold"`
	BreakerCoolDownSeconds  int    `toml:"breaker_cool_down_seconds"`
	TaskReuseWindowMinutes  int    `toml:"task_reuse_window_minutes"`
	ReflexionMaxPerStep     int    `toml:"reflexion_max_per_step"`
	PermissionProfile       string `toml:"permission_profile"`
	SafeMode                bool   `toml:"safe_mode"`
}

type ContextConfig struct {
	MaxInputTokens       int `toml:"max_input_tokens"`
	ReservedOutputTokens int `toml:"reserved_output_tokens"`
	RecentTurns          int `toml:"recent_turns"`
	SnippetCap           int `toml:"snippet_cap"`
}

type DatabaseConfig struct {
	Engine      string `toml:"engine"` // "sqlite" or "postgres"
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type ProvidersConfig struct {
	FallbackOrder []string       `toml:"fallback_order"`
	Local         ProviderConfig `toml:"local"`
	Groq          ProviderConfig `toml:"groq"`
}

type ProviderConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ToolsConfig struct {
	Weather WeatherConfig `toml:"weather"`
}

type WeatherConfig struct {
	Enabled        bool   `toml:"enabled"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	Endpoint    string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Instance: InstanceConfig{Name: "relay", Environment: "dev", Timezone: "Asia/Kolkata"},
		Runtime: RuntimeConfig{
			RequestTimeoutSeconds:   30,
			RetryAttempts:           2,
			ProviderRetryAttempts:   3,
			ToolRetryAttempts:       2,
			BreakerFailureThreshold: 3,
			BreakerCoolDownSeconds:  20,
			TaskReuseWindowMinutes:  45,
			ReflexionMaxPerStep:     2,
			PermissionProfile:       "execute_safe",
		},
		Context: ContextConfig{
			MaxInputTokens:       2048,
			ReservedOutputTokens: 256,
			RecentTurns:          8,
			SnippetCap:           6,
		},
		Database: DatabaseConfig{Engine: "sqlite", Path: "relay.db"},
		Providers: ProvidersConfig{
			FallbackOrder: []string{"local", "groq"},
			Local: ProviderConfig{
				Enabled:        true,
				BaseURL:        "http://localhost:11434/v1",
				Model:          "llama3.1",
				APIKeyEnv:      "RELAY_LOCAL_API_KEY",
				TimeoutSeconds: 60,
			},
			Groq: ProviderConfig{
				BaseURL:        "https://api.groq.com/openai/v1",
				Model:          "llama-3.1-8b-instant",
				APIKeyEnv:      "RELAY_GROQ_API_KEY",
				TimeoutSeconds: 30,
			},
		},
		Tools: ToolsConfig{
			Weather: WeatherConfig{APIKeyEnv: "RELAY_WEATHER_API_KEY", TimeoutSeconds: 10},
		},
		Observer: ObserverConfig{ServiceName: "relay"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "relay.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("RELAY_DATABASE_ENGINE"); v != "" {
		cfg.Database.Engine = v
	}
	if v := os.Getenv("RELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RELAY_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
		cfg.Database.Engine = "postgres"
	}
	if v := os.Getenv("RELAY_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runtime.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("RELAY_SAFE_MODE"); v == "true" || v == "1" {
		cfg.Runtime.SafeMode = true
	}
	if v := os.Getenv("RELAY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("RELAY_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}

	return cfg
}

// SafeModeFlag is a live safe-mode toggle. The pipeline polls it on every
// run, so an admin flip takes effect on the next call.
type SafeModeFlag struct {
	v atomic.Bool
}

// NewSafeModeFlag creates a flag with the given initial value.
func NewSafeModeFlag(initial bool) *SafeModeFlag {
	f := &SafeModeFlag{}
	f.v.Store(initial)
	return f
}

// Get reports the current value.
func (f *SafeModeFlag) Get() bool { return f.v.Load() }

// Set replaces the current value.
func (f *SafeModeFlag) Set(on bool) { f.v.Store(on) }
