// Package config provides configuration loading, validation, and management for
// both the Gateway and the Local Execution Agent.
//
// ARCHITECTURE OVERVIEW:
//
// KEY PRINCIPLES:
//
//  1. SEPARATION OF CONCERNS:
//     - Project config: per-project overlay (.openclaw/config.toml) loaded via loader.go
//     - System config: Gateway-wide settings (models, rate limits, resilience)
//     - Constants: hardcoded algorithm parameters that users should not modify
//     - State/metadata never lives in config; it belongs in the durable store.
//
//  2. GLOBAL SINGLETON: a single global Config instance is maintained in memory,
//     protected by a mutex for thread safety.
//
//  3. VALUE-BASED ACCESS: GetConfig() returns the config BY VALUE (copy, not
//     reference) to prevent external mutation. All updates go through Update*
//     functions.
package config

import (
	"fmt"
	"sync"
	"time"

	"openclaw/pkg/logx"
)

//nolint:gochecknoglobals // intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	mu         sync.RWMutex
)

// Provider name constants used throughout the LLM provider router.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Model name constants for the providers wired into the router.
const (
	ModelClaudeSonnet   = "claude-sonnet-4-20250514"
	ModelGPT5           = "gpt-5"
	ModelO3Mini         = "o3-mini"
	ModelGeminiFlash    = "gemini-2.5-flash"
	ModelOllamaLocal    = "qwen2.5-coder:32b"
)

// Model describes an LLM model's capabilities, limits and pricing.
type Model struct {
	Name           string  `json:"name"`
	Provider       string  `json:"provider"`
	MaxTPM         int     `json:"max_tpm"`
	MaxConnections int     `json:"max_connections"`
	CPM            float64 `json:"cpm"`          // cost per million tokens (USD)
	DailyBudgetUSD float64 `json:"daily_budget"` // max spend per day (USD)
}

// ModelDefaults defines default parameters for every model the router knows
// how to escalate across. Order here mirrors the router's escalation chain:
// local and cheap first, frontier models last.
//
//nolint:gochecknoglobals // intentional global for model definitions
var ModelDefaults = map[string]Model{
	ModelOllamaLocal: {
		Name: ModelOllamaLocal, Provider: ProviderOllama,
		MaxTPM: 0, MaxConnections: 2, CPM: 0, DailyBudgetUSD: 0,
	},
	ModelGeminiFlash: {
		Name: ModelGeminiFlash, Provider: ProviderGemini,
		MaxTPM: 1_000_000, MaxConnections: 4, CPM: 0.3, DailyBudgetUSD: 5.0,
	},
	ModelO3Mini: {
		Name: ModelO3Mini, Provider: ProviderOpenAI,
		MaxTPM: 200_000, MaxConnections: 4, CPM: 1.1, DailyBudgetUSD: 10.0,
	},
	ModelClaudeSonnet: {
		Name: ModelClaudeSonnet, Provider: ProviderAnthropic,
		MaxTPM: 300_000, MaxConnections: 5, CPM: 3.0, DailyBudgetUSD: 25.0,
	},
	ModelGPT5: {
		Name: ModelGPT5, Provider: ProviderOpenAI,
		MaxTPM: 150_000, MaxConnections: 5, CPM: 30.0, DailyBudgetUSD: 100.0,
	},
}

// EscalationChain is the default provider escalation order used when a task's
// preferred model produces an empty response or enters a tool-call loop.
//
//nolint:gochecknoglobals // intentional global, overridable via config overlay
var EscalationChain = []string{ModelOllamaLocal, ModelGeminiFlash, ModelClaudeSonnet}

// IsModelSupported reports whether the router has defaults for modelName.
func IsModelSupported(modelName string) bool {
	_, exists := ModelDefaults[modelName]
	return exists
}

// GetModelProvider returns the provider backing a given model.
func GetModelProvider(modelName string) (string, error) {
	m, exists := ModelDefaults[modelName]
	if !exists {
		return "", fmt.Errorf("unknown model: %s", modelName)
	}
	return m.Provider, nil
}

// CircuitBreakerConfig configures the provider-router circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// ProviderLimits bounds one provider's request rate.
type ProviderLimits struct {
	TokensPerMinute int `json:"tokens_per_minute"`
	Burst           int `json:"burst"`
	MaxConcurrency  int `json:"max_concurrency"`
}

// RateLimitConfig groups per-provider rate limits.
type RateLimitConfig struct {
	Anthropic ProviderLimits `json:"anthropic"`
	OpenAI    ProviderLimits `json:"openai"`
	Gemini    ProviderLimits `json:"gemini"`
	Ollama    ProviderLimits `json:"ollama"`
}

// ResilienceConfig bundles all resilience-related middleware configuration
// applied to the LLM provider router's client chain.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
	Timeout        time.Duration        `json:"timeout"`
}

// MetricsConfig configures the Prometheus metrics exporter.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Exporter  string `json:"exporter"` // "prometheus" or "noop"
	Namespace string `json:"namespace"`
	Addr      string `json:"addr"` // listen address for the /metrics endpoint
}

// ChannelConfig configures the Action Dispatch Channel transport.
type ChannelConfig struct {
	ListenAddr         string        `json:"listen_addr"`          // Gateway-side websocket listen address
	PingInterval       time.Duration `json:"ping_interval"`        // keepalive ping cadence
	PingTimeout        time.Duration `json:"ping_timeout"`         // time to wait for pong before reconnect
	ReconnectDelay     time.Duration `json:"reconnect_delay"`      // agent-side initial reconnect backoff
	MaxReconnectDelay  time.Duration `json:"max_reconnect_delay"`  // agent-side backoff ceiling
	ActionTimeout      time.Duration `json:"action_timeout"`       // default per-action round trip timeout
	FallbackTunnelAddr string        `json:"fallback_tunnel_addr"` // SSH fallback target, empty disables it
}

// OrchestratorConfig configures the Project Manager and Worker pool.
type OrchestratorConfig struct {
	// WorkerPoolSize bounds how many projects may have an active worker at
	// once. Task execution within a single project is always sequential
	// regardless of this setting.
	WorkerPoolSize int `json:"worker_pool_size"`

	// AutoApproveAndStart, when true, skips the operator approval step for
	// a generated plan once AutoApproveMinIdeas ideas have been captured,
	// moving the project straight from planning to coding.
	AutoApproveAndStart bool `json:"auto_approve_and_start"`
	AutoApproveMinIdeas int  `json:"auto_approve_min_ideas"`

	// WatcherIntervalSeconds is how often the watcher sweeps every running
	// run, refreshing its heartbeat.
	WatcherIntervalSeconds int `json:"watcher_interval_seconds"`

	// WatcherNudgeThresholdSeconds is how long after its start a run may
	// stay running before the watcher emits one manager_nudge event.
	WatcherNudgeThresholdSeconds int `json:"watcher_nudge_threshold_seconds"`

	// ApprovalTimeoutSeconds bounds how long an async approval callback may
	// take before a RequiresApproval tool call is denied.
	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds"`
}

// Config is the Gateway's top-level, in-memory configuration singleton.
type Config struct {
	SchemaVersion              string             `json:"schema_version"`
	GracefulShutdownTimeoutSec int                `json:"graceful_shutdown_timeout_sec"`
	EventLogRotationHours      int                `json:"event_log_rotation_hours"`
	MaxRetryAttempts           int                `json:"max_retry_attempts"`
	RetryBackoffMultiplier     float64            `json:"retry_backoff_multiplier"`
	Models                     map[string]Model   `json:"models"`
	Resilience                 ResilienceConfig   `json:"resilience"`
	Metrics                    MetricsConfig      `json:"metrics"`
	Channel                    ChannelConfig      `json:"channel"`
	Orchestrator               OrchestratorConfig `json:"orchestrator"`
	MaxToolRounds              int                `json:"max_tool_rounds"`
	MaxEmptyRetries            int                `json:"max_empty_retries"`
}

const currentSchemaVersion = "1.0"

func defaultConfig() *Config {
	return &Config{
		SchemaVersion:              currentSchemaVersion,
		GracefulShutdownTimeoutSec: 30,
		EventLogRotationHours:      24,
		MaxRetryAttempts:           3,
		RetryBackoffMultiplier:     2.0,
		Models:                     ModelDefaults,
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second},
			Retry:          RetryConfig{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0, Jitter: true},
			Timeout:        120 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Exporter: "prometheus", Namespace: "openclaw", Addr: ":9090"},
		Channel: ChannelConfig{
			ListenAddr:        ":8765",
			PingInterval:      30 * time.Second,
			PingTimeout:       10 * time.Second,
			ReconnectDelay:    5 * time.Second,
			MaxReconnectDelay: 120 * time.Second,
			ActionTimeout:     120 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			WorkerPoolSize:               4,
			AutoApproveAndStart:          false,
			AutoApproveMinIdeas:          3,
			WatcherIntervalSeconds:       20,
			WatcherNudgeThresholdSeconds: 120,
			ApprovalTimeoutSeconds:       300,
		},
		MaxToolRounds:   30,
		MaxEmptyRetries: 3,
	}
}

// LoadConfig initializes the global config singleton for the given project
// directory, applying any .openclaw/config.toml overlay and environment
// variable overrides found there.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := defaultConfig()
	if err := applyOverlay(dir, cfg); err != nil {
		return fmt.Errorf("applying config overlay: %w", err)
	}

	config = cfg
	projectDir = dir
	logx.Infof("config loaded for project %s (schema %s)", dir, cfg.SchemaVersion)
	return nil
}

// GetConfig returns a copy of the current configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded; call LoadConfig first")
	}
	return *config, nil
}

// ProjectDir returns the project directory LoadConfig was called with.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// UpdateResilience atomically replaces the resilience configuration.
func UpdateResilience(r ResilienceConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not loaded")
	}
	config.Resilience = r
	return nil
}

// Reset clears the global config singleton. Test-only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
	projectDir = ""
}
