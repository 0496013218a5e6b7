package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ProjectConfigDir is the per-project directory holding the TOML overlay and
// any project-local state the Local Agent keeps (audit logs, TLS material).
const ProjectConfigDir = ".openclaw"

// ProjectConfigFilename is the overlay file read by applyOverlay.
const ProjectConfigFilename = "config.toml"

// overlayFile mirrors the subset of Config a project may override from
// .openclaw/config.toml. Zero-value fields are left at their default.
type overlayFile struct {
	Channel struct {
		ListenAddr         string `toml:"listen_addr"`
		FallbackTunnelAddr string `toml:"fallback_tunnel_addr"`
	} `toml:"channel"`
	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
	MaxToolRounds   int `toml:"max_tool_rounds"`
	MaxEmptyRetries int `toml:"max_empty_retries"`
}

// applyOverlay reads dir/.openclaw/config.toml, if present, and merges it
// into cfg. A missing file is not an error: defaults stand on their own.
func applyOverlay(dir string, cfg *Config) error {
	path := filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var ov overlayFile
	if _, err := toml.Decode(string(data), &ov); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if ov.Channel.ListenAddr != "" {
		cfg.Channel.ListenAddr = ov.Channel.ListenAddr
	}
	if ov.Channel.FallbackTunnelAddr != "" {
		cfg.Channel.FallbackTunnelAddr = ov.Channel.FallbackTunnelAddr
	}
	if ov.Metrics.Addr != "" {
		cfg.Metrics.Addr = ov.Metrics.Addr
		cfg.Metrics.Enabled = ov.Metrics.Enabled
	}
	if ov.MaxToolRounds > 0 {
		cfg.MaxToolRounds = ov.MaxToolRounds
	}
	if ov.MaxEmptyRetries > 0 {
		cfg.MaxEmptyRetries = ov.MaxEmptyRetries
	}
	return nil
}

// Tier classifies an action by how much operator trust it requires before
// the Local Agent's security kernel will run it.
type Tier int

// Tier values, ordered from least to most dangerous.
const (
	TierAuto Tier = iota
	TierConfirm
	TierBlocked
)

func (t Tier) String() string {
	switch t {
	case TierAuto:
		return "auto"
	case TierConfirm:
		return "confirm"
	case TierBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// AgentConfig is the Local Execution Agent's own configuration, loaded from
// environment variables at startup the same way other CLI entrypoints load
// secrets and limits.
type AgentConfig struct {
	GatewayURL              string
	AuthToken               string
	ReconnectDelaySeconds   int
	MaxReconnectDelay       int
	PingIntervalSeconds     int
	PingTimeoutSeconds      int
	AllowedRoots            []string
	RateLimitPerMinute      int
	EmergencyStop           bool
	AuditLogDir             string
	AuditLogFile            string
	LogLevel                string
}

// ActionTiers classifies every action the Local Agent knows how to run.
// Anything absent from this map cannot be dispatched regardless of tier,
// mirroring the registry-gates-everything rule the security kernel enforces.
//
//nolint:gochecknoglobals // immutable action-tier table, not user-configurable
var ActionTiers = map[string]Tier{
	"git_status":           TierAuto,
	"run_tests":            TierAuto,
	"lint_project":         TierAuto,
	"start_dev_server":     TierAuto,
	"build_project":        TierAuto,
	"git_commit":           TierConfirm,
	"install_dependencies": TierConfirm,
	"file_write":           TierConfirm,
	"docker_build":         TierConfirm,
	"docker_compose_up":    TierConfirm,
	"zip_project":          TierConfirm,
	"web_search":           TierAuto,
	"shell_exec":           TierBlocked,
	"format_disk":          TierBlocked,
	"modify_registry":      TierBlocked,
	"manage_users":         TierBlocked,
	"firewall_change":      TierBlocked,
	"download_exec":        TierBlocked,
	"eval_code":            TierBlocked,
}

// LoadAgentConfig reads the Local Agent's configuration from the environment,
// applying the same defaults as the original Python executor.
func LoadAgentConfig() (*AgentConfig, error) {
	cfg := &AgentConfig{
		GatewayURL:            getEnvOr("OPENCLAW_GATEWAY_URL", "wss://localhost:8765/agent/ws"),
		AuthToken:             os.Getenv("OPENCLAW_AUTH_TOKEN"),
		ReconnectDelaySeconds: 5,
		MaxReconnectDelay:     120,
		PingIntervalSeconds:   30,
		PingTimeoutSeconds:    10,
		RateLimitPerMinute:    30,
		AuditLogDir:           getEnvOr("OPENCLAW_AUDIT_LOG_DIR", "./audit"),
		AuditLogFile:          "actions.jsonl",
		LogLevel:              getEnvOr("OPENCLAW_LOG_LEVEL", "INFO"),
	}

	if roots := os.Getenv("OPENCLAW_ALLOWED_ROOTS"); roots != "" {
		for _, r := range strings.Split(roots, string(filepath.ListSeparator)) {
			if r = strings.TrimSpace(r); r != "" {
				cfg.AllowedRoots = append(cfg.AllowedRoots, r)
			}
		}
	}

	if v := os.Getenv("OPENCLAW_EMERGENCY_STOP"); v != "" {
		stop, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parsing OPENCLAW_EMERGENCY_STOP: %w", err)
		}
		cfg.EmergencyStop = stop
	}

	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("OPENCLAW_AUTH_TOKEN is required")
	}

	return cfg, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
