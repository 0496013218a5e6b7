// Command gateway runs the cloud-side half of the system: the Provider
// Router, the Skill Registry, the Project Manager and Worker, and the
// Action Dispatch Channel server a Local Execution Agent dials into. The
// control plane (/action, /status, /emergency-stop, /resume) binds to
// loopback only; everything an operator or the project_management skill
// needs crosses that surface or runs in-process.
package main

import (
	"context"
	"crypto/subtle"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"openclaw/pkg/channel"
	"openclaw/pkg/config"
	"openclaw/pkg/confirm"
	"openclaw/pkg/dispatch"
	"openclaw/pkg/fallback"
	"openclaw/pkg/llm"
	"openclaw/pkg/llm/providers"
	"openclaw/pkg/logx"
	"openclaw/pkg/metrics"
	"openclaw/pkg/orchestrator"
	"openclaw/pkg/persistence"
	"openclaw/pkg/skills"
)

func main() {
	var projectDir, agentID, fallbackAddr, controlAddr string
	flag.StringVar(&projectDir, "projectdir", "", "Project directory holding .openclaw/config.toml and the durable store")
	flag.StringVar(&agentID, "agent-id", "default", "Agent ID this Gateway serves")
	flag.StringVar(&fallbackAddr, "fallback-ssh-addr", "", "host:port of the SSH fallback transport, empty disables it")
	flag.StringVar(&controlAddr, "control-addr", "127.0.0.1:8766", "Loopback address for the Action Dispatch API")
	flag.Parse()

	if projectDir == "" {
		log.Fatalf("gateway: -projectdir must be specified")
	}

	if err := config.LoadConfig(projectDir); err != nil {
		log.Fatalf("gateway: loading config: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("gateway: reading config: %v", err)
	}

	logger := logx.NewLogger("gateway")

	dbPath := filepath.Join(projectDir, config.ProjectConfigDir, "gateway.db")
	if err := persistence.Initialize(dbPath); err != nil {
		log.Fatalf("gateway: initializing durable store: %v", err)
	}
	defer persistence.Close()
	ops := persistence.Ops()

	router := buildRouter(cfg, ops, logger)

	authToken, err := config.GetSecret("GATEWAY_AUTH_TOKEN")
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	server := channel.NewServer(cfg.Channel.PingInterval, cfg.Channel.PingTimeout, func(token string) (string, bool) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(authToken)) == 1 {
			return agentID, true
		}
		return "", false
	})

	var tunnel *fallback.Tunnel
	if fallbackAddr != "" {
		tunnel = buildFallbackTunnel(fallbackAddr, logger)
	}

	link := &dispatch.AgentLink{Server: server, Fallback: tunnel, AgentID: agentID, Timeout: cfg.Channel.ActionTimeout}
	reg := skills.BuildDefaultRegistry(link)

	mgr := orchestrator.New(ops, router, reg, cfg.Orchestrator.WorkerPoolSize,
		func(projectID, eventType, detail string) {
			logger.Info("project %s: %s (%s)", projectID, eventType, detail)
		},
		terminalApprove(time.Duration(cfg.Orchestrator.ApprovalTimeoutSeconds)*time.Second),
	)
	mgr.RegisterSkill(reg)

	watcher := orchestrator.NewWatcher(mgr, cfg.Orchestrator.WatcherIntervalSeconds, cfg.Orchestrator.WatcherNudgeThresholdSeconds)
	watcher.Start()
	defer watcher.Stop()

	if err := mgr.ReapStaleRuns(time.Now().UTC().Add(-time.Duration(cfg.Orchestrator.WatcherNudgeThresholdSeconds) * 3 * time.Second)); err != nil {
		logger.Warn("reaping stale runs at startup: %v", err)
	}

	wsMux := http.NewServeMux()
	wsMux.Handle("/agent/ws", server)
	wsServer := &http.Server{Addr: cfg.Channel.ListenAddr, Handler: wsMux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("action dispatch channel listening on %s", cfg.Channel.ListenAddr)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("channel server: %v", err)
		}
	}()

	controlAPI := dispatch.NewAPI(link)
	controlServer := &http.Server{Addr: controlAddr, Handler: controlAPI, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("action dispatch control plane listening on %s (loopback only)", controlAddr)
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control plane server: %v", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsReg := metrics.New()
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsReg.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("metrics listening on %s", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.GracefulShutdownTimeoutSec)*time.Second)
	defer cancel()
	_ = wsServer.Shutdown(shutdownCtx)
	_ = controlServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

// contextWindows and dailyRequestLimits hold the per-model numbers the
// Model config struct doesn't carry (it budgets tokens-per-minute and
// dollars, not context size or a plain per-day request count) but the
// llm.Provider adapters still need at construction time.
var contextWindows = map[string]int{ //nolint:gochecknoglobals // fixed per-model constant table
	config.ModelClaudeSonnet: 200_000,
	config.ModelGPT5:         400_000,
	config.ModelGeminiFlash:  1_000_000,
	config.ModelOllamaLocal:  32_000,
}

var dailyRequestLimits = map[string]int{ //nolint:gochecknoglobals // fixed per-model constant table
	config.ModelClaudeSonnet: 500,
	config.ModelGPT5:         200,
	config.ModelGeminiFlash:  1000,
}

// buildRouter wires one llm.Provider per configured model family whose API
// key (or, for Ollama, host) is available, in the teacher's pattern of
// failing a single provider open rather than refusing to start the whole
// process over one missing credential.
func buildRouter(cfg config.Config, ops *persistence.DatabaseOperations, logger *logx.Logger) *llm.Router {
	var adapters []llm.Provider

	if key, err := config.GetSecret("ANTHROPIC_API_KEY"); err == nil {
		adapters = append(adapters, providers.NewAnthropic(key, config.ModelClaudeSonnet,
			contextWindows[config.ModelClaudeSonnet], dailyRequestLimits[config.ModelClaudeSonnet]))
	} else {
		logger.Warn("ANTHROPIC_API_KEY not available, claude provider disabled: %v", err)
	}

	if key, err := config.GetSecret("OPENAI_API_KEY"); err == nil {
		adapters = append(adapters, providers.NewOpenAI(key, config.ModelGPT5,
			contextWindows[config.ModelGPT5], dailyRequestLimits[config.ModelGPT5]))
	} else {
		logger.Warn("OPENAI_API_KEY not available, openai provider disabled: %v", err)
	}

	if key, err := config.GetSecret("GEMINI_API_KEY"); err == nil {
		adapters = append(adapters, providers.NewGoogle(key, config.ModelGeminiFlash,
			contextWindows[config.ModelGeminiFlash], dailyRequestLimits[config.ModelGeminiFlash]))
	} else {
		logger.Warn("GEMINI_API_KEY not available, gemini provider disabled: %v", err)
	}

	host, err := config.GetSecret("OLLAMA_HOST")
	if err != nil {
		host = "http://localhost:11434"
	}
	adapters = append(adapters, providers.NewOllama(host, config.ModelOllamaLocal, contextWindows[config.ModelOllamaLocal]))

	return llm.NewRouter(adapters, ops)
}

func buildFallbackTunnel(addr string, logger *logx.Logger) *fallback.Tunnel {
	user, err := config.GetSecret("FALLBACK_SSH_USER")
	if err != nil {
		logger.Warn("fallback-ssh-addr set but FALLBACK_SSH_USER is unavailable, fallback disabled: %v", err)
		return nil
	}
	keyPath, err := config.GetSecret("FALLBACK_SSH_KEY_PATH")
	if err != nil {
		logger.Warn("fallback-ssh-addr set but FALLBACK_SSH_KEY_PATH is unavailable, fallback disabled: %v", err)
		return nil
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		logger.Warn("reading fallback SSH key %s: %v", keyPath, err)
		return nil
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		logger.Warn("parsing fallback SSH key: %v", err)
		return nil
	}
	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // fallback target is operator-configured, not discovered
		Timeout:         10 * time.Second,
	}
	return fallback.NewTunnel(addr, sshCfg, "openclaw-agent -one-shot")
}

// terminalApprove adapts confirm.Terminal to orchestrator.ApproveFunc for a
// Gateway running with an attached operator terminal. When stdin isn't a
// terminal (a headless deployment), confirm.Terminal's own error denies the
// call, which is the safe default for a RequiresApproval tool nobody can
// answer for.
func terminalApprove(timeout time.Duration) orchestrator.ApproveFunc {
	return func(ctx context.Context, projectID, toolName string, input map[string]any) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		reason := "project " + projectID + " requests approval for " + toolName
		approved, _, err := confirm.Terminal(ctx, toolName, input, reason)
		if err != nil {
			return false, err
		}
		return approved, nil
	}
}
