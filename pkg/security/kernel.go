// Package security implements the Local Execution Agent's security kernel:
// the pipeline every inbound action dispatch must pass before anything runs
// on the workstation. It knows nothing about how to run an action (that's
// pkg/actions) — only whether one is allowed to.
package security

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"openclaw/pkg/actions"
	"openclaw/pkg/audit"
	"openclaw/pkg/config"
	"openclaw/pkg/logx"
	"openclaw/pkg/proto"
)

// ApprovalFunc requests operator sign-off for a CONFIRM-tier action and
// blocks until a decision arrives or ctx is cancelled. cmd/agent passes
// confirm.Terminal, which prompts on the workstation's terminal.
type ApprovalFunc func(ctx context.Context, action string, params map[string]any, reason string) (approved bool, feedback string, err error)

// Kernel is the Local Execution Agent's security kernel: every inbound
// ACTION frame passes through Execute, which runs the full pipeline —
// emergency-stop latch, rate limit, registry lookup, tier classification,
// path jail, confirm handling, fixed-argument execution, audit log — in
// that order, so nothing downstream of a rejection ever runs.
type Kernel struct {
	cfg     *config.AgentConfig
	limiter *RateLimiter
	audit   *audit.Writer
	estop   atomic.Bool
	logger  *logx.Logger

	// idempotency caches the result of any action submitted with a
	// params["_idempotency_key"], so a retried dispatch (e.g. after a
	// channel reconnect) replays the recorded result instead of running a
	// mutating action twice.
	idempotency *idempotencyCache
}

// New builds a Kernel. cfg.EmergencyStop seeds the initial latch state.
func New(cfg *config.AgentConfig, auditWriter *audit.Writer) *Kernel {
	k := &Kernel{
		cfg:         cfg,
		limiter:     NewRateLimiter(cfg.RateLimitPerMinute),
		audit:       auditWriter,
		logger:      logx.NewLogger("security"),
		idempotency: newIdempotencyCache(),
	}
	k.estop.Store(cfg.EmergencyStop)
	return k
}

// Stop latches the emergency stop: every subsequent Execute call is denied
// until Resume is called.
func (k *Kernel) Stop() {
	k.estop.Store(true)
	k.logger.Warn("emergency stop latched")
}

// Resume releases the emergency stop latch.
func (k *Kernel) Resume() {
	k.estop.Store(false)
	k.logger.Info("emergency stop released")
}

// Stopped reports whether the emergency stop is currently latched.
func (k *Kernel) Stopped() bool { return k.estop.Load() }

// Execute runs the full security pipeline for one action request and
// returns the proto.ActionResult to send back to the Gateway. It never
// returns a Go error for a rejection the caller should see as a normal
// outcome (blocked tier, jail violation, rate limit) — those come back as
// a non-nil *proto.ActionResult with ExitCode -1 and Err set, exactly like
// an execution failure, so callers don't need two different failure shapes.
func (k *Kernel) Execute(ctx context.Context, action string, params map[string]any, confirmed bool, approve ApprovalFunc) (*proto.ActionResult, error) {
	if k.Stopped() {
		return k.deny(action, params, "", "emergency_stop", fmt.Errorf("emergency stop is latched"))
	}

	if !k.limiter.Allow() {
		return k.deny(action, params, "", "rate_limited", fmt.Errorf("rate limit exceeded"))
	}

	if key, ok := params["_idempotency_key"].(string); ok && key != "" {
		if cached, hit := k.idempotency.Get(key); hit {
			k.logger.Debug("replaying cached result for idempotency key %s", key)
			return cached, nil
		}
	}

	fn, ok := actions.Registry[action]
	if !ok {
		return k.deny(action, params, "", "unknown_action", fmt.Errorf("unknown action: %s", action))
	}

	tier, ok := config.ActionTiers[action]
	if !ok {
		tier = config.TierBlocked // fail closed: an action with no tier entry is never runnable
	}

	if tier == config.TierBlocked {
		return k.deny(action, params, tier.String(), "blocked", fmt.Errorf("action %s is blocked", action))
	}

	if err := checkPathJail(params, k.cfg.AllowedRoots); err != nil {
		return k.deny(action, params, tier.String(), "path_outside_jail", err)
	}

	decision := "allowed"
	if tier == config.TierConfirm && !confirmed {
		if approve == nil {
			return k.deny(action, params, tier.String(), "requires_confirmation", fmt.Errorf("action %s requires confirmation but no approval channel is available", action))
		}
		approved, feedback, err := approve(ctx, action, params, fmt.Sprintf("action %s requires operator confirmation", action))
		if err != nil {
			return k.deny(action, params, tier.String(), "requires_confirmation", fmt.Errorf("requesting approval: %w", err))
		}
		if !approved {
			return k.deny(action, params, tier.String(), "requires_confirmation", fmt.Errorf("operator rejected action: %s", feedback))
		}
		decision = "confirmed"
	}

	res, err := fn(ctx, params)
	if err != nil {
		// Execution failures surface verbatim, unlike the validation
		// rejections above, which normalize to a fixed taxonomy of reasons.
		return k.deny(action, params, tier.String(), err.Error(), err)
	}

	result := &proto.ActionResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}

	k.recordAudit(action, params, tier.String(), decision, result)

	if key, ok := params["_idempotency_key"].(string); ok && key != "" {
		k.idempotency.Put(key, result)
	}

	return result, nil
}

// deny builds the rejection result for action. reason is the normalized
// taxonomy string sent back to the Gateway and recorded as the audit
// decision (e.g. "blocked", "rate_limited", "path_outside_jail"); detail is
// the fuller, human-readable cause, logged but never put on the wire.
func (k *Kernel) deny(action string, params map[string]any, tier, reason string, detail error) (*proto.ActionResult, error) {
	result := &proto.ActionResult{ExitCode: -1, Err: reason}
	k.recordAudit(action, params, tier, reason, result)
	k.logger.Warn("action %s denied (%s): %v", action, reason, detail)
	return result, nil
}

func (k *Kernel) recordAudit(action string, params map[string]any, tier, decision string, result *proto.ActionResult) {
	if k.audit == nil {
		return
	}
	rec := audit.Record{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Params:    redactParams(params),
		Tier:      tier,
		Decision:  decision,
		ExitCode:  result.ExitCode,
		Error:     result.Err,
	}
	if err := k.audit.Write(rec); err != nil {
		k.logger.Error("failed to write audit record: %v", err)
	}
}

// redactParams drops file content from the audit trail — the rest of the
// parameters (paths, flags, messages) are worth keeping for review, but a
// multi-megabyte file body has no business in a log line.
func redactParams(params map[string]any) map[string]any {
	if _, ok := params["content"]; !ok {
		return params
	}
	redacted := make(map[string]any, len(params))
	for k, v := range params {
		if k == "content" {
			redacted[k] = "<redacted>"
			continue
		}
		redacted[k] = v
	}
	return redacted
}
