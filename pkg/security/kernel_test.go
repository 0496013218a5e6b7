package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw/pkg/actions"
	"openclaw/pkg/config"
)

func testCfg(t *testing.T, allowedRoots []string) *config.AgentConfig {
	t.Helper()
	return &config.AgentConfig{
		AuthToken:          "test-token",
		AllowedRoots:       allowedRoots,
		RateLimitPerMinute: 30,
		AuditLogDir:        t.TempDir(),
	}
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	return New(testCfg(t, nil), nil)
}

func TestKernel_UnknownActionDenied(t *testing.T) {
	k := newTestKernel(t)
	result, err := k.Execute(context.Background(), "nonexistent_action", nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "unknown_action", result.Err)
}

func TestKernel_BlockedTierDenied(t *testing.T) {
	k := newTestKernel(t)
	actions.Registry["shell_exec"] = func(ctx context.Context, params map[string]any) (actions.Result, error) {
		return actions.Result{ExitCode: 0}, nil
	}
	defer delete(actions.Registry, "shell_exec")

	result, err := k.Execute(context.Background(), "shell_exec", map[string]any{}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "blocked", result.Err)
}

func TestKernel_EmergencyStopLatched(t *testing.T) {
	k := newTestKernel(t)
	k.Stop()
	assert.True(t, k.Stopped())

	result, err := k.Execute(context.Background(), "git_status", map[string]any{"working_dir": "."}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "emergency_stop", result.Err)

	k.Resume()
	assert.False(t, k.Stopped())
}

func TestKernel_ConfirmTierRequiresApproval(t *testing.T) {
	k := newTestKernel(t)

	denied, err := k.Execute(context.Background(), "file_write", map[string]any{
		"file": t.TempDir() + "/out.txt", "content": "hi",
	}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, denied.ExitCode)
	assert.Equal(t, "requires_confirmation", denied.Err)

	approveCalled := false
	approve := func(ctx context.Context, action string, params map[string]any, reason string) (bool, string, error) {
		approveCalled = true
		return true, "", nil
	}
	allowed, err := k.Execute(context.Background(), "file_write", map[string]any{
		"file": t.TempDir() + "/out2.txt", "content": "hi",
	}, false, approve)
	require.NoError(t, err)
	assert.True(t, approveCalled)
	assert.Equal(t, 0, allowed.ExitCode)
}

func TestKernel_PathJailDeniesEscape(t *testing.T) {
	root := t.TempDir()
	k := New(testCfg(t, []string{root}), nil)

	result, err := k.Execute(context.Background(), "git_status", map[string]any{"working_dir": "/etc"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "path_outside_jail", result.Err)
}

func TestKernel_RateLimitDenied(t *testing.T) {
	cfg := testCfg(t, nil)
	cfg.RateLimitPerMinute = 1
	k := New(cfg, nil)

	first, err := k.Execute(context.Background(), "git_status", map[string]any{"working_dir": "."}, false, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "rate_limited", first.Err)

	second, err := k.Execute(context.Background(), "git_status", map[string]any{"working_dir": "."}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, second.ExitCode)
	assert.Equal(t, "rate_limited", second.Err)
}

func TestKernel_IdempotencyReplay(t *testing.T) {
	k := newTestKernel(t)
	calls := 0
	actions.Registry["_test_count"] = func(ctx context.Context, params map[string]any) (actions.Result, error) {
		calls++
		return actions.Result{ExitCode: 0, Stdout: "ran"}, nil
	}
	config.ActionTiers["_test_count"] = config.TierAuto
	defer func() {
		delete(actions.Registry, "_test_count")
		delete(config.ActionTiers, "_test_count")
	}()

	params := map[string]any{"_idempotency_key": "key-1"}
	first, err := k.Execute(context.Background(), "_test_count", params, false, nil)
	require.NoError(t, err)
	second, err := k.Execute(context.Background(), "_test_count", params, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "action should only run once for a repeated idempotency key")
	assert.Equal(t, first, second)
}
