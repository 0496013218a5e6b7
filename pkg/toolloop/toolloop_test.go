package toolloop

import (
	"context"
	"testing"

	"openclaw/pkg/llm"
	"openclaw/pkg/skills"
)

// scriptedProvider returns one canned response per call, repeating the
// last entry once the script is exhausted.
type scriptedProvider struct {
	name      string
	responses []llm.ChatResponse
	calls     int
}

func (p *scriptedProvider) Name() string       { return p.name }
func (p *scriptedProvider) Model() string      { return p.name }
func (p *scriptedProvider) ContextWindow() int { return 8000 }
func (p *scriptedProvider) DailyLimit() int    { return 0 }
func (p *scriptedProvider) Available() bool    { return true }

func (p *scriptedProvider) Chat(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func stubSkillRegistry(handler skills.Handler) *skills.Registry {
	r := skills.NewRegistry()
	r.Register(&skills.Skill{
		Name:             "build",
		Tools:            []skills.Tool{{Name: "run_tests"}},
		PlanAutoApproved: map[string]struct{}{"run_tests": {}},
		Handler:          handler,
	})
	r.Register(&skills.Skill{
		Name:             "git",
		Tools:            []skills.Tool{{Name: "git_commit"}},
		RequiresApproval: map[string]struct{}{"git_commit": {}},
		Handler:          handler,
	})
	return r
}

func TestRunReturnsTextWhenNoToolCallsRequested(t *testing.T) {
	provider := &scriptedProvider{
		name:      "fake",
		responses: []llm.ChatResponse{{Text: "all done", ProviderName: "fake"}},
	}
	router := llm.NewRouter([]llm.Provider{provider}, nil)
	reg := stubSkillRegistry(func(context.Context, string, map[string]any, bool) (string, error) {
		t.Fatal("handler should not be called when no tools were requested")
		return "", nil
	})

	out, err := Run(context.Background(), Config{Router: router, Skills: reg}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "all done" {
		t.Errorf("expected final text %q, got %q", "all done", out.Text)
	}
	if out.Rounds != 1 {
		t.Errorf("expected exactly one round, got %d", out.Rounds)
	}
}

func TestRunDispatchesToolCallAndContinues(t *testing.T) {
	provider := &scriptedProvider{
		name: "fake",
		responses: []llm.ChatResponse{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "run_tests", Input: map[string]any{"working_dir": "/x"}}}},
			{Text: "tests passed"},
		},
	}
	router := llm.NewRouter([]llm.Provider{provider}, nil)

	var gotConfirmed bool
	reg := stubSkillRegistry(func(_ context.Context, toolName string, _ map[string]any, confirmed bool) (string, error) {
		if toolName != "run_tests" {
			t.Fatalf("unexpected tool dispatched: %s", toolName)
		}
		gotConfirmed = confirmed
		return "ok", nil
	})

	out, err := Run(context.Background(), Config{Router: router, Skills: reg}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "tests passed" {
		t.Errorf("expected final text %q, got %q", "tests passed", out.Text)
	}
	if !gotConfirmed {
		t.Error("expected run_tests to dispatch confirmed:true since it is plan-auto-approved")
	}
}

func TestRunDeniesToolRequiringApprovalWhenApproveIsNil(t *testing.T) {
	provider := &scriptedProvider{
		name: "fake",
		responses: []llm.ChatResponse{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "git_commit", Input: map[string]any{"message": "wip"}}}},
			{Text: "acknowledged the denial"},
		},
	}
	router := llm.NewRouter([]llm.Provider{provider}, nil)

	called := false
	reg := stubSkillRegistry(func(context.Context, string, map[string]any, bool) (string, error) {
		called = true
		return "should not run", nil
	})

	out, err := Run(context.Background(), Config{Router: router, Skills: reg}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("handler must not run for a denied approval")
	}
	if out.Text != "acknowledged the denial" {
		t.Errorf("unexpected final text: %q", out.Text)
	}
}

func TestRunApprovesToolWhenApproveFuncAllows(t *testing.T) {
	provider := &scriptedProvider{
		name: "fake",
		responses: []llm.ChatResponse{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "git_commit", Input: map[string]any{"message": "wip"}}}},
			{Text: "committed"},
		},
	}
	router := llm.NewRouter([]llm.Provider{provider}, nil)

	var gotConfirmed bool
	reg := stubSkillRegistry(func(_ context.Context, _ string, _ map[string]any, confirmed bool) (string, error) {
		gotConfirmed = confirmed
		return "committed", nil
	})

	cfg := Config{
		Router:  router,
		Skills:  reg,
		Approve: func(context.Context, string, map[string]any) (bool, error) { return true, nil },
	}
	out, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotConfirmed {
		t.Error("expected git_commit to dispatch confirmed:true once approved")
	}
	if out.Text != "committed" {
		t.Errorf("unexpected final text: %q", out.Text)
	}
}

// exhaustingProvider returns an identical tool call for every round up to
// MaxToolRounds, then a plain-text response once the loop has given up
// and made its forced final summary call.
type exhaustingProvider struct {
	calls int
}

func (p *exhaustingProvider) Name() string       { return "fake" }
func (p *exhaustingProvider) Model() string      { return "fake" }
func (p *exhaustingProvider) ContextWindow() int { return 8000 }
func (p *exhaustingProvider) DailyLimit() int    { return 0 }
func (p *exhaustingProvider) Available() bool    { return true }

func (p *exhaustingProvider) Chat(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	p.calls++
	if p.calls <= MaxToolRounds {
		return llm.ChatResponse{
			ToolCalls: []llm.ToolCall{{ID: "1", Name: "run_tests", Input: map[string]any{"working_dir": "/x"}}},
		}, nil
	}
	return llm.ChatResponse{Text: "summary after exhaustion"}, nil
}

func TestRunExhaustsRoundsAndSummarizes(t *testing.T) {
	provider := &exhaustingProvider{}
	router := llm.NewRouter([]llm.Provider{provider}, nil)
	reg := stubSkillRegistry(func(context.Context, string, map[string]any, bool) (string, error) {
		return "ok", nil
	})

	var loopSignatures []string
	cfg := Config{
		Router: router,
		Skills: reg,
		OnLoopDetected: func(sig string, count int) {
			loopSignatures = append(loopSignatures, sig)
		},
	}

	out, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Rounds != MaxToolRounds {
		t.Errorf("expected exhaustion after %d rounds, got %d", MaxToolRounds, out.Rounds)
	}
	if out.Text != "summary after exhaustion" {
		t.Errorf("expected the forced final summary text, got %q", out.Text)
	}
	if len(loopSignatures) == 0 {
		t.Error("expected repeated identical calls to trigger loop detection")
	}
}
