package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"openclaw/pkg/persistence"
)

type fakeProvider struct {
	name          string
	model         string
	contextWindow int
	dailyLimit    int
	available     bool
	chatFunc      func(ctx context.Context, req ChatRequest) (ChatResponse, error)
	calls         int
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) Model() string      { return f.model }
func (f *fakeProvider) ContextWindow() int { return f.contextWindow }
func (f *fakeProvider) DailyLimit() int    { return f.dailyLimit }
func (f *fakeProvider) Available() bool    { return f.available }

func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	f.calls++
	return f.chatFunc(ctx, req)
}

func openTestOps(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()
	ops, err := persistence.OpenIsolated(filepath.Join(t.TempDir(), "router_test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	return ops
}

func TestRouterPrefersFirstAvailableProvider(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from a", ProviderName: "anthropic"}, nil
		},
	}
	b := &fakeProvider{name: "openai", model: "gpt", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from b", ProviderName: "openai"}, nil
		},
	}

	router := NewRouter([]Provider{a, b}, openTestOps(t))
	resp, err := router.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderName != "anthropic" {
		t.Errorf("expected anthropic to be tried first, got %q", resp.ProviderName)
	}
	if b.calls != 0 {
		t.Errorf("expected openai not to be called, got %d calls", b.calls)
	}
}

func TestRouterHonorsPreferredProvider(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from a", ProviderName: "anthropic"}, nil
		},
	}
	b := &fakeProvider{name: "openai", model: "gpt", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from b", ProviderName: "openai"}, nil
		},
	}

	router := NewRouter([]Provider{a, b}, openTestOps(t))
	resp, err := router.Chat(context.Background(), ChatRequest{PreferredProvider: "openai"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderName != "openai" {
		t.Errorf("expected preferred provider openai, got %q", resp.ProviderName)
	}
	if a.calls != 0 {
		t.Errorf("expected anthropic not to be called, got %d calls", a.calls)
	}
}

func TestRouterSkipsUnavailableProvider(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: false,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			t.Fatal("unavailable provider should not be called")
			return ChatResponse{}, nil
		},
	}
	b := &fakeProvider{name: "openai", model: "gpt", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from b", ProviderName: "openai"}, nil
		},
	}

	router := NewRouter([]Provider{a, b}, openTestOps(t))
	resp, err := router.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderName != "openai" {
		t.Errorf("expected fallback to openai, got %q", resp.ProviderName)
	}
}

func TestRouterFallsThroughOnQuotaExhaustion(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{}, errors.New("429 rate limit exceeded")
		},
	}
	b := &fakeProvider{name: "openai", model: "gpt", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from b", ProviderName: "openai"}, nil
		},
	}

	router := NewRouter([]Provider{a, b}, openTestOps(t))
	resp, err := router.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderName != "openai" {
		t.Errorf("expected fallback to openai after quota exhaustion, got %q", resp.ProviderName)
	}
	if a.calls != 1 {
		t.Errorf("expected anthropic tried exactly once, got %d", a.calls)
	}
}

func TestRouterRespectsDailyLimit(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: true, dailyLimit: 1,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from a", ProviderName: "anthropic"}, nil
		},
	}
	b := &fakeProvider{name: "openai", model: "gpt", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from b", ProviderName: "openai"}, nil
		},
	}

	router := NewRouter([]Provider{a, b}, openTestOps(t))
	ctx := context.Background()

	first, err := router.Chat(ctx, ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if first.ProviderName != "anthropic" {
		t.Fatalf("expected first call to use anthropic, got %q", first.ProviderName)
	}

	second, err := router.Chat(ctx, ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if second.ProviderName != "openai" {
		t.Errorf("expected second call to fall through to openai once anthropic's daily limit is used, got %q", second.ProviderName)
	}
}

func TestRouterReturnsErrNoProvidersAvailableWhenAllFail(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{}, errors.New("500 internal error")
		},
	}

	router := NewRouter([]Provider{a}, openTestOps(t))
	_, err := router.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrNoProvidersAvailable) {
		t.Errorf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestRouterAllowedProvidersFiltersCandidates(t *testing.T) {
	a := &fakeProvider{name: "anthropic", model: "claude", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			t.Fatal("anthropic excluded by allow-list should not be called")
			return ChatResponse{}, nil
		},
	}
	b := &fakeProvider{name: "openai", model: "gpt", available: true,
		chatFunc: func(_ context.Context, _ ChatRequest) (ChatResponse, error) {
			return ChatResponse{Text: "from b", ProviderName: "openai"}, nil
		},
	}

	router := NewRouter([]Provider{a, b}, openTestOps(t))
	resp, err := router.Chat(context.Background(), ChatRequest{AllowedProviders: []string{"openai"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderName != "openai" {
		t.Errorf("expected openai, got %q", resp.ProviderName)
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"429 status", errors.New("429 Too Many Requests"), FailureQuotaExhausted},
		{"quota keyword", errors.New("quota exceeded for this month"), FailureQuotaExhausted},
		{"401 status", errors.New("401 Unauthorized"), FailureAuth},
		{"auth keyword", errors.New("invalid api key provided"), FailureAuth},
		{"400 status", errors.New("400 bad request"), FailureBadRequest},
		{"500 status", errors.New("500 internal server error"), FailureTransient},
		{"timeout keyword", errors.New("context deadline exceeded: timeout"), FailureTransient},
		{"unrecognized", errors.New("something odd happened"), FailureUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFailure(tc.err); got != tc.want {
				t.Errorf("ClassifyFailure(%q) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
