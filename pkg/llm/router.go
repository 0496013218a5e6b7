package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"openclaw/pkg/config"
	"openclaw/pkg/logx"
	"openclaw/pkg/persistence"
)

// DefaultTaskTypePreference maps a task type to the model the router tries
// first for it, before falling through to PreferredProvider/quota/
// availability filtering. Unknown task types fall through to "general".
//
//nolint:gochecknoglobals // fixed preference table, analogous to config.ModelDefaults
var DefaultTaskTypePreference = map[string]string{
	"planning":  config.ModelClaudeSonnet,
	"scaffold":  config.ModelOllamaLocal,
	"unit_test": config.ModelGeminiFlash,
	"general":   config.ModelGeminiFlash,
}

// Router holds an ordered list of Provider adapters and picks one per
// Chat call using a fixed selection algorithm: allowed-list filter,
// preferred provider, task-type preference, then first available/
// in-quota provider in list order.
type Router struct {
	providers []Provider
	pref      map[string]string
	ops       *persistence.DatabaseOperations
	logger    *logx.Logger

	quotaMu sync.Mutex // serializes quota increments across providers
}

// NewRouter builds a Router over providers, in priority order (the order
// used when no preference narrows the choice to one candidate).
func NewRouter(providers []Provider, ops *persistence.DatabaseOperations) *Router {
	return &Router{
		providers: providers,
		pref:      DefaultTaskTypePreference,
		ops:       ops,
		logger:    logx.NewLogger("llm-router"),
	}
}

// WithTaskTypePreference overrides the default task-type → model mapping.
func (r *Router) WithTaskTypePreference(pref map[string]string) *Router {
	r.pref = pref
	return r
}

// Chat selects a provider and dispatches req, trying candidates in
// preference order until one succeeds or every candidate is exhausted.
func (r *Router) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return ChatResponse{}, ErrNoProvidersAvailable
	}

	var lastErr error
	for _, p := range candidates {
		if !p.Available() {
			continue
		}

		ok, err := r.withinQuota(p.Name())
		if err != nil {
			return ChatResponse{}, fmt.Errorf("checking quota for %s: %w", p.Name(), err)
		}
		if !ok {
			r.logger.Debug("provider %s exhausted its daily quota, skipping", p.Name())
			continue
		}

		resp, err := p.Chat(ctx, req)
		if err != nil {
			lastErr = err
			if ExhaustsQuota(err) {
				r.logger.Warn("provider %s exhausted (quota): %v", p.Name(), err)
				if incErr := r.recordUsage(p.Name(), 0, 0, 1); incErr != nil {
					r.logger.Error("recording quota-exhaustion usage for %s: %v", p.Name(), incErr)
				}
				continue
			}
			r.logger.Warn("provider %s failed: %v", p.Name(), err)
			continue
		}

		if incErr := r.recordUsage(p.Name(), 1, estimateTokens(req, resp), 0); incErr != nil {
			r.logger.Error("recording usage for %s: %v", p.Name(), incErr)
		}
		return resp, nil
	}

	if lastErr != nil {
		return ChatResponse{}, fmt.Errorf("%w: last error: %v", ErrNoProvidersAvailable, lastErr)
	}
	return ChatResponse{}, ErrNoProvidersAvailable
}

// candidates builds the ordered provider shortlist for one request:
// allowed-list filter, then preferred provider first if it qualifies,
// then the task-type preferred model first, then the rest in list order.
func (r *Router) candidates(req ChatRequest) []Provider {
	pool := r.providers
	if len(req.AllowedProviders) > 0 {
		allowed := make(map[string]bool, len(req.AllowedProviders))
		for _, name := range req.AllowedProviders {
			allowed[name] = true
		}
		filtered := make([]Provider, 0, len(pool))
		for _, p := range pool {
			if allowed[p.Name()] {
				filtered = append(filtered, p)
			}
		}
		pool = filtered
	}

	ordered := make([]Provider, 0, len(pool))
	used := make(map[string]bool, len(pool))

	addFirst := func(match func(Provider) bool) {
		for _, p := range pool {
			if !used[p.Name()+p.Model()] && match(p) {
				ordered = append(ordered, p)
				used[p.Name()+p.Model()] = true
				return
			}
		}
	}

	if req.PreferredProvider != "" {
		addFirst(func(p Provider) bool { return p.Name() == req.PreferredProvider })
	}

	if model, ok := r.pref[req.TaskType]; ok {
		addFirst(func(p Provider) bool { return p.Model() == model })
	} else if model, ok := r.pref["general"]; ok {
		addFirst(func(p Provider) bool { return p.Model() == model })
	}

	for _, p := range pool {
		if !used[p.Name()+p.Model()] {
			ordered = append(ordered, p)
			used[p.Name()+p.Model()] = true
		}
	}

	return ordered
}

// withinQuota reports whether providerName still has requests left for
// today (UTC), per the provider's configured daily limit.
func (r *Router) withinQuota(providerName string) (bool, error) {
	limit := r.dailyLimit(providerName)
	if limit <= 0 {
		return true, nil
	}
	if r.ops == nil {
		return true, nil
	}

	date := time.Now().UTC().Format("2006-01-02")
	usage, err := r.ops.GetProviderUsage(providerName, date)
	if err != nil {
		return false, err
	}
	return usage.RequestsUsed < int64(limit), nil
}

func (r *Router) dailyLimit(providerName string) int {
	for _, p := range r.providers {
		if p.Name() == providerName {
			return p.DailyLimit()
		}
	}
	return 0
}

// recordUsage atomically increments providerName's (provider, UTC-date)
// quota row. Serialized via quotaMu so concurrent calls from multiple
// worker goroutines can't interleave a read-modify-write and lose a count.
func (r *Router) recordUsage(providerName string, requests, tokens, errs int64) error {
	if r.ops == nil {
		return nil
	}
	r.quotaMu.Lock()
	defer r.quotaMu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	return r.ops.IncrementProviderUsage(providerName, date, requests, tokens, errs, time.Now().UTC())
}

// estimateTokens is a crude response-size-based token estimate for usage
// accounting when a provider adapter doesn't report exact usage; refined
// per-provider adapters may report a real count instead by setting it on
// the ChatResponse in a future revision.
func estimateTokens(req ChatRequest, resp ChatResponse) int64 {
	chars := len(resp.Text)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return int64(chars / 4) //nolint:mnd // ~4 chars per token, matches utils.CountTokensSimple's fallback
}
