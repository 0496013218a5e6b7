package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/ollama/ollama/api"

	"openclaw/pkg/llm"
)

// Ollama wraps a local Ollama server as an llm.Provider — the router's
// cheap/local rung of the escalation chain.
type Ollama struct {
	client        *api.Client
	model         string
	contextWindow int
	dailyLimit    int
	available     atomic.Bool
}

// NewOllama builds an Ollama provider against hostURL (e.g.
// "http://localhost:11434") for model.
func NewOllama(hostURL, model string, contextWindow int) *Ollama {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	p := &Ollama{
		client:        api.NewClient(parsed, http.DefaultClient),
		model:         model,
		contextWindow: contextWindow,
	}
	p.available.Store(true)
	return p
}

func (p *Ollama) Name() string       { return "ollama" }
func (p *Ollama) Model() string      { return p.model }
func (p *Ollama) ContextWindow() int { return p.contextWindow }
func (p *Ollama) DailyLimit() int    { return 0 } // local runtime, no provider-side quota
func (p *Ollama) Available() bool    { return p.available.Load() }

// Chat sends req to the local Ollama server.
func (p *Ollama) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	messages := toOllamaMessages(req)

	stream := false
	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOllamaTools(req.Tools)
	}

	var resp api.ChatResponse
	err := p.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("ollama chat: %w", err)
	}

	out := llm.ChatResponse{ProviderName: "ollama", Model: p.model, Text: resp.Message.Content}
	for _, tc := range resp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			Name:  tc.Function.Name,
			Input: map[string]any(tc.Function.Arguments),
		})
	}
	return out, nil
}

func toOllamaMessages(req llm.ChatRequest) []api.Message {
	var out []api.Message
	if req.System != "" {
		out = append(out, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.ToolResults) > 0 {
			for _, tr := range m.ToolResults {
				out = append(out, api.Message{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			if m.Content == "" {
				continue
			}
		}

		msg := api.Message{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:       tc.ID,
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: api.ToolCallFunctionArguments(tc.Input)},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOllamaTools(defs []llm.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i, td := range defs {
		params := api.ToolFunctionParameters{Type: "object"}
		if props, ok := td.InputSchema["properties"].(map[string]any); ok {
			raw := make(map[string]api.ToolProperty, len(props))
			for name, v := range props {
				propMap, _ := v.(map[string]any)
				typ, _ := propMap["type"].(string)
				desc, _ := propMap["description"].(string)
				raw[name] = api.ToolProperty{Type: api.PropertyType{typ}, Description: desc}
			}
			params.Properties = raw
		}
		if required, ok := td.InputSchema["required"].([]string); ok {
			params.Required = required
		}

		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
