package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"openclaw/pkg/llm"
)

// OpenAI wraps the official OpenAI Go client's Responses API as an
// llm.Provider.
type OpenAI struct {
	client        openai.Client
	model         string
	contextWindow int
	dailyLimit    int
	available     atomic.Bool
}

// NewOpenAI builds an OpenAI provider for model.
func NewOpenAI(apiKey, model string, contextWindow, dailyLimit int) *OpenAI {
	p := &OpenAI{
		client:        openai.NewClient(option.WithAPIKey(apiKey)),
		model:         model,
		contextWindow: contextWindow,
		dailyLimit:    dailyLimit,
	}
	p.available.Store(true)
	return p
}

func (p *OpenAI) Name() string       { return "openai" }
func (p *OpenAI) Model() string      { return p.model }
func (p *OpenAI) ContextWindow() int { return p.contextWindow }
func (p *OpenAI) DailyLimit() int    { return p.dailyLimit }
func (p *OpenAI) Available() bool    { return p.available.Load() }

// Chat sends req via the Responses API, flattening the router's message
// list into one input string since the Responses API takes a single
// input blob rather than a role-tagged transcript.
func (p *OpenAI) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	var input string
	if req.System != "" {
		input += fmt.Sprintf("System: %s\n\n", req.System)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			input += fmt.Sprintf("System: %s\n\n", m.Content)
		case llm.RoleAssistant:
			input += fmt.Sprintf("Assistant: %s\n\n", m.Content)
		default:
			input += m.Content + "\n\n"
		}
		for _, tr := range m.ToolResults {
			input += fmt.Sprintf("Tool result (%s): %s\n\n", tr.ToolCallID, tr.Content)
		}
	}

	params := responses.ResponseNewParams{
		Model:           p.model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}

	if len(req.Tools) > 0 {
		tools := make([]responses.ToolUnionParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.InputSchema),
				},
			}
		}
		params.Tools = tools
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		wrapped := fmt.Errorf("openai chat: %w", err)
		if llm.ClassifyFailure(wrapped) == llm.FailureAuth {
			p.available.Store(false)
		}
		return llm.ChatResponse{}, wrapped
	}
	if resp == nil {
		return llm.ChatResponse{}, fmt.Errorf("openai chat: empty response")
	}

	out := llm.ChatResponse{ProviderName: "openai", Model: p.model}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		fc := item.AsFunctionCall()
		var input map[string]any
		if fc.Arguments != "" {
			if err := json.Unmarshal([]byte(fc.Arguments), &input); err != nil {
				continue
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: fc.ID, Name: fc.Name, Input: input})
	}
	if out.Text == "" {
		out.Text = resp.OutputText()
	}
	return out, nil
}
