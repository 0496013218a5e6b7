// Package providers adapts each third-party SDK in the stack to the
// llm.Provider interface: one file per backend, all converting to and
// from the router's own Message/ToolCall types rather than exposing the
// SDK's shapes to the rest of the codebase.
package providers

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"openclaw/pkg/llm"
)

// Anthropic wraps the Claude API as an llm.Provider.
type Anthropic struct {
	client        anthropic.Client
	model         string
	contextWindow int
	dailyLimit    int
	available     atomic.Bool
}

// NewAnthropic builds an Anthropic provider for model, with contextWindow
// tokens of budget and dailyLimit requests per UTC day (0 = unlimited).
func NewAnthropic(apiKey, model string, contextWindow, dailyLimit int) *Anthropic {
	p := &Anthropic{
		client:        anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:         model,
		contextWindow: contextWindow,
		dailyLimit:    dailyLimit,
	}
	p.available.Store(true)
	return p
}

func (p *Anthropic) Name() string       { return "anthropic" }
func (p *Anthropic) Model() string      { return p.model }
func (p *Anthropic) ContextWindow() int { return p.contextWindow }
func (p *Anthropic) DailyLimit() int    { return p.dailyLimit }
func (p *Anthropic) Available() bool    { return p.available.Load() }

// Chat sends req to Claude, converting the router's message history into
// Anthropic's system-prompt-plus-strictly-alternating-turns shape.
func (p *Anthropic) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	system, turns, err := alternate(req.Messages, req.System)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("preparing anthropic turns: %w", err)
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		var blocks []anthropic.ContentBlockParamUnion

		for _, tr := range t.ToolResults {
			content := anthropic.ToolResultBlockParamContentUnion{}
			content.OfText = &anthropic.TextBlockParam{Text: tr.Content, Type: "text"}
			block := anthropic.ContentBlockParamUnion{}
			block.OfToolResult = &anthropic.ToolResultBlockParam{
				Type: "tool_result", ToolUseID: tr.ToolCallID,
				Content: []anthropic.ToolResultBlockParamContentUnion{content},
				IsError: anthropic.Bool(tr.IsError),
			}
			blocks = append(blocks, block)
		}

		if t.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(t.Content))
		}

		for _, tc := range t.ToolCalls {
			block := anthropic.ContentBlockParamUnion{}
			block.OfToolUse = &anthropic.ToolUseBlockParam{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Input}
			blocks = append(blocks, block)
		}

		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(t.Role),
			Content: blocks,
		})
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		wrapped := fmt.Errorf("anthropic chat: %w", err)
		if llm.ClassifyFailure(wrapped) == llm.FailureAuth {
			p.available.Store(false)
		}
		return llm.ChatResponse{}, wrapped
	}

	return fromAnthropicMessage(msg, p.model), nil
}

func toAnthropicTools(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: "object"}
		if props, ok := t.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := t.InputSchema["required"].([]string); ok {
			schema.Required = required
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, t.Name))
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message, model string) llm.ChatResponse {
	resp := llm.ChatResponse{ProviderName: "anthropic", Model: model}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			input, _ := variant.Input.(map[string]any)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: variant.ID, Name: variant.Name, Input: input})
		}
	}
	return resp
}

// turn is the alternate()-normalized shape fed into the Anthropic request
// builder: exactly one role, its text, tool calls, and tool results.
type turn struct {
	Role        string
	Content     string
	ToolCalls   []llm.ToolCall
	ToolResults []llm.ToolResult
}

// alternate extracts system messages into a single prompt and merges the
// remainder into strict user/assistant alternation, the shape Anthropic's
// API requires.
func alternate(messages []llm.Message, systemOverride string) (string, []turn, error) {
	var systemParts []string
	if systemOverride != "" {
		systemParts = append(systemParts, systemOverride)
	}

	var merged []turn
	var curUser turn
	curUser.Role = "user"
	flushUser := func() {
		if curUser.Content != "" || len(curUser.ToolResults) > 0 {
			merged = append(merged, curUser)
		}
		curUser = turn{Role: "user"}
	}

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
		case llm.RoleAssistant:
			flushUser()
			merged = append(merged, turn{Role: "assistant", Content: m.Content, ToolCalls: m.ToolCalls})
		default:
			if m.Content != "" {
				if curUser.Content != "" {
					curUser.Content += "\n\n" + m.Content
				} else {
					curUser.Content = m.Content
				}
			}
			curUser.ToolResults = append(curUser.ToolResults, m.ToolResults...)
		}
	}
	flushUser()

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("no non-system messages to send")
	}
	if merged[0].Role != "user" {
		return "", nil, fmt.Errorf("first message must be user role, got %s", merged[0].Role)
	}

	system := ""
	if len(systemParts) > 0 {
		for i, part := range systemParts {
			if i > 0 {
				system += "\n\n"
			}
			system += part
		}
	}
	return system, merged, nil
}
