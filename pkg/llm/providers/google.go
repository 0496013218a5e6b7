package providers

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/genai"

	"openclaw/pkg/llm"
)

// Google wraps the Gemini API as an llm.Provider. The genai client needs a
// context to construct, so creation is deferred to the first Chat call.
type Google struct {
	client        *genai.Client
	apiKey        string
	model         string
	contextWindow int
	dailyLimit    int
	available     atomic.Bool
}

// NewGoogle builds a Gemini provider for model. The client is not dialed
// until the first Chat call.
func NewGoogle(apiKey, model string, contextWindow, dailyLimit int) *Google {
	p := &Google{
		apiKey:        apiKey,
		model:         model,
		contextWindow: contextWindow,
		dailyLimit:    dailyLimit,
	}
	p.available.Store(true)
	return p
}

func (p *Google) Name() string       { return "google" }
func (p *Google) Model() string      { return p.model }
func (p *Google) ContextWindow() int { return p.contextWindow }
func (p *Google) DailyLimit() int    { return p.dailyLimit }
func (p *Google) Available() bool    { return p.available.Load() }

// Chat sends req to Gemini, converting the router's message history into
// genai.Content turns with "model" in place of "assistant".
func (p *Google) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if p.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.ChatResponse{}, fmt.Errorf("creating gemini client: %w", err)
		}
		p.client = client
	}

	contents, system := toGeminiContents(req.Messages)

	temp := req.Temperature
	maxTokens := int32(req.MaxTokens) //nolint:gosec // bounded by caller-configured model limits
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
	if system == "" {
		system = req.System
	} else if req.System != "" {
		system = req.System + "\n\n" + system
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiTools(req.Tools)}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
		}
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		wrapped := fmt.Errorf("gemini chat: %w", err)
		if llm.ClassifyFailure(wrapped) == llm.FailureAuth {
			p.available.Store(false)
		}
		return llm.ChatResponse{}, wrapped
	}
	if result == nil {
		return llm.ChatResponse{}, llm.ErrEmptyResponse
	}

	out := llm.ChatResponse{ProviderName: "google", Model: p.model, Text: result.Text()}
	for _, fc := range result.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fc.Name
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: fc.Name, Input: fc.Args})
	}
	return out, nil
}

// toGeminiContents converts the router's message history into Gemini's
// Content list, extracting system messages into a separate instruction
// string since Gemini takes system text out-of-band.
func toGeminiContents(messages []llm.Message) ([]*genai.Content, string) {
	var system string
	var contents []*genai.Content

	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}

		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Input, ID: tc.ID}})
		}
		for _, tr := range m.ToolResults {
			if tr.ToolCallID == "" {
				continue
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     tr.ToolCallID,
				Response: map[string]any{"content": tr.Content, "is_error": tr.IsError},
			}})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents, system
}

func toGeminiTools(defs []llm.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i, td := range defs {
		properties := make(map[string]*genai.Schema)
		if props, ok := td.InputSchema["properties"].(map[string]any); ok {
			for name, v := range props {
				propMap, _ := v.(map[string]any)
				properties[name] = geminiSchemaForProperty(propMap)
			}
		}
		var required []string
		if r, ok := td.InputSchema["required"].([]string); ok {
			required = r
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: properties, Required: required},
		}
	}
	return out
}

func geminiSchemaForProperty(prop map[string]any) *genai.Schema {
	desc, _ := prop["description"].(string)
	typ, _ := prop["type"].(string)
	schema := &genai.Schema{Description: desc}
	switch typ {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
	case "object":
		schema.Type = genai.TypeObject
	default:
		schema.Type = genai.TypeString
	}
	return schema
}
