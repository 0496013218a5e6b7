// Package llm is the Provider Router: it holds an ordered list of model
// adapters, picks one per chat call according to preference/task-type/
// quota rules, and accounts usage per (provider, UTC date).
package llm

import "context"

// Role identifies who a Message is attributed to.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is one function invocation the model asked for.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall, fed back as part of
// the next turn's user message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one turn of a conversation. Content, ToolCalls and
// ToolResults are independent — an assistant turn carries ToolCalls, the
// following user turn carries the matching ToolResults.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolDefinition is the JSON-schema-shaped declaration of one callable
// tool, as the skill registry hands it to the router.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatRequest is one call into the router.
type ChatRequest struct {
	Messages          []Message
	Tools             []ToolDefinition
	System            string
	MaxTokens         int
	Temperature       float32
	TaskType          string   // "planning" | "scaffold" | "unit_test" | "general" | ...
	PreferredProvider string   // provider name to try first, if available and in quota
	AllowedProviders  []string // restricts selection to this set; empty means no restriction
}

// ChatResponse is the router's result: text and/or tool calls, tagged
// with which provider actually served the request.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	ProviderName string
	Model        string
}

// Provider is one LLM backend the router can dispatch to.
type Provider interface {
	// Name identifies the provider for quota rows, preference mapping,
	// and response tagging (e.g. "anthropic", "openai", "ollama", "google").
	Name() string

	// Model is the model identifier this adapter is configured for.
	Model() string

	// ContextWindow is the model's maximum input+output token budget, used
	// by the worker to size history before a call.
	ContextWindow() int

	// DailyLimit is the maximum number of requests this provider accepts
	// per UTC day, or 0 for no limit.
	DailyLimit() int

	// Available reports whether this provider is currently usable — false
	// once it has marked itself down (e.g. repeated auth failures).
	Available() bool

	// Chat sends one request and returns the raw completion. The router
	// applies quota accounting and failure classification around this.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
