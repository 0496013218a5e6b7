// Package toolloop drives one round-trip conversation between the
// Provider Router and the Skill Registry: it keeps calling the model
// with the current tool schema until the model stops asking for tools,
// dispatching every tool call through its owning skill's Handler and
// feeding the result back as the next turn.
package toolloop

import (
	"context"
	"fmt"

	"openclaw/pkg/llm"
	"openclaw/pkg/logx"
	"openclaw/pkg/skills"
)

// MaxToolRounds bounds how many assistant/tool round-trips a single task
// runs before the loop gives up and asks for a summary instead.
const MaxToolRounds = 30

// loopWindow is how many recent call signatures are kept for repeat
// detection — a call matching any of the last three is considered a
// loop, not a legitimate retry.
const loopWindow = 3

// ApproveFunc asks the operator whether a single tool call may proceed.
// Only called for tools a skill marks RequiresApproval.
type ApproveFunc func(ctx context.Context, toolName string, input map[string]any) (bool, error)

// Config wires one tool-loop run.
type Config struct {
	Router  *llm.Router
	Skills  *skills.Registry
	Role    string
	Logger  *logx.Logger

	// Approve is consulted for every RequiresApproval tool call. A nil
	// Approve denies every such call.
	Approve ApproveFunc

	// HasPlanApproval marks the calling task as already operating within
	// an approved plan's scope, so every tool that is not RequiresApproval
	// dispatches with confirmed:true without Approve being consulted.
	// PlanAutoApproved tools get confirmed:true even without it.
	HasPlanApproval bool

	TaskType          string
	PreferredProvider string

	// OnLoopDetected is called, if set, every time a call signature
	// repeats one of the last three calls. repeatCount counts how many
	// times the signature has now been seen in this Run. The loop itself
	// has no notion of escalation tiers: it dispatches the repeated call
	// and carries on with the same provider preference. runTask in
	// pkg/orchestrator only logs the repeat.
	OnLoopDetected func(signature string, repeatCount int)
}

// Outcome is what a Run call produced.
type Outcome struct {
	Text   string
	Rounds int
}

// Run drives the tool loop starting from history (the stored conversation
// plus the fresh user turn describing the task) and returns the model's
// final text. It mutates neither the Config nor the caller's history
// slice; the returned Outcome's Text is either a natural no-tool-calls
// answer or, after MaxToolRounds, a forced one-shot summary.
func Run(ctx context.Context, cfg Config, history []llm.Message) (Outcome, error) {
	if cfg.Router == nil {
		return Outcome{}, fmt.Errorf("toolloop: Router is required")
	}
	if cfg.Skills == nil {
		return Outcome{}, fmt.Errorf("toolloop: Skills registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}

	messages := append([]llm.Message(nil), history...)
	toolDefs := toolDefinitions(cfg.Skills.GetToolsForRole(cfg.Role))

	var recentSignatures []string
	callCounts := make(map[string]int)

	for round := 0; round < MaxToolRounds; round++ {
		resp, err := cfg.Router.Chat(ctx, llm.ChatRequest{
			Messages:          messages,
			Tools:             toolDefs,
			TaskType:          cfg.TaskType,
			PreferredProvider: cfg.PreferredProvider,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("round %d: %w", round, err)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return Outcome{Text: resp.Text, Rounds: round + 1}, nil
		}

		results := make([]llm.ToolResult, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			sig := skills.Signature(call.Name, call.Input)
			callCounts[sig]++
			if contains(recentSignatures, sig) && cfg.OnLoopDetected != nil {
				cfg.OnLoopDetected(sig, callCounts[sig])
			}
			recentSignatures = append(recentSignatures, sig)
			if len(recentSignatures) > loopWindow {
				recentSignatures = recentSignatures[len(recentSignatures)-loopWindow:]
			}

			text, isErr := cfg.dispatch(ctx, call, logger)
			results[i] = llm.ToolResult{ToolCallID: call.ID, Content: text, IsError: isErr}
		}

		messages = append(messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}

	return cfg.summarize(ctx, messages)
}

// dispatch classifies a single tool call's approval, runs it through its
// owning skill's Handler, and returns the text fed back to the model.
func (cfg Config) dispatch(ctx context.Context, call llm.ToolCall, logger *logx.Logger) (string, bool) {
	skill, ok := cfg.Skills.GetSkillForTool(call.Name)
	if !ok {
		return fmt.Sprintf("unknown tool: %s", call.Name), true
	}

	confirmed := false
	if cfg.Skills.RequiresApproval(call.Name) {
		approved, err := cfg.approve(ctx, call)
		if err != nil {
			logger.Warn("approval check for %s failed: %v", call.Name, err)
			return "denied by user", true
		}
		if !approved {
			return "denied by user", true
		}
		confirmed = true
	} else if cfg.Skills.IsPlanAutoApproved(call.Name) || cfg.HasPlanApproval {
		confirmed = true
	}

	result, err := skill.Handler(ctx, call.Name, call.Input, confirmed)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), true
	}
	return result, false
}

func (cfg Config) approve(ctx context.Context, call llm.ToolCall) (bool, error) {
	if cfg.Approve == nil {
		return false, nil
	}
	return cfg.Approve(ctx, call.Name, call.Input)
}

// summarize runs one final, tool-free call after MaxToolRounds is
// exhausted, asking the model to summarize progress so far.
func (cfg Config) summarize(ctx context.Context, messages []llm.Message) (Outcome, error) {
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "You've reached the tool-call limit for this task. Summarize the progress and results so far; no further tool calls will be executed.",
	})

	resp, err := cfg.Router.Chat(ctx, llm.ChatRequest{
		Messages:          messages,
		TaskType:          cfg.TaskType,
		PreferredProvider: cfg.PreferredProvider,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("final summary call: %w", err)
	}
	return Outcome{Text: resp.Text, Rounds: MaxToolRounds}, nil
}

func toolDefinitions(tools []skills.Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = llm.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return defs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
