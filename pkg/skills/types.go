// Package skills is the Skill Registry: named groups of tools, each
// scoped to a set of agent roles and carrying its own approval policy.
// A Skill is the unit the registry reasons about; a Tool is the unit the
// Provider Router actually sees in a chat request's tool schema list.
package skills

import "context"

// Tool is one callable action advertised to the model, in the
// provider-agnostic JSON-schema shape the router forwards verbatim.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Handler executes one tool call belonging to a Skill and returns the
// text fed back to the model as the tool result. confirmed reports
// whether the caller resolved the call as pre-approved (plan scope or
// auto-approved tier) before dispatch.
type Handler func(ctx context.Context, toolName string, input map[string]any, confirmed bool) (string, error)

// Skill groups a family of tools that share a handler, a visibility
// scope, and an approval policy.
type Skill struct {
	Name        string
	Description string

	// AllowedRoles restricts which agent roles see this skill's tools.
	// Empty means every role.
	AllowedRoles []string

	// PlanAutoApproved names tools the tool loop dispatches with
	// confirmed:true without asking the operator for each individual call,
	// whether or not the calling task has plan-scope approval.
	PlanAutoApproved map[string]struct{}

	// RequiresApproval names tools that always need an individual
	// operator confirmation, regardless of plan-scope approval.
	RequiresApproval map[string]struct{}

	Tools   []Tool
	Handler Handler
}

// HasTool reports whether name belongs to this skill.
func (s *Skill) HasTool(name string) bool {
	for _, t := range s.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// ToolNames returns the names of every tool this skill declares.
func (s *Skill) ToolNames() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}

// visibleTo reports whether role may see this skill's tools.
func (s *Skill) visibleTo(role string) bool {
	if len(s.AllowedRoles) == 0 {
		return true
	}
	for _, r := range s.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}
