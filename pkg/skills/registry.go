package skills

import "sync"

// Registry is the central lookup for every registered Skill: role-scoped
// tool discovery, tool-to-skill routing, and approval classification.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	byTool map[string]*Skill
}

// NewRegistry returns an empty registry. Call Register for each Skill
// the running process wants to expose.
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*Skill),
		byTool: make(map[string]*Skill),
	}
}

// Register adds a skill, indexing each of its tools for GetSkillForTool.
// A tool name already claimed by a previously registered skill is left
// pointing at the first registrant — skills are expected to own disjoint
// tool namespaces.
func (r *Registry) Register(s *Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.skills[s.Name] = s
	for _, name := range s.ToolNames() {
		if _, claimed := r.byTool[name]; !claimed {
			r.byTool[name] = s
		}
	}
}

// GetToolsForRole returns the combined tool list every skill visible to
// role declares, in registration order within each skill.
func (r *Registry) GetToolsForRole(role string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []Tool
	for _, s := range r.skills {
		if s.visibleTo(role) {
			tools = append(tools, s.Tools...)
		}
	}
	return tools
}

// GetSkillForTool finds the skill that owns toolName, if any.
func (r *Registry) GetSkillForTool(toolName string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTool[toolName]
	return s, ok
}

// IsPlanAutoApproved reports whether toolName is in its skill's
// PlanAutoApproved set. The tool loop dispatches such tools with
// confirmed:true and no per-call prompt, whether or not the calling task
// has plan-scope approval.
func (r *Registry) IsPlanAutoApproved(toolName string) bool {
	s, ok := r.GetSkillForTool(toolName)
	if !ok {
		return false
	}
	_, auto := s.PlanAutoApproved[toolName]
	return auto
}

// RequiresApproval reports whether toolName always needs an individual
// operator confirmation before dispatch.
func (r *Registry) RequiresApproval(toolName string) bool {
	s, ok := r.GetSkillForTool(toolName)
	if !ok {
		return false
	}
	_, req := s.RequiresApproval[toolName]
	return req
}

// SkillSummary is the read-only view of a registered skill, for
// operator-facing listings.
type SkillSummary struct {
	Name         string
	Description  string
	Tools        []string
	AllowedRoles []string
}

// ListSkills returns a summary of every registered skill.
func (r *Registry) ListSkills() []SkillSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SkillSummary, 0, len(r.skills))
	for _, s := range r.skills {
		roles := s.AllowedRoles
		if len(roles) == 0 {
			roles = []string{"all"}
		}
		out = append(out, SkillSummary{
			Name:         s.Name,
			Description:  s.Description,
			Tools:        s.ToolNames(),
			AllowedRoles: roles,
		})
	}
	return out
}
