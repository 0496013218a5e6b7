package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"openclaw/pkg/llm"
	"openclaw/pkg/persistence"
)

// planTask is one task entry inside a synthesized plan's JSON payload.
type planTask struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Milestone       string `json:"milestone"`
	AssignedRole    string `json:"assigned_agent_role,omitempty"`
}

// planMilestone groups tasks under a named phase.
type planMilestone struct {
	Name  string     `json:"name"`
	Tasks []planTask `json:"tasks"`
}

// synthesizedPlan is the shape expected back from the planning model call.
type synthesizedPlan struct {
	Summary    string          `json:"summary"`
	Milestones []planMilestone `json:"milestones"`
}

const planningSystemPrompt = `You are the planning stage of a software project orchestrator. Given a
project's name, description, and the ideas captured during its ideation
phase, produce a structured implementation plan. Respond with JSON only,
no prose, in exactly this shape:

{"summary": "...", "milestones": [{"name": "...", "tasks": [{"title": "...", "description": "...", "milestone": "...", "assigned_agent_role": "backend"}]}]}`

// GeneratePlan builds a planning prompt from a project's ideas, calls the
// Provider Router for a structured plan, and on success persists a new
// active plan version with its tasks. On a parse failure it emits
// plan_synthesis_failed and leaves the project in planning for a retry.
func (m *Manager) GeneratePlan(ctx context.Context, projectID string) (*persistence.Plan, error) {
	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	}
	if project.Status != persistence.ProjectStatusIdeation && project.Status != persistence.ProjectStatusPlanning {
		return nil, fmt.Errorf("project %s is in status %s, not ready for planning", projectID, project.Status)
	}

	ideas, err := m.ops.GetIdeasByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading ideas for %s: %w", projectID, err)
	}

	if project.Status == persistence.ProjectStatusIdeation {
		if err := m.transitionProject(project, persistence.ProjectStatusPlanning, "generating plan"); err != nil {
			return nil, err
		}
	}

	prompt := buildPlanningPrompt(project, ideas)
	resp, err := m.router.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planningSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		TaskType: TaskTypePlanning,
	})
	if err != nil {
		return nil, fmt.Errorf("planning call for %s: %w", projectID, err)
	}

	parsed, err := parsePlanResponse(resp.Text)
	if err != nil {
		m.emit(projectID, "plan_synthesis_failed", err.Error())
		return nil, fmt.Errorf("parsing plan for %s: %w", projectID, err)
	}

	priorPlans, err := m.ops.ListPlansByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("listing prior plans for %s: %w", projectID, err)
	}
	nextVersion := 1
	if len(priorPlans) > 0 {
		nextVersion = priorPlans[0].Version + 1
	}

	plan, tasks := buildPlanRecords(project.ID, nextVersion, parsed)
	if err := m.ops.CreatePlan(plan); err != nil {
		return nil, fmt.Errorf("persisting plan for %s: %w", projectID, err)
	}
	for _, t := range tasks {
		if err := m.ops.UpsertTask(t); err != nil {
			return nil, fmt.Errorf("persisting task %s: %w", t.ID, err)
		}
	}

	m.emit(projectID, "plan_generated", fmt.Sprintf("plan %s version %d with %d tasks", plan.ID, plan.Version, len(tasks)))

	if m.autoApprove(len(ideas)) {
		if err := m.ApprovePlanAndStart(ctx, projectID); err != nil {
			m.logger.Warn("auto-approve failed for project %s: %v", projectID, err)
		}
	}

	return plan, nil
}

func buildPlanningPrompt(project *persistence.Project, ideas []*persistence.Idea) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", project.DisplayName)
	if project.WorkspacePath != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", project.WorkspacePath)
	}
	b.WriteString("Ideas captured during ideation:\n")
	for _, idea := range ideas {
		fmt.Fprintf(&b, "- %s\n", idea.Text)
	}
	return b.String()
}

// parsePlanResponse extracts a synthesizedPlan from the model's raw text
// using a three-tier fallback: the whole text as JSON, a fenced code
// block, then the first top-level {...} substring.
func parsePlanResponse(text string) (*synthesizedPlan, error) {
	if plan, err := decodePlan(text); err == nil {
		return plan, nil
	}

	if block := extractFencedBlock(text); block != "" {
		if plan, err := decodePlan(block); err == nil {
			return plan, nil
		}
	}

	if obj := extractFirstJSONObject(text); obj != "" {
		if plan, err := decodePlan(obj); err == nil {
			return plan, nil
		}
	}

	return nil, fmt.Errorf("no valid plan JSON found in model response")
}

func decodePlan(text string) (*synthesizedPlan, error) {
	var plan synthesizedPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &plan); err != nil {
		return nil, err
	}
	if len(plan.Milestones) == 0 {
		return nil, fmt.Errorf("plan has no milestones")
	}
	return &plan, nil
}

// extractFencedBlock returns the content of the first ``` fenced code
// block in text, or "" if none is present.
func extractFencedBlock(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	return rest[:end]
}

// extractFirstJSONObject scans for the first balanced {...} substring,
// tracking brace depth so nested objects inside the plan don't truncate
// the match early.
func extractFirstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func buildPlanRecords(projectID string, version int, parsed *synthesizedPlan) (*persistence.Plan, []*persistence.Task) {
	milestones := make([]persistence.Milestone, 0, len(parsed.Milestones))
	for _, m := range parsed.Milestones {
		milestones = append(milestones, persistence.Milestone{Name: m.Name})
	}
	milestonesJSON, _ := json.Marshal(milestones)

	plan := &persistence.Plan{
		ID:             persistence.NewPlanID(),
		ProjectID:      projectID,
		Version:        version,
		Summary:        parsed.Summary,
		MilestonesJSON: string(milestonesJSON),
		IsActive:       true,
	}

	var tasks []*persistence.Task
	orderIdx := 0
	for _, ms := range parsed.Milestones {
		for _, t := range ms.Tasks {
			milestone := t.Milestone
			if milestone == "" {
				milestone = ms.Name
			}
			tasks = append(tasks, &persistence.Task{
				ID:           persistence.NewTaskID(),
				PlanID:       plan.ID,
				Milestone:    milestone,
				Title:        t.Title,
				Description:  t.Description,
				Status:       persistence.TaskStatusPending,
				AssignedRole: t.AssignedRole,
				OrderIdx:     orderIdx,
			})
			orderIdx++
		}
	}
	return plan, tasks
}
