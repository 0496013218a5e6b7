package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"openclaw/pkg/skills"
)

// RegisterSkill adds the project_management skill to reg, wiring each of
// its tools to this Manager's own state rather than dispatching to the
// Agent — these tools read and mutate Gateway-side project records.
func (m *Manager) RegisterSkill(reg *skills.Registry) {
	reg.Register(&skills.Skill{
		Name:        "project_management",
		Description: "Create and steer autonomous software projects: capture ideas, generate and approve plans, pause/resume/cancel execution.",
		Tools: []skills.Tool{
			{
				Name:        "project_create",
				Description: "Create a new project in the ideation phase.",
				InputSchema: schemaFor(map[string]any{
					"name":           prop("string", "Short, url-safe project name"),
					"display_name":   prop("string", "Human-readable project name"),
					"workspace_path": prop("string", "Working directory for the project"),
				}, "name"),
			},
			{
				Name:        "project_add_idea",
				Description: "Append one idea to a project's ideation backlog.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
					"idea":       prop("string", "Idea text"),
				}, "project_id", "idea"),
			},
			{
				Name:        "project_list",
				Description: "List known projects, optionally filtered by status.",
				InputSchema: schemaFor(map[string]any{
					"status": prop("string", "Filter by status, empty for all"),
				}),
			},
			{
				Name:        "project_status",
				Description: "Get a project's current record, including its status.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
			{
				Name:        "project_generate_plan",
				Description: "Synthesize a structured plan from a project's captured ideas.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
			{
				Name:        "project_approve_start",
				Description: "Approve the active plan and begin execution.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
			{
				Name:        "project_pause",
				Description: "Pause a running project at its next task boundary.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
			{
				Name:        "project_resume",
				Description: "Resume a paused project.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
			{
				Name:        "project_cancel",
				Description: "Cancel a project permanently.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
			{
				Name:        "project_remove",
				Description: "Stop a project's running work and record it as removed. The project's record stays in the store.",
				InputSchema: schemaFor(map[string]any{
					"project_id": prop("string", "Project ID"),
				}, "project_id"),
			},
		},
		PlanAutoApproved: set("project_add_idea", "project_list", "project_status"),
		RequiresApproval: set("project_remove"),
		Handler:          m.handleProjectTool,
	})
}

// schemaFor mirrors pkg/skills' schema helper so this file doesn't need to
// export it across package boundaries.
func schemaFor(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// handleProjectTool dispatches one project_management tool call to the
// matching Manager method and renders its result as tool-result text.
func (m *Manager) handleProjectTool(ctx context.Context, toolName string, input map[string]any, confirmed bool) (string, error) {
	switch toolName {
	case "project_create":
		name, _ := input["name"].(string)
		display, _ := input["display_name"].(string)
		if display == "" {
			display = name
		}
		workspace, _ := input["workspace_path"].(string)
		p, err := m.CreateProject(name, display, workspace)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("created project %s (id %s)", p.ShortName, p.ID), nil

	case "project_add_idea":
		projectID, _ := input["project_id"].(string)
		idea, _ := input["idea"].(string)
		ideas, err := m.ops.GetIdeasByProject(projectID)
		if err != nil {
			return "", err
		}
		if _, err := m.AddIdea(projectID, idea, len(ideas)); err != nil {
			return "", err
		}
		return "idea recorded", nil

	case "project_list":
		status, _ := input["status"].(string)
		projects, err := m.ListProjects(status)
		if err != nil {
			return "", err
		}
		return renderJSON(projects), nil

	case "project_status":
		projectID, _ := input["project_id"].(string)
		p, err := m.GetProjectStatus(projectID)
		if err != nil {
			return "", err
		}
		return renderJSON(p), nil

	case "project_generate_plan":
		projectID, _ := input["project_id"].(string)
		plan, err := m.GeneratePlan(ctx, projectID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("plan %s (version %d) generated: %s", plan.ID, plan.Version, plan.Summary), nil

	case "project_approve_start":
		projectID, _ := input["project_id"].(string)
		if err := m.ApprovePlanAndStart(ctx, projectID); err != nil {
			return "", err
		}
		return "project approved and started", nil

	case "project_pause":
		projectID, _ := input["project_id"].(string)
		if err := m.PauseProject(projectID); err != nil {
			return "", err
		}
		return "project paused", nil

	case "project_resume":
		projectID, _ := input["project_id"].(string)
		if err := m.ResumeProject(projectID); err != nil {
			return "", err
		}
		return "project resumed", nil

	case "project_cancel":
		projectID, _ := input["project_id"].(string)
		if err := m.CancelProject(projectID); err != nil {
			return "", err
		}
		return "project cancelled", nil

	case "project_remove":
		if !confirmed {
			return "denied by user", nil
		}
		projectID, _ := input["project_id"].(string)
		if err := m.RemoveProject(projectID); err != nil {
			return "", err
		}
		return "project removed", nil

	default:
		return "", fmt.Errorf("unknown project_management tool: %s", toolName)
	}
}

func renderJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

