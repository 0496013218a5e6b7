package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"openclaw/pkg/dispatch"
)

// schema is a shorthand for building a tool's input_schema map.
func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// dispatchHandler builds a Handler that forwards every call for a skill's
// tools straight to the Agent through link, formatting the returned
// proto.ActionResult the way a tool result string looks to the model:
// stdout on success, a prefixed error string on a nonzero exit or a
// dispatch failure.
func dispatchHandler(link *dispatch.AgentLink) Handler {
	return func(ctx context.Context, toolName string, input map[string]any, confirmed bool) (string, error) {
		result, err := link.Dispatch(ctx, toolName, input, confirmed)
		if err != nil {
			return "", fmt.Errorf("dispatching %s: %w", toolName, err)
		}
		if result.Err != "" {
			return fmt.Sprintf("ERROR: %s", result.Err), nil
		}
		if result.ExitCode != 0 {
			return fmt.Sprintf("exit %d\nstdout: %s\nstderr: %s", result.ExitCode, result.Stdout, result.Stderr), nil
		}
		if result.Stdout == "" {
			return "ok", nil
		}
		return result.Stdout, nil
	}
}

// BuildDefaultRegistry registers every skill backed directly by the Local
// Agent's action set, grouped the way the original skill modules group
// them (filesystem, git, build, docker, search). The approval sets do not
// follow pkg/config.ActionTiers one to one: git_commit and the docker
// tools need individual approval, while file_write, zip_project and
// install_dependencies, CONFIRM-tier on the Agent, are plan-auto-approved
// and so reach the Agent with confirmed:true. Project-lifecycle tools are
// registered separately by pkg/orchestrator, since those run against the
// Gateway's own state rather than being dispatched to the Agent.
func BuildDefaultRegistry(link *dispatch.AgentLink) *Registry {
	r := NewRegistry()
	handler := dispatchHandler(link)

	r.Register(&Skill{
		Name:        "filesystem",
		Description: "Write files and package a project's working tree",
		Tools: []Tool{
			{
				Name:        "file_write",
				Description: "Write content to a file, creating parent directories as needed.",
				InputSchema: schema(map[string]any{
					"file":    prop("string", "Path of the file to write"),
					"content": prop("string", "File content"),
				}, "file"),
			},
			{
				Name:        "zip_project",
				Description: "Archive the project's working directory into a zip file.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory to archive"),
					"dest":        prop("string", "Destination zip path (optional)"),
				}, "working_dir"),
			},
		},
		PlanAutoApproved: set("file_write", "zip_project"),
		Handler:          handler,
	})

	r.Register(&Skill{
		Name:        "git",
		Description: "Inspect and commit changes in a project's git repository",
		Tools: []Tool{
			{
				Name:        "git_status",
				Description: "Report the working tree status for a project.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
				}, "working_dir"),
			},
			{
				Name:        "git_commit",
				Description: "Stage tracked changes and commit them with a message.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"message":     prop("string", "Commit message"),
				}, "working_dir", "message"),
			},
		},
		PlanAutoApproved: set("git_status"),
		RequiresApproval: set("git_commit"),
		Handler:          handler,
	})

	r.Register(&Skill{
		Name:        "build",
		Description: "Install dependencies, lint, test, build, and run a project",
		Tools: []Tool{
			{
				Name:        "install_dependencies",
				Description: "Install a project's declared dependencies.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"manager":     prop("string", "Package manager: pip, npm, or go"),
				}, "working_dir"),
			},
			{
				Name:        "lint_project",
				Description: "Run the project's linter and report findings.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"linter":      prop("string", "Linter: ruff, eslint, or golangci-lint"),
				}, "working_dir"),
			},
			{
				Name:        "run_tests",
				Description: "Run the project's test suite.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"runner":      prop("string", "Test runner: pytest, npm, or go"),
				}, "working_dir"),
			},
			{
				Name:        "build_project",
				Description: "Build the project's production artifacts.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"build_tool":  prop("string", "Build tool: npm, python, or go"),
				}, "working_dir"),
			},
			{
				Name:        "start_dev_server",
				Description: "Start the project's development server in the background.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"framework":   prop("string", "Framework: npm or uvicorn"),
					"app_module":  prop("string", "ASGI app module, for uvicorn"),
				}, "working_dir"),
			},
		},
		PlanAutoApproved: set("install_dependencies", "lint_project", "run_tests", "build_project", "start_dev_server"),
		Handler:          handler,
	})

	r.Register(&Skill{
		Name:        "docker",
		Description: "Build and run a project's container images",
		Tools: []Tool{
			{
				Name:        "docker_build",
				Description: "Build a container image from the project's Dockerfile.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
					"tag":         prop("string", "Image tag"),
				}, "working_dir"),
			},
			{
				Name:        "docker_compose_up",
				Description: "Bring up the project's docker-compose services in the background.",
				InputSchema: schema(map[string]any{
					"working_dir": prop("string", "Project directory"),
				}, "working_dir"),
			},
		},
		RequiresApproval: set("docker_build", "docker_compose_up"),
		Handler:          handler,
	})

	r.Register(&Skill{
		Name:        "search",
		Description: "Web search for programming resources and documentation",
		Tools: []Tool{
			{
				Name:        "web_search",
				Description: "Search the web for programming resources, library documentation, API references, or implementation examples.",
				InputSchema: schema(map[string]any{
					"query":       prop("string", "Search query"),
					"num_results": prop("integer", "Number of results (default 5, max 10)"),
				}, "query"),
			},
		},
		PlanAutoApproved: set("web_search"),
		Handler:          handler,
	})

	return r
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// canonicalInput renders a tool call's input deterministically for loop
// signature comparison. encoding/json already sorts map[string]any keys,
// so a plain marshal is canonical.
func canonicalInput(input map[string]any) string {
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(b)
}

// Signature returns the name|canonical(input) string the tool loop uses
// to detect a repeated call.
func Signature(toolName string, input map[string]any) string {
	return toolName + "|" + canonicalInput(input)
}
