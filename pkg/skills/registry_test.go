package skills

import (
	"context"
	"testing"
)

func stubHandler(_ context.Context, toolName string, _ map[string]any, confirmed bool) (string, error) {
	if confirmed {
		return toolName + ":confirmed", nil
	}
	return toolName + ":unconfirmed", nil
}

func buildTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Skill{
		Name:             "build",
		AllowedRoles:     []string{"backend", "devops"},
		Tools:            []Tool{{Name: "run_tests"}, {Name: "lint_project"}},
		PlanAutoApproved: map[string]struct{}{"run_tests": {}},
		Handler:          stubHandler,
	})
	r.Register(&Skill{
		Name:             "git",
		Tools:            []Tool{{Name: "git_commit"}},
		RequiresApproval: map[string]struct{}{"git_commit": {}},
		Handler:          stubHandler,
	})
	return r
}

func TestGetToolsForRoleFiltersByAllowedRoles(t *testing.T) {
	r := buildTestRegistry()

	backend := r.GetToolsForRole("backend")
	if len(backend) != 3 {
		t.Fatalf("expected 3 tools visible to backend (2 build + 1 git, git has no role restriction), got %d", len(backend))
	}

	frontend := r.GetToolsForRole("frontend")
	if len(frontend) != 1 {
		t.Fatalf("expected only the unrestricted git skill's tool visible to frontend, got %d", len(frontend))
	}
	if frontend[0].Name != "git_commit" {
		t.Errorf("expected git_commit, got %s", frontend[0].Name)
	}
}

func TestGetSkillForTool(t *testing.T) {
	r := buildTestRegistry()

	s, ok := r.GetSkillForTool("run_tests")
	if !ok || s.Name != "build" {
		t.Fatalf("expected run_tests to resolve to the build skill, got %v (%v)", s, ok)
	}

	_, ok = r.GetSkillForTool("nonexistent_tool")
	if ok {
		t.Error("expected nonexistent tool to resolve to no skill")
	}
}

func TestIsPlanAutoApproved(t *testing.T) {
	r := buildTestRegistry()

	if !r.IsPlanAutoApproved("run_tests") {
		t.Error("expected run_tests to be plan-auto-approved")
	}
	if r.IsPlanAutoApproved("lint_project") {
		t.Error("lint_project was not declared plan-auto-approved")
	}
	if r.IsPlanAutoApproved("git_commit") {
		t.Error("git_commit requires approval, should not be plan-auto-approved")
	}
}

func TestRequiresApproval(t *testing.T) {
	r := buildTestRegistry()

	if !r.RequiresApproval("git_commit") {
		t.Error("expected git_commit to require approval")
	}
	if r.RequiresApproval("run_tests") {
		t.Error("run_tests does not require individual approval")
	}
}

func TestListSkillsDefaultsRolesToAll(t *testing.T) {
	r := buildTestRegistry()

	var gitSummary *SkillSummary
	for _, s := range r.ListSkills() {
		s := s
		if s.Name == "git" {
			gitSummary = &s
		}
	}
	if gitSummary == nil {
		t.Fatal("expected git skill in summary list")
	}
	if len(gitSummary.AllowedRoles) != 1 || gitSummary.AllowedRoles[0] != "all" {
		t.Errorf("expected unrestricted skill to report AllowedRoles=[all], got %v", gitSummary.AllowedRoles)
	}
}

func TestSignatureIsDeterministic(t *testing.T) {
	a := Signature("run_tests", map[string]any{"working_dir": "/tmp/x", "runner": "go"})
	b := Signature("run_tests", map[string]any{"runner": "go", "working_dir": "/tmp/x"})
	if a != b {
		t.Errorf("expected signature to be independent of map insertion order, got %q vs %q", a, b)
	}

	c := Signature("run_tests", map[string]any{"working_dir": "/tmp/y", "runner": "go"})
	if a == c {
		t.Error("expected different input to produce a different signature")
	}
}
