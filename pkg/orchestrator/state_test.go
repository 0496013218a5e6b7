package orchestrator

import (
	"testing"

	"openclaw/pkg/persistence"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{persistence.ProjectStatusIdeation, persistence.ProjectStatusPlanning, true},
		{persistence.ProjectStatusIdeation, persistence.ProjectStatusCoding, false},
		{persistence.ProjectStatusCoding, persistence.ProjectStatusPaused, true},
		{persistence.ProjectStatusCoding, persistence.ProjectStatusCompleted, false},
		{persistence.ProjectStatusPaused, persistence.ProjectStatusCoding, true},
		{persistence.ProjectStatusCompleted, persistence.ProjectStatusCoding, false},
		{persistence.ProjectStatusCoding, persistence.ProjectStatusCoding, true},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.want {
			t.Errorf("canTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTransitionProjectRejectsIllegalMove(t *testing.T) {
	m := newTestManager(t, nil)
	p := &persistence.Project{ID: persistence.NewProjectID(), ShortName: "x", Status: persistence.ProjectStatusIdeation}
	if err := m.ops.UpsertProject(p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := m.transitionProject(p, persistence.ProjectStatusCompleted, "nope"); err == nil {
		t.Fatal("expected illegal transition to fail")
	}
}

func TestTransitionProjectUpdatesStatus(t *testing.T) {
	m := newTestManager(t, nil)
	p := &persistence.Project{ID: persistence.NewProjectID(), ShortName: "y", Status: persistence.ProjectStatusApproved}
	if err := m.ops.UpsertProject(p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := m.transitionProject(p, persistence.ProjectStatusCoding, "starting"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if p.Status != persistence.ProjectStatusCoding {
		t.Errorf("expected status coding, got %s", p.Status)
	}
}
