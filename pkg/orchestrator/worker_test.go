package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"openclaw/pkg/llm"
	"openclaw/pkg/persistence"
	"openclaw/pkg/skills"
)

func TestRunWorkerCompletesAllTasksThenFinalValidation(t *testing.T) {
	provider := &scriptedProvider{
		name: "fake",
		responses: []llm.ChatResponse{
			{Text: "task one done"},
			{Text: "task two done"},
			{Text: "tests pass, lint clean"},
		},
	}

	ops, err := persistence.OpenIsolated(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	router := llm.NewRouter([]llm.Provider{provider}, ops)
	reg := skills.NewRegistry()

	var events []string
	m := New(ops, router, reg, 1, func(_, eventType, _ string) {
		events = append(events, eventType)
	}, nil)

	project := &persistence.Project{
		ID:            persistence.NewProjectID(),
		ShortName:     "widget",
		DisplayName:   "Widget",
		Status:        persistence.ProjectStatusCoding,
		WorkspacePath: "/workspaces/widget",
	}
	if err := ops.UpsertProject(project); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	plan := &persistence.Plan{ID: persistence.NewPlanID(), ProjectID: project.ID, Version: 1, Summary: "s", MilestonesJSON: "[]", IsActive: true}
	if err := ops.CreatePlan(plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	task1 := &persistence.Task{ID: persistence.NewTaskID(), PlanID: plan.ID, Milestone: "Core", Title: "scaffold", Status: persistence.TaskStatusPending, AssignedRole: "backend", OrderIdx: 0}
	task2 := &persistence.Task{ID: persistence.NewTaskID(), PlanID: plan.ID, Milestone: "Core", Title: "wire routes", Status: persistence.TaskStatusPending, AssignedRole: "backend", OrderIdx: 1}
	for _, task := range []*persistence.Task{task1, task2} {
		if err := ops.UpsertTask(task); err != nil {
			t.Fatalf("seed task %s: %v", task.Title, err)
		}
	}

	m.runWorker(project.ID)

	final, err := ops.GetProjectByID(project.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if final.Status != persistence.ProjectStatusCompleted {
		t.Fatalf("expected project completed, got %s", final.Status)
	}

	gotTask1, err := ops.GetTaskByID(task1.ID)
	if err != nil {
		t.Fatalf("reload task1: %v", err)
	}
	if gotTask1.Status != persistence.TaskStatusCompleted {
		t.Errorf("expected task1 completed, got %s", gotTask1.Status)
	}
	if gotTask1.ResultSummary != "task one done" {
		t.Errorf("unexpected task1 summary %q", gotTask1.ResultSummary)
	}

	gotTask2, err := ops.GetTaskByID(task2.ID)
	if err != nil {
		t.Fatalf("reload task2: %v", err)
	}
	if gotTask2.Status != persistence.TaskStatusCompleted {
		t.Errorf("expected task2 completed, got %s", gotTask2.Status)
	}

	hasEvent := func(want string) bool {
		for _, e := range events {
			if e == want {
				return true
			}
		}
		return false
	}
	for _, want := range []string{"worker_started", "milestone_started", "task_completed", "project_transition", "final_validation_completed"} {
		if !hasEvent(want) {
			t.Errorf("expected a %q event among %v", want, events)
		}
	}
}

func TestRunWorkerEmitsCancelledWhenCancelledBeforeStart(t *testing.T) {
	ops, err := persistence.OpenIsolated(filepath.Join(t.TempDir(), "worker_cancel_test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	router := llm.NewRouter(nil, ops)
	reg := skills.NewRegistry()

	var events []string
	m := New(ops, router, reg, 1, func(_, eventType, _ string) {
		events = append(events, eventType)
	}, nil)

	project := &persistence.Project{
		ID:            persistence.NewProjectID(),
		ShortName:     "cancelme",
		Status:        persistence.ProjectStatusCoding,
		WorkspacePath: "/workspaces/cancelme",
	}
	if err := ops.UpsertProject(project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	plan := &persistence.Plan{ID: persistence.NewPlanID(), ProjectID: project.ID, Version: 1, Summary: "s", MilestonesJSON: "[]", IsActive: true}
	if err := ops.CreatePlan(plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	task := &persistence.Task{ID: persistence.NewTaskID(), PlanID: plan.ID, Milestone: "Core", Title: "scaffold", Status: persistence.TaskStatusPending, AssignedRole: "backend", OrderIdx: 0}
	if err := ops.UpsertTask(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	m.controlFor(project.ID).Cancel()
	m.runWorker(project.ID)

	found := false
	for _, e := range events {
		if e == "cancelled" {
			found = true
		}
		if e == "task_started" || e == "task_completed" {
			t.Errorf("expected no task execution once cancelled, got event %q", e)
		}
	}
	if !found {
		t.Errorf("expected a cancelled event among %v", events)
	}

	gotTask, err := ops.GetTaskByID(task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if gotTask.Status != persistence.TaskStatusPending {
		t.Errorf("expected task to remain pending, got %s", gotTask.Status)
	}
}

func TestRunWorkerEmitsPausedAndResumedAroundGate(t *testing.T) {
	provider := &scriptedProvider{
		name: "fake",
		responses: []llm.ChatResponse{
			{Text: "task one done"},
			{Text: "tests pass, lint clean"},
		},
	}
	ops, err := persistence.OpenIsolated(filepath.Join(t.TempDir(), "worker_pause_test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	router := llm.NewRouter([]llm.Provider{provider}, ops)
	reg := skills.NewRegistry()

	var events []string
	m := New(ops, router, reg, 1, func(_, eventType, _ string) {
		events = append(events, eventType)
	}, nil)

	project := &persistence.Project{
		ID:            persistence.NewProjectID(),
		ShortName:     "pauseme",
		Status:        persistence.ProjectStatusCoding,
		WorkspacePath: "/workspaces/pauseme",
	}
	if err := ops.UpsertProject(project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	plan := &persistence.Plan{ID: persistence.NewPlanID(), ProjectID: project.ID, Version: 1, Summary: "s", MilestonesJSON: "[]", IsActive: true}
	if err := ops.CreatePlan(plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	task := &persistence.Task{ID: persistence.NewTaskID(), PlanID: plan.ID, Milestone: "Core", Title: "scaffold", Status: persistence.TaskStatusPending, AssignedRole: "backend", OrderIdx: 0}
	if err := ops.UpsertTask(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	control := m.controlFor(project.ID)
	control.Pause()

	done := make(chan struct{})
	go func() {
		m.runWorker(project.ID)
		close(done)
	}()

	// runWorker has nothing to do before reaching the pause gate for its
	// only task, so give it a moment to block there before resuming.
	time.Sleep(20 * time.Millisecond)
	control.Resume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected runWorker to finish after resume")
	}

	var sawPaused, sawResumed bool
	for _, e := range events {
		if e == "paused" {
			sawPaused = true
		}
		if e == "resumed" {
			sawResumed = true
		}
	}
	if !sawPaused {
		t.Errorf("expected a paused event among %v", events)
	}
	if !sawResumed {
		t.Errorf("expected a resumed event among %v", events)
	}
}

func TestRunWorkerFailsProjectWithoutActivePlan(t *testing.T) {
	failingHandler := func(context.Context, string, map[string]any, bool) (string, error) {
		t.Fatal("handler should not be invoked; failure comes from the provider")
		return "", nil
	}
	reg := skills.NewRegistry()
	reg.Register(&skills.Skill{Name: "noop", Tools: nil, Handler: failingHandler})

	failer := &scriptedProvider{name: "fake", responses: []llm.ChatResponse{{Text: "ok"}}}
	ops, err := persistence.OpenIsolated(filepath.Join(t.TempDir(), "worker_fail_test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	router := llm.NewRouter([]llm.Provider{failer}, ops)
	m := New(ops, router, reg, 1, func(string, string, string) {}, nil)

	project := &persistence.Project{ID: persistence.NewProjectID(), ShortName: "broken", Status: persistence.ProjectStatusCoding, WorkspacePath: "/ws"}
	if err := ops.UpsertProject(project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	// No active plan: runWorker must fail the project rather than panic.
	m.runWorker(project.ID)

	final, err := ops.GetProjectByID(project.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if final.Status != persistence.ProjectStatusFailed {
		t.Errorf("expected project failed without an active plan, got %s", final.Status)
	}
}
