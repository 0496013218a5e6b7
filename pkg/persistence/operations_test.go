package persistence

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func createTestOps(t *testing.T) *DatabaseOperations {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := openForTest(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewDatabaseOperations(db)
}

func TestProjectLifecycle(t *testing.T) {
	ops := createTestOps(t)

	p := &Project{
		ID:            NewProjectID(),
		ShortName:     "widget",
		DisplayName:   "Widget Service",
		Status:        ProjectStatusIdeation,
		WorkspacePath: "/workspaces/widget",
		CreatedAt:     time.Now().UTC(),
	}
	if err := ops.UpsertProject(p); err != nil {
		t.Fatalf("upsert project: %v", err)
	}

	got, err := ops.GetProjectByShortName("widget")
	if err != nil {
		t.Fatalf("get project by short name: %v", err)
	}
	if got.ID != p.ID || got.Status != ProjectStatusIdeation {
		t.Fatalf("unexpected project: %+v", got)
	}

	p.Status = ProjectStatusPlanning
	if err := ops.UpsertProject(p); err != nil {
		t.Fatalf("re-upsert project: %v", err)
	}
	got, err = ops.GetProjectByID(p.ID)
	if err != nil {
		t.Fatalf("get project by id: %v", err)
	}
	if got.Status != ProjectStatusPlanning {
		t.Fatalf("expected status planning, got %s", got.Status)
	}
}

func TestIdeasOrdering(t *testing.T) {
	ops := createTestOps(t)
	project := seedProject(t, ops)

	for i, text := range []string{"first idea", "second idea", "third idea"} {
		idea := &Idea{ID: NewIdeaID(), ProjectID: project.ID, Text: text, OrderIdx: i, CreatedAt: time.Now().UTC()}
		if err := ops.InsertIdea(idea); err != nil {
			t.Fatalf("insert idea %d: %v", i, err)
		}
	}

	ideas, err := ops.GetIdeasByProject(project.ID)
	if err != nil {
		t.Fatalf("get ideas: %v", err)
	}
	if len(ideas) != 3 || ideas[0].Text != "first idea" || ideas[2].Text != "third idea" {
		t.Fatalf("unexpected idea order: %+v", ideas)
	}
}

func TestPlanActivationIsExclusive(t *testing.T) {
	ops := createTestOps(t)
	project := seedProject(t, ops)

	plan1 := &Plan{ID: NewPlanID(), ProjectID: project.ID, Version: 1, Summary: "v1", MilestonesJSON: "[]", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := ops.CreatePlan(plan1); err != nil {
		t.Fatalf("create plan1: %v", err)
	}

	plan2 := &Plan{ID: NewPlanID(), ProjectID: project.ID, Version: 2, Summary: "v2", MilestonesJSON: "[]", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := ops.CreatePlan(plan2); err != nil {
		t.Fatalf("create plan2: %v", err)
	}

	active, err := ops.GetActivePlan(project.ID)
	if err != nil {
		t.Fatalf("get active plan: %v", err)
	}
	if active.ID != plan2.ID {
		t.Fatalf("expected plan2 active, got %s", active.ID)
	}

	all, err := ops.ListPlansByProject(project.ID)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 plan versions, got %d", len(all))
	}
}

func TestTaskQueueOrdering(t *testing.T) {
	ops := createTestOps(t)
	project := seedProject(t, ops)
	plan := seedActivePlan(t, ops, project.ID)

	for i := 0; i < 3; i++ {
		task := &Task{ID: NewTaskID(), PlanID: plan.ID, Milestone: "m1", Status: TaskStatusPending, AssignedRole: "coder", OrderIdx: i}
		if err := ops.UpsertTask(task); err != nil {
			t.Fatalf("upsert task %d: %v", i, err)
		}
	}

	next, err := ops.NextPendingTask(plan.ID)
	if err != nil {
		t.Fatalf("next pending task: %v", err)
	}
	if next == nil || next.OrderIdx != 0 {
		t.Fatalf("expected task with order_idx 0, got %+v", next)
	}

	next.Status = TaskStatusCompleted
	now := time.Now().UTC()
	next.CompletedAt = &now
	if err := ops.UpsertTask(next); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	second, err := ops.NextPendingTask(plan.ID)
	if err != nil {
		t.Fatalf("next pending task after completion: %v", err)
	}
	if second == nil || second.OrderIdx != 1 {
		t.Fatalf("expected task with order_idx 1 next, got %+v", second)
	}
}

func TestAgentRunStallDetection(t *testing.T) {
	ops := createTestOps(t)
	project := seedProject(t, ops)
	plan := seedActivePlan(t, ops, project.ID)
	task := &Task{ID: NewTaskID(), PlanID: plan.ID, AssignedRole: "coder", Status: TaskStatusInProgress}
	if err := ops.UpsertTask(task); err != nil {
		t.Fatalf("upsert task: %v", err)
	}

	stale := time.Now().UTC().Add(-1 * time.Hour)
	run := &AgentRun{
		ID: NewRunID(), ProjectID: project.ID, TaskID: task.ID, AgentRole: "coder",
		Status: RunStatusRunning, StartedAt: stale, HeartbeatAt: stale,
	}
	if err := ops.InsertAgentRun(run); err != nil {
		t.Fatalf("insert agent run: %v", err)
	}

	cutoff := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	staleRuns, err := ops.ListStaleRuns(cutoff)
	if err != nil {
		t.Fatalf("list stale runs: %v", err)
	}
	if len(staleRuns) != 1 || staleRuns[0].ID != run.ID {
		t.Fatalf("expected run %s flagged stale, got %+v", run.ID, staleRuns)
	}

	if err := ops.UpdateAgentRunHeartbeat(run.ID, time.Now().UTC()); err != nil {
		t.Fatalf("update heartbeat: %v", err)
	}
	staleRuns, err = ops.ListStaleRuns(cutoff)
	if err != nil {
		t.Fatalf("list stale runs after heartbeat: %v", err)
	}
	if len(staleRuns) != 0 {
		t.Fatalf("expected no stale runs after heartbeat update, got %+v", staleRuns)
	}
}

func TestProviderUsageAccumulates(t *testing.T) {
	ops := createTestOps(t)
	now := time.Now().UTC()

	if err := ops.IncrementProviderUsage("anthropic", "2026-07-31", 1, 500, 0, now); err != nil {
		t.Fatalf("increment usage: %v", err)
	}
	if err := ops.IncrementProviderUsage("anthropic", "2026-07-31", 1, 250, 1, now); err != nil {
		t.Fatalf("increment usage again: %v", err)
	}

	usage, err := ops.GetProviderUsage("anthropic", "2026-07-31")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.RequestsUsed != 2 || usage.TokensUsed != 750 || usage.Errors != 1 {
		t.Fatalf("unexpected accumulated usage: %+v", usage)
	}
}

func TestIdempotencyRecordRoundTrip(t *testing.T) {
	ops := createTestOps(t)

	rec := &IdempotencyRecord{TaskID: "task-1", Key: "retry-1", ResponseJSON: `{"exit_code":0}`, CreatedAt: time.Now().UTC()}
	if err := ops.PutIdempotencyRecord(rec); err != nil {
		t.Fatalf("put idempotency record: %v", err)
	}

	got, err := ops.GetIdempotencyRecord("task-1", "retry-1")
	if err != nil {
		t.Fatalf("get idempotency record: %v", err)
	}
	if got == nil || got.ResponseJSON != rec.ResponseJSON {
		t.Fatalf("unexpected idempotency record: %+v", got)
	}

	miss, err := ops.GetIdempotencyRecord("task-1", "no-such-key")
	if err != nil {
		t.Fatalf("get missing idempotency record: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil for missing key, got %+v", miss)
	}
}

func seedProject(t *testing.T, ops *DatabaseOperations) *Project {
	t.Helper()
	p := &Project{
		ID: NewProjectID(), ShortName: "proj-" + NewProjectID()[:8], DisplayName: "Test Project",
		Status: ProjectStatusIdeation, WorkspacePath: "/workspaces/test", CreatedAt: time.Now().UTC(),
	}
	if err := ops.UpsertProject(p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func seedActivePlan(t *testing.T, ops *DatabaseOperations, projectID string) *Plan {
	t.Helper()
	plan := &Plan{ID: NewPlanID(), ProjectID: projectID, Version: 1, Summary: "seed plan", MilestonesJSON: "[]", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := ops.CreatePlan(plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

// openForTest opens an isolated database at path without touching the
// package-level singleton, so tests can run in parallel against distinct
// files instead of contending over persistence.Initialize.
func openForTest(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}
