package orchestrator

import (
	"context"
	"fmt"
	"time"

	"openclaw/pkg/llm"
	"openclaw/pkg/persistence"
	"openclaw/pkg/toolloop"
)

// runWorker drives one project's tasks to completion. It is the RunFunc
// the Pool invokes for a submitted project ID; task execution within the
// call is strictly sequential, and every step checks the project's
// control state before doing work that would be wasted on a paused or
// cancelled project.
func (m *Manager) runWorker(projectID string) {
	ctx := context.Background()
	control := m.controlFor(projectID)

	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		m.logger.Error("worker: loading project %s: %v", projectID, err)
		return
	}
	if project.Status != persistence.ProjectStatusCoding {
		m.logger.Warn("worker: project %s submitted in status %s, skipping", projectID, project.Status)
		return
	}

	plan, err := m.ops.GetActivePlan(projectID)
	if err != nil {
		m.failProject(project, fmt.Sprintf("no active plan: %v", err))
		return
	}

	tasks, err := m.ops.ListTasksByPlan(plan.ID)
	if err != nil {
		m.failProject(project, fmt.Sprintf("loading tasks: %v", err))
		return
	}

	m.emit(projectID, "worker_started", plan.ID)

	milestoneOrder, milestoneTotals := milestoneSequence(tasks)
	milestoneIndex := func(name string) int {
		for i, ms := range milestoneOrder {
			if ms == name {
				return i + 1
			}
		}
		return 0
	}

	currentMilestone := ""
	completedOverall := 0
	completedInMilestone := make(map[string]int)
	totalTasks := len(tasks)

	emitMilestoneReview := func(milestone string) {
		m.emit(projectID, "milestone_review", fmt.Sprintf(
			"%s: %d/%d tasks complete; overall %d/%d",
			milestone, completedInMilestone[milestone], milestoneTotals[milestone],
			completedOverall, totalTasks,
		))
	}

	for _, task := range tasks {
		if task.Status == persistence.TaskStatusCompleted || task.Status == persistence.TaskStatusSkipped {
			continue
		}

		select {
		case <-control.Cancelled():
			m.emit(projectID, "cancelled", task.ID)
			return
		default:
		}

		wasPaused := control.Paused()
		if wasPaused {
			m.emit(projectID, "paused", task.ID)
		}
		if err := control.Wait(ctx); err != nil {
			if err == errCancelled {
				m.emit(projectID, "cancelled", task.ID)
			}
			return
		}
		if wasPaused {
			m.emit(projectID, "resumed", task.ID)
		}

		if task.Milestone != currentMilestone {
			if currentMilestone != "" {
				emitMilestoneReview(currentMilestone)
			}
			currentMilestone = task.Milestone
			m.emit(projectID, "milestone_started", fmt.Sprintf("%s (%d/%d)", currentMilestone, milestoneIndex(currentMilestone), len(milestoneOrder)))
		}

		if err := m.runTask(ctx, project, task); err != nil {
			m.logger.Warn("task %s failed: %v", task.ID, err)
			m.failProject(project, fmt.Sprintf("task %s failed: %v", task.ID, err))
			return
		}
		completedOverall++
		completedInMilestone[task.Milestone]++

		// Reload project in case a concurrent PauseProject/CancelProject
		// call changed its status while this task ran.
		project, err = m.ops.GetProjectByID(projectID)
		if err != nil {
			m.logger.Error("worker: reloading project %s: %v", projectID, err)
			return
		}
		if project.Status == persistence.ProjectStatusCancelled {
			m.emit(projectID, "cancelled", task.ID)
			return
		}
		if project.Status != persistence.ProjectStatusCoding {
			continue // e.g. paused; the top of the next iteration emits paused/resumed and waits
		}
	}

	if err := m.transitionProject(project, persistence.ProjectStatusTesting, "all tasks complete, running final validation"); err != nil {
		m.logger.Error("worker: transition to testing for %s: %v", projectID, err)
		return
	}

	if err := m.runFinalValidation(ctx, project); err != nil {
		m.failProject(project, fmt.Sprintf("final validation failed: %v", err))
		return
	}

	if err := m.transitionProject(project, persistence.ProjectStatusCompleted, "final validation passed"); err != nil {
		m.logger.Error("worker: transition to completed for %s: %v", projectID, err)
	}

	if currentMilestone != "" {
		emitMilestoneReview(currentMilestone)
	}
}

// milestoneSequence returns each task's milestone name in first-seen order,
// deduplicated, and how many tasks fall under each — the denominators
// runWorker needs for its milestone_started/milestone_review progress
// details.
func milestoneSequence(tasks []*persistence.Task) (order []string, totals map[string]int) {
	totals = make(map[string]int)
	seen := make(map[string]bool)
	for _, task := range tasks {
		if !seen[task.Milestone] {
			seen[task.Milestone] = true
			order = append(order, task.Milestone)
		}
		totals[task.Milestone]++
	}
	return order, totals
}

func (m *Manager) failProject(project *persistence.Project, detail string) {
	if err := m.transitionProject(project, persistence.ProjectStatusFailed, detail); err != nil {
		m.logger.Error("worker: recording failure for %s: %v", project.ID, err)
	}
}

// runTask executes one task's tool loop end to end: marks it in_progress,
// records a running agent_run for the Watcher to sweep, invokes the tool
// loop, and persists the outcome either way.
func (m *Manager) runTask(ctx context.Context, project *persistence.Project, task *persistence.Task) error {
	now := time.Now().UTC()
	task.Status = persistence.TaskStatusInProgress
	task.StartedAt = &now
	if err := m.ops.UpsertTask(task); err != nil {
		return fmt.Errorf("marking task in_progress: %w", err)
	}

	run := &persistence.AgentRun{
		ID:          persistence.NewRunID(),
		ProjectID:   project.ID,
		TaskID:      task.ID,
		AgentRole:   task.AssignedRole,
		Status:      persistence.RunStatusRunning,
		Title:       task.Title,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	if err := m.ops.InsertAgentRun(run); err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	m.bumpAgentRecord(project.ID, task.AssignedRole, recordStarted)
	m.emit(project.ID, "task_started", task.Title)

	// The Manager's Watcher sweeps every running agent_run on its own
	// schedule; this run became visible to it the moment InsertAgentRun
	// committed, so no per-task watch goroutine is needed here.

	taskType := ClassifyTask(task.Milestone, task.Title, task.Description)
	outcome, runErr := toolloop.Run(ctx, toolloop.Config{
		Router:          m.router,
		Skills:          m.skills,
		Role:            task.AssignedRole,
		Approve:         m.toolloopApprove(project.ID),
		HasPlanApproval: true,
		TaskType:        taskType,
		OnLoopDetected: func(sig string, count int) {
			m.logger.Warn("task %s: repeated tool call detected (%dx): %s", task.ID, count, sig)
		},
	}, taskHistory(project, task))

	finished := time.Now().UTC()
	task.CompletedAt = &finished
	run.FinishedAt = &finished

	if runErr != nil {
		task.Status = persistence.TaskStatusFailed
		task.ResultSummary = runErr.Error()
		run.Status = persistence.RunStatusFailed
		run.Error = runErr.Error()
		_ = m.ops.UpsertTask(task)
		_ = m.ops.FinishAgentRun(run)
		m.bumpAgentRecord(project.ID, task.AssignedRole, recordFailed)
		m.emit(project.ID, "task_failed", fmt.Sprintf("%s: %v", task.ID, runErr))
		return runErr
	}

	task.Status = persistence.TaskStatusCompleted
	task.ResultSummary = outcome.Text
	run.Status = persistence.RunStatusSucceeded
	run.Summary = outcome.Text
	if err := m.ops.UpsertTask(task); err != nil {
		return fmt.Errorf("marking task completed: %w", err)
	}
	if err := m.ops.FinishAgentRun(run); err != nil {
		m.logger.Warn("recording run finish for %s: %v", run.ID, err)
	}
	m.bumpAgentRecord(project.ID, task.AssignedRole, recordSucceeded)
	m.emit(project.ID, "task_completed", task.Title)
	return nil
}

// recordOutcome is which counter bumpAgentRecord increments.
type recordOutcome int

const (
	recordStarted recordOutcome = iota
	recordSucceeded
	recordFailed
)

// bumpAgentRecord updates a project+role agent's lifetime run counters,
// creating the record on first use.
func (m *Manager) bumpAgentRecord(projectID, role string, outcome recordOutcome) {
	rec, err := m.ops.GetAgentRecord(projectID, role)
	if err != nil {
		rec = &persistence.AgentRecord{ProjectID: projectID, Role: role}
	}
	rec.LastActiveAt = time.Now().UTC()
	switch outcome {
	case recordStarted:
		rec.RunsStarted++
		rec.Status = persistence.AgentStatusRunning
	case recordSucceeded:
		rec.RunsSucceeded++
		rec.Status = persistence.AgentStatusIdle
	case recordFailed:
		rec.RunsFailed++
		rec.Status = persistence.AgentStatusIdle
	}
	if err := m.ops.UpsertAgentRecord(rec); err != nil {
		m.logger.Warn("updating agent record %s/%s: %v", projectID, role, err)
	}
}

// taskHistory builds the initial message list for a task's tool loop: a
// system message describing the project and the task at hand.
func taskHistory(project *persistence.Project, task *persistence.Task) []llm.Message {
	system := fmt.Sprintf(
		"You are executing one task of the project %q (workspace: %s). Milestone: %s.",
		project.DisplayName, project.WorkspacePath, task.Milestone,
	)
	user := task.Title
	if task.Description != "" {
		user = fmt.Sprintf("%s\n\n%s", task.Title, task.Description)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

const finalValidationPrompt = `Run the project's test suite and linter, and build the project if it has
a build step. Report any failures found. This is the final validation
pass before the project is marked complete.`

// runFinalValidation runs one more tool-loop pass after every task has
// completed, giving the model a chance to run tests/lint/build and
// surface anything the per-task work missed.
func (m *Manager) runFinalValidation(ctx context.Context, project *persistence.Project) error {
	outcome, err := toolloop.Run(ctx, toolloop.Config{
		Router:          m.router,
		Skills:          m.skills,
		Role:            "devops",
		Approve:         m.toolloopApprove(project.ID),
		HasPlanApproval: true,
		TaskType:        TaskTypeUnitTest,
	}, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf("Project %q, workspace %s.", project.DisplayName, project.WorkspacePath)},
		{Role: llm.RoleUser, Content: finalValidationPrompt},
	})
	if err != nil {
		return err
	}
	m.emit(project.ID, "final_validation_completed", outcome.Text)
	return nil
}
