package persistence

import (
	"database/sql"
	"fmt"
	"time"
)

// DatabaseOperations is the Durable Store's query surface: every read and
// write in this codebase goes through a method here rather than raw SQL
// scattered across the orchestrator and dispatch packages.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations wraps db. Use persistence.Ops() to get one bound to
// the singleton connection; this constructor exists mainly for tests that
// want an isolated in-memory database.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// --- Projects ---------------------------------------------------------

// UpsertProject inserts or updates a project record.
func (ops *DatabaseOperations) UpsertProject(p *Project) error {
	query := `
		INSERT INTO projects (
			id, short_name, display_name, status, workspace_path, remote_repo_url,
			bootstrap_ok, bootstrap_result, pre_pause_status, created_at, approved_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			workspace_path = excluded.workspace_path,
			remote_repo_url = excluded.remote_repo_url,
			bootstrap_ok = excluded.bootstrap_ok,
			bootstrap_result = excluded.bootstrap_result,
			pre_pause_status = excluded.pre_pause_status,
			approved_at = excluded.approved_at,
			completed_at = excluded.completed_at
	`
	_, err := ops.db.Exec(query,
		p.ID, p.ShortName, p.DisplayName, p.Status, p.WorkspacePath, p.RemoteRepoURL,
		p.BootstrapOK, p.BootstrapResult, p.PrePauseStatus, p.CreatedAt, p.ApprovedAt, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.ID, err)
	}
	return nil
}

// GetProjectByID returns a project by its ID.
func (ops *DatabaseOperations) GetProjectByID(id string) (*Project, error) {
	query := `
		SELECT id, short_name, display_name, status, workspace_path, remote_repo_url,
		       bootstrap_ok, bootstrap_result, pre_pause_status, created_at, approved_at, completed_at
		FROM projects WHERE id = ?
	`
	p := &Project{}
	err := ops.db.QueryRow(query, id).Scan(
		&p.ID, &p.ShortName, &p.DisplayName, &p.Status, &p.WorkspacePath, &p.RemoteRepoURL,
		&p.BootstrapOK, &p.BootstrapResult, &p.PrePauseStatus, &p.CreatedAt, &p.ApprovedAt, &p.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return p, nil
}

// GetProjectByShortName returns a project by its unique short_name.
func (ops *DatabaseOperations) GetProjectByShortName(shortName string) (*Project, error) {
	query := `
		SELECT id, short_name, display_name, status, workspace_path, remote_repo_url,
		       bootstrap_ok, bootstrap_result, pre_pause_status, created_at, approved_at, completed_at
		FROM projects WHERE short_name = ?
	`
	p := &Project{}
	err := ops.db.QueryRow(query, shortName).Scan(
		&p.ID, &p.ShortName, &p.DisplayName, &p.Status, &p.WorkspacePath, &p.RemoteRepoURL,
		&p.BootstrapOK, &p.BootstrapResult, &p.PrePauseStatus, &p.CreatedAt, &p.ApprovedAt, &p.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s not found", shortName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", shortName, err)
	}
	return p, nil
}

// ListProjectsByStatus returns every project currently at status, ordered
// by creation time. Pass "" to return all projects.
func (ops *DatabaseOperations) ListProjectsByStatus(status string) ([]*Project, error) {
	query := `
		SELECT id, short_name, display_name, status, workspace_path, remote_repo_url,
		       bootstrap_ok, bootstrap_result, pre_pause_status, created_at, approved_at, completed_at
		FROM projects
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(
			&p.ID, &p.ShortName, &p.DisplayName, &p.Status, &p.WorkspacePath, &p.RemoteRepoURL,
			&p.BootstrapOK, &p.BootstrapResult, &p.PrePauseStatus, &p.CreatedAt, &p.ApprovedAt, &p.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return projects, nil
}

// --- Ideas --------------------------------------------------------------

// InsertIdea appends an idea to a project's ideation log. Ideas are
// immutable once written, so this is a plain insert, not an upsert.
func (ops *DatabaseOperations) InsertIdea(idea *Idea) error {
	query := `INSERT INTO ideas (id, project_id, text, order_idx, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := ops.db.Exec(query, idea.ID, idea.ProjectID, idea.Text, idea.OrderIdx, idea.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert idea %s: %w", idea.ID, err)
	}
	return nil
}

// GetIdeasByProject returns a project's ideas in submission order.
func (ops *DatabaseOperations) GetIdeasByProject(projectID string) ([]*Idea, error) {
	query := `SELECT id, project_id, text, order_idx, created_at FROM ideas WHERE project_id = ? ORDER BY order_idx ASC`
	rows, err := ops.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ideas for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var ideas []*Idea
	for rows.Next() {
		idea := &Idea{}
		if err := rows.Scan(&idea.ID, &idea.ProjectID, &idea.Text, &idea.OrderIdx, &idea.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan idea: %w", err)
		}
		ideas = append(ideas, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ideas, nil
}

// --- Plans ----------------------------------------------------------------

// CreatePlan inserts a new plan version. If plan.IsActive is set, every
// other plan for the same project is deactivated first, in the same
// transaction, preserving the at-most-one-active-plan invariant.
func (ops *DatabaseOperations) CreatePlan(plan *Plan) error {
	tx, err := ops.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if plan.IsActive {
		if _, err := tx.Exec(`UPDATE plans SET is_active = 0 WHERE project_id = ?`, plan.ProjectID); err != nil {
			return fmt.Errorf("failed to deactivate prior plans for project %s: %w", plan.ProjectID, err)
		}
	}

	query := `
		INSERT INTO plans (id, project_id, version, summary, milestones_json, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(query, plan.ID, plan.ProjectID, plan.Version, plan.Summary, plan.MilestonesJSON, plan.IsActive, plan.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", plan.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan %s: %w", plan.ID, err)
	}
	return nil
}

// GetActivePlan returns the currently active plan for projectID, if any.
func (ops *DatabaseOperations) GetActivePlan(projectID string) (*Plan, error) {
	query := `
		SELECT id, project_id, version, summary, milestones_json, is_active, created_at
		FROM plans WHERE project_id = ? AND is_active = 1
	`
	plan := &Plan{}
	err := ops.db.QueryRow(query, projectID).Scan(
		&plan.ID, &plan.ProjectID, &plan.Version, &plan.Summary, &plan.MilestonesJSON, &plan.IsActive, &plan.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active plan for project %s", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active plan for project %s: %w", projectID, err)
	}
	return plan, nil
}

// ListPlansByProject returns every plan version for a project, newest first.
func (ops *DatabaseOperations) ListPlansByProject(projectID string) ([]*Plan, error) {
	query := `
		SELECT id, project_id, version, summary, milestones_json, is_active, created_at
		FROM plans WHERE project_id = ? ORDER BY version DESC
	`
	rows, err := ops.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		plan := &Plan{}
		if err := rows.Scan(
			&plan.ID, &plan.ProjectID, &plan.Version, &plan.Summary, &plan.MilestonesJSON, &plan.IsActive, &plan.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return plans, nil
}

// --- Tasks ------------------------------------------------------------

// UpsertTask inserts or updates a task.
func (ops *DatabaseOperations) UpsertTask(t *Task) error {
	query := `
		INSERT INTO tasks (
			id, plan_id, milestone, title, description, status, assigned_role,
			result_summary, order_idx, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result_summary = excluded.result_summary,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`
	_, err := ops.db.Exec(query,
		t.ID, t.PlanID, t.Milestone, t.Title, t.Description, t.Status, t.AssignedRole,
		t.ResultSummary, t.OrderIdx, t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTaskByID returns a task by its ID.
func (ops *DatabaseOperations) GetTaskByID(id string) (*Task, error) {
	query := `
		SELECT id, plan_id, milestone, title, description, status, assigned_role,
		       result_summary, order_idx, started_at, completed_at
		FROM tasks WHERE id = ?
	`
	t := &Task{}
	err := ops.db.QueryRow(query, id).Scan(
		&t.ID, &t.PlanID, &t.Milestone, &t.Title, &t.Description, &t.Status, &t.AssignedRole,
		&t.ResultSummary, &t.OrderIdx, &t.StartedAt, &t.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasksByPlan returns every task in plan, ordered by milestone then
// order_idx, matching execution order.
func (ops *DatabaseOperations) ListTasksByPlan(planID string) ([]*Task, error) {
	query := `
		SELECT id, plan_id, milestone, title, description, status, assigned_role,
		       result_summary, order_idx, started_at, completed_at
		FROM tasks WHERE plan_id = ? ORDER BY milestone ASC, order_idx ASC
	`
	rows, err := ops.db.Query(query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks for plan %s: %w", planID, err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(
			&t.ID, &t.PlanID, &t.Milestone, &t.Title, &t.Description, &t.Status, &t.AssignedRole,
			&t.ResultSummary, &t.OrderIdx, &t.StartedAt, &t.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tasks, nil
}

// NextPendingTask returns the earliest pending task in plan (by milestone,
// order_idx), or nil if none remain.
func (ops *DatabaseOperations) NextPendingTask(planID string) (*Task, error) {
	query := `
		SELECT id, plan_id, milestone, title, description, status, assigned_role,
		       result_summary, order_idx, started_at, completed_at
		FROM tasks WHERE plan_id = ? AND status = 'pending'
		ORDER BY milestone ASC, order_idx ASC LIMIT 1
	`
	t := &Task{}
	err := ops.db.QueryRow(query, planID).Scan(
		&t.ID, &t.PlanID, &t.Milestone, &t.Title, &t.Description, &t.Status, &t.AssignedRole,
		&t.ResultSummary, &t.OrderIdx, &t.StartedAt, &t.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next pending task for plan %s: %w", planID, err)
	}
	return t, nil
}

// --- Agent records ------------------------------------------------------

// UpsertAgentRecord inserts or updates a project+role agent record.
func (ops *DatabaseOperations) UpsertAgentRecord(a *AgentRecord) error {
	query := `
		INSERT INTO agent_records (
			project_id, role, status, runs_started, runs_succeeded, runs_failed, last_active_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, role) DO UPDATE SET
			status = excluded.status,
			runs_started = excluded.runs_started,
			runs_succeeded = excluded.runs_succeeded,
			runs_failed = excluded.runs_failed,
			last_active_at = excluded.last_active_at
	`
	_, err := ops.db.Exec(query, a.ProjectID, a.Role, a.Status, a.RunsStarted, a.RunsSucceeded, a.RunsFailed, a.LastActiveAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent record %s/%s: %w", a.ProjectID, a.Role, err)
	}
	return nil
}

// GetAgentRecord returns a project's agent record for role.
func (ops *DatabaseOperations) GetAgentRecord(projectID, role string) (*AgentRecord, error) {
	query := `
		SELECT project_id, role, status, runs_started, runs_succeeded, runs_failed, last_active_at
		FROM agent_records WHERE project_id = ? AND role = ?
	`
	a := &AgentRecord{}
	err := ops.db.QueryRow(query, projectID, role).Scan(
		&a.ProjectID, &a.Role, &a.Status, &a.RunsStarted, &a.RunsSucceeded, &a.RunsFailed, &a.LastActiveAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent record %s/%s not found", projectID, role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent record %s/%s: %w", projectID, role, err)
	}
	return a, nil
}

// --- Agent runs ---------------------------------------------------------

// InsertAgentRun records the start of a new task execution attempt.
func (ops *DatabaseOperations) InsertAgentRun(r *AgentRun) error {
	query := `
		INSERT INTO agent_runs (
			id, project_id, task_id, agent_role, status, title, summary, error,
			started_at, heartbeat_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ops.db.Exec(query,
		r.ID, r.ProjectID, r.TaskID, r.AgentRole, r.Status, r.Title, r.Summary, r.Error,
		r.StartedAt, r.HeartbeatAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateAgentRunHeartbeat bumps a run's heartbeat so the watcher's stall
// detector does not consider it stuck.
func (ops *DatabaseOperations) UpdateAgentRunHeartbeat(runID string, at time.Time) error {
	_, err := ops.db.Exec(`UPDATE agent_runs SET heartbeat_at = ? WHERE id = ?`, at, runID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat for run %s: %w", runID, err)
	}
	return nil
}

// FinishAgentRun records a run's terminal status, summary/error, and
// finish time.
func (ops *DatabaseOperations) FinishAgentRun(r *AgentRun) error {
	query := `
		UPDATE agent_runs SET status = ?, summary = ?, error = ?, finished_at = ?
		WHERE id = ?
	`
	_, err := ops.db.Exec(query, r.Status, r.Summary, r.Error, r.FinishedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish agent run %s: %w", r.ID, err)
	}
	return nil
}

// ListRunningRuns returns every agent_run currently in the running state,
// across all projects, for the watcher's periodic sweep.
func (ops *DatabaseOperations) ListRunningRuns() ([]*AgentRun, error) {
	query := `
		SELECT id, project_id, task_id, agent_role, status, title, summary, error,
		       started_at, heartbeat_at, finished_at
		FROM agent_runs WHERE status = 'running'
	`
	rows, err := ops.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query running runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		r := &AgentRun{}
		if err := rows.Scan(
			&r.ID, &r.ProjectID, &r.TaskID, &r.AgentRole, &r.Status, &r.Title, &r.Summary, &r.Error,
			&r.StartedAt, &r.HeartbeatAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// ListStaleRuns returns every running agent_run whose heartbeat is older
// than the cutoff timestamp (RFC3339), the watcher's stall query.
func (ops *DatabaseOperations) ListStaleRuns(cutoffRFC3339 string) ([]*AgentRun, error) {
	query := `
		SELECT id, project_id, task_id, agent_role, status, title, summary, error,
		       started_at, heartbeat_at, finished_at
		FROM agent_runs WHERE status = 'running' AND heartbeat_at < ?
	`
	// Bind the cutoff as a time.Time so the driver formats it the same way
	// it formatted the stored heartbeat_at values being compared against.
	cutoff, err := time.Parse(time.RFC3339, cutoffRFC3339)
	if err != nil {
		return nil, fmt.Errorf("invalid stale-run cutoff %q: %w", cutoffRFC3339, err)
	}
	rows, err := ops.db.Query(query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		r := &AgentRun{}
		if err := rows.Scan(
			&r.ID, &r.ProjectID, &r.TaskID, &r.AgentRole, &r.Status, &r.Title, &r.Summary, &r.Error,
			&r.StartedAt, &r.HeartbeatAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// --- Project events -------------------------------------------------------

// InsertProjectEvent appends an event to a project's feed.
func (ops *DatabaseOperations) InsertProjectEvent(e *ProjectEvent) error {
	query := `INSERT INTO project_events (id, project_id, event_type, detail, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := ops.db.Exec(query, e.ID, e.ProjectID, e.EventType, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project event %s: %w", e.ID, err)
	}
	return nil
}

// ListProjectEvents returns a project's events in the order they occurred.
func (ops *DatabaseOperations) ListProjectEvents(projectID string, limit int) ([]*ProjectEvent, error) {
	query := `
		SELECT id, project_id, event_type, detail, created_at
		FROM project_events WHERE project_id = ? ORDER BY created_at ASC
	`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var events []*ProjectEvent
	for rows.Next() {
		e := &ProjectEvent{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

// --- Provider usage -------------------------------------------------------

// IncrementProviderUsage adds requests/tokens/errors to provider's row for
// date, creating the row if it doesn't exist yet.
func (ops *DatabaseOperations) IncrementProviderUsage(provider, date string, requests, tokens, errs int64, lastRequestAt time.Time) error {
	query := `
		INSERT INTO provider_usage (provider, date, requests_used, tokens_used, errors, last_request_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, date) DO UPDATE SET
			requests_used = requests_used + excluded.requests_used,
			tokens_used = tokens_used + excluded.tokens_used,
			errors = errors + excluded.errors,
			last_request_at = excluded.last_request_at
	`
	_, err := ops.db.Exec(query, provider, date, requests, tokens, errs, lastRequestAt)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s/%s: %w", provider, date, err)
	}
	return nil
}

// GetProviderUsage returns provider's usage row for date, or a zero-valued
// row if none has been recorded yet.
func (ops *DatabaseOperations) GetProviderUsage(provider, date string) (*ProviderUsage, error) {
	query := `
		SELECT provider, date, requests_used, tokens_used, errors, last_request_at
		FROM provider_usage WHERE provider = ? AND date = ?
	`
	u := &ProviderUsage{}
	err := ops.db.QueryRow(query, provider, date).Scan(
		&u.Provider, &u.Date, &u.RequestsUsed, &u.TokensUsed, &u.Errors, &u.LastRequestAt,
	)
	if err == sql.ErrNoRows {
		return &ProviderUsage{Provider: provider, Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage for %s/%s: %w", provider, date, err)
	}
	return u, nil
}

// --- Idempotency records --------------------------------------------------

// PutIdempotencyRecord caches a task's response under key, replacing any
// existing cached response for the same (task_id, key) pair.
func (ops *DatabaseOperations) PutIdempotencyRecord(r *IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (task_id, key, response_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, key) DO UPDATE SET
			response_json = excluded.response_json,
			created_at = excluded.created_at
	`
	_, err := ops.db.Exec(query, r.TaskID, r.Key, r.ResponseJSON, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put idempotency record %s/%s: %w", r.TaskID, r.Key, err)
	}
	return nil
}

// GetIdempotencyRecord returns the cached response for (taskID, key), if any.
func (ops *DatabaseOperations) GetIdempotencyRecord(taskID, key string) (*IdempotencyRecord, error) {
	query := `SELECT task_id, key, response_json, created_at FROM idempotency_records WHERE task_id = ? AND key = ?`
	r := &IdempotencyRecord{}
	err := ops.db.QueryRow(query, taskID, key).Scan(&r.TaskID, &r.Key, &r.ResponseJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record %s/%s: %w", taskID, key, err)
	}
	return r, nil
}
