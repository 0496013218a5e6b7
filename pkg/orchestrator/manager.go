// Package orchestrator implements the Project Manager and Worker: the
// Gateway-side state machine that carries a project from captured ideas
// through a synthesized plan to completed code, driving the tool loop for
// each task and fanning progress out to whatever is listening.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"openclaw/pkg/config"
	"openclaw/pkg/llm"
	"openclaw/pkg/logx"
	"openclaw/pkg/persistence"
	"openclaw/pkg/skills"
	"openclaw/pkg/toolloop"
)

// configOrchestrator reads the orchestrator section of the loaded Gateway
// config, or a zero-value (auto-approve disabled) if config hasn't been
// loaded — keeps the Manager usable in tests that never call
// config.LoadConfig.
func configOrchestrator() (config.OrchestratorConfig, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return config.OrchestratorConfig{}, err
	}
	return cfg.Orchestrator, nil
}

// EventFunc receives one project_events record as it's appended. It has
// no error return — a notification channel dropping a message must not
// stall a project's work.
type EventFunc func(projectID, eventType, detail string)

// ApproveFunc is consulted for every tool call a skill marks
// RequiresApproval. It wraps an operator-facing prompt with a timeout;
// expiry is treated as a denial.
type ApproveFunc func(ctx context.Context, projectID, toolName string, input map[string]any) (bool, error)

// Manager owns every in-flight project's control state and exposes the
// project-lifecycle operations the project_management skill's tools
// dispatch to. One Manager instance serves every project the Gateway
// knows about.
type Manager struct {
	ops    *persistence.DatabaseOperations
	router *llm.Router
	skills *skills.Registry
	logger *logx.Logger
	pool   *Pool

	onEvent   EventFunc
	onApprove ApproveFunc

	mu       sync.Mutex
	controls map[string]*projectControl
}

// projectControl holds the cooperative-concurrency primitives a running
// project's Worker checks at task boundaries: cancel is a one-shot signal,
// pause is reentrant (closed == runnable).
type projectControl struct {
	mu     sync.Mutex
	cancel chan struct{}
	pause  chan struct{}
}

func newProjectControl() *projectControl {
	pc := &projectControl{cancel: make(chan struct{}), pause: make(chan struct{})}
	close(pc.pause) // runnable by default
	return pc
}

func (pc *projectControl) Cancel() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	select {
	case <-pc.cancel:
	default:
		close(pc.cancel)
	}
}

func (pc *projectControl) Cancelled() <-chan struct{} { return pc.cancel }

// Paused reports whether the project is currently pause-gated. Used to
// decide whether a blocking Wait call is actually going to block, so the
// caller knows whether to emit a paused/resumed pair around it.
func (pc *projectControl) Paused() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	select {
	case <-pc.pause:
		return false
	default:
		return true
	}
}

func (pc *projectControl) Pause() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	select {
	case <-pc.pause:
		pc.pause = make(chan struct{})
	default:
		// already paused
	}
}

func (pc *projectControl) Resume() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	select {
	case <-pc.pause:
		// already runnable
	default:
		close(pc.pause)
	}
}

// Wait blocks until the project is runnable (or cancelled, or ctx ends).
func (pc *projectControl) Wait(ctx context.Context) error {
	pc.mu.Lock()
	pauseCh := pc.pause
	pc.mu.Unlock()

	select {
	case <-pauseCh:
		return nil
	case <-pc.cancel:
		return errCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errCancelled = fmt.Errorf("project cancelled")

// New builds a Manager. skillRegistry is the Skill Registry the tool loop
// dispatches every task's tool calls through; poolSize bounds how many
// projects may run a Worker concurrently.
func New(ops *persistence.DatabaseOperations, router *llm.Router, skillRegistry *skills.Registry, poolSize int, onEvent EventFunc, onApprove ApproveFunc) *Manager {
	m := &Manager{
		ops:       ops,
		router:    router,
		skills:    skillRegistry,
		logger:    logx.NewLogger("orchestrator"),
		onEvent:   onEvent,
		onApprove: onApprove,
		controls:  make(map[string]*projectControl),
	}
	m.pool = NewPool(poolSize, m.runWorker)
	return m
}

func (m *Manager) emit(projectID, eventType, detail string) {
	if err := m.ops.InsertProjectEvent(&persistence.ProjectEvent{
		ID:        persistence.NewEventID(),
		ProjectID: projectID,
		EventType: eventType,
		Detail:    detail,
	}); err != nil {
		m.logger.Warn("recording event %s for project %s: %v", eventType, projectID, err)
	}
	if m.onEvent != nil {
		m.onEvent(projectID, eventType, detail)
	}
}

func (m *Manager) controlFor(projectID string) *projectControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.controls[projectID]
	if !ok {
		pc = newProjectControl()
		m.controls[projectID] = pc
	}
	return pc
}

func (m *Manager) autoApprove(ideaCount int) bool {
	cfg, err := configOrchestrator()
	if err != nil {
		return false
	}
	return cfg.AutoApproveAndStart && ideaCount >= cfg.AutoApproveMinIdeas
}

// CreateProject starts a new project in the ideation phase.
func (m *Manager) CreateProject(shortName, displayName, workspacePath string) (*persistence.Project, error) {
	p := &persistence.Project{
		ID:            persistence.NewProjectID(),
		ShortName:     shortName,
		DisplayName:   displayName,
		Status:        persistence.ProjectStatusIdeation,
		WorkspacePath: workspacePath,
	}
	if err := m.ops.UpsertProject(p); err != nil {
		return nil, fmt.Errorf("creating project %s: %w", shortName, err)
	}
	m.emit(p.ID, "project_created", displayName)
	return p, nil
}

// AddIdea appends one idea to a project's ideation-phase backlog.
func (m *Manager) AddIdea(projectID, text string, orderIdx int) (*persistence.Idea, error) {
	idea := &persistence.Idea{
		ID:        persistence.NewIdeaID(),
		ProjectID: projectID,
		Text:      text,
		OrderIdx:  orderIdx,
	}
	if err := m.ops.InsertIdea(idea); err != nil {
		return nil, fmt.Errorf("adding idea to project %s: %w", projectID, err)
	}
	m.emit(projectID, "idea_added", text)
	return idea, nil
}

// ListProjects returns every project known to the store, optionally
// filtered to one status; pass "" for all statuses.
func (m *Manager) ListProjects(status string) ([]*persistence.Project, error) {
	return m.ops.ListProjectsByStatus(status)
}

// GetProjectStatus returns a project's current record.
func (m *Manager) GetProjectStatus(projectID string) (*persistence.Project, error) {
	return m.ops.GetProjectByID(projectID)
}

// ApprovePlanAndStart moves a project from approved planning into coding
// and submits it to the worker pool.
func (m *Manager) ApprovePlanAndStart(ctx context.Context, projectID string) error {
	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}

	if project.Status == persistence.ProjectStatusPlanning {
		if err := m.transitionProject(project, persistence.ProjectStatusApproved, "plan approved"); err != nil {
			return err
		}
	}
	if project.Status != persistence.ProjectStatusApproved {
		return fmt.Errorf("project %s is in status %s, cannot start", projectID, project.Status)
	}
	if err := m.transitionProject(project, persistence.ProjectStatusCoding, "starting execution"); err != nil {
		return err
	}

	m.controlFor(projectID) // ensure control state exists before submission
	m.pool.Submit(projectID)
	return nil
}

// PauseProject requests the running Worker suspend at its next task or
// milestone boundary. Reentrant: pausing an already-paused project is a
// no-op.
func (m *Manager) PauseProject(projectID string) error {
	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}
	if project.Status != persistence.ProjectStatusCoding {
		return fmt.Errorf("project %s is in status %s, cannot pause", projectID, project.Status)
	}
	m.controlFor(projectID).Pause()
	project.PrePauseStatus = project.Status
	return m.transitionProject(project, persistence.ProjectStatusPaused, "paused by operator")
}

// ResumeProject releases a paused project's Worker and returns it to
// whichever status it was paused from, then resubmits it to the pool.
func (m *Manager) ResumeProject(projectID string) error {
	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}
	if project.Status != persistence.ProjectStatusPaused {
		return fmt.Errorf("project %s is not paused", projectID)
	}
	resumeTo := project.PrePauseStatus
	if resumeTo == "" {
		resumeTo = persistence.ProjectStatusCoding
	}
	if err := m.transitionProject(project, resumeTo, "resumed by operator"); err != nil {
		return err
	}
	m.controlFor(projectID).Resume()
	if resumeTo == persistence.ProjectStatusCoding || resumeTo == persistence.ProjectStatusTesting {
		m.pool.Submit(projectID)
	}
	return nil
}

// CancelProject signals the Worker to stop once its current task finishes
// and marks the project cancelled. Idempotent.
func (m *Manager) CancelProject(projectID string) error {
	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}
	if project.Status == persistence.ProjectStatusCancelled {
		return nil
	}
	m.controlFor(projectID).Cancel()
	return m.transitionProject(project, persistence.ProjectStatusCancelled, "cancelled by operator")
}

// RemoveProject signals a coding or testing project's Worker to stop and
// records a project_removed event. It does not delete the project's record
// or its ideas, plans, tasks or events from the store, and does not change
// the project's status. The registry marks this tool RequiresApproval.
func (m *Manager) RemoveProject(projectID string) error {
	project, err := m.ops.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}
	if project.Status == persistence.ProjectStatusCoding || project.Status == persistence.ProjectStatusTesting {
		m.controlFor(projectID).Cancel()
	}
	m.emit(projectID, "project_removed", project.DisplayName)
	return nil
}

// toolloopApprove adapts Manager.onApprove to the toolloop.ApproveFunc
// shape for one project's calls.
func (m *Manager) toolloopApprove(projectID string) toolloop.ApproveFunc {
	return func(ctx context.Context, toolName string, input map[string]any) (bool, error) {
		if m.onApprove == nil {
			return false, nil
		}
		return m.onApprove(ctx, projectID, toolName, input)
	}
}
