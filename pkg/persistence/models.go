package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Project status values. A project moves through these in order, with
// paused (from coding or testing), failed and cancelled as side exits;
// the orchestrator's transition table lists which exits each status has.
const (
	ProjectStatusIdeation  = "ideation"
	ProjectStatusPlanning  = "planning"
	ProjectStatusApproved  = "approved"
	ProjectStatusCoding    = "coding"
	ProjectStatusTesting   = "testing"
	ProjectStatusPaused    = "paused"
	ProjectStatusCompleted = "completed"
	ProjectStatusFailed    = "failed"
	ProjectStatusCancelled = "cancelled"
)

// Project is the top-level unit of work: one ideation→completion lifecycle
// against one workspace.
type Project struct {
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ID              string     `json:"id"`
	ShortName       string     `json:"short_name"`
	DisplayName     string     `json:"display_name"`
	Status          string     `json:"status"`
	WorkspacePath   string     `json:"workspace_path"`
	RemoteRepoURL   string     `json:"remote_repo_url,omitempty"`
	BootstrapOK     bool       `json:"bootstrap_ok"`
	BootstrapResult string     `json:"bootstrap_result,omitempty"`
	PrePauseStatus  string     `json:"pre_pause_status,omitempty"`
}

// Idea is one free-text contribution captured during a project's ideation
// phase. Immutable once appended.
type Idea struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Text      string    `json:"text"`
	OrderIdx  int       `json:"order_idx"`
}

// Milestone is one named phase of a Plan, carried as a JSON array inside
// Plan.MilestonesJSON rather than a child table — milestones are never
// queried independently of their plan.
type Milestone struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Plan is one version of a project's task breakdown. Exactly one plan per
// project may have IsActive set; creating a new active plan deactivates
// whichever one held that flag before.
type Plan struct {
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Summary        string    `json:"summary"`
	MilestonesJSON string    `json:"milestones_json"` // JSON-encoded []Milestone
	Version        int       `json:"version"`
	IsActive       bool      `json:"is_active"`
}

// Task status values. A task may only progress pending → in_progress →
// one of {completed, failed, skipped}.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusSkipped    = "skipped"
)

// Task is one unit of work within a Plan, executed in ascending OrderIdx
// order within its milestone.
type Task struct {
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ID            string     `json:"id"`
	PlanID        string     `json:"plan_id"`
	Milestone     string     `json:"milestone"` // task's own, else its plan milestone's name
	Title         string     `json:"title,omitempty"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	AssignedRole  string     `json:"assigned_role"`
	ResultSummary string     `json:"result_summary,omitempty"`
	OrderIdx      int        `json:"order_idx"`
}

// Agent status values.
const (
	AgentStatusIdle    = "idle"
	AgentStatusRunning = "running"
)

// AgentRecord tracks one project+role worker's lifetime counters. Unique
// on (ProjectID, Role).
type AgentRecord struct {
	LastActiveAt  time.Time `json:"last_active_at"`
	ProjectID     string    `json:"project_id"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	RunsStarted   int       `json:"runs_started"`
	RunsSucceeded int       `json:"runs_succeeded"`
	RunsFailed    int       `json:"runs_failed"`
}

// AgentRun status values.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// AgentRun is a single task execution attempt. The Watcher refreshes
// HeartbeatAt on every sweep and nudges by time since StartedAt;
// ReapStaleRuns uses HeartbeatAt to find runs a crashed process left
// running.
type AgentRun struct {
	StartedAt     time.Time  `json:"started_at"`
	HeartbeatAt   time.Time  `json:"heartbeat_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	TaskID        string     `json:"task_id"`
	AgentRole     string     `json:"agent_role"`
	Status        string     `json:"status"`
	Title         string     `json:"title,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ProjectEvent is an append-only, typed record of something that happened
// to a project — the feed external notification fan-out reads from.
type ProjectEvent struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
}

// ProviderUsage is one day's accumulated usage counters for one LLM
// provider, the Provider Router's quota-accounting row.
type ProviderUsage struct {
	LastRequestAt time.Time `json:"last_request_at"`
	Provider      string    `json:"provider"`
	Date          string    `json:"date"` // UTC yyyy-mm-dd
	RequestsUsed  int64     `json:"requests_used"`
	TokensUsed    int64     `json:"tokens_used"`
	Errors        int64     `json:"errors"`
}

// IdempotencyRecord caches a task's response for a given opt-in key so a
// retried dispatch replays instead of re-running a mutating action.
type IdempotencyRecord struct {
	CreatedAt    time.Time `json:"created_at"`
	TaskID       string    `json:"task_id"`
	Key          string    `json:"key"`
	ResponseJSON string    `json:"response_json"`
}

func newID() string { return uuid.New().String() }

// NewProjectID, NewIdeaID, etc. generate the UUIDv4 primary keys used
// across every table in this package — one generator per entity keeps
// call sites self-documenting even though they all do the same thing.
func NewProjectID() string  { return newID() }
func NewIdeaID() string     { return newID() }
func NewPlanID() string     { return newID() }
func NewTaskID() string     { return newID() }
func NewRunID() string      { return newID() }
func NewEventID() string    { return newID() }
