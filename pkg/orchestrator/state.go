package orchestrator

import (
	"fmt"
	"time"

	"openclaw/pkg/persistence"
)

// transitions enumerates the project statuses reachable from each status.
// paused is reentrant from coding or testing and may return to either;
// cancelled is reachable from every non-terminal status, failed from
// planning, coding and testing; completed, failed and cancelled are
// terminal.
//
//nolint:gochecknoglobals // static transition table, not configuration
var transitions = map[string][]string{
	persistence.ProjectStatusIdeation:  {persistence.ProjectStatusPlanning, persistence.ProjectStatusCancelled},
	persistence.ProjectStatusPlanning:  {persistence.ProjectStatusApproved, persistence.ProjectStatusPlanning, persistence.ProjectStatusCancelled, persistence.ProjectStatusFailed},
	persistence.ProjectStatusApproved:  {persistence.ProjectStatusCoding, persistence.ProjectStatusCancelled},
	persistence.ProjectStatusCoding:    {persistence.ProjectStatusTesting, persistence.ProjectStatusPaused, persistence.ProjectStatusCancelled, persistence.ProjectStatusFailed},
	persistence.ProjectStatusTesting:   {persistence.ProjectStatusCompleted, persistence.ProjectStatusCoding, persistence.ProjectStatusPaused, persistence.ProjectStatusCancelled, persistence.ProjectStatusFailed},
	persistence.ProjectStatusPaused:    {persistence.ProjectStatusCoding, persistence.ProjectStatusTesting, persistence.ProjectStatusCancelled},
	persistence.ProjectStatusCompleted: {},
	persistence.ProjectStatusFailed:    {},
	persistence.ProjectStatusCancelled: {},
}

// canTransition reports whether moving a project from `from` to `to` is a
// legal transition.
func canTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transitionProject validates and applies a status change, persisting the
// updated project and appending the project_events feed entry in the same
// call so no caller forgets one or the other.
func (m *Manager) transitionProject(p *persistence.Project, to, detail string) error {
	if !canTransition(p.Status, to) {
		return fmt.Errorf("illegal transition for project %s: %s -> %s", p.ID, p.Status, to)
	}
	from := p.Status
	p.Status = to
	if to == persistence.ProjectStatusApproved && p.ApprovedAt == nil {
		now := time.Now().UTC()
		p.ApprovedAt = &now
	}
	if to == persistence.ProjectStatusCompleted && p.CompletedAt == nil {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
	if err := m.ops.UpsertProject(p); err != nil {
		return fmt.Errorf("persisting transition %s -> %s: %w", from, to, err)
	}
	m.emit(p.ID, "project_transition", fmt.Sprintf("%s -> %s: %s", from, to, detail))
	return nil
}
