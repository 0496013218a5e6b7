package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"openclaw/pkg/persistence"
)

// Watcher is the Manager's single stall detector. Rather than one goroutine
// per in-flight run, it runs a cron job that sweeps every running agent_run
// on a fixed schedule: bumping each one's heartbeat and emitting one
// manager_nudge event the first time a run crosses the nudge threshold. It
// never cancels a run itself — a stalled tool loop is the Manager's problem
// to act on, not the watcher's to kill.
type Watcher struct {
	mgr            *Manager
	cron           *cron.Cron
	nudgeThreshold time.Duration

	mu     sync.Mutex
	nudged map[string]bool
}

// NewWatcher builds a Watcher that sweeps every intervalSeconds and nudges
// runs that have been active past nudgeThresholdSeconds.
func NewWatcher(m *Manager, intervalSeconds, nudgeThresholdSeconds int) *Watcher {
	if intervalSeconds <= 0 {
		intervalSeconds = 20
	}
	if nudgeThresholdSeconds <= 0 {
		nudgeThresholdSeconds = 120
	}
	w := &Watcher{
		mgr:            m,
		cron:           cron.New(),
		nudgeThreshold: time.Duration(nudgeThresholdSeconds) * time.Second,
		nudged:         make(map[string]bool),
	}
	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	if _, err := w.cron.AddFunc(spec, w.sweep); err != nil {
		m.logger.Error("watcher: scheduling sweep job: %v", err)
	}
	return w
}

// Start begins the watcher's cron schedule. It does not block.
func (w *Watcher) Start() {
	w.cron.Start()
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (w *Watcher) Stop() {
	<-w.cron.Stop().Done()
}

// sweep is the cron job body: one pass over every running agent_run.
func (w *Watcher) sweep() {
	runs, err := w.mgr.ops.ListRunningRuns()
	if err != nil {
		w.mgr.logger.Warn("watcher: listing running runs: %v", err)
		return
	}

	now := time.Now().UTC()
	live := make(map[string]bool, len(runs))
	for _, run := range runs {
		live[run.ID] = true
		if err := w.mgr.ops.UpdateAgentRunHeartbeat(run.ID, now); err != nil {
			w.mgr.logger.Warn("watcher: updating heartbeat for run %s: %v", run.ID, err)
		}

		w.mu.Lock()
		alreadyNudged := w.nudged[run.ID]
		w.mu.Unlock()
		if !alreadyNudged && now.Sub(run.StartedAt) > w.nudgeThreshold {
			w.mu.Lock()
			w.nudged[run.ID] = true
			w.mu.Unlock()
			w.mgr.emit(run.ProjectID, "manager_nudge",
				fmt.Sprintf("run %s has been active for over %s with no completion", run.ID, now.Sub(run.StartedAt).Round(time.Second)))
		}
	}

	w.mu.Lock()
	for id := range w.nudged {
		if !live[id] {
			delete(w.nudged, id)
		}
	}
	w.mu.Unlock()
}

// ReapStaleRuns finds runs whose heartbeat has gone silent past cutoff and
// marks them failed, for startup recovery after a crashed Gateway process
// left runs dangling in "running".
func (m *Manager) ReapStaleRuns(cutoff time.Time) error {
	stale, err := m.ops.ListStaleRuns(cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("listing stale runs: %w", err)
	}
	for _, run := range stale {
		run.Status = persistence.RunStatusFailed
		run.Error = "run heartbeat stopped; assumed crashed"
		now := time.Now().UTC()
		run.FinishedAt = &now
		if err := m.ops.FinishAgentRun(run); err != nil {
			m.logger.Warn("reaping stale run %s: %v", run.ID, err)
			continue
		}
		m.emit(run.ProjectID, "run_reaped", run.ID)
	}
	return nil
}
