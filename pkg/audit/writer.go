// Package audit provides an append-only, daily-rotated JSONL log of every
// action the Local Agent's security kernel decided on — the tamper-evident
// record an operator reviews after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one line of the audit log: what was asked for, how the kernel
// classified it, and what happened when it ran.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Tier      string         `json:"tier"`
	Decision  string         `json:"decision"` // "allowed", "confirmed", "denied", "rate_limited", "blocked", "estop"
	ExitCode  int            `json:"exit_code,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Writer appends Records to a daily log file, the same rotation scheme the
// Gateway's event log uses.
type Writer struct {
	mu          sync.Mutex
	dir         string
	currentFile *os.File
	currentDate string
}

// NewWriter creates a writer rooted at dir, creating it if necessary.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	w := &Writer{dir: dir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends one record, rotating the underlying file first if the date
// has changed since the last write.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotating audit log: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return w.currentFile.Sync()
}

func (w *Writer) rotateIfNeeded() error {
	today := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == today {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("closing previous audit log file: %w", err)
		}
	}

	path := filepath.Join(w.dir, fmt.Sprintf("actions-%s.jsonl", today))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log file %s: %w", path, err)
	}
	w.currentFile = f
	w.currentDate = today
	return nil
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}
