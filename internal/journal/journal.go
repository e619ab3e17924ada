// Package journal provides append-only structured records of sync runs.
//
// Every sync attempt, finished or not, is recorded under the
// workspace's .git directory as newline-delimited JSON. The journal
// rides along with the repository but stays out of its history.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how a sync run ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNothingToDo Outcome = "nothing-to-do"
	OutcomeDryRun      Outcome = "dry-run"
	OutcomeAborted     Outcome = "aborted"
	OutcomeInterrupted Outcome = "interrupted"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	RunID     string    `json:"run_id"`
	Change    int       `json:"change"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Files     int       `json:"files"`
	Bytes     int64     `json:"bytes"`
	Clobbered int       `json:"clobbered,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Forced    bool      `json:"forced,omitempty"`
	Commit    string    `json:"commit,omitempty"`
}

// Path returns the journal location for a workspace root.
func Path(root string) string {
	return filepath.Join(root, ".git", "pergit", "journal.jsonl")
}

// Logger writes journal entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens a journal file for appending, creating
// parent directories as needed.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes a journal entry. A missing timestamp or run id is filled
// in.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.RunID == "" {
		entry.RunID = uuid.NewString()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Close closes the journal file.
func (l *Logger) Close() error {
	return l.file.Close()
}
