package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/tasks"
)

// Store bundles the five task collections under one data directory.
type Store struct {
	Queue     *Queue
	Scheduled *Scheduled
	Running   *Running
	Completed *History
	Failed    *History

	dir string
}

// Open prepares the data directory and returns a Store wired to the
// collection files inside it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		Queue:     NewQueue(filepath.Join(dir, "queue.json")),
		Scheduled: NewScheduled(filepath.Join(dir, "scheduled.json")),
		Running:   NewRunning(filepath.Join(dir, "running.json")),
		Completed: NewHistory(filepath.Join(dir, "completed.json"), config.MaxHistory),
		Failed:    NewHistory(filepath.Join(dir, "failed.json"), config.MaxHistory),
		dir:       dir,
	}, nil
}

// Dir returns the data directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Find looks id up across the queue, running set and both archives,
// and reports which collection held it.
func (s *Store) Find(id string) (*tasks.Task, string, bool) {
	if t, ok := s.Queue.Get(id); ok {
		return t, "queue", true
	}
	if t, ok := s.Running.Get(id); ok {
		return t, "running", true
	}
	if t, ok := s.Completed.Get(id); ok {
		return t, "completed", true
	}
	if t, ok := s.Failed.Get(id); ok {
		return t, "failed", true
	}
	return nil, "", false
}
