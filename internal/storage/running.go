package storage

import (
	"github.com/droverhq/drover/internal/tasks"
)

// Running tracks the tasks currently executing, backed by running.json.
// On a clean setup it holds at most one entry; leftovers after a crash
// are swept back into the queue when the scheduler starts.
type Running struct {
	c *collection[tasks.Task]
}

// NewRunning returns a Running store at path.
func NewRunning(path string) *Running {
	return &Running{c: newCollection(path, func(t *tasks.Task) string { return t.ID })}
}

// Add records t as executing.
func (r *Running) Add(t *tasks.Task) error {
	return r.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		return append(items, t), nil
	})
}

// Update replaces the stored copy of t, matching by id. Unknown ids
// are appended so progress is never dropped.
func (r *Running) Update(t *tasks.Task) error {
	return r.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		for i, existing := range items {
			if existing.ID == t.ID {
				items[i] = t
				return items, nil
			}
		}
		return append(items, t), nil
	})
}

// Remove deletes and returns the task with the given id, or nil when
// absent.
func (r *Running) Remove(id string) (*tasks.Task, error) {
	var removed *tasks.Task
	err := r.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		out := items[:0]
		for _, t := range items {
			if t.ID == id {
				removed = t
				continue
			}
			out = append(out, t)
		}
		return out, nil
	})
	return removed, err
}

// Get returns the running task with the given id.
func (r *Running) Get(id string) (*tasks.Task, bool) { return r.c.get(id) }

// GetAll returns every running task.
func (r *Running) GetAll() []*tasks.Task { return r.c.all() }

// Clear empties the collection and returns how many entries were
// dropped.
func (r *Running) Clear() (int, error) {
	var n int
	err := r.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		n = len(items)
		return nil, nil
	})
	return n, err
}

// Count returns the number of running tasks.
func (r *Running) Count() int { return r.c.count() }
