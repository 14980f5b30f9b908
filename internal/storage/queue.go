package storage

import (
	"time"

	"github.com/droverhq/drover/internal/tasks"
)

// Queue is the FIFO of pending tasks backed by queue.json.
type Queue struct {
	c *collection[tasks.Task]
}

// NewQueue returns a Queue stored at path.
func NewQueue(path string) *Queue {
	return &Queue{c: newCollection(path, func(t *tasks.Task) string { return t.ID })}
}

// Add appends t to the tail of the queue.
func (q *Queue) Add(t *tasks.Task) error {
	return q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		return append(items, t), nil
	})
}

// PushHead inserts t at the head so it dispatches next.
func (q *Queue) PushHead(t *tasks.Task) error {
	return q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		return append([]*tasks.Task{t}, items...), nil
	})
}

// Pop removes and returns the head of the queue, or nil when empty.
func (q *Queue) Pop() (*tasks.Task, error) {
	var popped *tasks.Task
	err := q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		if len(items) == 0 {
			return items, nil
		}
		popped = items[0]
		return items[1:], nil
	})
	return popped, err
}

// PopReady removes and returns the first task whose earliest_run_at
// hint has passed, keeping queue order for the rest. Returns nil when
// nothing is ready yet.
func (q *Queue) PopReady(now time.Time) (*tasks.Task, error) {
	var popped *tasks.Task
	err := q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		for i, t := range items {
			if t.Ready(now) {
				popped = t
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return items, nil
	})
	return popped, err
}

// Get returns the queued task with the given id.
func (q *Queue) Get(id string) (*tasks.Task, bool) { return q.c.get(id) }

// GetAll returns the queue in dispatch order.
func (q *Queue) GetAll() []*tasks.Task { return q.c.all() }

// Remove deletes the task with the given id, reporting whether it was
// present.
func (q *Queue) Remove(id string) (bool, error) {
	var removed bool
	err := q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		out := items[:0]
		for _, t := range items {
			if t.ID == id {
				removed = true
				continue
			}
			out = append(out, t)
		}
		return out, nil
	})
	return removed, err
}

// MoveToHead moves the task with the given id to the front of the
// queue and clears its earliest_run_at hint so the next tick picks it
// up immediately.
func (q *Queue) MoveToHead(id string) (bool, error) {
	var moved bool
	err := q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		for i, t := range items {
			if t.ID == id {
				moved = true
				t.EarliestRunAt = nil
				rest := append(items[:i], items[i+1:]...)
				return append([]*tasks.Task{t}, rest...), nil
			}
		}
		return items, nil
	})
	return moved, err
}

// Clear empties the queue and returns how many tasks were dropped.
func (q *Queue) Clear() (int, error) {
	var n int
	err := q.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		n = len(items)
		return nil, nil
	})
	return n, err
}

// Count returns the number of queued tasks.
func (q *Queue) Count() int { return q.c.count() }
