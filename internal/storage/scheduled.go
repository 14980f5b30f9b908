package storage

import (
	"github.com/droverhq/drover/internal/tasks"
)

// Scheduled holds the cron task definitions backed by scheduled.json.
type Scheduled struct {
	c *collection[tasks.ScheduledTask]
}

// NewScheduled returns a Scheduled store at path.
func NewScheduled(path string) *Scheduled {
	return &Scheduled{c: newCollection(path, func(st *tasks.ScheduledTask) string { return st.ID })}
}

// Save inserts st, or replaces the definition with the same id.
func (s *Scheduled) Save(st *tasks.ScheduledTask) error {
	return s.c.mutate(func(items []*tasks.ScheduledTask) ([]*tasks.ScheduledTask, error) {
		for i, existing := range items {
			if existing.ID == st.ID {
				items[i] = st
				return items, nil
			}
		}
		return append(items, st), nil
	})
}

// Get returns the definition with the given id.
func (s *Scheduled) Get(id string) (*tasks.ScheduledTask, bool) { return s.c.get(id) }

// GetAll returns every definition.
func (s *Scheduled) GetAll() []*tasks.ScheduledTask { return s.c.all() }

// Enabled returns the definitions eligible for dispatch.
func (s *Scheduled) Enabled() []*tasks.ScheduledTask {
	var out []*tasks.ScheduledTask
	for _, st := range s.c.all() {
		if st.Enabled {
			out = append(out, st)
		}
	}
	return out
}

// Delete removes the definition with the given id, reporting whether
// it was present.
func (s *Scheduled) Delete(id string) (bool, error) {
	var removed bool
	err := s.c.mutate(func(items []*tasks.ScheduledTask) ([]*tasks.ScheduledTask, error) {
		out := items[:0]
		for _, st := range items {
			if st.ID == id {
				removed = true
				continue
			}
			out = append(out, st)
		}
		return out, nil
	})
	return removed, err
}

// Count returns the number of definitions.
func (s *Scheduled) Count() int { return s.c.count() }

// EnabledCount returns the number of enabled definitions.
func (s *Scheduled) EnabledCount() int { return len(s.Enabled()) }
