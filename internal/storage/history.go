package storage

import (
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/tasks"
)

// Page is one page of task history plus pagination bookkeeping.
type Page struct {
	Items []*tasks.Task `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Pages int           `json:"pages"`
}

// History is a newest-first archive capped at a fixed size, backing
// completed.json and failed.json.
type History struct {
	c     *collection[tasks.Task]
	limit int
}

// NewHistory returns a History store at path keeping at most limit
// entries. A non-positive limit falls back to the default cap.
func NewHistory(path string, limit int) *History {
	if limit <= 0 {
		limit = config.MaxHistory
	}
	return &History{
		c:     newCollection(path, func(t *tasks.Task) string { return t.ID }),
		limit: limit,
	}
}

// Add prepends t and drops the oldest entries beyond the cap.
func (h *History) Add(t *tasks.Task) error {
	return h.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		items = append([]*tasks.Task{t}, items...)
		if len(items) > h.limit {
			items = items[:h.limit]
		}
		return items, nil
	})
}

// Page returns one page, newest first. Limits are clamped to
// 1..MaxPageLimit with DefaultPageLimit as the fallback, and page
// numbers below 1 read as 1. Pages past the end come back empty.
func (h *History) Page(page, limit int) Page {
	if limit <= 0 {
		limit = config.DefaultPageLimit
	}
	if limit > config.MaxPageLimit {
		limit = config.MaxPageLimit
	}
	if page < 1 {
		page = 1
	}

	items := h.c.all()
	total := len(items)
	pages := (total + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := items[start:end]
	if out == nil {
		out = []*tasks.Task{}
	}
	return Page{Items: out, Total: total, Page: page, Limit: limit, Pages: pages}
}

// Get returns the archived task with the given id.
func (h *History) Get(id string) (*tasks.Task, bool) { return h.c.get(id) }

// GetAll returns the archive newest first.
func (h *History) GetAll() []*tasks.Task { return h.c.all() }

// Remove deletes the task with the given id, reporting whether it was
// present.
func (h *History) Remove(id string) (bool, error) {
	var removed bool
	err := h.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
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

// Clear empties the archive and returns how many entries were dropped.
func (h *History) Clear() (int, error) {
	var n int
	err := h.c.mutate(func(items []*tasks.Task) ([]*tasks.Task, error) {
		n = len(items)
		return nil, nil
	})
	return n, err
}

// Count returns the number of archived tasks.
func (h *History) Count() int { return h.c.count() }
