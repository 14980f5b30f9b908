package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// envelope is the on-disk shape shared by every collection file.
type envelope[T any] struct {
	Tasks []*T `json:"tasks"`
}

// collection is a JSON file holding a list of records under a "tasks"
// key. Mutations hold an in-process mutex plus the file lock sentinel;
// reads go straight to the file and tolerate a concurrent rename.
type collection[T any] struct {
	path string
	mu   sync.Mutex
	idOf func(*T) string
}

func newCollection[T any](path string, idOf func(*T) string) *collection[T] {
	return &collection[T]{path: path, idOf: idOf}
}

// load reads the backing file. A missing or corrupt file yields an
// empty list; the next successful write repairs it.
func (c *collection[T]) load() []*T {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("storage: unreadable file treated as empty", "path", c.path, "error", err)
		}
		return nil
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("storage: corrupt file treated as empty", "path", c.path, "error", err)
		return nil
	}
	return env.Tasks
}

func (c *collection[T]) save(items []*T) error {
	if items == nil {
		items = []*T{}
	}
	data, err := json.MarshalIndent(envelope[T]{Tasks: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", c.path, err)
	}
	return writeFileAtomic(c.path, data)
}

// mutate applies fn to the current contents under both locks and
// writes the result back.
func (c *collection[T]) mutate(fn func([]*T) ([]*T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock := NewFileLock(c.path)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	out, err := fn(c.load())
	if err != nil {
		return err
	}
	return c.save(out)
}

func (c *collection[T]) get(id string) (*T, bool) {
	for _, item := range c.load() {
		if c.idOf(item) == id {
			return item, true
		}
	}
	return nil, false
}

func (c *collection[T]) all() []*T {
	return c.load()
}

func (c *collection[T]) count() int {
	return len(c.load())
}
