package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/droverhq/drover/internal/events"
)

// EventLogger appends every bus event to a JSONL audit file in the
// data directory. Writes are best-effort; a failed append is logged
// and dropped.
type EventLogger struct {
	mu     sync.Mutex
	path   string
	detach func()
}

// NewEventLogger subscribes to all bus events and writes them to
// events.jsonl under dir.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	l := &EventLogger{path: filepath.Join(dir, "events.jsonl")}
	l.detach = bus.Subscribe(l.record)
	return l
}

// Close unsubscribes the logger from the bus.
func (l *EventLogger) Close() {
	if l.detach != nil {
		l.detach()
	}
}

// Path returns the audit file location.
func (l *EventLogger) Path() string { return l.path }

func (l *EventLogger) record(e events.Event) {
	if err := l.append(e); err != nil {
		slog.Warn("storage: audit append failed", "path", l.path, "error", err)
	}
}

func (l *EventLogger) append(e events.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	// Bus handlers run concurrently; serialize appends.
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}
