// Package heartbeat maintains a liveness file for the drover server.
// The serve process rewrites it every 30 seconds; CLI and MCP callers
// read it to tell a live server from a crashed one.
package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Interval is how often the writer refreshes the file.
const Interval = 30 * time.Second

// Status classifies the server's liveness.
type Status string

const (
	// StatusAlive means the file was refreshed within maxAge.
	StatusAlive Status = "alive"
	// StatusStale means the file exists but stopped refreshing, which
	// usually points at a crashed server.
	StatusStale Status = "stale"
	// StatusDead means no readable file, so no server.
	StatusDead Status = "dead"
)

// Heartbeat is the JSON record written to the liveness file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Writer rewrites the liveness file on a fixed interval until stopped.
type Writer struct {
	path    string
	started time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewWriter returns a writer targeting path. Nothing is written until
// Start.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Start writes an immediate heartbeat and begins the refresh loop.
// Calling Start on a running writer is a no-op.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return
	}

	w.started = time.Now()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	w.write()
	go w.loop(w.stop, w.done)
}

func (w *Writer) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.write()
		case <-stop:
			return
		}
	}
}

// Stop ends the refresh loop and removes the file, so a clean shutdown
// reads as dead rather than stale.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop == nil {
		return
	}

	close(w.stop)
	<-w.done
	w.stop = nil

	os.Remove(w.path)
}

func (w *Writer) snapshot() Heartbeat {
	return Heartbeat{
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
}

// write lands the record via a temp file and rename, so readers never
// see a torn heartbeat.
func (w *Writer) write() {
	raw, err := json.MarshalIndent(w.snapshot(), "", "  ")
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), "heartbeat-*")
	if err != nil {
		return
	}
	name := tmp.Name()
	_, werr := tmp.Write(raw)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(name)
		return
	}
	if err := os.Rename(name, w.path); err != nil {
		os.Remove(name)
	}
}

// Check classifies the file at path: dead when missing, stale when the
// last write is older than maxAge, alive otherwise.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return StatusDead, nil, nil
	case err != nil:
		return StatusDead, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var rec Heartbeat
	if err := json.Unmarshal(raw, &rec); err != nil {
		return StatusDead, nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if time.Since(rec.Timestamp) > maxAge {
		return StatusStale, &rec, nil
	}
	return StatusAlive, &rec, nil
}
