package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/droverhq/drover/internal/events"
)

// CostSnapshot is the accumulated agent spend.
type CostSnapshot struct {
	TotalUSD float64            `json:"total_usd"`
	Days     map[string]float64 `json:"days"`
}

// CostTracker listens for finished task events and accumulates their
// reported cost per UTC day, persisted to costs.json.
type CostTracker struct {
	mu          sync.Mutex
	path        string
	total       float64
	days        map[string]float64
	unsubscribe func()
}

// NewCostTracker loads the existing rollup from dir and subscribes to
// completed and failed task events.
func NewCostTracker(dir string, bus *events.Bus) *CostTracker {
	ct := &CostTracker{
		path: filepath.Join(dir, "costs.json"),
		days: make(map[string]float64),
	}
	ct.load()
	ct.unsubscribe = bus.Subscribe(ct.handleEvent, events.TypeTaskCompleted, events.TypeTaskFailed)
	return ct
}

// Close unsubscribes the tracker from the bus.
func (ct *CostTracker) Close() {
	if ct.unsubscribe != nil {
		ct.unsubscribe()
	}
}

// Snapshot returns a copy of the accumulated totals.
func (ct *CostTracker) Snapshot() CostSnapshot {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	days := make(map[string]float64, len(ct.days))
	for day, usd := range ct.days {
		days[day] = usd
	}
	return CostSnapshot{TotalUSD: ct.total, Days: days}
}

func (ct *CostTracker) handleEvent(e events.Event) {
	cost, ok := e.Payload["cost_usd"].(float64)
	if !ok || cost <= 0 {
		return
	}
	day := e.Timestamp.UTC().Format("2006-01-02")

	ct.mu.Lock()
	ct.days[day] += cost
	ct.total += cost
	err := ct.saveLocked()
	ct.mu.Unlock()

	if err != nil {
		slog.Warn("storage: cost rollup write failed", "path", ct.path, "error", err)
	}
}

func (ct *CostTracker) load() {
	data, err := os.ReadFile(ct.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("storage: unreadable cost rollup treated as empty", "path", ct.path, "error", err)
		}
		return
	}
	var snap CostSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("storage: corrupt cost rollup treated as empty", "path", ct.path, "error", err)
		return
	}
	ct.total = snap.TotalUSD
	if snap.Days != nil {
		ct.days = snap.Days
	}
}

func (ct *CostTracker) saveLocked() error {
	data, err := json.MarshalIndent(CostSnapshot{TotalUSD: ct.total, Days: ct.days}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(ct.path, data)
}
