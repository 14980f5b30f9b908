// Package tasks defines the task and scheduled-task models shared by the
// storage, executor, and scheduler layers.
package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/config"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validTransitions is the allowed state machine. Completed and cancelled are
// terminal.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusPending, StatusCancelled},
	StatusFailed:    {StatusPending, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Task is a one-shot unit of work targeted at the coding agent.
type Task struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Workspace    string   `json:"workspace"`
	TimeoutMS    int      `json:"timeout_ms"`
	AutoApprove  bool     `json:"auto_approve"`
	AllowedTools []string `json:"allowed_tools,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	EarliestRunAt *time.Time `json:"earliest_run_at,omitempty"` // retry backoff hint
	Retries       int        `json:"retries"`
	Status        Status     `json:"status"`

	Scheduled   bool   `json:"scheduled"`
	ScheduledID string `json:"scheduled_id,omitempty"`

	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	FilesChanged []string       `json:"files_changed,omitempty"`
	ToolsUsed    []string       `json:"tools_used,omitempty"`
	CostUSD      *float64       `json:"cost_usd,omitempty"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
}

// UnmarshalJSON tolerates legacy rows: a missing created_at is backfilled to
// now so downstream ordering never sees a zero time.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := (*alias)(t)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	return nil
}

// Timeout returns the execution deadline as a duration.
func (t *Task) Timeout() time.Duration {
	if t.TimeoutMS <= 0 {
		return time.Duration(config.DefaultTimeoutMS) * time.Millisecond
	}
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// Ready reports whether the task may be dispatched at the given time,
// honouring the retry backoff hint.
func (t *Task) Ready(now time.Time) bool {
	return t.EarliestRunAt == nil || !now.Before(*t.EarliestRunAt)
}

// NewTask builds a pending task with defaults filled in.
func NewTask(prompt, workspace string, timeoutMS int, autoApprove bool, allowedTools []string) *Task {
	if workspace == "" {
		workspace = "."
	}
	if timeoutMS == 0 {
		timeoutMS = config.DefaultTimeoutMS
	}
	return &Task{
		ID:           uuid.New().String(),
		Prompt:       prompt,
		Workspace:    workspace,
		TimeoutMS:    timeoutMS,
		AutoApprove:  autoApprove,
		AllowedTools: allowedTools,
		CreatedAt:    time.Now(),
		Status:       StatusPending,
	}
}

// ScheduledTask is a cron template that emits Tasks.
type ScheduledTask struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Prompt       string   `json:"prompt"`
	Cron         string   `json:"cron"`
	Workspace    string   `json:"workspace"`
	TimeoutMS    int      `json:"timeout_ms"`
	AutoApprove  bool     `json:"auto_approve"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	Enabled      bool     `json:"enabled"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	RunCount  int        `json:"run_count"`
}

// UnmarshalJSON backfills created_at on legacy rows, mirroring Task.
func (s *ScheduledTask) UnmarshalJSON(data []byte) error {
	type alias ScheduledTask
	aux := (*alias)(s)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return nil
}

// Due reports whether the stored next_run has been reached. It is total:
// a nil next_run is never due.
func (s *ScheduledTask) Due(now time.Time) bool {
	return s.NextRun != nil && !now.Before(*s.NextRun)
}

// Materialise emits a pending Task from the template. The task records its
// provenance through Scheduled/ScheduledID.
func (s *ScheduledTask) Materialise() *Task {
	t := NewTask(s.Prompt, s.Workspace, s.TimeoutMS, s.AutoApprove, s.AllowedTools)
	t.Scheduled = true
	t.ScheduledID = s.ID
	return t
}

// NewScheduledTask builds a scheduled-task template.
func NewScheduledTask(name, prompt, cron, workspace string, timeoutMS int, autoApprove bool, allowedTools []string) *ScheduledTask {
	if workspace == "" {
		workspace = "."
	}
	if timeoutMS == 0 {
		timeoutMS = config.DefaultTimeoutMS
	}
	now := time.Now()
	return &ScheduledTask{
		ID:           uuid.New().String(),
		Name:         name,
		Prompt:       prompt,
		Cron:         cron,
		Workspace:    workspace,
		TimeoutMS:    timeoutMS,
		AutoApprove:  autoApprove,
		AllowedTools: allowedTools,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
