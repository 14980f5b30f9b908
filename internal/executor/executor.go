package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

// Result is the outcome of one run attempt.
type Result struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	DurationMS   *int64   `json:"duration_ms,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	ToolsUsed    []string `json:"tools_used,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Executor runs one task at a time against the agent, keeping the
// storage collections in step with every status transition.
type Executor struct {
	store  *storage.Store
	bus    *events.Bus
	runner agent.Agent

	mu      sync.Mutex
	current *tasks.Task
}

// New builds an executor over the given store, bus and agent runtime.
func New(store *storage.Store, bus *events.Bus, runner agent.Agent) *Executor {
	return &Executor{store: store, bus: bus, runner: runner}
}

// IsExecuting reports whether a run is in flight.
func (e *Executor) IsExecuting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// CurrentTask returns the task currently in flight, or nil.
func (e *Executor) CurrentTask() *tasks.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Execute drives a single task to a terminal state or back to the
// queue for a retry. Failures never escape: they are classified,
// recorded on the task, and reflected in the returned result.
func (e *Executor) Execute(ctx context.Context, t *tasks.Task) *Result {
	if err := t.Validate(); err != nil {
		return e.reject(t, err)
	}

	e.mu.Lock()
	e.current = t
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	now := time.Now()
	transition(t, tasks.StatusRunning)
	t.StartedAt = &now
	t.FinishedAt = nil
	if err := e.store.Running.Add(t); err != nil {
		slog.Error("executor: track running task", "task_id", t.ID, "error", err)
	}
	e.publish(events.TypeTaskStarted, t)
	slog.Info("executor: task started", "task_id", t.ID, "prompt", snippet(t.Prompt))

	runCtx, cancel := context.WithTimeout(ctx, t.Timeout())
	defer cancel()

	res, err := e.run(runCtx, t)
	if err == nil && res.Success {
		return e.complete(t, res)
	}
	if err == nil {
		msg := res.Error
		if msg == "" {
			msg = "unknown error"
		}
		err = errors.New(msg)
	}
	return e.retryOrFail(t, err)
}

// run starts the agent and folds its event stream into a result. Run
// artifacts (files touched, tools used, cost) are stamped onto the
// task as they arrive so even failed attempts keep their diagnostics.
func (e *Executor) run(ctx context.Context, t *tasks.Task) (*Result, error) {
	opts := agent.Options{
		Workspace:    t.Workspace,
		AllowedTools: t.AllowedTools,
		AutoApprove:  t.AutoApprove,
	}
	stream, err := e.runner.Run(ctx, t.Prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	var (
		texts   []string
		files   []string
		used    []string
		meta    *agent.Meta
		isError bool
	)
	for ev := range stream.Events() {
		switch ev.Kind {
		case agent.KindText:
			texts = append(texts, ev.Text)
		case agent.KindToolUse:
			used = appendUnique(used, ev.Tool)
			if ev.Tool == "Write" || ev.Tool == "Edit" {
				if path, _ := ev.Input["file_path"].(string); path != "" {
					files = appendUnique(files, path)
				}
			}
			if agent.IsQuestionTool(ev.Tool) {
				// Nobody is attached to a queued run; unblock the agent
				// with the stock no-answer result right away.
				if err := stream.InjectToolResult(ev.ToolUseID, agent.NoAnswerResult, nil); err != nil {
					slog.Warn("executor: answer question tool", "task_id", t.ID, "error", err)
				}
			}
		case agent.KindError:
			isError = true
			texts = append(texts, ev.Text)
		case agent.KindComplete:
			meta = ev.Meta
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("task execution timeout (%dms)", t.TimeoutMS)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
	}

	message := strings.Join(texts, "")
	if meta != nil {
		isError = isError || meta.IsError
		if message == "" {
			message = meta.Result
		}
	} else if !isError {
		isError = true
		if message == "" {
			message = "agent stream ended without a result"
		}
	}

	res := &Result{
		Success:      !isError,
		Message:      message,
		FilesChanged: files,
		ToolsUsed:    used,
	}
	if meta != nil {
		res.CostUSD = meta.CostUSD
		res.DurationMS = meta.DurationMS
	}
	if !res.Success {
		res.Error = message
	}

	t.FilesChanged = files
	t.ToolsUsed = used
	if meta != nil {
		t.CostUSD = meta.CostUSD
		t.DurationMS = meta.DurationMS
	}
	return res, nil
}

// reject synthesizes a FAILED outcome for a task that never starts:
// validation rejections skip the run and go straight to failed history.
func (e *Executor) reject(t *tasks.Task, verr error) *Result {
	now := time.Now()
	t.Status = tasks.StatusFailed
	t.FinishedAt = &now
	t.Error = verr.Error()
	t.Result = map[string]any{
		"success": false,
		"error":   verr.Error(),
		"errors":  []ErrorRecord{newRecord(verr, map[string]any{"task_id": t.ID})},
	}
	if err := e.store.Failed.Add(t); err != nil {
		slog.Error("executor: record rejected task", "task_id", t.ID, "error", err)
	}
	e.publish(events.TypeTaskFailed, t)
	slog.Error("executor: task rejected", "task_id", t.ID, "error", verr)
	return &Result{Success: false, Message: "task validation failed", Error: verr.Error()}
}

func (e *Executor) complete(t *tasks.Task, res *Result) *Result {
	now := time.Now()
	transition(t, tasks.StatusCompleted)
	t.FinishedAt = &now
	t.Error = ""
	t.Result = map[string]any{"success": true, "message": res.Message}

	if _, err := e.store.Running.Remove(t.ID); err != nil {
		slog.Error("executor: untrack running task", "task_id", t.ID, "error", err)
	}
	if err := e.store.Completed.Add(t); err != nil {
		slog.Error("executor: record completed task", "task_id", t.ID, "error", err)
	}
	e.publish(events.TypeTaskCompleted, t)

	var cost float64
	if t.CostUSD != nil {
		cost = *t.CostUSD
	}
	var dur int64
	if t.DurationMS != nil {
		dur = *t.DurationMS
	}
	slog.Info("executor: task completed", "task_id", t.ID, "duration_ms", dur, "cost_usd", cost)
	return res
}

// retryOrFail classifies the failure and either sends the task back to
// the queue with a backoff hint or moves it to failed history.
func (e *Executor) retryOrFail(t *tasks.Task, runErr error) *Result {
	class := Classify(runErr)
	recs := append(priorRecords(t), newRecord(runErr, map[string]any{"task_id": t.ID}))

	if _, err := e.store.Running.Remove(t.ID); err != nil {
		slog.Error("executor: untrack running task", "task_id", t.ID, "error", err)
	}

	if class.Retryable() && t.Retries < config.MaxRetries {
		t.Retries++
		delay := RetryDelay(t.Retries)
		transition(t, tasks.StatusPending)
		t.StartedAt = nil
		t.FinishedAt = nil
		t.Error = fmt.Sprintf("retry %d/%d: %s", t.Retries, config.MaxRetries, runErr)
		at := time.Now().Add(delay)
		t.EarliestRunAt = &at
		if t.Result == nil {
			t.Result = map[string]any{}
		}
		t.Result["errors"] = recs

		if err := e.store.Queue.Add(t); err != nil {
			slog.Error("executor: requeue task", "task_id", t.ID, "error", err)
		}
		e.publish(events.TypeTaskRetried, t)
		slog.Info("executor: task scheduled for retry",
			"task_id", t.ID, "retries", t.Retries, "class", string(class), "delay", delay.Round(time.Millisecond))
		return &Result{
			Success: false,
			Message: fmt.Sprintf("task will retry (%d/%d)", t.Retries, config.MaxRetries),
			Error:   runErr.Error(),
		}
	}

	now := time.Now()
	status := tasks.StatusFailed
	eventType := events.TypeTaskFailed
	if class == ClassUserCancel {
		status = tasks.StatusCancelled
		eventType = events.TypeTaskCancelled
	}
	transition(t, status)
	t.FinishedAt = &now
	t.Error = runErr.Error()
	t.Result = map[string]any{"success": false, "error": runErr.Error(), "errors": recs}

	if err := e.store.Failed.Add(t); err != nil {
		slog.Error("executor: record failed task", "task_id", t.ID, "error", err)
	}
	e.publish(eventType, t)
	slog.Error("executor: task failed", "task_id", t.ID, "class", string(class), "error", runErr)
	return &Result{
		Success: false,
		Message: fmt.Sprintf("task failed (%s)", class),
		Error:   runErr.Error(),
	}
}

func (e *Executor) publish(typ events.Type, t *tasks.Task) {
	e.bus.Publish(events.NewTask(typ, events.SourceExecutor, t.ID, events.TaskPayload(t)))
}

// transition moves the task to the next status when the state machine
// allows it; illegal moves are logged and skipped.
func transition(t *tasks.Task, to tasks.Status) bool {
	if !tasks.CanTransition(t.Status, to) {
		slog.Warn("executor: illegal status transition",
			"task_id", t.ID, "from", string(t.Status), "to", string(to))
		return false
	}
	t.Status = to
	return true
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= 50 {
		return s
	}
	return string(runes[:50]) + "..."
}
