package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

func newTestExecutor(t *testing.T, runs ...agent.FakeRun) (*Executor, *storage.Store, *agent.Fake) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	fake := agent.NewFake(runs...)
	return New(store, bus, fake), store, fake
}

func TestExecuteCompletesTask(t *testing.T) {
	exec, store, _ := newTestExecutor(t, agent.CompletedRun("hello", 0.05, 1200))
	task := tasks.NewTask("echo hello", "/tmp", 0, false, nil)

	res := exec.Execute(context.Background(), task)
	if !res.Success {
		t.Fatalf("Execute failed: %+v", res)
	}
	if res.Message != "hello" {
		t.Fatalf("Message = %q, want hello", res.Message)
	}

	if task.Status != tasks.StatusCompleted {
		t.Fatalf("Status = %s, want completed", task.Status)
	}
	if task.StartedAt == nil || task.FinishedAt == nil {
		t.Fatal("timestamps not stamped")
	}
	if task.CostUSD == nil || *task.CostUSD != 0.05 {
		t.Fatalf("CostUSD = %v, want 0.05", task.CostUSD)
	}
	if task.DurationMS == nil || *task.DurationMS != 1200 {
		t.Fatalf("DurationMS = %v, want 1200", task.DurationMS)
	}

	if _, ok := store.Completed.Get(task.ID); !ok {
		t.Fatal("task missing from completed history")
	}
	if store.Running.Count() != 0 {
		t.Fatalf("running count = %d after completion", store.Running.Count())
	}
	if exec.IsExecuting() {
		t.Fatal("executor still reports a task in flight")
	}
}

func TestExecuteRejectsInvalidTask(t *testing.T) {
	exec, store, fake := newTestExecutor(t)
	task := tasks.NewTask("   ", "/tmp", 0, false, nil)

	res := exec.Execute(context.Background(), task)
	if res.Success {
		t.Fatal("Execute accepted a blank prompt")
	}
	if task.Status != tasks.StatusFailed {
		t.Fatalf("Status = %s, want failed", task.Status)
	}
	if _, ok := store.Failed.Get(task.ID); !ok {
		t.Fatal("rejected task missing from failed history")
	}
	if len(fake.Prompts()) != 0 {
		t.Fatal("agent was invoked for an invalid task")
	}
}

func TestExecuteRejectsUnknownTool(t *testing.T) {
	exec, store, _ := newTestExecutor(t)
	task := tasks.NewTask("prompt", "/tmp", 0, false, []string{"Hammer"})

	res := exec.Execute(context.Background(), task)
	if res.Success {
		t.Fatal("Execute accepted an unknown tool")
	}
	if !strings.Contains(res.Error, "Hammer") {
		t.Fatalf("Error = %q, want the offending tool named", res.Error)
	}
	if _, ok := store.Failed.Get(task.ID); !ok {
		t.Fatal("rejected task missing from failed history")
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec, store, _ := newTestExecutor(t, agent.FakeRun{Err: errors.New("rate limit exceeded")})
	task := tasks.NewTask("flaky", "/tmp", 0, false, nil)

	res := exec.Execute(context.Background(), task)
	if res.Success {
		t.Fatal("Execute reported success for a failed run")
	}

	got, ok := store.Queue.Get(task.ID)
	if !ok {
		t.Fatal("task not returned to the queue for retry")
	}
	if got.Retries != 1 {
		t.Fatalf("Retries = %d, want 1", got.Retries)
	}
	if got.Status != tasks.StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Fatal("retry did not reset timestamps")
	}
	if got.EarliestRunAt == nil {
		t.Fatal("retry did not record a backoff hint")
	}
	if !got.EarliestRunAt.After(time.Now()) {
		t.Fatalf("EarliestRunAt = %v, want in the future", got.EarliestRunAt)
	}
}

func TestExecuteRetryThenFail(t *testing.T) {
	exec, store, _ := newTestExecutor(t,
		agent.FakeRun{Err: errors.New("rate limit exceeded")},
		agent.FakeRun{Err: errors.New("rate limit exceeded")},
		agent.FakeRun{Err: errors.New("rate limit exceeded")},
	)
	task := tasks.NewTask("always failing", "/tmp", 0, false, nil)

	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		exec.Execute(context.Background(), task)
		got, ok := store.Queue.Get(task.ID)
		if !ok {
			t.Fatalf("attempt %d: task not requeued", attempt)
		}
		if got.Retries != attempt {
			t.Fatalf("attempt %d: Retries = %d", attempt, got.Retries)
		}
		popped, err := store.Queue.Pop()
		if err != nil || popped == nil {
			t.Fatalf("attempt %d: Pop: %v", attempt, err)
		}
		task = popped
	}

	res := exec.Execute(context.Background(), task)
	if res.Success {
		t.Fatal("final attempt reported success")
	}
	if task.Status != tasks.StatusFailed {
		t.Fatalf("Status = %s, want failed", task.Status)
	}

	got, ok := store.Failed.Get(task.ID)
	if !ok {
		t.Fatal("task missing from failed history after exhausting retries")
	}
	if !strings.Contains(got.Error, "rate limit exceeded") {
		t.Fatalf("Error = %q, want the agent message", got.Error)
	}
	recs := priorRecords(got)
	if len(recs) < 3 {
		t.Fatalf("errors array holds %d records, want one per attempt", len(recs))
	}
	if got.Retries > config.MaxRetries {
		t.Fatalf("Retries = %d exceeds the cap", got.Retries)
	}
}

func TestExecuteAdapterErrorResult(t *testing.T) {
	exec, store, _ := newTestExecutor(t, agent.FailedRun("invalid workspace configuration"))
	task := tasks.NewTask("bad workspace", "/tmp", 0, false, nil)

	res := exec.Execute(context.Background(), task)
	if res.Success {
		t.Fatal("Execute reported success for an error result")
	}
	// "invalid" classifies as validation: no retry, straight to failed.
	if _, ok := store.Failed.Get(task.ID); !ok {
		t.Fatal("task missing from failed history")
	}
	if store.Queue.Count() != 0 {
		t.Fatal("validation failure was requeued")
	}
}

func TestExecuteTimeout(t *testing.T) {
	exec, store, _ := newTestExecutor(t, agent.FakeRun{Steps: []agent.FakeStep{
		{Event: agent.Event{Kind: agent.KindText, Text: "never finishes"}, Delay: 5 * time.Second},
	}})
	task := tasks.NewTask("slow", "/tmp", config.MinTimeoutMS, false, nil)

	start := time.Now()
	res := exec.Execute(context.Background(), task)
	if res.Success {
		t.Fatal("Execute reported success after a timeout")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Execute took %v, deadline not enforced", elapsed)
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Fatalf("Error = %q, want a timeout message", res.Error)
	}

	// Timeouts are retryable.
	got, ok := store.Queue.Get(task.ID)
	if !ok {
		t.Fatal("timed-out task not requeued")
	}
	if got.Retries != 1 {
		t.Fatalf("Retries = %d, want 1", got.Retries)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	exec, store, _ := newTestExecutor(t, agent.FakeRun{Steps: []agent.FakeStep{
		{Event: agent.Event{Kind: agent.KindText, Text: "never"}, Delay: 5 * time.Second},
	}})
	task := tasks.NewTask("cancel me", "/tmp", 0, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := exec.Execute(ctx, task)
	if res.Success {
		t.Fatal("Execute reported success after cancel")
	}
	if task.Status != tasks.StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", task.Status)
	}
	if store.Queue.Count() != 0 {
		t.Fatal("cancelled task was requeued")
	}
	if _, ok := store.Failed.Get(task.ID); !ok {
		t.Fatal("cancelled task missing from history")
	}
}

func TestExecuteAnswersQuestionToolWithStockResult(t *testing.T) {
	exec, _, fake := newTestExecutor(t, agent.FakeRun{Steps: []agent.FakeStep{
		{Event: agent.Event{Kind: agent.KindToolUse, ToolUseID: "tu_9", Tool: "AskUserQuestion"}, AwaitInject: true},
		{Event: agent.Event{Kind: agent.KindComplete, Meta: &agent.Meta{Result: "carried on"}}},
	}})
	task := tasks.NewTask("asks a question", "/tmp", 0, false, nil)

	res := exec.Execute(context.Background(), task)
	if !res.Success {
		t.Fatalf("Execute failed: %+v", res)
	}

	injected := fake.Injected()
	if len(injected) != 1 {
		t.Fatalf("injected %d tool results, want 1", len(injected))
	}
	if injected[0].ToolUseID != "tu_9" {
		t.Fatalf("ToolUseID = %q, want tu_9", injected[0].ToolUseID)
	}
	if injected[0].Content != agent.NoAnswerResult {
		t.Fatalf("Content = %q, want the stock no-answer result", injected[0].Content)
	}
}

func TestExecuteCollectsArtifacts(t *testing.T) {
	exec, _, _ := newTestExecutor(t, agent.FakeRun{Steps: []agent.FakeStep{
		{Event: agent.Event{Kind: agent.KindToolUse, ToolUseID: "tu_1", Tool: "Write", Input: map[string]any{"file_path": "/src/a.go"}}},
		{Event: agent.Event{Kind: agent.KindToolUse, ToolUseID: "tu_2", Tool: "Edit", Input: map[string]any{"file_path": "/src/b.go"}}},
		{Event: agent.Event{Kind: agent.KindToolUse, ToolUseID: "tu_3", Tool: "Edit", Input: map[string]any{"file_path": "/src/a.go"}}},
		{Event: agent.Event{Kind: agent.KindText, Text: "done"}},
		{Event: agent.Event{Kind: agent.KindComplete, Meta: &agent.Meta{Result: "done"}}},
	}})
	task := tasks.NewTask("touch files", "/tmp", 0, false, nil)

	res := exec.Execute(context.Background(), task)
	if !res.Success {
		t.Fatalf("Execute failed: %+v", res)
	}
	if len(task.FilesChanged) != 2 {
		t.Fatalf("FilesChanged = %v, want two distinct paths", task.FilesChanged)
	}
	if len(task.ToolsUsed) != 2 {
		t.Fatalf("ToolsUsed = %v, want Write and Edit once each", task.ToolsUsed)
	}
}

func TestExecuteCurrentTask(t *testing.T) {
	exec, _, _ := newTestExecutor(t, agent.FakeRun{Steps: []agent.FakeStep{
		{Event: agent.Event{Kind: agent.KindText, Text: "working"}, Delay: 200 * time.Millisecond},
		{Event: agent.Event{Kind: agent.KindComplete, Meta: &agent.Meta{Result: "ok"}}},
	}})
	task := tasks.NewTask("watch me", "/tmp", 0, false, nil)

	done := make(chan *Result, 1)
	go func() { done <- exec.Execute(context.Background(), task) }()

	deadline := time.After(2 * time.Second)
	for !exec.IsExecuting() {
		select {
		case <-deadline:
			t.Fatal("executor never reported the task in flight")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if got := exec.CurrentTask(); got == nil || got.ID != task.ID {
		t.Fatalf("CurrentTask = %+v, want the running task", got)
	}

	res := <-done
	if !res.Success {
		t.Fatalf("Execute failed: %+v", res)
	}
	if exec.CurrentTask() != nil {
		t.Fatal("CurrentTask not cleared after the run")
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	task := tasks.NewTask("p", "/tmp", 0, false, nil)
	task.Status = tasks.StatusCompleted

	if transition(task, tasks.StatusRunning) {
		t.Fatal("transition allowed completed -> running")
	}
	if task.Status != tasks.StatusCompleted {
		t.Fatalf("Status = %s, terminal state mutated", task.Status)
	}
}
