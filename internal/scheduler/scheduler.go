// Package scheduler runs the polling loop that turns due cron
// definitions into queued tasks and hands queued tasks to the executor
// workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/cron"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/executor"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

// Status is the scheduler lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// ErrNotFound is returned by the immediate-run operations when the
// referenced task or definition does not exist.
var ErrNotFound = errors.New("not found")

// Config holds the scheduler dependencies.
type Config struct {
	Store *storage.Store
	Bus   *events.Bus
	// NewExecutor builds one executor per worker slot.
	NewExecutor func() *executor.Executor
	// PollInterval defaults to config.DefaultPollInterval.
	PollInterval time.Duration
	// Workers is the executor count, default 1. Every worker still runs
	// one task at a time.
	Workers int
}

type worker struct {
	exec *executor.Executor
	busy atomic.Bool
}

// Scheduler owns the poll loop. Start and Stop are idempotent in the
// sense of the status machine: a second Start while non-stopped reports
// false, as does Stop while not running.
type Scheduler struct {
	store    *storage.Store
	bus      *events.Bus
	interval time.Duration
	workers  []*worker

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	kick chan struct{}
	wg   sync.WaitGroup
}

// New builds a stopped scheduler.
func New(cfg Config) *Scheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	n := cfg.Workers
	if n <= 0 {
		n = 1
	}
	workers := make([]*worker, n)
	for i := range workers {
		workers[i] = &worker{exec: cfg.NewExecutor()}
	}
	return &Scheduler{
		store:    cfg.Store,
		bus:      cfg.Bus,
		interval: interval,
		workers:  workers,
		status:   StatusStopped,
		kick:     make(chan struct{}, 1),
	}
}

// Status returns the lifecycle state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start brings the loop up. It reports false when the scheduler is
// already running (or mid-transition).
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.status != StatusStopped {
		s.mu.Unlock()
		return false
	}
	s.status = StatusStarting
	s.mu.Unlock()

	s.sweepStaleRunning()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.status = StatusRunning
	s.mu.Unlock()

	go s.loop(ctx, done)

	s.bus.Publish(events.New(events.TypeSchedulerStarted, events.SourceScheduler,
		events.SchedulerPayload(string(StatusRunning))))
	slog.Info("scheduler: started", "poll_interval", s.interval, "workers", len(s.workers))
	return true
}

// Stop shuts the loop down and waits up to config.ShutdownWait for
// in-flight tasks. An overrun leaves the task running; the boot sweep
// reclaims it on the next Start.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return false
	}
	s.status = StatusStopping
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	settled := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(config.ShutdownWait):
		slog.Warn("scheduler: shutdown wait elapsed with work in flight")
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()

	s.bus.Publish(events.New(events.TypeSchedulerStopped, events.SourceScheduler,
		events.SchedulerPayload(string(StatusStopped))))
	slog.Info("scheduler: stopped")
	return true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		case <-s.kick:
			s.tick(time.Now())
		}
	}
}

// tick is one pass of the loop: materialise due definitions, then hand
// ready queue entries to idle workers.
func (s *Scheduler) tick(now time.Time) {
	s.materialiseDue(now)
	s.dispatch(now)
}

// materialiseDue emits a queue task for every enabled definition whose
// next run has arrived, then advances the definition's bookkeeping.
func (s *Scheduler) materialiseDue(now time.Time) {
	for _, st := range s.store.Scheduled.Enabled() {
		if st.NextRun == nil {
			// Definitions saved before their first next-run computation
			// are healed here rather than silently never firing.
			s.advance(st, now)
			continue
		}
		if !st.Due(now) {
			continue
		}

		task := st.Materialise()
		if err := s.store.Queue.Add(task); err != nil {
			slog.Error("scheduler: queue scheduled task", "scheduled_id", st.ID, "error", err)
			continue
		}
		s.bus.Publish(events.NewTask(events.TypeTaskQueued, events.SourceScheduler, task.ID, events.TaskPayload(task)))
		s.bus.Publish(events.New(events.TypeScheduleTrigger, events.SourceScheduler, events.TriggerPayload(st, task.ID)))

		st.LastRun = &now
		st.RunCount++
		s.advance(st, now)
		slog.Info("scheduler: materialised scheduled task",
			"scheduled_id", st.ID, "name", st.Name, "task_id", task.ID, "run_count", st.RunCount)
	}
}

// advance recomputes the definition's next run from now and saves it.
func (s *Scheduler) advance(st *tasks.ScheduledTask, now time.Time) {
	next, err := cron.Next(st.Cron, now)
	if err != nil {
		slog.Warn("scheduler: definition has no next fire time",
			"scheduled_id", st.ID, "cron", st.Cron, "error", err)
		st.NextRun = nil
	} else {
		st.NextRun = &next
	}
	if err := s.store.Scheduled.Save(st); err != nil {
		slog.Error("scheduler: save definition", "scheduled_id", st.ID, "error", err)
	}
}

// dispatch hands at most one ready task to every idle worker.
func (s *Scheduler) dispatch(now time.Time) {
	for _, w := range s.workers {
		if w.busy.Load() {
			continue
		}
		task, err := s.store.Queue.PopReady(now)
		if err != nil {
			slog.Error("scheduler: pop queue", "error", err)
			return
		}
		if task == nil {
			return
		}

		w.busy.Store(true)
		s.wg.Add(1)
		go func(w *worker, task *tasks.Task) {
			defer s.wg.Done()
			defer w.busy.Store(false)
			w.exec.Execute(context.Background(), task)
		}(w, task)
	}
}

// kickNow nudges the loop to run a tick without waiting for the ticker.
func (s *Scheduler) kickNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RunTaskNow moves a queued task to the head of the queue so the next
// dispatch picks it first.
func (s *Scheduler) RunTaskNow(taskID string) error {
	moved, err := s.store.Queue.MoveToHead(taskID)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("%w: task %s not queued", ErrNotFound, taskID)
	}
	s.kickNow()
	slog.Info("scheduler: task moved to queue head", "task_id", taskID)
	return nil
}

// RunScheduledNow materialises a definition immediately, skipping its
// last-run/next-run bookkeeping, and returns the new task's id.
func (s *Scheduler) RunScheduledNow(scheduledID string) (string, error) {
	st, ok := s.store.Scheduled.Get(scheduledID)
	if !ok {
		return "", fmt.Errorf("%w: scheduled task %s", ErrNotFound, scheduledID)
	}

	task := st.Materialise()
	if err := s.store.Queue.PushHead(task); err != nil {
		return "", err
	}
	s.bus.Publish(events.NewTask(events.TypeTaskQueued, events.SourceScheduler, task.ID, events.TaskPayload(task)))
	s.bus.Publish(events.New(events.TypeScheduleTrigger, events.SourceScheduler, events.TriggerPayload(st, task.ID)))
	s.kickNow()
	slog.Info("scheduler: scheduled task triggered manually", "scheduled_id", st.ID, "task_id", task.ID)
	return task.ID, nil
}

// sweepStaleRunning returns tasks stranded in the running collection by
// a previous crash to the queue head as pending.
func (s *Scheduler) sweepStaleRunning() {
	stale := s.store.Running.GetAll()
	for i := len(stale) - 1; i >= 0; i-- {
		task := stale[i]
		if _, err := s.store.Running.Remove(task.ID); err != nil {
			slog.Error("scheduler: sweep stale task", "task_id", task.ID, "error", err)
			continue
		}
		task.Status = tasks.StatusPending
		task.StartedAt = nil
		task.FinishedAt = nil
		if err := s.store.Queue.PushHead(task); err != nil {
			slog.Error("scheduler: requeue stale task", "task_id", task.ID, "error", err)
			continue
		}
		slog.Warn("scheduler: requeued stale running task", "task_id", task.ID)
	}
}

// Info is the status snapshot reported to the gateway.
type Info struct {
	Status                Status    `json:"status"`
	PollInterval          float64   `json:"poll_interval"`
	QueueCount            int       `json:"queue_count"`
	ScheduledCount        int       `json:"scheduled_count"`
	EnabledScheduledCount int       `json:"enabled_scheduled_count"`
	RunningCount          int       `json:"running_count"`
	IsExecuting           bool      `json:"is_executing"`
	CurrentTaskID         string    `json:"current_task_id,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Snapshot reports the loop state and collection counts.
func (s *Scheduler) Snapshot() Info {
	info := Info{
		Status:                s.Status(),
		PollInterval:          s.interval.Seconds(),
		QueueCount:            s.store.Queue.Count(),
		ScheduledCount:        s.store.Scheduled.Count(),
		EnabledScheduledCount: s.store.Scheduled.EnabledCount(),
		RunningCount:          s.store.Running.Count(),
		UpdatedAt:             time.Now().UTC(),
	}
	for _, w := range s.workers {
		if t := w.exec.CurrentTask(); t != nil {
			info.IsExecuting = true
			if info.CurrentTaskID == "" {
				info.CurrentTaskID = t.ID
			}
		}
	}
	return info
}
