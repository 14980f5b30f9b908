package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/executor"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/sessions"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

type testGateway struct {
	srv   *Server
	store *storage.Store
	bus   *events.Bus
	fake  *agent.Fake
	mgr   *sessions.Manager
	sched *scheduler.Scheduler
	root  string
}

func newTestGateway(t *testing.T, runs ...agent.FakeRun) *testGateway {
	t.Helper()

	cfg := config.Default()
	cfg.Data.Dir = t.TempDir()
	cfg.Workspace.Root = t.TempDir()
	cfg.Scheduler.PollInterval = config.Duration(50 * time.Millisecond)

	store, err := storage.Open(cfg.Data.Dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	fake := agent.NewFake(runs...)
	mgr := sessions.NewManager(sessions.Config{Agent: fake, Bus: bus})
	t.Cleanup(mgr.Close)

	sched := scheduler.New(scheduler.Config{
		Store: store,
		Bus:   bus,
		NewExecutor: func() *executor.Executor {
			return executor.New(store, bus, fake)
		},
		PollInterval: cfg.Scheduler.PollInterval.Duration(),
	})
	t.Cleanup(func() { sched.Stop() })

	srv := New(Deps{
		Config:    cfg,
		Store:     store,
		Scheduler: sched,
		Sessions:  mgr,
		Bus:       bus,
	})
	t.Cleanup(srv.hub.Close)

	return &testGateway{
		srv:   srv,
		store: store,
		bus:   bus,
		fake:  fake,
		mgr:   mgr,
		sched: sched,
		root:  cfg.Workspace.Root,
	}
}

// doJSON drives one request through the router and decodes the
// response envelope.
func (g *testGateway) doJSON(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	g.srv.Handler().ServeHTTP(w, req)

	var env apiEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, w.Body.String())
	}
	return w, env
}

func decodeData[T any](t *testing.T, env apiEnvelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v (data %s)", err, string(env.Data))
	}
	return out
}

// waitForEvents polls the bus history until at least n events arrive.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
	data := decodeData[map[string]string](t, env)
	if data["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", data["status"])
	}
}

func TestCreateTask(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/tasks", map[string]any{
		"prompt": "update the dependency list",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (error %q)", w.Code, env.Error)
	}
	task := decodeData[tasks.Task](t, env)
	if task.ID == "" {
		t.Fatal("expected a task id")
	}
	if task.Status != tasks.StatusPending {
		t.Fatalf("expected status %q, got %q", tasks.StatusPending, task.Status)
	}
	if task.Workspace != g.root {
		t.Fatalf("expected workspace %q, got %q", g.root, task.Workspace)
	}
	if got := g.store.Queue.Count(); got != 1 {
		t.Fatalf("expected 1 queued task, got %d", got)
	}

	waitForEvents(g.bus, 1)
	history := g.bus.History(10)
	if len(history) == 0 || history[len(history)-1].Type != events.TypeTaskQueued {
		t.Fatalf("expected a task.queued event, got %v", history)
	}
}

func TestCreateTask_EmptyPrompt(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/tasks", map[string]any{"prompt": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.Success {
		t.Fatal("expected success=false")
	}
	if env.Code != CodeValidation {
		t.Fatalf("expected code %q, got %q", CodeValidation, env.Code)
	}
}

func TestCreateTask_UnknownTool(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/tasks", map[string]any{
		"prompt":        "run the linter",
		"allowed_tools": []string{"Hammer"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.Code != CodeInvalidTool {
		t.Fatalf("expected code %q, got %q", CodeInvalidTool, env.Code)
	}
}

func TestCreateTask_WorkspaceOutsideRoot(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/tasks", map[string]any{
		"prompt":    "poke around",
		"workspace": "/etc",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.Code != CodeInvalidWorkspace {
		t.Fatalf("expected code %q, got %q", CodeInvalidWorkspace, env.Code)
	}
	if got := g.store.Queue.Count(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestGetTask(t *testing.T) {
	g := newTestGateway(t)

	task := tasks.NewTask("inspect the build", g.root, 0, false, nil)
	if err := g.store.Queue.Add(task); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	w, env := g.doJSON(t, http.MethodGet, "/api/tasks/"+task.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data := decodeData[struct {
		Task       tasks.Task `json:"task"`
		Collection string     `json:"collection"`
	}](t, env)
	if data.Task.ID != task.ID {
		t.Fatalf("expected id %q, got %q", task.ID, data.Task.ID)
	}
	if data.Collection != "queue" {
		t.Fatalf("expected collection %q, got %q", "queue", data.Collection)
	}

	w, env = g.doJSON(t, http.MethodGet, "/api/tasks/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if env.Code != CodeTaskNotFound {
		t.Fatalf("expected code %q, got %q", CodeTaskNotFound, env.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	g := newTestGateway(t)

	task := tasks.NewTask("remove me", g.root, 0, false, nil)
	if err := g.store.Queue.Add(task); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	w, _ := g.doJSON(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := g.store.Queue.Count(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}

	w, env := g.doJSON(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", w.Code)
	}
	if env.Code != CodeTaskNotFound {
		t.Fatalf("expected code %q, got %q", CodeTaskNotFound, env.Code)
	}
}

func TestDeleteTask_Running(t *testing.T) {
	g := newTestGateway(t)

	task := tasks.NewTask("busy task", g.root, 0, false, nil)
	task.Status = tasks.StatusRunning
	if err := g.store.Running.Add(task); err != nil {
		t.Fatalf("seed running: %v", err)
	}

	w, env := g.doJSON(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
	if env.Success {
		t.Fatal("expected success=false")
	}
	if got := g.store.Running.Count(); got != 1 {
		t.Fatalf("expected running task to survive, got count %d", got)
	}
}

func TestClearQueue(t *testing.T) {
	g := newTestGateway(t)

	for _, p := range []string{"one", "two", "three"} {
		if err := g.store.Queue.Add(tasks.NewTask(p, g.root, 0, false, nil)); err != nil {
			t.Fatalf("seed queue: %v", err)
		}
	}

	w, env := g.doJSON(t, http.MethodDelete, "/api/tasks/clear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data := decodeData[map[string]int](t, env)
	if data["cleared"] != 3 {
		t.Fatalf("expected 3 cleared, got %d", data["cleared"])
	}
	if got := g.store.Queue.Count(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestRunTaskNow(t *testing.T) {
	g := newTestGateway(t)

	first := tasks.NewTask("first in line", g.root, 0, false, nil)
	second := tasks.NewTask("cut the line", g.root, 0, false, nil)
	if err := g.store.Queue.Add(first); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	if err := g.store.Queue.Add(second); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	w, _ := g.doJSON(t, http.MethodPost, "/api/tasks/"+second.ID+"/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	queue := g.store.Queue.GetAll()
	if len(queue) != 2 || queue[0].ID != second.ID {
		t.Fatalf("expected %s at the head, got %v", second.ID, queue)
	}

	w, env := g.doJSON(t, http.MethodPost, "/api/tasks/nope/run", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if env.Code != CodeTaskNotFound {
		t.Fatalf("expected code %q, got %q", CodeTaskNotFound, env.Code)
	}
}

func TestListHistory(t *testing.T) {
	g := newTestGateway(t)

	done := tasks.NewTask("archived", g.root, 0, false, nil)
	done.Status = tasks.StatusCompleted
	if err := g.store.Completed.Add(done); err != nil {
		t.Fatalf("seed completed: %v", err)
	}

	w, env := g.doJSON(t, http.MethodGet, "/api/tasks/completed?page=1&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	page := decodeData[storage.Page](t, env)
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected one completed task, got total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].ID != done.ID {
		t.Fatalf("expected id %q, got %q", done.ID, page.Items[0].ID)
	}
}

func TestScheduledLifecycle(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/scheduled-tasks", map[string]any{
		"name":   "nightly-sync",
		"prompt": "sync the mirrors",
		"cron":   "0 3 * * *",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (error %q)", w.Code, env.Error)
	}
	def := decodeData[tasks.ScheduledTask](t, env)
	if !def.Enabled {
		t.Fatal("expected new definition to be enabled")
	}
	if def.NextRun == nil {
		t.Fatal("expected next_run to be computed")
	}

	w, env = g.doJSON(t, http.MethodGet, "/api/scheduled-tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	list := decodeData[[]tasks.ScheduledTask](t, env)
	if len(list) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(list))
	}

	// Disabling clears next_run.
	w, env = g.doJSON(t, http.MethodPatch, "/api/scheduled-tasks/"+def.ID, map[string]any{
		"enabled": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (error %q)", w.Code, env.Error)
	}
	updated := decodeData[tasks.ScheduledTask](t, env)
	if updated.Enabled {
		t.Fatal("expected definition to be disabled")
	}
	if updated.NextRun != nil {
		t.Fatalf("expected next_run to be cleared, got %v", updated.NextRun)
	}

	// Toggle re-enables and restores next_run.
	w, env = g.doJSON(t, http.MethodPost, "/api/scheduled-tasks/"+def.ID+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	toggled := decodeData[tasks.ScheduledTask](t, env)
	if !toggled.Enabled {
		t.Fatal("expected definition to be enabled after toggle")
	}
	if toggled.NextRun == nil {
		t.Fatal("expected next_run to be recomputed after toggle")
	}

	w, _ = g.doJSON(t, http.MethodDelete, "/api/scheduled-tasks/"+def.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	w, env = g.doJSON(t, http.MethodDelete, "/api/scheduled-tasks/"+def.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", w.Code)
	}
	if env.Code != CodeTaskNotFound {
		t.Fatalf("expected code %q, got %q", CodeTaskNotFound, env.Code)
	}
}

func TestCreateScheduled_InvalidCron(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/scheduled-tasks", map[string]any{
		"name":   "broken",
		"prompt": "never runs",
		"cron":   "not a cron",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.Code != CodeInvalidCron {
		t.Fatalf("expected code %q, got %q", CodeInvalidCron, env.Code)
	}
}

func TestUpdateScheduled_CronChangeRecomputesNextRun(t *testing.T) {
	g := newTestGateway(t)

	_, env := g.doJSON(t, http.MethodPost, "/api/scheduled-tasks", map[string]any{
		"name":   "report",
		"prompt": "write the report",
		"cron":   "0 9 * * 1",
	})
	def := decodeData[tasks.ScheduledTask](t, env)
	before := def.NextRun

	w, env := g.doJSON(t, http.MethodPatch, "/api/scheduled-tasks/"+def.ID, map[string]any{
		"cron": "30 18 * * 5",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (error %q)", w.Code, env.Error)
	}
	updated := decodeData[tasks.ScheduledTask](t, env)
	if updated.Cron != "30 18 * * 5" {
		t.Fatalf("expected cron to change, got %q", updated.Cron)
	}
	if updated.NextRun == nil {
		t.Fatal("expected next_run to be recomputed")
	}
	if before != nil && updated.NextRun.Equal(*before) {
		t.Fatalf("expected next_run to move, still %v", updated.NextRun)
	}
	if updated.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be stamped")
	}
}

func TestRunScheduledNow(t *testing.T) {
	g := newTestGateway(t)

	_, env := g.doJSON(t, http.MethodPost, "/api/scheduled-tasks", map[string]any{
		"name":   "on-demand",
		"prompt": "refresh the cache",
		"cron":   "0 0 1 1 *",
	})
	def := decodeData[tasks.ScheduledTask](t, env)

	w, env := g.doJSON(t, http.MethodPost, "/api/scheduled-tasks/"+def.ID+"/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (error %q)", w.Code, env.Error)
	}
	data := decodeData[map[string]string](t, env)
	if data["task_id"] == "" {
		t.Fatal("expected a materialised task id")
	}

	queue := g.store.Queue.GetAll()
	if len(queue) != 1 || queue[0].ID != data["task_id"] {
		t.Fatalf("expected the task at the queue head, got %v", queue)
	}
	// Manual runs leave the bookkeeping untouched.
	stored, ok := g.store.Scheduled.Get(def.ID)
	if !ok {
		t.Fatal("definition disappeared")
	}
	if stored.RunCount != 0 {
		t.Fatalf("expected run_count 0, got %d", stored.RunCount)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	g := newTestGateway(t)

	w, _ := g.doJSON(t, http.MethodPost, "/api/scheduler/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w, env := g.doJSON(t, http.MethodPost, "/api/scheduler/start", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on double start, got %d", w.Code)
	}
	if env.Code != CodeSchedulerRunning {
		t.Fatalf("expected code %q, got %q", CodeSchedulerRunning, env.Code)
	}

	w, env = g.doJSON(t, http.MethodGet, "/api/scheduler/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	info := decodeData[scheduler.Info](t, env)
	if info.Status != scheduler.StatusRunning {
		t.Fatalf("expected status %q, got %q", scheduler.StatusRunning, info.Status)
	}

	w, _ = g.doJSON(t, http.MethodPost, "/api/scheduler/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w, env = g.doJSON(t, http.MethodPost, "/api/scheduler/stop", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on double stop, got %d", w.Code)
	}
	if env.Code != CodeSchedulerStopped {
		t.Fatalf("expected code %q, got %q", CodeSchedulerStopped, env.Code)
	}
}

func TestValidateCron(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/scheduler/validate-cron", map[string]any{
		"cron": "*/5 * * * *",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data := decodeData[validateCronResponse](t, env)
	if !data.Valid {
		t.Fatal("expected valid=true")
	}
	if len(data.NextRuns) != 5 {
		t.Fatalf("expected 5 next runs, got %d", len(data.NextRuns))
	}

	w, env = g.doJSON(t, http.MethodPost, "/api/scheduler/validate-cron", map[string]any{
		"cron": "99 99 * * *",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.Code != CodeInvalidCron {
		t.Fatalf("expected code %q, got %q", CodeInvalidCron, env.Code)
	}
}

func TestCronExamples(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodGet, "/api/scheduler/cron-examples", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	examples := decodeData[[]map[string]any](t, env)
	if len(examples) == 0 {
		t.Fatal("expected at least one example")
	}
}

func TestRecentEvents(t *testing.T) {
	g := newTestGateway(t)

	g.bus.Publish(events.NewTask(events.TypeTaskQueued, events.SourceGateway, "t-1", nil))
	g.bus.Publish(events.NewTask(events.TypeTaskStarted, events.SourceExecutor, "t-1", nil))
	waitForEvents(g.bus, 2)

	w, env := g.doJSON(t, http.MethodGet, "/api/events/recent?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	list := decodeData[[]events.Event](t, env)
	if len(list) != 2 {
		t.Fatalf("expected 2 events, got %d", len(list))
	}
	if list[0].Type != events.TypeTaskQueued {
		t.Fatalf("expected oldest-first order, got %v first", list[0].Type)
	}
}

func TestCosts_Disabled(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodGet, "/api/costs", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if env.Success {
		t.Fatal("expected success=false")
	}
}

// sseRecords parses the data: lines of an SSE body.
func sseRecords(t *testing.T, body string) []sessions.Event {
	t.Helper()
	var out []sessions.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sessions.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unmarshal sse record: %v (line %q)", err, line)
		}
		out = append(out, ev)
	}
	return out
}

func TestStream_CompletedRun(t *testing.T) {
	g := newTestGateway(t, agent.CompletedRun("all wired up", 0.02, 1500))

	body, _ := json.Marshal(map[string]any{"prompt": "wire the feature"})
	req := httptest.NewRequest(http.MethodPost, "/api/task/stream", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	g.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %q)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected content type text/event-stream, got %q", ct)
	}

	records := sseRecords(t, w.Body.String())
	if len(records) < 2 {
		t.Fatalf("expected text and complete records, got %d", len(records))
	}
	if records[0].Type != "text" || records[0].Content != "all wired up" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	last := records[len(records)-1]
	if last.Type != "complete" {
		t.Fatalf("expected final record type complete, got %q", last.Type)
	}
	if last.SessionID == "" {
		t.Fatal("expected session_id on every record")
	}
}

func TestStream_InvalidPrompt(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodPost, "/api/task/stream", map[string]any{"prompt": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.Code != CodeValidation {
		t.Fatalf("expected code %q, got %q", CodeValidation, env.Code)
	}
}

func TestStream_QuestionAnswerRoundTrip(t *testing.T) {
	questionInput := map[string]any{
		"question_id":   "q-1",
		"question_text": "Deploy to production?",
		"type":          "multiple_choice",
		"options": []any{
			map[string]any{"id": "yes", "label": "Yes"},
			map[string]any{"id": "no", "label": "No"},
		},
	}
	g := newTestGateway(t, agent.FakeRun{Steps: []agent.FakeStep{
		{Event: agent.Event{Kind: agent.KindToolUse, ToolUseID: "tu_1", Tool: "AskUserQuestion", Input: questionInput}, AwaitInject: true},
		{Event: agent.Event{Kind: agent.KindComplete, Meta: &agent.Meta{Result: "done"}}},
	}})

	body, _ := json.Marshal(map[string]any{"prompt": "release the build"})
	req := httptest.NewRequest(http.MethodPost, "/api/task/stream", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.srv.Handler().ServeHTTP(w, req)
	}()

	// Wait for the session to suspend on the question.
	var sessionID string
	for i := 0; i < 400 && sessionID == ""; i++ {
		for _, st := range g.mgr.ListSessions() {
			if st.IsWaiting && st.PendingQuestionID == "q-1" {
				sessionID = st.SessionID
			}
		}
		if sessionID == "" {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if sessionID == "" {
		t.Fatal("session never suspended on the question")
	}

	// A stale question id is rejected and the session stays suspended.
	code, env := g.postAnswer(t, sessionID, "q-stale", "Yes")
	if code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for stale question, got %d", code)
	}
	if env.Code != CodeQuestionMismatch {
		t.Fatalf("expected code %q, got %q", CodeQuestionMismatch, env.Code)
	}

	code, env = g.postAnswer(t, sessionID, "q-1", "Yes")
	if code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (error %q)", code, env.Error)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never finished after the answer")
	}

	injected := g.fake.Injected()
	if len(injected) != 1 {
		t.Fatalf("expected 1 injected tool result, got %d", len(injected))
	}
	if injected[0].ToolUseID != "tu_1" {
		t.Fatalf("expected tool_use_id %q, got %q", "tu_1", injected[0].ToolUseID)
	}
	if !strings.Contains(injected[0].Content, `"Deploy to production?"="Yes"`) {
		t.Fatalf("unexpected injected content: %q", injected[0].Content)
	}

	records := sseRecords(t, w.Body.String())
	var sawQuestion, sawComplete bool
	for _, rec := range records {
		switch rec.Type {
		case "ask_user_question":
			sawQuestion = true
			if rec.Question == nil || rec.Question.ID != "q-1" {
				t.Fatalf("question record missing payload: %+v", rec)
			}
		case "complete":
			sawComplete = true
		}
	}
	if !sawQuestion || !sawComplete {
		t.Fatalf("expected question and complete records, got %+v", records)
	}
}

func (g *testGateway) postAnswer(t *testing.T, sessionID, questionID string, answer any) (int, apiEnvelope) {
	t.Helper()
	w, env := g.doJSON(t, http.MethodPost, "/api/task/answer", map[string]any{
		"session_id":  sessionID,
		"question_id": questionID,
		"answer":      answer,
	})
	return w.Code, env
}

func TestAnswer_UnknownSession(t *testing.T) {
	g := newTestGateway(t)

	code, env := g.postAnswer(t, "ghost", "q-1", "Yes")
	if code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", code)
	}
	if env.Code != CodeSessionNotFound {
		t.Fatalf("expected code %q, got %q", CodeSessionNotFound, env.Code)
	}
}

func TestSessionStatus_NotFound(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodGet, "/api/task/session/ghost/status", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if env.Code != CodeSessionNotFound {
		t.Fatalf("expected code %q, got %q", CodeSessionNotFound, env.Code)
	}
}

func TestListSessions_Empty(t *testing.T) {
	g := newTestGateway(t)

	w, env := g.doJSON(t, http.MethodGet, "/api/task/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	data := decodeData[struct {
		Sessions []sessions.Status `json:"sessions"`
		Count    int               `json:"count"`
	}](t, env)
	if data.Count != 0 || len(data.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %+v", data)
	}
}
