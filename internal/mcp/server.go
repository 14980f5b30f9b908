// Package mcp exposes the task queue as Model Context Protocol tools
// over stdio, so MCP-capable frontends can drive the queue directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/droverhq/drover/internal/cron"
	"github.com/droverhq/drover/internal/heartbeat"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

// Service backs the MCP tools with the task store. It reads and writes
// the collections directly; a running server picks queued work up on
// its next poll.
type Service struct {
	store   *storage.Store
	dataDir string
}

// NewService returns a Service over the given store. dataDir locates
// the heartbeat file for liveness reporting.
func NewService(store *storage.Store, dataDir string) *Service {
	return &Service{store: store, dataDir: dataDir}
}

// NewServer builds an MCP server exposing the queue control tools.
func NewServer(svc *Service) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "drover",
		Version: "0.1.0",
	}, nil)

	addTool(server, &mcpsdk.Tool{
		Name:        "create_task",
		Description: "Queue a prompt for the coding agent to execute",
		InputSchema: objectSchema(map[string]any{
			"prompt":        prop("string", "What the agent should do"),
			"workspace":     prop("string", "Directory the agent runs in"),
			"timeout_ms":    prop("integer", "Execution timeout in milliseconds"),
			"auto_approve":  prop("boolean", "Run without permission prompts"),
			"allowed_tools": arrayProp("Tool allowlist, e.g. Read, Edit, Bash"),
		}, "prompt"),
	}, svc.createTask)

	addTool(server, &mcpsdk.Tool{
		Name:        "list_tasks",
		Description: "List tasks in one collection: queue, running, completed or failed",
		InputSchema: objectSchema(map[string]any{
			"collection": enumProp("Collection to list", "queue", "running", "completed", "failed"),
		}),
	}, svc.listTasks)

	addTool(server, &mcpsdk.Tool{
		Name:        "get_task",
		Description: "Fetch one task by id, searching every collection",
		InputSchema: objectSchema(map[string]any{
			"task_id": prop("string", "Task identifier"),
		}, "task_id"),
	}, svc.getTask)

	addTool(server, &mcpsdk.Tool{
		Name:        "create_scheduled_task",
		Description: "Create a cron-scheduled task definition",
		InputSchema: objectSchema(map[string]any{
			"name":          prop("string", "Definition name"),
			"prompt":        prop("string", "What the agent should do on each run"),
			"cron":          prop("string", "Cron expression, 5 or 6 fields"),
			"workspace":     prop("string", "Directory the agent runs in"),
			"timeout_ms":    prop("integer", "Execution timeout in milliseconds"),
			"auto_approve":  prop("boolean", "Run without permission prompts"),
			"allowed_tools": arrayProp("Tool allowlist"),
			"disabled":      prop("boolean", "Create without enabling"),
		}, "name", "prompt", "cron"),
	}, svc.createScheduledTask)

	addTool(server, &mcpsdk.Tool{
		Name:        "scheduler_status",
		Description: "Report server liveness and collection counts",
		InputSchema: objectSchema(map[string]any{}),
	}, svc.schedulerStatus)

	addTool(server, &mcpsdk.Tool{
		Name:        "validate_cron",
		Description: "Validate a cron expression and show its next five runs",
		InputSchema: objectSchema(map[string]any{
			"expression": prop("string", "Cron expression to check"),
		}, "expression"),
	}, svc.validateCron)

	return server
}

// addTool registers one typed handler, decoding req.Params.Arguments
// into the handler's argument struct. Handler errors become tool-level
// errors rather than protocol failures.
func addTool[T any](server *mcpsdk.Server, tool *mcpsdk.Tool, fn func(context.Context, T) (any, error)) {
	server.AddTool(tool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errResult(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		out, err := fn(ctx, args)
		if err != nil {
			slog.Debug("mcp tool error", "tool", tool.Name, "error", err)
			return errResult(err), nil
		}
		return textResult(out)
	})
	slog.Debug("mcp tool registered", "tool", tool.Name)
}

func errResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}

func textResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

type createTaskArgs struct {
	Prompt       string   `json:"prompt"`
	Workspace    string   `json:"workspace"`
	TimeoutMS    int      `json:"timeout_ms"`
	AutoApprove  bool     `json:"auto_approve"`
	AllowedTools []string `json:"allowed_tools"`
}

func (s *Service) createTask(_ context.Context, args createTaskArgs) (any, error) {
	t := tasks.NewTask(args.Prompt, args.Workspace, args.TimeoutMS, args.AutoApprove, args.AllowedTools)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Queue.Add(t); err != nil {
		return nil, fmt.Errorf("queue task: %w", err)
	}
	return map[string]any{
		"task_id":  t.ID,
		"status":   t.Status,
		"position": s.store.Queue.Count(),
	}, nil
}

type listTasksArgs struct {
	Collection string `json:"collection"`
}

func (s *Service) listTasks(_ context.Context, args listTasksArgs) (any, error) {
	coll := args.Collection
	if coll == "" {
		coll = "queue"
	}

	var list []*tasks.Task
	switch coll {
	case "queue":
		list = s.store.Queue.GetAll()
	case "running":
		list = s.store.Running.GetAll()
	case "completed":
		list = s.store.Completed.GetAll()
	case "failed":
		list = s.store.Failed.GetAll()
	default:
		return nil, fmt.Errorf("unknown collection %q", coll)
	}

	summaries := make([]map[string]any, 0, len(list))
	for _, t := range list {
		summaries = append(summaries, taskSummary(t))
	}
	return map[string]any{
		"collection": coll,
		"count":      len(list),
		"tasks":      summaries,
	}, nil
}

// taskSummary keeps list output small; prompts are truncated and
// result payloads omitted. get_task returns the full record.
func taskSummary(t *tasks.Task) map[string]any {
	prompt := t.Prompt
	if len(prompt) > 120 {
		prompt = prompt[:120] + "..."
	}
	m := map[string]any{
		"id":         t.ID,
		"status":     t.Status,
		"prompt":     prompt,
		"created_at": t.CreatedAt,
	}
	if t.Scheduled {
		m["scheduled_id"] = t.ScheduledID
	}
	if t.Error != "" {
		m["error"] = t.Error
	}
	if t.CostUSD != nil {
		m["cost_usd"] = *t.CostUSD
	}
	return m
}

type getTaskArgs struct {
	TaskID string `json:"task_id"`
}

func (s *Service) getTask(_ context.Context, args getTaskArgs) (any, error) {
	if args.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	t, coll, ok := s.store.Find(args.TaskID)
	if !ok {
		return nil, fmt.Errorf("task %s not found", args.TaskID)
	}
	return map[string]any{"collection": coll, "task": t}, nil
}

type createScheduledArgs struct {
	Name         string   `json:"name"`
	Prompt       string   `json:"prompt"`
	Cron         string   `json:"cron"`
	Workspace    string   `json:"workspace"`
	TimeoutMS    int      `json:"timeout_ms"`
	AutoApprove  bool     `json:"auto_approve"`
	AllowedTools []string `json:"allowed_tools"`
	Disabled     bool     `json:"disabled"`
}

func (s *Service) createScheduledTask(_ context.Context, args createScheduledArgs) (any, error) {
	st := tasks.NewScheduledTask(args.Name, args.Prompt, args.Cron, args.Workspace,
		args.TimeoutMS, args.AutoApprove, args.AllowedTools)
	if args.Disabled {
		st.Enabled = false
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if err := cron.Validate(st.Cron); err != nil {
		return nil, err
	}
	if st.Enabled {
		next, err := cron.Next(st.Cron, time.Now())
		if err != nil {
			return nil, err
		}
		st.NextRun = &next
	}
	if err := s.store.Scheduled.Save(st); err != nil {
		return nil, fmt.Errorf("save definition: %w", err)
	}

	out := map[string]any{
		"schedule_id": st.ID,
		"enabled":     st.Enabled,
	}
	if st.NextRun != nil {
		out["next_run"] = *st.NextRun
	}
	return out, nil
}

type noArgs struct{}

func (s *Service) schedulerStatus(_ context.Context, _ noArgs) (any, error) {
	status, hb, err := heartbeat.Check(filepath.Join(s.dataDir, "heartbeat.json"), 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("check heartbeat: %w", err)
	}

	out := map[string]any{
		"server":            status,
		"queued":            s.store.Queue.Count(),
		"running":           s.store.Running.Count(),
		"scheduled":         s.store.Scheduled.Count(),
		"enabled_scheduled": s.store.Scheduled.EnabledCount(),
		"completed":         s.store.Completed.Count(),
		"failed":            s.store.Failed.Count(),
	}
	if hb != nil {
		out["pid"] = hb.PID
		out["uptime"] = hb.Uptime
	}
	return out, nil
}

type validateCronArgs struct {
	Expression string `json:"expression"`
}

func (s *Service) validateCron(_ context.Context, args validateCronArgs) (any, error) {
	if args.Expression == "" {
		return nil, fmt.Errorf("expression is required")
	}
	if err := cron.Validate(args.Expression); err != nil {
		return map[string]any{
			"valid":      false,
			"expression": args.Expression,
			"error":      err.Error(),
		}, nil
	}
	runs, err := cron.NextN(args.Expression, time.Now(), 5)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"valid":      true,
		"expression": args.Expression,
		"next_runs":  runs,
	}, nil
}
