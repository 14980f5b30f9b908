package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage the task queue",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Queue a task",
				ArgsUsage: "<prompt>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "workspace",
						Usage: "Directory the agent runs in",
					},
					&cli.IntFlag{
						Name:  "timeout",
						Usage: "Execution timeout in milliseconds",
					},
					&cli.BoolFlag{
						Name:  "auto-approve",
						Usage: "Let the agent run without permission prompts",
					},
					&cli.StringFlag{
						Name:  "tools",
						Usage: "Comma-separated tool allowlist (e.g. Read,Edit,Bash)",
					},
				},
				Action: runTasksAdd,
			},
			{
				Name:  "list",
				Usage: "List queued tasks",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "running", Usage: "List running tasks"},
					&cli.BoolFlag{Name: "completed", Usage: "List completed tasks"},
					&cli.BoolFlag{Name: "failed", Usage: "List failed tasks"},
				},
				Action: runTasksList,
			},
			{
				Name:      "get",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete a task from the queue or history",
				ArgsUsage: "<task_id>",
				Action:    runTasksDelete,
			},
			{
				Name:   "clear",
				Usage:  "Remove every queued task",
				Action: runTasksClear,
			},
		},
		DefaultCommand: "list",
	}
}

func openStore(cmd *cli.Command) (*storage.Store, error) {
	cfg := loadConfig(cmd)
	store, err := storage.Open(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func runTasksAdd(_ context.Context, cmd *cli.Command) error {
	prompt := strings.Join(cmd.Args().Slice(), " ")
	if prompt == "" {
		return fmt.Errorf("usage: drover tasks add <prompt>")
	}

	var tools []string
	if raw := cmd.String("tools"); raw != "" {
		for _, tool := range strings.Split(raw, ",") {
			tools = append(tools, strings.TrimSpace(tool))
		}
	}

	task := tasks.NewTask(prompt, cmd.String("workspace"), cmd.Int("timeout"), cmd.Bool("auto-approve"), tools)
	if err := task.Validate(); err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Queue.Add(task); err != nil {
		return fmt.Errorf("queue task: %w", err)
	}

	fmt.Printf("Task %s queued.\n", task.ID)
	return nil
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	var list []*tasks.Task
	switch {
	case cmd.Bool("running"):
		list = store.Running.GetAll()
	case cmd.Bool("completed"):
		list = store.Completed.GetAll()
	case cmd.Bool("failed"):
		list = store.Failed.GetAll()
	default:
		list = store.Queue.GetAll()
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tPROMPT")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			snippet(t.Prompt, 60),
		)
	}
	return w.Flush()
}

func runTasksGet(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: drover tasks get <task_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	t, collection, ok := store.Find(taskID)
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Collection:  %s\n", collection)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil {
		fmt.Printf("Started:     %s\n", t.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if t.FinishedAt != nil {
		fmt.Printf("Finished:    %s\n", t.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if t.Workspace != "" {
		fmt.Printf("Workspace:   %s\n", t.Workspace)
	}
	fmt.Printf("Timeout:     %dms\n", t.TimeoutMS)
	if t.Retries > 0 {
		fmt.Printf("Retries:     %d\n", t.Retries)
	}
	if t.ScheduledID != "" {
		fmt.Printf("Schedule:    %s\n", t.ScheduledID)
	}
	if len(t.AllowedTools) > 0 {
		fmt.Printf("Tools:       %s\n", strings.Join(t.AllowedTools, ", "))
	}
	if t.CostUSD != nil {
		fmt.Printf("Cost:        $%.4f\n", *t.CostUSD)
	}
	if t.DurationMS != nil {
		fmt.Printf("Duration:    %dms\n", *t.DurationMS)
	}

	fmt.Printf("\nPrompt:\n%s\n", t.Prompt)

	if t.Error != "" {
		fmt.Printf("\nError: %s\n", t.Error)
	}
	if msg, ok := t.Result["message"].(string); ok && msg != "" {
		fmt.Printf("\nResult:\n%s\n", msg)
	}
	if len(t.FilesChanged) > 0 {
		fmt.Println("\nFiles changed:")
		for _, f := range t.FilesChanged {
			fmt.Printf("  %s\n", f)
		}
	}
	if len(t.ToolsUsed) > 0 {
		fmt.Printf("\nTools used: %s\n", strings.Join(t.ToolsUsed, ", "))
	}
	return nil
}

func runTasksDelete(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: drover tasks delete <task_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	if _, ok := store.Running.Get(taskID); ok {
		return fmt.Errorf("task %s is running and cannot be deleted", taskID)
	}

	for _, remove := range []func(string) (bool, error){
		store.Queue.Remove,
		store.Completed.Remove,
		store.Failed.Remove,
	} {
		removed, err := remove(taskID)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if removed {
			fmt.Printf("Task %s deleted.\n", taskID)
			return nil
		}
	}
	return fmt.Errorf("task %s not found", taskID)
}

func runTasksClear(_ context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	n, err := store.Queue.Clear()
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	fmt.Printf("Cleared %d task(s).\n", n)
	return nil
}

// snippet shortens a prompt for table output.
func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
