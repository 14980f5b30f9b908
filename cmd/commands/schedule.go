package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/cron"
	"github.com/droverhq/drover/internal/tasks"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage scheduled tasks",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a scheduled task",
				ArgsUsage: "<prompt>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Definition name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "cron",
						Usage:    "Cron expression (5 or 6 fields, aliases, L/W/# modifiers)",
						Required: true,
					},
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
						Usage: "Comma-separated tool allowlist",
					},
					&cli.BoolFlag{
						Name:  "disabled",
						Usage: "Create the definition without enabling it",
					},
				},
				Action: runScheduleAdd,
			},
			{
				Name:   "list",
				Usage:  "List scheduled tasks",
				Action: runScheduleList,
			},
			{
				Name:      "toggle",
				Usage:     "Enable or disable a scheduled task",
				ArgsUsage: "<schedule_id>",
				Action:    runScheduleToggle,
			},
			{
				Name:      "run",
				Usage:     "Queue a scheduled task immediately",
				ArgsUsage: "<schedule_id>",
				Action:    runScheduleRun,
			},
			{
				Name:      "delete",
				Usage:     "Delete a scheduled task",
				ArgsUsage: "<schedule_id>",
				Action:    runScheduleDelete,
			},
		},
		DefaultCommand: "list",
	}
}

func runScheduleAdd(_ context.Context, cmd *cli.Command) error {
	prompt := strings.Join(cmd.Args().Slice(), " ")
	if prompt == "" {
		return fmt.Errorf("usage: drover schedule add --name <name> --cron <expr> <prompt>")
	}

	var tools []string
	if raw := cmd.String("tools"); raw != "" {
		for _, tool := range strings.Split(raw, ",") {
			tools = append(tools, strings.TrimSpace(tool))
		}
	}

	st := tasks.NewScheduledTask(
		cmd.String("name"),
		prompt,
		cmd.String("cron"),
		cmd.String("workspace"),
		cmd.Int("timeout"),
		cmd.Bool("auto-approve"),
		tools,
	)
	if cmd.Bool("disabled") {
		st.Enabled = false
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if err := cron.Validate(st.Cron); err != nil {
		return err
	}
	if st.Enabled {
		next, err := cron.Next(st.Cron, time.Now())
		if err != nil {
			return err
		}
		st.NextRun = &next
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Scheduled.Save(st); err != nil {
		return fmt.Errorf("save definition: %w", err)
	}

	fmt.Printf("Scheduled task %s created.\n", st.ID)
	if st.NextRun != nil {
		fmt.Printf("Next run: %s\n", st.NextRun.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runScheduleList(_ context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	list := store.Scheduled.GetAll()
	if len(list) == 0 {
		fmt.Println("No scheduled tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCRON\tENABLED\tNEXT RUN\tRUNS")
	for _, st := range list {
		next := "-"
		if st.NextRun != nil {
			next = st.NextRun.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\n",
			st.ID, st.Name, st.Cron, st.Enabled, next, st.RunCount)
	}
	return w.Flush()
}

func runScheduleToggle(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: drover schedule toggle <schedule_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	st, ok := store.Scheduled.Get(id)
	if !ok {
		return fmt.Errorf("scheduled task %s not found", id)
	}

	st.Enabled = !st.Enabled
	if st.Enabled {
		next, err := cron.Next(st.Cron, time.Now())
		if err != nil {
			return err
		}
		st.NextRun = &next
	} else {
		st.NextRun = nil
	}
	st.UpdatedAt = time.Now()

	if err := store.Scheduled.Save(st); err != nil {
		return fmt.Errorf("save definition: %w", err)
	}

	state := "disabled"
	if st.Enabled {
		state = "enabled"
	}
	fmt.Printf("Scheduled task %s %s.\n", id, state)
	return nil
}

func runScheduleRun(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: drover schedule run <schedule_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	st, ok := store.Scheduled.Get(id)
	if !ok {
		return fmt.Errorf("scheduled task %s not found", id)
	}

	// Manual runs jump the queue and leave last_run/next_run alone.
	task := st.Materialise()
	if err := store.Queue.PushHead(task); err != nil {
		return fmt.Errorf("queue task: %w", err)
	}

	fmt.Printf("Task %s queued from %s.\n", task.ID, st.Name)
	return nil
}

func runScheduleDelete(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: drover schedule delete <schedule_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	removed, err := store.Scheduled.Delete(id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if !removed {
		return fmt.Errorf("scheduled task %s not found", id)
	}

	fmt.Printf("Scheduled task %s deleted.\n", id)
	return nil
}
