package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show server and queue status",
		Action: runStatus,
	}
}

func runStatus(_ context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	hbPath := filepath.Join(cfg.Data.Dir, "heartbeat.json")
	status, hb, err := heartbeat.Check(hbPath, 2*time.Minute)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}

	switch status {
	case heartbeat.StatusAlive:
		fmt.Printf("Server: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
	case heartbeat.StatusStale:
		fmt.Printf("Server: STALE (PID %d, last heartbeat %s ago)\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	case heartbeat.StatusDead:
		fmt.Println("Server: NOT RUNNING")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Queued:     %d\n", store.Queue.Count())
	fmt.Printf("Scheduled:  %d (%d enabled)\n", store.Scheduled.Count(), store.Scheduled.EnabledCount())
	fmt.Printf("Running:    %d\n", store.Running.Count())
	fmt.Printf("Completed:  %d\n", store.Completed.Count())
	fmt.Printf("Failed:     %d\n", store.Failed.Count())
	return nil
}
