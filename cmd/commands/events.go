package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/clients/ws"
	"github.com/droverhq/drover/internal/events"
)

// NewEventsCommand returns the events subcommand.
func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Tail the live event feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "types",
				Usage: "Comma-separated event types to follow (default: all)",
			},
			&cli.IntFlag{
				Name:  "recent",
				Usage: "Replay up to N buffered events before tailing",
			},
		},
		Action: runEvents,
	}
}

func runEvents(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	url := fmt.Sprintf("ws://%s:%d/api/events", cfg.Gateway.Host, cfg.Gateway.Port)
	client, err := ws.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to %s: %w (is the server running?)", url, err)
	}
	defer client.Close()

	if raw := cmd.String("types"); raw != "" {
		var types []string
		for _, t := range strings.Split(raw, ",") {
			types = append(types, strings.TrimSpace(t))
		}
		if err := client.Subscribe(types); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	if n := cmd.Int("recent"); n > 0 {
		if err := client.Recent(n); err != nil {
			return fmt.Errorf("request history: %w", err)
		}
	}

	for {
		e, err := client.NextEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		printEvent(e)
	}
}

func printEvent(e events.Event) {
	line := fmt.Sprintf("%s  %-24s", e.Timestamp.Format("15:04:05"), e.Type)
	if e.TaskID != "" {
		line += "  task=" + e.TaskID
	}
	if e.SessionID != "" {
		line += "  session=" + e.SessionID
	}
	if len(e.Payload) > 0 {
		if data, err := json.Marshal(e.Payload); err == nil {
			line += "  " + snippet(string(data), 100)
		}
	}
	fmt.Println(line)
}
