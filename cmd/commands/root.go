package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "drover",
		Usage: "Queue, schedule and run coding-agent tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewTasksCommand(),
			NewScheduleCommand(),
			NewCronCommand(),
			NewStatusCommand(),
			NewEventsCommand(),
			NewSecretsCommand(),
			NewMCPServeCommand(),
		},
	}
}

// loadConfig reads the configured file, falling back to defaults when
// it is missing.
func loadConfig(cmd *cli.Command) *config.Config {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Debug("config not found, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return cfg
}

// setupLogging honours --debug for subcommands that log.
func setupLogging(cmd *cli.Command) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
}
