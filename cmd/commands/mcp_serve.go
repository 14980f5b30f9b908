package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	drovermcp "github.com/droverhq/drover/internal/mcp"
	"github.com/droverhq/drover/internal/storage"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "mcp-serve",
		Usage:  "Expose queue control as an MCP server (stdio)",
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// Logging goes to stderr; stdout carries the MCP stdio transport.
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := loadConfig(cmd)

	store, err := storage.Open(cfg.Data.Dir)
	if err != nil {
		return err
	}

	svc := drovermcp.NewService(store, cfg.Data.Dir)
	server := drovermcp.NewServer(svc)

	slog.Debug("starting MCP server", "data_dir", cfg.Data.Dir)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
