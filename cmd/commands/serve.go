package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/executor"
	"github.com/droverhq/drover/internal/gateway"
	"github.com/droverhq/drover/internal/heartbeat"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/secrets"
	"github.com/droverhq/drover/internal/sessions"
	"github.com/droverhq/drover/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the drover gateway, scheduler and session manager",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Serve the API without starting the polling loop",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	cfg := loadConfig(cmd)
	// CLI flags override config.
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := storage.Open(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Audit trail and cost rollup ride the bus.
	eventLog := storage.NewEventLogger(cfg.Data.Dir, bus)
	defer eventLog.Close()
	costs := storage.NewCostTracker(cfg.Data.Dir, bus)
	defer costs.Close()

	var runner agent.Agent = agent.NewCLI(cfg.Agent.Bin)
	if env := secretEnv(); len(env) > 0 {
		runner = agent.WithEnv(runner, env)
		slog.Info("agent credentials loaded", "count", len(env))
	}

	mgr := sessions.NewManager(sessions.Config{
		Agent:           runner,
		Bus:             bus,
		QuestionTimeout: cfg.Sessions.QuestionTimeout.Duration(),
		MaxPending:      cfg.Sessions.MaxPendingQuestions,
		MaxAge:          cfg.Sessions.MaxAge.Duration(),
		SweepInterval:   cfg.Sessions.SweepInterval.Duration(),
	})
	defer mgr.Close()

	sched := scheduler.New(scheduler.Config{
		Store: store,
		Bus:   bus,
		NewExecutor: func() *executor.Executor {
			return executor.New(store, bus, runner)
		},
		PollInterval: cfg.Scheduler.PollInterval.Duration(),
		Workers:      cfg.Scheduler.Workers,
	})
	if cmd.Bool("no-scheduler") {
		slog.Info("scheduler disabled, API only")
	} else {
		sched.Start()
	}
	defer sched.Stop()

	hb := heartbeat.NewWriter(filepath.Join(cfg.Data.Dir, "heartbeat.json"))
	hb.Start()
	defer hb.Stop()

	server := gateway.New(gateway.Deps{
		Config:    cfg,
		Store:     store,
		Scheduler: sched,
		Sessions:  mgr,
		Bus:       bus,
		Costs:     costs,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownWait)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// secretEnv decrypts the credential store for the agent subprocess.
// Problems degrade to an empty environment rather than blocking boot.
func secretEnv() []string {
	st, err := secrets.Open(secrets.StorePath(), secrets.KeyPath())
	if err != nil {
		slog.Warn("secrets store unavailable", "error", err)
		return nil
	}
	env, err := st.Env()
	if err != nil {
		slog.Warn("decrypt secrets", "error", err)
		return nil
	}
	return env
}
