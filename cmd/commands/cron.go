package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/cron"
)

// NewCronCommand returns the cron subcommand.
func NewCronCommand() *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Inspect cron expressions",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Validate an expression and show its next runs",
				ArgsUsage: "<expression>",
				Action:    runCronCheck,
			},
			{
				Name:   "examples",
				Usage:  "Show common expressions",
				Action: runCronExamples,
			},
		},
	}
}

func runCronCheck(_ context.Context, cmd *cli.Command) error {
	expr := cmd.Args().First()
	if expr == "" {
		return fmt.Errorf("usage: drover cron check <expression>")
	}

	if err := cron.Validate(expr); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}

	runs, err := cron.NextN(expr, time.Now(), 5)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid.\n\nNext runs:\n", expr)
	for _, at := range runs {
		fmt.Printf("  %s\n", at.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func runCronExamples(_ context.Context, _ *cli.Command) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXPRESSION\tDESCRIPTION\tNEXT RUN")
	for _, ex := range cron.Examples(time.Now()) {
		next := ex.NextRun
		if next == "" {
			next = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", ex.Expression, ex.Description, next)
	}
	return w.Flush()
}
