package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/droverhq/drover/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Manage encrypted agent credentials",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a secret, prompting for its value",
				ArgsUsage: "<NAME>",
				Action:    runSecretsSet,
			},
			{
				Name:   "list",
				Usage:  "List stored secret names",
				Action: runSecretsList,
			},
		},
	}
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: drover secrets set <NAME>")
	}

	value, err := readSecret(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("value must not be empty")
	}

	store, err := secrets.Open(secrets.StorePath(), secrets.KeyPath())
	if err != nil {
		return fmt.Errorf("open secrets store: %w", err)
	}
	if err := store.Set(name, value); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}

	fmt.Printf("Secret %s saved to %s.\n", name, store.Path())
	return nil
}

func runSecretsList(_ context.Context, _ *cli.Command) error {
	store, err := secrets.Open(secrets.StorePath(), secrets.KeyPath())
	if err != nil {
		return fmt.Errorf("open secrets store: %w", err)
	}
	names, err := store.Names()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

// readSecret prompts on stderr and reads without echo when stdin is a
// terminal. Piped input falls back to a plain line read.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read value: %w", err)
	}
	return strings.TrimSpace(line), nil
}
