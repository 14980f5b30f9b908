package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// nestedRunVar is stripped from the child environment so an agent
// spawned by drover does not believe it runs inside another agent
// session.
const nestedRunVar = "CLAUDECODE"

// maxLineBytes bounds one stdout line; tool results can carry whole
// files.
const maxLineBytes = 10 * 1024 * 1024

// CLI runs prompts through the coding-agent binary, speaking the
// stream-json protocol over stdin/stdout.
type CLI struct {
	bin string
}

// NewCLI returns a CLI adapter for the given binary name or path.
// An empty bin falls back to "claude".
func NewCLI(bin string) *CLI {
	if bin == "" {
		bin = "claude"
	}
	return &CLI{bin: bin}
}

// Run launches one agent run and returns its event stream. The prompt
// is delivered as the first user message on stdin.
func (c *CLI) Run(ctx context.Context, prompt string, opts Options) (Stream, error) {
	cmd := exec.CommandContext(ctx, c.bin, buildArgs(opts)...)
	if opts.Workspace != "" {
		cmd.Dir = opts.Workspace
	}
	cmd.Env = buildEnv(os.Environ(), opts.Env)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.bin, err)
	}
	slog.Debug("agent: started", "bin", c.bin, "workspace", opts.Workspace)

	s := &cliStream{
		cmd:    cmd,
		stdin:  stdin,
		stderr: &stderr,
		events: make(chan Event, 64),
	}
	if err := s.send(promptMessage(prompt)); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("write prompt: %w", err)
	}
	go s.readLoop(stdout)
	return s, nil
}

func buildArgs(opts Options) []string {
	args := []string{"-p", "--output-format=stream-json", "--input-format=stream-json", "--verbose"}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	} else if opts.ContinueConversation {
		args = append(args, "-c")
	}
	if opts.AutoApprove {
		args = append(args, "--dangerously-skip-permissions")
	} else if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	return args
}

// buildEnv copies base, drops the nested-run marker and applies extra
// pairs on top.
func buildEnv(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		if strings.HasPrefix(kv, nestedRunVar+"=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, extra...)
}

// cliStream is one live run of the agent binary.
type cliStream struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	events chan Event

	writeMu sync.Mutex
	stdin   io.WriteCloser

	cancelMu  sync.Mutex
	cancelled bool
}

func (s *cliStream) Events() <-chan Event { return s.events }

func (s *cliStream) InjectToolResult(toolUseID, content string, extra map[string]any) error {
	payload := content
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("marshal extra: %w", err)
		}
		payload = content + "\n" + string(data)
	}
	return s.send(toolResultMessage(toolUseID, payload))
}

func (s *cliStream) Cancel() {
	s.cancelMu.Lock()
	s.cancelled = true
	s.cancelMu.Unlock()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *cliStream) wasCancelled() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.cancelled
}

func (s *cliStream) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readLoop turns stdout lines into events. It owns the events channel
// and closes it once the process is gone.
func (s *cliStream) readLoop(stdout io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	complete := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg cliMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Debug("agent: skipping unparseable line", "error", err)
			continue
		}
		for _, ev := range messageEvents(msg) {
			if ev.Kind == KindComplete {
				complete = true
			}
			s.events <- ev
		}
	}

	err := s.cmd.Wait()
	if complete {
		return
	}
	if s.wasCancelled() {
		s.events <- Event{Kind: KindError, Text: "run cancelled"}
		return
	}
	text := "agent exited before reporting a result"
	if err != nil {
		text = fmt.Sprintf("agent exited: %v", err)
	}
	if tail := lastLines(s.stderr.String(), 5); tail != "" {
		text += ": " + tail
	}
	s.events <- Event{Kind: KindError, Text: text}
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " ")
}
