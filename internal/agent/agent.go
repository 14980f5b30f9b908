// Package agent abstracts the coding-agent runtime behind an event
// stream. The CLI adapter speaks the stream-json protocol of the
// claude binary; tests swap in the scriptable Fake.
package agent

import (
	"context"
	"strings"
)

// Kind enumerates the events an agent run can emit.
type Kind string

const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindError      Kind = "error"
	KindComplete   Kind = "complete"
)

// Permission modes understood by the agent binary.
const (
	PermissionDefault     = "default"
	PermissionAcceptEdits = "acceptEdits"
	PermissionPlan        = "plan"
	PermissionBypass      = "bypassPermissions"
)

// Event is one step of an agent run. Kind decides which fields are
// set.
type Event struct {
	Kind Kind

	// Text carries text, thinking and error payloads.
	Text string

	// Tool call payload.
	ToolUseID string
	Tool      string
	Input     map[string]any

	// Tool result payload.
	Content string
	IsError bool

	// Completion metadata, set on complete events.
	Meta *Meta
}

// Meta is the completion metadata reported at the end of a run.
type Meta struct {
	SessionID  string
	Result     string
	CostUSD    *float64
	DurationMS *int64
	NumTurns   int
	IsError    bool
}

// Options configure one agent run.
type Options struct {
	Workspace            string
	AllowedTools         []string
	PermissionMode       string
	AutoApprove          bool
	ContinueConversation bool
	ResumeSessionID      string

	// Env holds extra KEY=VALUE pairs for the child process.
	Env []string
}

// NoAnswerResult is the stock tool result injected when nobody answers
// an agent question: queued runs have no operator attached, and
// interactive sessions fall back to it on timeout or cancel.
const NoAnswerResult = "User did not answer the question."

// IsQuestionTool reports whether a tool call is the agent asking the
// user a question. The binary has shipped the tool under several
// names.
func IsQuestionTool(name string) bool {
	switch strings.ToLower(name) {
	case "ask_user_question", "askuserquestion", "askuser":
		return true
	}
	return false
}

// Agent launches runs against the underlying coding-agent runtime.
type Agent interface {
	Run(ctx context.Context, prompt string, opts Options) (Stream, error)
}

// WithEnv returns an Agent that adds fixed KEY=VALUE pairs to every
// run's child environment. Pairs already in opts.Env win.
func WithEnv(inner Agent, env []string) Agent {
	if len(env) == 0 {
		return inner
	}
	return &envAgent{inner: inner, env: env}
}

type envAgent struct {
	inner Agent
	env   []string
}

func (a *envAgent) Run(ctx context.Context, prompt string, opts Options) (Stream, error) {
	merged := make([]string, 0, len(a.env)+len(opts.Env))
	merged = append(merged, a.env...)
	merged = append(merged, opts.Env...)
	opts.Env = merged
	return a.inner.Run(ctx, prompt, opts)
}

// Stream is one live agent run.
type Stream interface {
	// Events returns the run's event channel. It closes once the run
	// is over; a well-behaved run ends with a complete event.
	Events() <-chan Event

	// InjectToolResult resumes the run by answering a previously
	// emitted tool call.
	InjectToolResult(toolUseID, content string, extra map[string]any) error

	// Cancel terminates the run.
	Cancel()
}
