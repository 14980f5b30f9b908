package tasks

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/config"
)

// ToolRegistry is the fixed set of tool names a task may grant the agent.
var ToolRegistry = map[string]bool{
	"Read":         true,
	"Write":        true,
	"Edit":         true,
	"Glob":         true,
	"Grep":         true,
	"Bash":         true,
	"Task":         true,
	"TodoWrite":    true,
	"WebFetch":     true,
	"WebSearch":    true,
	"NotebookEdit": true,
}

// ToolNames returns the registry as a sorted slice, for error messages.
func ToolNames() []string {
	names := make([]string, 0, len(ToolRegistry))
	for name := range ToolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// namePattern admits word characters, CJK ideographs, hyphens, and spaces.
var namePattern = regexp.MustCompile(`^[\w\x{4e00}-\x{9fff}\- ]+$`)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ValidatePrompt checks the 1..10000 non-blank contract.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{Field: "prompt", Msg: "must not be blank"}
	}
	if len(prompt) > config.MaxPromptLen {
		return &ValidationError{Field: "prompt", Msg: fmt.Sprintf("exceeds %d characters", config.MaxPromptLen)}
	}
	return nil
}

// ValidateName checks the scheduled-task name contract.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Msg: "must not be blank"}
	}
	if len(name) > config.MaxNameLen {
		return &ValidationError{Field: "name", Msg: fmt.Sprintf("exceeds %d characters", config.MaxNameLen)}
	}
	if !namePattern.MatchString(name) {
		return &ValidationError{Field: "name", Msg: "contains invalid characters"}
	}
	return nil
}

// ValidateTimeout checks the millisecond bounds.
func ValidateTimeout(timeoutMS int) error {
	if timeoutMS < config.MinTimeoutMS || timeoutMS > config.MaxTimeoutMS {
		return &ValidationError{
			Field: "timeout_ms",
			Msg:   fmt.Sprintf("must be between %d and %d", config.MinTimeoutMS, config.MaxTimeoutMS),
		}
	}
	return nil
}

// ValidateTools checks every tool against the registry.
func ValidateTools(tools []string) error {
	for _, tool := range tools {
		if !ToolRegistry[tool] {
			return &ValidationError{
				Field: "allowed_tools",
				Msg:   fmt.Sprintf("unknown tool %q, valid tools: %s", tool, strings.Join(ToolNames(), ", ")),
			}
		}
	}
	return nil
}

// ValidateID checks that an identifier is a UUID.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "id", Msg: "must be a UUID"}
	}
	return nil
}

// Validate runs the full task contract: prompt, timeout, and tools.
func (t *Task) Validate() error {
	if err := ValidatePrompt(t.Prompt); err != nil {
		return err
	}
	if err := ValidateTimeout(t.TimeoutMS); err != nil {
		return err
	}
	return ValidateTools(t.AllowedTools)
}

// Validate runs the definition contract: name, prompt, timeout, and
// tools. Cron syntax is checked by the caller, which owns the parser.
func (s *ScheduledTask) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if err := ValidatePrompt(s.Prompt); err != nil {
		return err
	}
	if err := ValidateTimeout(s.TimeoutMS); err != nil {
		return err
	}
	return ValidateTools(s.AllowedTools)
}
