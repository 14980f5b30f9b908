package sessions

import (
	"errors"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/config"
)

// ErrQuestionTooDeep rejects follow-up trees nested past
// config.MaxFollowUpDepth levels.
var ErrQuestionTooDeep = errors.New("follow-up questions exceed maximum depth")

// Option is one selectable choice of a question.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// FollowUp is a question shown after a particular option is chosen.
type FollowUp struct {
	ID          string                `json:"question_id"`
	Text        string                `json:"question_text"`
	Type        string                `json:"type"`
	Header      string                `json:"header,omitempty"`
	Description string                `json:"description,omitempty"`
	Options     []Option              `json:"options,omitempty"`
	Required    bool                  `json:"required"`
	FollowUps   map[string][]FollowUp `json:"follow_up_questions,omitempty"`
}

// Question is an in-band request from the agent for user input. Type is
// one of multiple_choice, checkbox, text or boolean.
type Question struct {
	ID             string                `json:"question_id"`
	Text           string                `json:"question_text"`
	Type           string                `json:"type"`
	Header         string                `json:"header,omitempty"`
	Description    string                `json:"description,omitempty"`
	Options        []Option              `json:"options,omitempty"`
	Required       bool                  `json:"required"`
	MultiSelect    bool                  `json:"multi_select"`
	MinSelections  int                   `json:"min_selections,omitempty"`
	MaxSelections  int                   `json:"max_selections,omitempty"`
	TimeoutSeconds int                   `json:"timeout_seconds,omitempty"`
	FollowUps      map[string][]FollowUp `json:"follow_up_questions,omitempty"`

	// raw keeps the original tool input so the answer payload can echo
	// the question list exactly as the agent sent it.
	raw map[string]any
}

// RawQuestions returns the questions list of the original tool input,
// empty when the payload used the flat form.
func (q *Question) RawQuestions() []any {
	if q.raw != nil {
		if list, ok := q.raw["questions"].([]any); ok {
			return list
		}
	}
	return []any{}
}

// ParseQuestion reads a question tool input. Payload defects other than
// an over-deep follow-up tree are repaired rather than rejected; the
// returned warnings describe each repair so the client can be told.
func ParseQuestion(input map[string]any) (*Question, []string, error) {
	var warns []string

	m := input
	// Some agent versions wrap the payload in a questions list; only
	// the first entry is honoured.
	if list, ok := input["questions"].([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			m = first
			if len(list) > 1 {
				warns = append(warns, "multiple questions in one call; answering the first only")
			}
		}
	}
	if m == nil {
		m = map[string]any{}
	}

	q := &Question{
		ID:             str(m, "question_id"),
		Text:           str(m, "question_text", "question"),
		Type:           str(m, "type"),
		Header:         str(m, "header"),
		Description:    str(m, "description"),
		Required:       boolean(m, true, "required"),
		MultiSelect:    boolean(m, false, "multiSelect", "multi_select"),
		MinSelections:  integer(m, "minSelections", "min_selections"),
		MaxSelections:  integer(m, "maxSelections", "max_selections"),
		TimeoutSeconds: integer(m, "timeoutSeconds", "timeout_seconds"),
		raw:            input,
	}
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Type == "" {
		q.Type = "multiple_choice"
	}

	opts, ok := parseOptions(m["options"])
	if !ok {
		warns = append(warns, "question has no usable options; offering defaults")
		opts = defaultOptions()
	}
	q.Options = opts

	fups, err := parseFollowUps(m["follow_up_questions"], config.MaxFollowUpDepth-1)
	if err != nil {
		return nil, warns, err
	}
	q.FollowUps = fups

	return q, warns, nil
}

// FallbackQuestion is the minimal question used when a payload cannot
// be honoured as sent. The session keeps going either way.
func FallbackQuestion(input map[string]any) *Question {
	q := &Question{
		ID:       str(input, "question_id"),
		Text:     str(input, "question_text", "question"),
		Type:     "multiple_choice",
		Required: true,
		Options:  defaultOptions(),
		raw:      input,
	}
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return q
}

func defaultOptions() []Option {
	return []Option{
		{ID: "option_1", Label: "Option 1", Description: "Default option 1"},
		{ID: "option_2", Label: "Option 2", Description: "Default option 2"},
		{ID: "option_3", Label: "Option 3", Description: "Default option 3"},
	}
}

// parseOptions reports false when the payload held no usable option
// list; a single malformed entry disqualifies the whole list.
func parseOptions(v any) ([]Option, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	out := make([]Option, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		label := str(m, "label")
		if label == "" {
			return nil, false
		}
		opt := Option{
			ID:          str(m, "id"),
			Label:       TruncateLabel(label),
			Description: str(m, "description"),
			Default:     boolean(m, false, "default"),
		}
		if opt.ID == "" {
			opt.ID = uuid.New().String()
		}
		out = append(out, opt)
	}
	return out, true
}

// parseFollowUps walks the parent-option map. remaining counts the
// levels still allowed below this one; a non-empty map at zero fails
// the whole parse.
func parseFollowUps(v any, remaining int) (map[string][]FollowUp, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, nil
	}
	if remaining <= 0 {
		return nil, ErrQuestionTooDeep
	}

	out := make(map[string][]FollowUp, len(m))
	for parent, raw := range m {
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		var fups []FollowUp
		for _, item := range list {
			qm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			f := FollowUp{
				ID:          str(qm, "question_id"),
				Text:        str(qm, "question_text", "question"),
				Type:        str(qm, "type"),
				Header:      str(qm, "header"),
				Description: str(qm, "description"),
				Required:    boolean(qm, true, "required"),
			}
			if f.ID == "" {
				f.ID = uuid.New().String()
			}
			if f.Type == "" {
				f.Type = "multiple_choice"
			}
			if opts, ok := parseOptions(qm["options"]); ok {
				f.Options = opts
			}
			nested, err := parseFollowUps(qm["follow_up_questions"], remaining-1)
			if err != nil {
				return nil, err
			}
			f.FollowUps = nested
			fups = append(fups, f)
		}
		if len(fups) > 0 {
			out[parent] = fups
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func boolean(m map[string]any, def bool, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return def
}

func integer(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}
