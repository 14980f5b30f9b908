package agent

import (
	"encoding/json"
	"strings"
)

// cliMessage is one stdout line of the stream-json protocol.
type cliMessage struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Message    *wireMessage    `json:"message,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CostUSD    *float64        `json:"cost_usd,omitempty"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content,omitempty"`
}

// wireBlock is one content block; Type decides which fields matter.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// contentText flattens a tool_result content payload, which arrives
// either as a plain string or as a list of text blocks.
func (b wireBlock) contentText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Content, &parts); err == nil {
		var out []string
		for _, p := range parts {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		}
		return strings.Join(out, "\n")
	}
	return string(b.Content)
}

// resultText flattens the result field, a string on success and
// sometimes an object on errors.
func (m cliMessage) resultText() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text,omitempty"`
	}
	if err := json.Unmarshal(m.Result, &obj); err == nil && obj.Text != "" {
		return obj.Text
	}
	return string(m.Result)
}

// messageEvents maps one wire message to stream events.
func messageEvents(msg cliMessage) []Event {
	switch msg.Type {
	case "assistant":
		if msg.Message == nil {
			return nil
		}
		var out []Event
		for _, b := range msg.Message.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					out = append(out, Event{Kind: KindText, Text: b.Text})
				}
			case "thinking":
				if b.Thinking != "" {
					out = append(out, Event{Kind: KindThinking, Text: b.Thinking})
				}
			case "tool_use":
				out = append(out, Event{Kind: KindToolUse, ToolUseID: b.ID, Tool: b.Name, Input: b.Input})
			}
		}
		return out

	case "user":
		if msg.Message == nil {
			return nil
		}
		var out []Event
		for _, b := range msg.Message.Content {
			if b.Type == "tool_result" {
				out = append(out, Event{
					Kind:      KindToolResult,
					ToolUseID: b.ToolUseID,
					Content:   b.contentText(),
					IsError:   b.IsError,
				})
			}
		}
		return out

	case "result":
		return []Event{{
			Kind: KindComplete,
			Meta: &Meta{
				SessionID:  msg.SessionID,
				Result:     msg.resultText(),
				CostUSD:    msg.CostUSD,
				DurationMS: msg.DurationMS,
				NumTurns:   msg.NumTurns,
				IsError:    msg.IsError,
			},
		}}
	}
	return nil
}

// Outbound shapes written to the agent's stdin.

type userMessage struct {
	Type    string      `json:"type"`
	Message userPayload `json:"message"`
}

type userPayload struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type toolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

func promptMessage(text string) userMessage {
	return userMessage{Type: "user", Message: userPayload{Role: "user", Content: text}}
}

func toolResultMessage(toolUseID, content string) userMessage {
	return userMessage{
		Type: "user",
		Message: userPayload{
			Role:    "user",
			Content: []toolResultBlock{{Type: "tool_result", ToolUseID: toolUseID, Content: content}},
		},
	}
}
