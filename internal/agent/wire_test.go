package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func parseLine(t *testing.T, line string) []Event {
	t.Helper()
	var msg cliMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	return messageEvents(msg)
}

func TestMessageEventsAssistant(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"thinking","thinking":"plan it"},` +
		`{"type":"text","text":"working on it"},` +
		`{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}]}}`

	events := parseLine(t, line)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Kind != KindThinking || events[0].Text != "plan it" {
		t.Fatalf("event 0 = %+v, want thinking", events[0])
	}
	if events[1].Kind != KindText || events[1].Text != "working on it" {
		t.Fatalf("event 1 = %+v, want text", events[1])
	}
	tu := events[2]
	if tu.Kind != KindToolUse || tu.ToolUseID != "tu_1" || tu.Tool != "Bash" {
		t.Fatalf("event 2 = %+v, want tool_use", tu)
	}
	if tu.Input["command"] != "ls" {
		t.Fatalf("tool input = %v, want command ls", tu.Input)
	}
}

func TestMessageEventsToolResultString(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu_1","content":"file.txt"}]}}`

	events := parseLine(t, line)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != KindToolResult || ev.ToolUseID != "tu_1" || ev.Content != "file.txt" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestMessageEventsToolResultBlocks(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu_2","is_error":true,` +
		`"content":[{"type":"text","text":"no such"},{"type":"text","text":"file"}]}]}}`

	events := parseLine(t, line)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if !ev.IsError {
		t.Fatal("is_error not carried over")
	}
	if ev.Content != "no such\nfile" {
		t.Fatalf("content = %q", ev.Content)
	}
}

func TestMessageEventsResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","session_id":"sess_9",` +
		`"result":"all done","cost_usd":0.42,"duration_ms":1234,"num_turns":3}`

	events := parseLine(t, line)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != KindComplete || ev.Meta == nil {
		t.Fatalf("event = %+v, want complete with meta", ev)
	}
	m := ev.Meta
	if m.SessionID != "sess_9" || m.Result != "all done" || m.NumTurns != 3 {
		t.Fatalf("meta = %+v", m)
	}
	if m.CostUSD == nil || *m.CostUSD != 0.42 {
		t.Fatalf("cost = %v, want 0.42", m.CostUSD)
	}
	if m.DurationMS == nil || *m.DurationMS != 1234 {
		t.Fatalf("duration = %v, want 1234", m.DurationMS)
	}
	if m.IsError {
		t.Fatal("IsError set on success result")
	}
}

func TestMessageEventsResultError(t *testing.T) {
	line := `{"type":"result","subtype":"error","is_error":true,"result":"rate limit exceeded"}`

	events := parseLine(t, line)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != KindComplete || ev.Meta == nil || !ev.Meta.IsError {
		t.Fatalf("event = %+v, want complete with IsError", ev)
	}
	if ev.Meta.Result != "rate limit exceeded" {
		t.Fatalf("result = %q", ev.Meta.Result)
	}
}

func TestMessageEventsIgnoresSystem(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"sess_1"}`
	if events := parseLine(t, line); len(events) != 0 {
		t.Fatalf("system message produced %d events", len(events))
	}
}

func TestToolResultMessageShape(t *testing.T) {
	msg := toolResultMessage("tu_7", "the answer")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"type":"user"`, `"tool_use_id":"tu_7"`, `"content":"the answer"`, `"type":"tool_result"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("message %s missing %s", data, want)
		}
	}
}

func TestPromptMessageShape(t *testing.T) {
	data, err := json.Marshal(promptMessage("do the thing"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"user","message":{"role":"user","content":"do the thing"}}`
	if string(data) != want {
		t.Fatalf("message = %s, want %s", data, want)
	}
}
