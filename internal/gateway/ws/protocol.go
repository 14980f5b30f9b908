// Package ws exposes the event bus over websocket. The server pushes
// every bus event as an event frame; clients may narrow the feed with
// a subscribe request or replay recent history.
package ws

import "encoding/json"

// FrameType discriminates the three wire envelopes.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method names a client request.
type Method string

const (
	// MethodSubscribe narrows the feed to the named event types.
	// An empty type list restores the firehose.
	MethodSubscribe Method = "subscribe"
	// MethodRecent replays up to params.limit events from the ring
	// buffer in the response payload.
	MethodRecent Method = "recent"
)

// Frame is the websocket protocol envelope. Request frames carry ID,
// Method and Params; responses echo ID with OK/Payload/Error; event
// frames carry Event plus the task or session the event belongs to.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Encode serializes the frame for the wire.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses one wire message.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// EventFrame wraps a bus event for broadcast.
func EventFrame(event, taskID, sessionID string, payload any) (Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:      FrameTypeEvent,
		Event:     event,
		TaskID:    taskID,
		SessionID: sessionID,
		Payload:   body,
	}, nil
}

// ResponseFrame builds the reply to a request frame.
func ResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload == nil {
		return f, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = body
	return f, nil
}
