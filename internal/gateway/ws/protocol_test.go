package ws

import (
	"encoding/json"
	"testing"

	"github.com/droverhq/drover/internal/events"
)

func TestFrameRoundTrip(t *testing.T) {
	params, _ := json.Marshal(map[string][]string{"types": {"task.completed"}})
	payload, _ := json.Marshal(map[string]string{"status": "completed"})

	cases := []struct {
		name  string
		frame Frame
	}{
		{"request", Frame{Type: FrameTypeRequest, ID: "req-1", Method: string(MethodSubscribe), Params: params}},
		{"response", Frame{Type: FrameTypeResponse, ID: "req-1", Payload: payload}},
		{"event", Frame{Type: FrameTypeEvent, Event: "task.completed", TaskID: "task_abc", Payload: payload}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := tc.frame.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := DecodeFrame(raw)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if got.Type != tc.frame.Type {
				t.Errorf("type = %q, want %q", got.Type, tc.frame.Type)
			}
			if got.ID != tc.frame.ID {
				t.Errorf("id = %q, want %q", got.ID, tc.frame.ID)
			}
			if got.Event != tc.frame.Event {
				t.Errorf("event = %q, want %q", got.Event, tc.frame.Event)
			}
			if got.TaskID != tc.frame.TaskID {
				t.Errorf("task_id = %q, want %q", got.TaskID, tc.frame.TaskID)
			}
		})
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEventFrameCarriesPayload(t *testing.T) {
	f, err := EventFrame("session.question", "", "sess_42", map[string]string{"question_id": "q-1"})
	if err != nil {
		t.Fatalf("EventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent || f.Event != "session.question" {
		t.Fatalf("unexpected frame header: %+v", f)
	}
	if f.SessionID != "sess_42" {
		t.Errorf("session_id = %q, want sess_42", f.SessionID)
	}

	var body map[string]string
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if body["question_id"] != "q-1" {
		t.Errorf("payload question_id = %q, want q-1", body["question_id"])
	}
}

func TestResponseFrameShapes(t *testing.T) {
	ok, err := ResponseFrame("req-5", true, map[string]string{"status": "subscribed"}, "")
	if err != nil {
		t.Fatalf("ResponseFrame: %v", err)
	}
	if ok.OK == nil || !*ok.OK {
		t.Fatal("ok response lost its ok flag")
	}
	var body map[string]string
	if err := json.Unmarshal(ok.Payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if body["status"] != "subscribed" {
		t.Errorf("payload status = %q, want subscribed", body["status"])
	}

	fail, err := ResponseFrame("req-6", false, nil, "unknown method: nope")
	if err != nil {
		t.Fatalf("ResponseFrame: %v", err)
	}
	if fail.OK == nil || *fail.OK {
		t.Fatal("error response lost its ok=false flag")
	}
	if fail.Error != "unknown method: nope" {
		t.Errorf("error = %q, want the method error", fail.Error)
	}
	if fail.Payload != nil {
		t.Errorf("error response carries payload %s", fail.Payload)
	}
}

func TestSubscriberFilter(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()
	hub := NewHub(bus)
	defer hub.Close()

	sub := &subscriber{outbox: make(chan []byte, 1)}

	if !sub.accepts("task.queued") {
		t.Fatal("unfiltered subscriber should accept every event")
	}

	hub.setWanted(sub, []string{"task.completed", "task.failed"})
	if sub.accepts("task.queued") {
		t.Fatal("filtered subscriber should skip task.queued")
	}
	if !sub.accepts("task.failed") {
		t.Fatal("filtered subscriber should accept task.failed")
	}

	hub.setWanted(sub, nil)
	if !sub.accepts("task.queued") {
		t.Fatal("empty filter should restore the firehose")
	}
}

func TestBroadcastHonoursFilter(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()
	hub := NewHub(bus)
	defer hub.Close()

	sub := &subscriber{outbox: make(chan []byte, 4)}
	hub.attach(sub)
	hub.setWanted(sub, []string{"task.failed"})

	hub.broadcast(events.New(events.TypeTaskQueued, events.SourceGateway, nil))
	hub.broadcast(events.New(events.TypeTaskFailed, events.SourceExecutor, nil))

	select {
	case raw := <-sub.outbox:
		frame, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if frame.Event != string(events.TypeTaskFailed) {
			t.Fatalf("event = %q, want task.failed", frame.Event)
		}
	default:
		t.Fatal("expected the matching event to be delivered")
	}
	select {
	case raw := <-sub.outbox:
		t.Fatalf("unexpected second frame: %s", raw)
	default:
	}
}
