package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/droverhq/drover/internal/events"
)

// subscriber is one connected feed consumer. outbox is drained by the
// write loop; a full outbox drops frames instead of stalling the bus.
type subscriber struct {
	conn   *websocket.Conn
	outbox chan []byte

	// wanted holds the subscribed event types; nil means everything.
	// Guarded by the hub mutex.
	wanted map[string]struct{}
}

func (s *subscriber) accepts(t events.Type) bool {
	if s.wanted == nil {
		return true
	}
	_, ok := s.wanted[string(t)]
	return ok
}

// Hub bridges the event bus to websocket subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	bus    *events.Bus
	detach func()
}

// NewHub creates a hub and attaches it to every bus event.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{
		subs: make(map[*subscriber]struct{}),
		bus:  bus,
	}
	h.detach = bus.Subscribe(h.broadcast)
	return h
}

// broadcast fans one bus event out to every subscriber whose filter
// matches.
func (h *Hub) broadcast(e events.Event) {
	frame, err := EventFrame(string(e.Type), e.TaskID, e.SessionID, e)
	if err != nil {
		slog.Error("ws: build event frame", "error", err)
		return
	}
	raw, err := frame.Encode()
	if err != nil {
		slog.Error("ws: encode event frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.accepts(e.Type) {
			continue
		}
		select {
		case s.outbox <- raw:
		default:
		}
	}
}

func (h *Hub) attach(s *subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	return len(h.subs)
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.outbox)
	}
}

// setWanted replaces a subscriber's type filter. Empty restores the
// full feed.
func (h *Hub) setWanted(s *subscriber, types []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		s.wanted = nil
		return
	}
	s.wanted = make(map[string]struct{}, len(types))
	for _, t := range types {
		s.wanted[t] = struct{}{}
	}
}

// ServeWS upgrades the connection and pumps frames until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local control plane, any origin
	})
	if err != nil {
		slog.Error("ws: accept", "error", err)
		return
	}

	sub := &subscriber{
		conn:   conn,
		outbox: make(chan []byte, 256),
	}
	n := h.attach(sub)
	slog.Info("ws: feed attached", "subscribers", n)

	ctx := r.Context()
	go h.writeLoop(ctx, sub)
	h.readLoop(ctx, sub)
}

// readLoop handles request frames until the peer goes away.
func (h *Hub) readLoop(ctx context.Context, sub *subscriber) {
	defer func() {
		h.drop(sub)
		sub.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("ws: feed detached")
	}()

	for {
		_, raw, err := sub.conn.Read(ctx)
		if err != nil {
			slog.Debug("ws: read ended", "error", err)
			return
		}

		frame, err := DecodeFrame(raw)
		if err != nil {
			slog.Debug("ws: bad frame", "error", err)
			continue
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		h.handle(sub, frame)
	}
}

func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) {
	for {
		select {
		case raw, open := <-sub.outbox:
			if !open {
				return
			}
			if err := sub.conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(sub *subscriber, frame Frame) {
	switch Method(frame.Method) {
	case MethodSubscribe:
		var params struct {
			Types []string `json:"types"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				h.reply(sub, frame.ID, false, nil, "invalid params")
				return
			}
		}
		h.setWanted(sub, params.Types)
		h.reply(sub, frame.ID, true, map[string]any{"subscribed": params.Types}, "")

	case MethodRecent:
		var params struct {
			Limit int `json:"limit"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				h.reply(sub, frame.ID, false, nil, "invalid params")
				return
			}
		}
		if params.Limit <= 0 {
			params.Limit = 50
		}
		h.reply(sub, frame.ID, true, map[string]any{"events": h.bus.History(params.Limit)}, "")

	default:
		h.reply(sub, frame.ID, false, nil, "unknown method: "+frame.Method)
	}
}

func (h *Hub) reply(sub *subscriber, id string, ok bool, payload any, errMsg string) {
	frame, err := ResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		return
	}
	raw, err := frame.Encode()
	if err != nil {
		return
	}
	select {
	case sub.outbox <- raw:
	default:
	}
}

// Close detaches from the bus and drops every subscriber.
func (h *Hub) Close() {
	if h.detach != nil {
		h.detach()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.subs, s)
	}
}
