// Package ws provides a websocket client for the drover event feed.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/droverhq/drover/internal/events"
	wsprotocol "github.com/droverhq/drover/internal/gateway/ws"
)

// Client consumes the server's event feed.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc

	// replay buffers events from a Recent response so NextEvent can
	// hand them out one at a time.
	replay []events.Event
}

// Dial connects to the feed endpoint, ws://host:port/api/events.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Subscribe narrows the feed to the given event types. An empty list
// restores the full feed.
func (c *Client) Subscribe(types []string) error {
	params, _ := json.Marshal(map[string]any{"types": types})
	return c.request(wsprotocol.MethodSubscribe, params)
}

// Recent asks the server to replay up to limit buffered events. The
// replayed events arrive through NextEvent ahead of live ones.
func (c *Client) Recent(limit int) error {
	params, _ := json.Marshal(map[string]int{"limit": limit})
	return c.request(wsprotocol.MethodRecent, params)
}

func (c *Client) request(method wsprotocol.Method, params json.RawMessage) error {
	seq := atomic.AddUint64(&c.reqSeq, 1)

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
		Params: params,
	}

	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// NextEvent blocks until the next event. Replay responses are
// flattened into the stream; error responses surface as errors.
func (c *Client) NextEvent() (events.Event, error) {
	for {
		if len(c.replay) > 0 {
			e := c.replay[0]
			c.replay = c.replay[1:]
			return e, nil
		}

		frame, err := c.ReadFrame()
		if err != nil {
			return events.Event{}, err
		}

		switch frame.Type {
		case wsprotocol.FrameTypeEvent:
			var e events.Event
			if err := json.Unmarshal(frame.Payload, &e); err != nil {
				continue
			}
			return e, nil

		case wsprotocol.FrameTypeResponse:
			if frame.Error != "" {
				return events.Event{}, fmt.Errorf("server: %s", frame.Error)
			}
			var replay struct {
				Events []events.Event `json:"events"`
			}
			if err := json.Unmarshal(frame.Payload, &replay); err != nil {
				continue
			}
			c.replay = append(c.replay, replay.Events...)
		}
	}
}

// ReadFrame reads the next raw frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.DecodeFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
