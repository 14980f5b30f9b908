// Package events provides the in-process event bus that fans task,
// schedule and session activity out to the gateway, the audit log and
// websocket clients.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event on the bus.
type Type string

const (
	TypeTaskQueued    Type = "task.queued"
	TypeTaskStarted   Type = "task.started"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeTaskRetried   Type = "task.retried"
	TypeTaskCancelled Type = "task.cancelled"

	TypeScheduleTrigger  Type = "schedule.trigger"
	TypeSchedulerStarted Type = "scheduler.started"
	TypeSchedulerStopped Type = "scheduler.stopped"

	TypeSessionCreated  Type = "session.created"
	TypeSessionQuestion Type = "session.question"
	TypeSessionAnswered Type = "session.answered"
	TypeSessionClosed   Type = "session.closed"
)

// Source identifies the component that emitted an event.
type Source string

const (
	SourceScheduler Source = "scheduler"
	SourceExecutor  Source = "executor"
	SourceSessions  Source = "sessions"
	SourceGateway   Source = "gateway"
)

// Event is one entry on the bus.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    Source         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
}

var eventSeq uint64

// New creates an event stamped with the current time.
func New(t Type, source Source, payload map[string]any) Event {
	return Event{
		ID:        nextEventID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   payload,
	}
}

// NewTask creates an event bound to a task.
func NewTask(t Type, source Source, taskID string, payload map[string]any) Event {
	e := New(t, source, payload)
	e.TaskID = taskID
	return e
}

// NewSession creates an event bound to an interactive session.
func NewSession(t Type, source Source, sessionID string, payload map[string]any) Event {
	e := New(t, source, payload)
	e.SessionID = sessionID
	return e
}

func nextEventID() string {
	seq := atomic.AddUint64(&eventSeq, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// listener pairs a handler with the types it cares about; an empty
// type list means everything.
type listener struct {
	only []Type
	fn   Subscriber
}

func (l *listener) cares(t Type) bool {
	if len(l.only) == 0 {
		return true
	}
	for _, want := range l.only {
		if want == t {
			return true
		}
	}
	return false
}

// Bus is an in-memory publish/subscribe hub with a ring buffer of
// recent events. Publish never blocks; events overflow silently when
// the dispatch queue is full.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]*listener
	lastID    uint64
	queue     chan Event
	ring      *RingBuffer
	closed    bool
	done      chan struct{}
}

// NewBus creates a bus with the given queue and history size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b := &Bus{
		listeners: make(map[uint64]*listener),
		queue:     make(chan Event, bufferSize),
		ring:      NewRingBuffer(bufferSize),
		done:      make(chan struct{}),
	}
	go b.pump()
	return b
}

// pump is the single dispatch goroutine: record to history, then fan
// out. Handlers run on their own goroutines so one slow consumer
// cannot hold up the rest.
func (b *Bus) pump() {
	for {
		select {
		case e := <-b.queue:
			b.ring.Add(e)
			b.fanout(e)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) fanout(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if l.cares(e.Type) {
			go l.fn(e)
		}
	}
}

// Publish puts an event on the bus. Events published after Close, or
// while the queue is full, are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	stopped := b.closed
	b.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case b.queue <- e:
	default:
	}
}

// Subscribe registers a handler for the given event types, or for all
// events when none are named. The returned function unsubscribes.
func (b *Bus) Subscribe(handler Subscriber, types ...Type) func() {
	b.mu.Lock()
	b.lastID++
	id := b.lastID
	b.listeners[id] = &listener{only: types, fn: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// SubscribeChan returns a channel fed by a subscription. Slow readers
// lose events rather than stalling the bus.
func (b *Bus) SubscribeChan(bufSize int, types ...Type) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	cancel := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}, types...)

	return ch, cancel
}

// History returns up to limit recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.ring.Get(limit)
}

// Close stops dispatching. The queue channel is left for the garbage
// collector so in-flight Publish calls cannot hit a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// RingBuffer is a fixed-size circular buffer of recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	slots  []Event
	head   int
	filled int
}

// NewRingBuffer creates a ring buffer holding size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{slots: make([]Event, size)}
}

// Add appends an event, overwriting the oldest when full.
func (r *RingBuffer) Add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[r.head] = e
	r.head = (r.head + 1) % len(r.slots)
	if r.filled < len(r.slots) {
		r.filled++
	}
}

// Get returns up to n recent events, oldest first.
func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.filled {
		n = r.filled
	}
	if n <= 0 {
		return nil
	}

	out := make([]Event, 0, n)
	first := (r.head - n + len(r.slots)) % len(r.slots)
	for i := 0; i < n; i++ {
		out = append(out, r.slots[(first+i)%len(r.slots)])
	}
	return out
}
