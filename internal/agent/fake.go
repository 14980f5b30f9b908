package agent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FakeStep is one scripted action in a fake run.
type FakeStep struct {
	// Event is emitted as-is.
	Event Event
	// AwaitInject pauses the script after the event until
	// InjectToolResult is called.
	AwaitInject bool
	// Delay pauses before emitting the event.
	Delay time.Duration
}

// FakeRun scripts one Run invocation.
type FakeRun struct {
	Steps []FakeStep
	// Err, when set, is returned from Run instead of a stream.
	Err error
}

// Injection records one InjectToolResult call.
type Injection struct {
	ToolUseID string
	Content   string
	Extra     map[string]any
}

// Fake is a scriptable Agent for tests. Runs are consumed in order;
// prompts, options and injected tool results are recorded.
type Fake struct {
	mu       sync.Mutex
	runs     []FakeRun
	prompts  []string
	opts     []Options
	injected []Injection
}

// NewFake returns a Fake that plays the given runs in order.
func NewFake(runs ...FakeRun) *Fake {
	return &Fake{runs: runs}
}

// Run pops the next scripted run.
func (f *Fake) Run(ctx context.Context, prompt string, opts Options) (Stream, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if len(f.runs) == 0 {
		f.mu.Unlock()
		return nil, errors.New("fake agent: no scripted runs left")
	}
	run := f.runs[0]
	f.runs = f.runs[1:]
	f.mu.Unlock()

	if run.Err != nil {
		return nil, run.Err
	}

	s := &fakeStream{
		fake:   f,
		events: make(chan Event, 16),
		inject: make(chan Injection, 4),
		done:   make(chan struct{}),
	}
	go s.play(ctx, run.Steps)
	return s, nil
}

// Prompts returns the prompts passed to Run so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// RunOptions returns the options passed to Run so far.
func (f *Fake) RunOptions() []Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Options(nil), f.opts...)
}

// Injected returns the recorded InjectToolResult calls.
func (f *Fake) Injected() []Injection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Injection(nil), f.injected...)
}

type fakeStream struct {
	fake   *Fake
	events chan Event
	inject chan Injection
	done   chan struct{}
	once   sync.Once
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) InjectToolResult(toolUseID, content string, extra map[string]any) error {
	inj := Injection{ToolUseID: toolUseID, Content: content, Extra: extra}
	s.fake.mu.Lock()
	s.fake.injected = append(s.fake.injected, inj)
	s.fake.mu.Unlock()

	select {
	case s.inject <- inj:
		return nil
	case <-s.done:
		return errors.New("fake agent: stream finished")
	}
}

func (s *fakeStream) Cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *fakeStream) play(ctx context.Context, steps []FakeStep) {
	defer close(s.events)
	for _, step := range steps {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		select {
		case s.events <- step.Event:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
		if step.AwaitInject {
			select {
			case <-s.inject:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// CompletedRun scripts a run that emits text and finishes cleanly.
func CompletedRun(text string, costUSD float64, durationMS int64) FakeRun {
	return FakeRun{Steps: []FakeStep{
		{Event: Event{Kind: KindText, Text: text}},
		{Event: Event{Kind: KindComplete, Meta: &Meta{
			Result:     text,
			CostUSD:    &costUSD,
			DurationMS: &durationMS,
		}}},
	}}
}

// FailedRun scripts a run whose result reports an error.
func FailedRun(message string) FakeRun {
	return FakeRun{Steps: []FakeStep{
		{Event: Event{Kind: KindComplete, Meta: &Meta{Result: message, IsError: true}}},
	}}
}
