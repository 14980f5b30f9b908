// Package sessions coordinates interactive streaming runs. Each client
// stream owns one agent invocation; when the agent asks a question the
// run suspends until the out-of-band answer endpoint resumes it.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
)

// Typed answer-submission failures, mapped to API error codes by the
// gateway.
var (
	ErrSessionNotFound  = errors.New("session not found or expired")
	ErrNotWaiting       = errors.New("session is not waiting for an answer")
	ErrQuestionMismatch = errors.New("question id does not match the pending question")
)

// Request starts one interactive run.
type Request struct {
	Prompt               string   `json:"prompt"`
	Workspace            string   `json:"working_dir,omitempty"`
	AllowedTools         []string `json:"tools,omitempty"`
	PermissionMode       string   `json:"permission_mode,omitempty"`
	AutoApprove          bool     `json:"auto_approve,omitempty"`
	ContinueConversation bool     `json:"continue_conversation,omitempty"`
	Resume               string   `json:"resume,omitempty"`
}

// Event is one record of a streaming run, shaped for the SSE feed.
type Event struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Meta      map[string]any `json:"metadata,omitempty"`
	Question  *Question      `json:"question,omitempty"`
}

// Answer delivers a user's response to a pending question.
type Answer struct {
	SessionID       string         `json:"session_id"`
	QuestionID      string         `json:"question_id"`
	Answer          any            `json:"answer"`
	FollowUpAnswers map[string]any `json:"follow_up_answers,omitempty"`
}

// Status is a point-in-time snapshot of one session.
type Status struct {
	SessionID         string    `json:"session_id"`
	IsWaiting         bool      `json:"is_waiting"`
	PendingQuestionID string    `json:"pending_question_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type session struct {
	id        string
	stream    agent.Stream
	cancel    context.CancelFunc
	createdAt time.Time

	// Guarded by the manager mutex.
	waiting  bool
	question *Question
	answerCh chan *Answer
}

func (sess *session) snapshot() *Status {
	st := &Status{
		SessionID: sess.id,
		IsWaiting: sess.waiting,
		CreatedAt: sess.createdAt,
	}
	if sess.question != nil {
		st.PendingQuestionID = sess.question.ID
	}
	return st
}

// Config wires a Manager. Zero values fall back to the package
// defaults in config.
type Config struct {
	Agent agent.Agent
	Bus   *events.Bus

	QuestionTimeout time.Duration
	MaxPending      int
	MaxAge          time.Duration
	SweepInterval   time.Duration
}

// Manager is the registry of live streaming sessions. All state
// mutations happen under one mutex so status reads are consistent.
type Manager struct {
	agent agent.Agent
	bus   *events.Bus

	questionTimeout time.Duration
	maxAge          time.Duration

	// slots is the global admission semaphore for pending questions.
	slots chan struct{}

	mu       sync.Mutex
	sessions map[string]*session

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager builds a Manager and starts its expiry sweeper.
func NewManager(cfg Config) *Manager {
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = config.DefaultQuestionTimeout
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = config.MaxPendingQuestions
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = config.SessionMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = config.SessionSweepInterval
	}

	m := &Manager{
		agent:           cfg.Agent,
		bus:             cfg.Bus,
		questionTimeout: cfg.QuestionTimeout,
		maxAge:          cfg.MaxAge,
		slots:           make(chan struct{}, cfg.MaxPending),
		sessions:        make(map[string]*session),
		done:            make(chan struct{}),
	}
	go m.sweep(cfg.SweepInterval)
	return m
}

// OpenStream starts an agent run and returns the session id plus its
// event feed. The channel closes when the run finishes or ctx is
// cancelled; cancelling ctx (client disconnect) tears the run down.
func (m *Manager) OpenStream(ctx context.Context, req Request) (string, <-chan Event, error) {
	sessionID := uuid.New().String()
	if req.Resume != "" {
		m.mu.Lock()
		if old, ok := m.sessions[req.Resume]; ok {
			// Resuming a live session replaces it.
			delete(m.sessions, req.Resume)
			old.cancel()
			sessionID = req.Resume
		}
		m.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := m.agent.Run(runCtx, req.Prompt, agent.Options{
		Workspace:            req.Workspace,
		AllowedTools:         req.AllowedTools,
		PermissionMode:       req.PermissionMode,
		AutoApprove:          req.AutoApprove,
		ContinueConversation: req.ContinueConversation,
		ResumeSessionID:      req.Resume,
	})
	if err != nil {
		cancel()
		return "", nil, fmt.Errorf("start agent: %w", err)
	}

	sess := &session{
		id:        sessionID,
		stream:    stream,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	m.bus.Publish(events.NewSession(events.TypeSessionCreated, events.SourceSessions, sessionID, nil))
	slog.Info("sessions: stream opened", "session_id", sessionID, "workspace", req.Workspace)

	out := make(chan Event, 16)
	go m.pump(runCtx, sess, out)
	return sessionID, out, nil
}

// pump translates agent events into client records until the run ends.
func (m *Manager) pump(ctx context.Context, sess *session, out chan<- Event) {
	defer close(out)
	defer m.closeSession(sess)

	for {
		select {
		case ev, ok := <-sess.stream.Events():
			if !ok {
				return
			}
			if ev.Kind == agent.KindToolUse && agent.IsQuestionTool(ev.Tool) {
				if stopped := m.askQuestion(ctx, sess, ev, out); stopped {
					return
				}
				continue
			}
			if !emit(ctx, out, m.record(sess, ev)) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) record(sess *session, ev agent.Event) Event {
	record := Event{Timestamp: time.Now(), SessionID: sess.id}
	switch ev.Kind {
	case agent.KindText:
		record.Type = "text"
		record.Content = ev.Text
	case agent.KindThinking:
		record.Type = "thinking"
		record.Content = ev.Text
	case agent.KindToolUse:
		record.Type = "tool_use"
		record.Content = "Using tool: " + ev.Tool
		record.ToolName = ev.Tool
		record.ToolInput = ev.Input
	case agent.KindToolResult:
		record.Type = "tool_result"
		record.Content = ev.Content
	case agent.KindError:
		record.Type = "error"
		record.Content = ev.Text
	case agent.KindComplete:
		record.Type = "complete"
		record.Content = "Task completed"
		if ev.Meta != nil {
			if ev.Meta.IsError {
				record.Content = "Task failed"
			}
			meta := map[string]any{
				"session_id": ev.Meta.SessionID,
				"is_error":   ev.Meta.IsError,
			}
			if ev.Meta.CostUSD != nil {
				meta["cost_usd"] = *ev.Meta.CostUSD
			}
			if ev.Meta.DurationMS != nil {
				meta["duration_ms"] = *ev.Meta.DurationMS
			}
			record.Meta = meta
		}
	}
	return record
}

// askQuestion runs the suspend/resume protocol for one question tool
// call and reports whether the pump should stop.
func (m *Manager) askQuestion(ctx context.Context, sess *session, ev agent.Event, out chan<- Event) bool {
	q, warns, err := ParseQuestion(ev.Input)
	if err != nil {
		warns = append(warns, fmt.Sprintf("question rejected (%v); offering defaults", err))
		q = FallbackQuestion(ev.Input)
	}
	for _, w := range warns {
		slog.Warn("sessions: question payload repaired", "session_id", sess.id, "warning", w)
		if !emit(ctx, out, Event{Type: "text", Content: "Warning: " + w, Timestamp: time.Now(), SessionID: sess.id}) {
			return true
		}
	}

	// Admission: past the global cap the question queues behind the
	// ones already showing and the client is told to hold on.
	select {
	case m.slots <- struct{}{}:
	default:
		if !emit(ctx, out, Event{Type: "text", Content: "System busy, please wait...", Timestamp: time.Now(), SessionID: sess.id}) {
			return true
		}
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			return true
		}
	}
	defer func() { <-m.slots }()

	// The answer signal must exist before the question event goes out;
	// an answer racing the emission would otherwise be lost.
	answerCh := make(chan *Answer, 1)
	m.mu.Lock()
	sess.waiting = true
	sess.question = q
	sess.answerCh = answerCh
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		sess.waiting = false
		sess.question = nil
		sess.answerCh = nil
		m.mu.Unlock()
	}()

	content := q.Text
	if content == "" {
		content = "Please answer the question."
	}
	question := Event{
		Type:      "ask_user_question",
		Content:   content,
		Timestamp: time.Now(),
		SessionID: sess.id,
		ToolName:  ev.Tool,
		ToolInput: ev.Input,
		Question:  q,
	}
	if !emit(ctx, out, question) {
		return true
	}
	m.bus.Publish(events.NewSession(events.TypeSessionQuestion, events.SourceSessions, sess.id, events.QuestionPayload(q.ID, q.Text)))
	slog.Info("sessions: waiting for answer", "session_id", sess.id, "question_id", q.ID)

	timeout := m.questionTimeout
	if q.TimeoutSeconds > 0 {
		timeout = time.Duration(q.TimeoutSeconds) * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case answer := <-answerCh:
		text, extra := answerResult(q, answer)
		if err := sess.stream.InjectToolResult(ev.ToolUseID, text, extra); err != nil {
			slog.Error("sessions: inject answer", "session_id", sess.id, "error", err)
		}
		m.bus.Publish(events.NewSession(events.TypeSessionAnswered, events.SourceSessions, sess.id, events.QuestionPayload(q.ID, q.Text)))
		return false
	case <-timer.C:
		slog.Warn("sessions: question timed out", "session_id", sess.id, "question_id", q.ID)
		if err := sess.stream.InjectToolResult(ev.ToolUseID, agent.NoAnswerResult, nil); err != nil {
			slog.Error("sessions: inject timeout result", "session_id", sess.id, "error", err)
		}
		return false
	case <-ctx.Done():
		_ = sess.stream.InjectToolResult(ev.ToolUseID, agent.NoAnswerResult, nil)
		return true
	}
}

// answerResult builds the tool result for an answered question: a
// human-readable line plus the {questions, answers} payload the agent
// expects to see echoed back.
func answerResult(q *Question, a *Answer) (string, map[string]any) {
	questionText := q.Text
	if questionText == "" {
		questionText = "question"
	}
	text := fmt.Sprintf(
		`User has answered your questions: "%s"="%s". You can now continue with the user's answers in mind.`,
		questionText, AnswerText(a.Answer),
	)

	answers := map[string]any{questionText: a.Answer}
	for parent, v := range a.FollowUpAnswers {
		answers[parent] = v
	}
	extra := map[string]any{
		"questions": q.RawQuestions(),
		"answers":   answers,
	}
	return text, extra
}

// SubmitAnswer validates and delivers an answer. The bool reports
// delivery; on false the error names which check failed and the
// session is left untouched.
func (m *Manager) SubmitAnswer(a *Answer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[a.SessionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, a.SessionID)
	}
	if !sess.waiting || sess.answerCh == nil || sess.question == nil {
		return false, ErrNotWaiting
	}
	if sess.question.ID != a.QuestionID {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrQuestionMismatch, sess.question.ID, a.QuestionID)
	}

	a.Answer = SanitizeValue(a.Answer)
	for k, v := range a.FollowUpAnswers {
		a.FollowUpAnswers[k] = SanitizeValue(v)
	}

	// Buffered send; the waiting pump drains it. Clearing the channel
	// here makes a second submit fail with ErrNotWaiting.
	sess.answerCh <- a
	sess.answerCh = nil
	sess.waiting = false

	slog.Info("sessions: answer accepted", "session_id", a.SessionID, "question_id", a.QuestionID)
	return true, nil
}

// GetStatus reports one session.
func (m *Manager) GetStatus(sessionID string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.snapshot(), nil
}

// ListSessions snapshots every live session, oldest first.
func (m *Manager) ListSessions() []*Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Status, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) closeSession(sess *session) {
	m.mu.Lock()
	_, live := m.sessions[sess.id]
	delete(m.sessions, sess.id)
	m.mu.Unlock()

	sess.cancel()
	sess.stream.Cancel()

	if live {
		m.bus.Publish(events.NewSession(events.TypeSessionClosed, events.SourceSessions, sess.id, nil))
		slog.Info("sessions: stream closed", "session_id", sess.id)
	}
}

// sweep drops sessions older than maxAge.
func (m *Manager) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-m.maxAge)

			m.mu.Lock()
			var expired []*session
			for id, sess := range m.sessions {
				if sess.createdAt.Before(cutoff) {
					expired = append(expired, sess)
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()

			for _, sess := range expired {
				slog.Info("sessions: expired", "session_id", sess.id, "age", time.Since(sess.createdAt))
				sess.cancel()
				sess.stream.Cancel()
				m.bus.Publish(events.NewSession(events.TypeSessionClosed, events.SourceSessions, sess.id, nil))
			}
		case <-m.done:
			return
		}
	}
}

// Close cancels every live session and stops the sweeper.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		all = append(all, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range all {
		sess.cancel()
		sess.stream.Cancel()
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
