package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/droverhq/drover/internal/sessions"
	"github.com/droverhq/drover/internal/tasks"
)

// handleStream runs one interactive agent session over SSE. The
// response stays open until the run finishes or the client drops;
// question events pause the run until POST /api/task/answer resumes it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req sessions.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if err := tasks.ValidatePrompt(req.Prompt); err != nil {
		respondFailure(w, err)
		return
	}
	if err := tasks.ValidateTools(req.AllowedTools); err != nil {
		respondFailure(w, err)
		return
	}
	workspace, err := s.guard.Resolve(req.Workspace)
	if err != nil {
		respondFailure(w, err)
		return
	}
	req.Workspace = workspace

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported by connection")
		return
	}

	sessionID, feed, err := s.sessions.OpenStream(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range feed {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("gateway: marshal stream event", "session_id", sessionID, "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var ans sessions.Answer
	if !decodeBody(w, r, &ans) {
		return
	}
	delivered, err := s.sessions.SubmitAnswer(&ans)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"delivered": delivered, "session_id": ans.SessionID}, "answer delivered")
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, status, "")
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.ListSessions(),
		"count":    s.sessions.Count(),
	}, "")
}
