package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/droverhq/drover/internal/cron"
	"github.com/droverhq/drover/internal/tasks"
)

// createScheduledRequest is the body of POST /api/scheduled-tasks.
type createScheduledRequest struct {
	Name         string   `json:"name"`
	Prompt       string   `json:"prompt"`
	Cron         string   `json:"cron"`
	Workspace    string   `json:"workspace,omitempty"`
	TimeoutMS    int      `json:"timeout_ms,omitempty"`
	AutoApprove  bool     `json:"auto_approve,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"` // default true
}

// updateScheduledRequest is the body of PATCH /api/scheduled-tasks/{id}.
// Absent fields keep their stored value.
type updateScheduledRequest struct {
	Name         *string   `json:"name,omitempty"`
	Prompt       *string   `json:"prompt,omitempty"`
	Cron         *string   `json:"cron,omitempty"`
	Workspace    *string   `json:"workspace,omitempty"`
	TimeoutMS    *int      `json:"timeout_ms,omitempty"`
	AutoApprove  *bool     `json:"auto_approve,omitempty"`
	AllowedTools *[]string `json:"allowed_tools,omitempty"`
	Enabled      *bool     `json:"enabled,omitempty"`
}

func (s *Server) handleCreateScheduled(w http.ResponseWriter, r *http.Request) {
	var req createScheduledRequest
	if !decodeBody(w, r, &req) {
		return
	}

	st := tasks.NewScheduledTask(req.Name, req.Prompt, req.Cron, req.Workspace, req.TimeoutMS, req.AutoApprove, req.AllowedTools)
	if req.Enabled != nil {
		st.Enabled = *req.Enabled
	}
	if err := s.validateScheduled(st); err != nil {
		respondFailure(w, err)
		return
	}
	workspace, err := s.guard.Resolve(req.Workspace)
	if err != nil {
		respondFailure(w, err)
		return
	}
	st.Workspace = workspace

	if st.Enabled {
		next, err := cron.Next(st.Cron, time.Now())
		if err != nil {
			respondFailure(w, err)
			return
		}
		st.NextRun = &next
	}

	if err := s.store.Scheduled.Save(st); err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusCreated, st, "scheduled task created")
}

func (s *Server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.store.Scheduled.GetAll(), "")
}

func (s *Server) handleUpdateScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.store.Scheduled.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, CodeTaskNotFound, fmt.Sprintf("scheduled task %s not found", id))
		return
	}

	var req updateScheduledRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cronChanged := false
	if req.Name != nil {
		st.Name = *req.Name
	}
	if req.Prompt != nil {
		st.Prompt = *req.Prompt
	}
	if req.Cron != nil && *req.Cron != st.Cron {
		st.Cron = *req.Cron
		cronChanged = true
	}
	if req.Workspace != nil {
		workspace, err := s.guard.Resolve(*req.Workspace)
		if err != nil {
			respondFailure(w, err)
			return
		}
		st.Workspace = workspace
	}
	if req.TimeoutMS != nil {
		st.TimeoutMS = *req.TimeoutMS
	}
	if req.AutoApprove != nil {
		st.AutoApprove = *req.AutoApprove
	}
	if req.AllowedTools != nil {
		st.AllowedTools = *req.AllowedTools
	}
	enabledChanged := req.Enabled != nil && *req.Enabled != st.Enabled
	if req.Enabled != nil {
		st.Enabled = *req.Enabled
	}

	if err := s.validateScheduled(st); err != nil {
		respondFailure(w, err)
		return
	}

	// The enabled=false ⇒ next_run=null invariant, and a fresh next
	// run whenever the expression changes or the definition wakes up.
	switch {
	case !st.Enabled:
		st.NextRun = nil
	case cronChanged || enabledChanged || st.NextRun == nil:
		next, err := cron.Next(st.Cron, time.Now())
		if err != nil {
			respondFailure(w, err)
			return
		}
		st.NextRun = &next
	}
	st.UpdatedAt = time.Now()

	if err := s.store.Scheduled.Save(st); err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, st, "scheduled task updated")
}

func (s *Server) handleDeleteScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.store.Scheduled.Delete(id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, CodeTaskNotFound, fmt.Sprintf("scheduled task %s not found", id))
		return
	}
	respond(w, http.StatusOK, map[string]string{"id": id}, "scheduled task deleted")
}

func (s *Server) handleToggleScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.store.Scheduled.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, CodeTaskNotFound, fmt.Sprintf("scheduled task %s not found", id))
		return
	}

	st.Enabled = !st.Enabled
	if st.Enabled {
		next, err := cron.Next(st.Cron, time.Now())
		if err != nil {
			respondFailure(w, err)
			return
		}
		st.NextRun = &next
	} else {
		st.NextRun = nil
	}
	st.UpdatedAt = time.Now()

	if err := s.store.Scheduled.Save(st); err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, st, fmt.Sprintf("scheduled task %s", enabledWord(st.Enabled)))
}

func (s *Server) handleRunScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, err := s.sched.RunScheduledNow(id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"task_id": taskID}, "task queued")
}

// validateScheduled runs the full definition contract: name, prompt,
// timeout, tools, and a parseable cron expression.
func (s *Server) validateScheduled(st *tasks.ScheduledTask) error {
	if err := st.Validate(); err != nil {
		return err
	}
	return cron.Validate(st.Cron)
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
