package gateway

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/tasks"
)

// createTaskRequest is the body of POST /api/tasks.
type createTaskRequest struct {
	Prompt       string   `json:"prompt"`
	Workspace    string   `json:"workspace,omitempty"`
	TimeoutMS    int      `json:"timeout_ms,omitempty"`
	AutoApprove  bool     `json:"auto_approve,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task := tasks.NewTask(req.Prompt, req.Workspace, req.TimeoutMS, req.AutoApprove, req.AllowedTools)
	if err := task.Validate(); err != nil {
		respondFailure(w, err)
		return
	}
	workspace, err := s.guard.Resolve(req.Workspace)
	if err != nil {
		respondFailure(w, err)
		return
	}
	task.Workspace = workspace

	if err := s.store.Queue.Add(task); err != nil {
		respondFailure(w, err)
		return
	}
	s.bus.Publish(events.NewTask(events.TypeTaskQueued, events.SourceGateway, task.ID, events.TaskPayload(task)))
	respond(w, http.StatusCreated, task, "task queued")
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.store.Queue.GetAll(), "")
}

func (s *Server) handleListRunning(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.store.Running.GetAll(), "")
}

func (s *Server) handleListCompleted(w http.ResponseWriter, r *http.Request) {
	page := s.store.Completed.Page(queryInt(r, "page", 1), queryInt(r, "limit", 0))
	respond(w, http.StatusOK, page, "")
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	page := s.store.Failed.Page(queryInt(r, "page", 1), queryInt(r, "limit", 0))
	respond(w, http.StatusOK, page, "")
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, collection, ok := s.store.Find(id)
	if !ok {
		respondError(w, http.StatusNotFound, CodeTaskNotFound, fmt.Sprintf("task %s not found", id))
		return
	}
	respond(w, http.StatusOK, map[string]any{"task": task, "collection": collection}, "")
}

// handleDeleteTask removes a task from the queue or from history.
// Running tasks cannot be deleted; they finish or time out first.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, running := s.store.Running.Get(id); running {
		respondError(w, http.StatusConflict, CodeValidation, "task is running and cannot be deleted")
		return
	}

	for _, remove := range []func(string) (bool, error){
		s.store.Queue.Remove,
		s.store.Completed.Remove,
		s.store.Failed.Remove,
	} {
		removed, err := remove(id)
		if err != nil {
			respondFailure(w, err)
			return
		}
		if removed {
			respond(w, http.StatusOK, map[string]string{"id": id}, "task deleted")
			return
		}
	}
	respondError(w, http.StatusNotFound, CodeTaskNotFound, fmt.Sprintf("task %s not found", id))
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Queue.Clear()
	if err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"cleared": n}, fmt.Sprintf("%d tasks cleared", n))
}

// handleRunTask moves a queued task to the head of the queue so the
// next dispatch picks it first.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sched.RunTaskNow(id); err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"id": id}, "task moved to queue head")
}
