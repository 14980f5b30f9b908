package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/droverhq/drover/internal/cron"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/sessions"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

// API error codes, stable across releases. Clients branch on these
// rather than on message text.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeInvalidCron      = "INVALID_CRON"
	CodeInvalidWorkspace = "INVALID_WORKSPACE"
	CodeInvalidTool      = "INVALID_TOOL"
	CodeStorageBusy      = "STORAGE_BUSY"
	CodeSchedulerRunning = "SCHEDULER_ALREADY_RUNNING"
	CodeSchedulerStopped = "SCHEDULER_NOT_RUNNING"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionIdle      = "SESSION_NOT_WAITING"
	CodeQuestionMismatch = "QUESTION_MISMATCH"
	CodeInternal         = "INTERNAL_ERROR"
)

// envelope is the JSON body of every non-streaming response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Message: message}); err != nil {
		slog.Debug("gateway: write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: message, Code: code}); err != nil {
		slog.Debug("gateway: write error response", "error", err)
	}
}

// respondFailure maps a typed error from the engine onto its HTTP
// status and API code. Unrecognized errors surface as 500s.
func respondFailure(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("gateway: request failed", "code", code, "error", err)
	}
	respondError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	var verr *tasks.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "allowed_tools" {
			return http.StatusBadRequest, CodeInvalidTool
		}
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, storage.ErrBusy):
		return http.StatusServiceUnavailable, CodeStorageBusy
	case errors.Is(err, cron.ErrInvalid):
		return http.StatusBadRequest, CodeInvalidCron
	case errors.Is(err, errWorkspace):
		return http.StatusBadRequest, CodeInvalidWorkspace
	case errors.Is(err, scheduler.ErrNotFound):
		return http.StatusNotFound, CodeTaskNotFound
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, sessions.ErrNotWaiting):
		return http.StatusBadRequest, CodeSessionIdle
	case errors.Is(err, sessions.ErrQuestionMismatch):
		return http.StatusBadRequest, CodeQuestionMismatch
	case errors.Is(err, sessions.ErrQuestionTooDeep):
		return http.StatusBadRequest, CodeValidation
	}
	return http.StatusInternalServerError, CodeInternal
}

// decodeBody reads a JSON request body into dst, rejecting unparseable
// payloads with a validation error.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
