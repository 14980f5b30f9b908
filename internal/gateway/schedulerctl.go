package gateway

import (
	"net/http"
	"time"

	"github.com/droverhq/drover/internal/cron"
)

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if !s.sched.Start() {
		respondError(w, http.StatusConflict, CodeSchedulerRunning, "scheduler is already running")
		return
	}
	respond(w, http.StatusOK, s.sched.Snapshot(), "scheduler started")
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if !s.sched.Stop() {
		respondError(w, http.StatusConflict, CodeSchedulerStopped, "scheduler is not running")
		return
	}
	respond(w, http.StatusOK, s.sched.Snapshot(), "scheduler stopped")
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.sched.Snapshot(), "")
}

// validateCronRequest is the body of POST /api/scheduler/validate-cron.
type validateCronRequest struct {
	Cron string `json:"cron"`
}

type validateCronResponse struct {
	Valid    bool        `json:"valid"`
	Cron     string      `json:"cron"`
	NextRuns []time.Time `json:"next_runs,omitempty"`
}

func (s *Server) handleValidateCron(w http.ResponseWriter, r *http.Request) {
	var req validateCronRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := cron.Validate(req.Cron); err != nil {
		respondFailure(w, err)
		return
	}
	runs, err := cron.NextN(req.Cron, time.Now(), 5)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respond(w, http.StatusOK, validateCronResponse{Valid: true, Cron: req.Cron, NextRuns: runs}, "")
}

func (s *Server) handleCronExamples(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, cron.Examples(time.Now()), "")
}
