// Package gateway exposes the drover control plane over HTTP: task and
// schedule CRUD, scheduler lifecycle, interactive task streaming, and a
// websocket feed of engine events.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/gateway/ws"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/sessions"
	"github.com/droverhq/drover/internal/storage"
)

// Deps are the engine handles the gateway serves. All of them are
// required except Costs, which disables /api/costs when nil.
type Deps struct {
	Config    *config.Config
	Store     *storage.Store
	Scheduler *scheduler.Scheduler
	Sessions  *sessions.Manager
	Bus       *events.Bus
	Costs     *storage.CostTracker
}

// Server is the drover gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      *storage.Store
	sched      *scheduler.Scheduler
	sessions   *sessions.Manager
	costs      *storage.CostTracker
	guard      *workspaceGuard
	host       string
	port       int
}

// New wires the routes and returns a server ready to Start.
func New(deps Deps) *Server {
	s := &Server{
		hub:      ws.NewHub(deps.Bus),
		bus:      deps.Bus,
		store:    deps.Store,
		sched:    deps.Scheduler,
		sessions: deps.Sessions,
		costs:    deps.Costs,
		guard:    newWorkspaceGuard(deps.Config.Workspace),
		host:     deps.Config.Gateway.Host,
		port:     deps.Config.Gateway.Port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/events", s.hub.ServeWS)
		api.Get("/events/recent", s.handleRecentEvents)
		api.Get("/costs", s.handleCosts)

		api.Route("/tasks", func(rt chi.Router) {
			rt.Post("/", s.handleCreateTask)
			rt.Get("/", s.handleListQueue)
			rt.Get("/running", s.handleListRunning)
			rt.Get("/completed", s.handleListCompleted)
			rt.Get("/failed", s.handleListFailed)
			rt.Delete("/clear", s.handleClearQueue)
			rt.Get("/{id}", s.handleGetTask)
			rt.Delete("/{id}", s.handleDeleteTask)
			rt.Post("/{id}/run", s.handleRunTask)
		})

		api.Route("/scheduled-tasks", func(rt chi.Router) {
			rt.Post("/", s.handleCreateScheduled)
			rt.Get("/", s.handleListScheduled)
			rt.Patch("/{id}", s.handleUpdateScheduled)
			rt.Delete("/{id}", s.handleDeleteScheduled)
			rt.Post("/{id}/toggle", s.handleToggleScheduled)
			rt.Post("/{id}/run", s.handleRunScheduled)
		})

		api.Route("/scheduler", func(rt chi.Router) {
			rt.Post("/start", s.handleSchedulerStart)
			rt.Post("/stop", s.handleSchedulerStop)
			rt.Get("/status", s.handleSchedulerStatus)
			rt.Post("/validate-cron", s.handleValidateCron)
			rt.Get("/cron-examples", s.handleCronExamples)
		})

		api.Route("/task", func(rt chi.Router) {
			rt.Post("/stream", s.handleStream)
			rt.Post("/answer", s.handleAnswer)
			rt.Get("/session/{id}/status", s.handleSessionStatus)
			rt.Get("/sessions", s.handleSessions)
		})
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: r,
	}
	return s
}

// Handler returns the routed handler, for tests driving the API
// through httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway: listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server and its websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	respond(w, http.StatusOK, s.bus.History(limit), "")
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	if s.costs == nil {
		respondError(w, http.StatusNotFound, CodeInternal, "cost tracking is not enabled")
		return
	}
	respond(w, http.StatusOK, s.costs.Snapshot(), "")
}

// queryInt reads an integer query parameter, falling back to def on
// absence or garbage.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
