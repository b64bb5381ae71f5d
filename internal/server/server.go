// Package server exposes a task manager over a small JSON HTTP API with a
// WebSocket stream of aggregated progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/bamsammich/tally/internal/engine"
	"github.com/bamsammich/tally/internal/progress"
)

// Config wires a Server to its collaborators. Progress is optional; without
// it the stream endpoint is unavailable.
type Config struct {
	Manager  *engine.Manager
	Progress *progress.Manager
	Logger   *slog.Logger
	// Defaults is the scan configuration tasks start from before request
	// overrides are applied.
	Defaults engine.ScanConfig
}

// Server routes API requests to the task manager.
type Server struct {
	cfg    Config
	log    *slog.Logger
	router *mux.Router
	hub    *hub
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: log,
		hub: newHub(log),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	// Routes live on the root router: a PathPrefix subrouter reports a
	// method mismatch as 404.
	r.HandleFunc("/api/tasks", s.createTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks", s.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks", s.cleanupTasks).Methods(http.MethodDelete)
	r.HandleFunc("/api/tasks/{id}", s.getTask).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}/{action:pause|resume|cancel}", s.taskAction).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", s.getStats).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", s.progressStream).Methods(http.MethodGet)
	r.Use(s.logRequests)
	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run forwards progress updates to stream clients until ctx is done, then
// closes every open stream.
func (s *Server) Run(ctx context.Context) {
	defer s.hub.closeAll()
	if s.cfg.Progress == nil {
		<-ctx.Done()
		return
	}
	updates := s.cfg.Progress.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			s.hub.broadcast(st)
		}
	}
}

// ListenAndServe serves the API on addr until ctx is done. ready, if
// non-nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(string)) error {
	ln, err := listen(addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.Run(ctx)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("api listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type scanConfigRequest struct {
	FollowSymlinks   *bool    `json:"follow_symlinks"`
	IncludeHidden    *bool    `json:"hidden"`
	ExcludePaths     []string `json:"exclude"`
	Extensions       []string `json:"extensions"`
	ProgressInterval string   `json:"progress_interval"`
	MaxConcurrency   int      `json:"max_concurrency"`
	MaxDepth         int      `json:"max_depth"`
}

type createTaskRequest struct {
	Config   *scanConfigRequest `json:"config"`
	Root     string             `json:"root"`
	Priority string             `json:"priority"`
}

func (s *Server) scanConfig(req *scanConfigRequest) (engine.ScanConfig, error) {
	cfg := s.cfg.Defaults
	if req == nil {
		return cfg, nil
	}
	if req.FollowSymlinks != nil {
		cfg.FollowSymlinks = *req.FollowSymlinks
	}
	if req.IncludeHidden != nil {
		cfg.IncludeHidden = *req.IncludeHidden
	}
	if len(req.ExcludePaths) > 0 {
		cfg.ExcludePaths = req.ExcludePaths
	}
	if len(req.Extensions) > 0 {
		cfg.Extensions = req.Extensions
	}
	if req.ProgressInterval != "" {
		d, err := time.ParseDuration(req.ProgressInterval)
		if err != nil {
			return cfg, fmt.Errorf("progress_interval: %w", err)
		}
		cfg.ProgressInterval = d
	}
	if req.MaxConcurrency > 0 {
		cfg.MaxConcurrency = req.MaxConcurrency
	}
	if req.MaxDepth > 0 {
		cfg.MaxDepth = req.MaxDepth
	}
	return cfg, nil
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Root == "" || !filepath.IsAbs(req.Root) {
		writeError(w, http.StatusBadRequest, errors.New("root must be an absolute path"))
		return
	}
	priority := engine.PriorityNormal
	if req.Priority != "" {
		p, err := engine.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		priority = p
	}
	cfg, err := s.scanConfig(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.cfg.Manager.CreateTask(req.Root, priority, cfg)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	task, err := s.cfg.Manager.Task(id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	w.Header().Set("Location", "/api/tasks/"+id)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Manager.Tasks())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.Manager.Task(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) taskAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var err error
	switch vars["action"] {
	case "pause":
		err = s.cfg.Manager.Pause(id)
	case "resume":
		err = s.cfg.Manager.Resume(id)
	case "cancel":
		err = s.cfg.Manager.Cancel(id)
	}
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	s.getTask(w, r)
}

func (s *Server) cleanupTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.cfg.Manager.Cleanup()})
}

type statsResponse struct {
	Progress *progress.Statistics `json:"progress,omitempty"`
	Tasks    engine.ManagerStats  `json:"tasks"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Tasks: s.cfg.Manager.Stats()}
	if s.cfg.Progress != nil {
		cur := s.cfg.Progress.Current()
		resp.Progress = &cur
	}
	writeJSON(w, http.StatusOK, resp)
}

var (
	errNoProgress       = errors.New("progress tracking is not enabled")
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, engine.ErrManagerStopped):
		return http.StatusServiceUnavailable
	default:
		return fallback
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
