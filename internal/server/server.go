// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/rigrun-agent/internal/escalation"
	"github.com/jeranaias/rigrun-agent/internal/events"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/orchestrator"
	"github.com/jeranaias/rigrun-agent/internal/plan"
	"github.com/jeranaias/rigrun-agent/internal/process"
	"github.com/jeranaias/rigrun-agent/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize caps JSON request bodies.
	MaxRequestBodySize = 1 << 20

	// MaxObjectiveLength caps objectives submitted over HTTP.
	MaxObjectiveLength = 16 << 10

	// Version is reported by /health.
	Version = "0.3.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Deps are the components the API exposes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Plans        plan.Store
	Sessions     session.Store
	Processes    *process.Registry
	Escalations  *escalation.Queue

	// Events enables the event stream endpoint when set
	Events *events.Bus
}

// Options configure transport concerns.
type Options struct {
	Addr        string
	Auth        *AuthConfig
	RateLimiter *RateLimiter
	Logger      *logging.Logger
}

// Server is the operator HTTP API.
type Server struct {
	deps    Deps
	opts    Options
	logger  *logging.Logger
	handler http.Handler
	started time.Time

	// runs started over HTTP outlive their request
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup

	mu     sync.Mutex
	server *http.Server
}

// New builds the router.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Orchestrator == nil || deps.Plans == nil || deps.Sessions == nil || deps.Processes == nil || deps.Escalations == nil {
		return nil, errors.New("server: orchestrator, plans, sessions, processes and escalations are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = DefaultRateLimiter()
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		logger:  opts.Logger.WithComponent("server"),
		started: time.Now(),
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.opts.RateLimiter, s.logger),
		AuthMiddleware(s.opts.Auth, s.logger),
	)

	r.Get("/health", s.handleHealth)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Use(s.sessionParam)
		r.Post("/runs", s.handleStartRun)
		r.Get("/plan", s.handleGetPlan)
		r.Get("/plans", s.handleListPlans)
		r.Post("/cancel", s.handleCancelSession)
		r.Get("/processes", s.handleListProcesses)
		r.Get("/state", s.handleGetState)
		r.Delete("/state", s.handleResetState)
		r.Get("/events", s.handleEvents)
	})

	r.Delete("/processes/{processID}", s.handleCancelProcess)

	r.Route("/escalations", func(r chi.Router) {
		r.Get("/", s.handleListEscalations)
		r.Get("/{escalationID}", s.handleGetEscalation)
		r.Post("/{escalationID}/resolve", s.handleResolveEscalation)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type sessionKey struct{}

// sessionParam validates {sessionID} once for every session route.
func (s *Server) sessionParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		if err := session.ValidateID(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
	})
}

func sessionFrom(r *http.Request) string {
	id, _ := r.Context().Value(sessionKey{}).(string)
	return id
}

// ============================================================================
// HANDLERS
// ============================================================================

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Processes   int    `json:"processes"`
	Escalations int    `json:"escalations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     Version,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Processes:   len(s.deps.Processes.List("")),
		Escalations: len(s.deps.Escalations.Pending()),
	})
}

// RunRequest is the body of POST /sessions/{id}/runs.
type RunRequest struct {
	Objective string `json:"objective"`

	// Wait blocks until the run finishes and returns its outcome
	Wait bool `json:"wait,omitempty"`
}

// RunResponse describes a started or finished run.
type RunResponse struct {
	SessionID  string      `json:"session_id"`
	Accepted   bool        `json:"accepted"`
	PlanID     string      `json:"plan_id,omitempty"`
	Status     plan.Status `json:"status,omitempty"`
	Completed  bool        `json:"completed,omitempty"`
	Cancelled  bool        `json:"cancelled,omitempty"`
	Resolution string      `json:"resolution,omitempty"`
	Replans    int         `json:"replans,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	sid := sessionFrom(r)
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Objective = strings.TrimSpace(req.Objective)
	if req.Objective == "" {
		writeError(w, http.StatusBadRequest, "objective is required")
		return
	}
	if len(req.Objective) > MaxObjectiveLength {
		writeError(w, http.StatusRequestEntityTooLarge, "objective too long")
		return
	}
	// Reserve before replying so a cancel sent right after the 202 reaches
	// this run.
	res, err := s.deps.Orchestrator.Reserve(sid)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	if req.Wait {
		out, err := res.Start(r.Context(), req.Objective)
		if err != nil {
			s.writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRunResponse(out))
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		out, err := res.Start(s.runCtx, req.Objective)
		if err != nil {
			s.logger.Error("run failed", "session_id", sid, "error", err)
			return
		}
		s.logger.Info("run finished", "session_id", sid, "plan_id", out.PlanID, "completed", out.Completed)
	}()
	writeJSON(w, http.StatusAccepted, RunResponse{SessionID: sid, Accepted: true})
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrPlanning):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toRunResponse(out *orchestrator.Outcome) RunResponse {
	return RunResponse{
		SessionID:  out.SessionID,
		Accepted:   true,
		PlanID:     out.PlanID,
		Status:     out.Status,
		Completed:  out.Completed,
		Cancelled:  out.Cancelled,
		Resolution: string(out.Resolution),
		Replans:    out.Replans,
	}
}

func (s *Server) latestPlan(sid string) (*plan.Plan, error) {
	if p, ok := s.deps.Orchestrator.Active(sid); ok {
		return p, nil
	}
	plans, err := s.deps.Plans.List(sid)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, plan.ErrPlanNotFound
	}
	return plans[len(plans)-1], nil
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	sid := sessionFrom(r)
	var (
		p   *plan.Plan
		err error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		p, err = s.deps.Plans.Load(sid, id)
	} else {
		p, err = s.latestPlan(sid)
	}
	if errors.Is(err, plan.ErrPlanNotFound) {
		writeError(w, http.StatusNotFound, "no plan for session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := p.YAML()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PlanSummary is one entry of GET /sessions/{id}/plans.
type PlanSummary struct {
	ID        string                  `json:"id"`
	Objective string                  `json:"objective"`
	Status    plan.Status             `json:"status"`
	Retries   int                     `json:"retry_count"`
	Counts    map[plan.TaskStatus]int `json:"counts"`
	CreatedAt time.Time               `json:"created_at"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.List(sessionFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]PlanSummary, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanSummary{
			ID:        p.ID,
			Objective: p.Objective,
			Status:    p.CurrentStatus(),
			Retries:   p.Retries(),
			Counts:    p.Counts(),
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Orchestrator.Cancel(sessionFrom(r))
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionFrom(r), "cancelled": n})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Processes.List(sessionFrom(r)))
}

func (s *Server) handleCancelProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processID")
	if !s.deps.Orchestrator.CancelProcess(id) {
		writeError(w, http.StatusNotFound, "process not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Sessions.Load(r.Context(), sessionFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state.Snapshot())
}

func (s *Server) handleResetState(w http.ResponseWriter, r *http.Request) {
	sid := sessionFrom(r)
	if s.deps.Orchestrator.Busy(sid) {
		writeError(w, http.StatusConflict, orchestrator.ErrSessionBusy.Error())
		return
	}
	if err := s.deps.Sessions.Reset(r.Context(), sid); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	pending := s.deps.Escalations.Pending()
	if sid := r.URL.Query().Get("session"); sid != "" {
		filtered := pending[:0]
		for _, e := range pending {
			if e.SessionID == sid {
				filtered = append(filtered, e)
			}
		}
		pending = filtered
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	e, ok := s.deps.Escalations.Get(chi.URLParam(r, "escalationID"))
	if !ok {
		writeError(w, http.StatusNotFound, "escalation not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ResolveRequest is the body of POST /escalations/{id}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := escalation.ParseResolution(req.Resolution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "escalationID")
	if err := s.deps.Escalations.Resolve(id, res); err != nil {
		if errors.Is(err, escalation.ErrUnknownEscalation) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "resolution": string(res)})
}

// handleEvents streams the session's events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusNotImplemented, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sid := sessionFrom(r)
	ch, unsubscribe := s.deps.Events.Subscribe(0)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.SessionID != sid {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data)
			flusher.Flush()
		}
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server started", "addr", ln.Addr().String(), "version", Version, "auth", s.opts.Auth.Enabled())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels runs started over HTTP and
// waits for them to wind down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.cancelRun()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
