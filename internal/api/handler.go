// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the priority endpoints consumed by the dashboard UI
// and the chat layer, plus the session, event stream and health routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bcem/priority/internal/access"
	"github.com/bcem/priority/internal/dashboard"
	"github.com/bcem/priority/internal/events"
	"github.com/bcem/priority/internal/health"
	"github.com/bcem/priority/internal/models"
)

// UserHeader names the caller for role resolution. Without it the caller is
// the focus user being viewed.
const UserHeader = "X-Priority-User"

// Service is the dashboard surface the API exposes.
type Service interface {
	Dashboard(ctx context.Context, focusUser string) (*dashboard.View, error)
	Report(ctx context.Context, focusUser string) (*dashboard.Report, error)
	Workload(ctx context.Context, focusUser string) (*dashboard.Workload, error)
	Urgent(ctx context.Context, focusUser string) (*dashboard.UrgentList, error)
	CacheClear(ctx context.Context) (*dashboard.ClearResult, error)
}

// HealthReporter summarises source health.
type HealthReporter interface {
	Overall() string
	Snapshot() map[models.Source]health.SourceHealth
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// errForbidden is returned when the session lacks a permission.
var errForbidden = errors.New("forbidden")

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handler serves the HTTP API.
type Handler struct {
	svc       Service
	access    *access.Resolver
	broker    *events.Broker
	health    HealthReporter
	deps      map[string]Pinger
	keepAlive time.Duration
}

// Options configures the optional parts of the handler.
type Options struct {
	Broker       *events.Broker
	Health       HealthReporter
	Dependencies map[string]Pinger
	KeepAlive    time.Duration
}

// NewHandler creates the API handler.
func NewHandler(svc Service, resolver *access.Resolver, opts Options) *Handler {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	return &Handler{
		svc:       svc,
		access:    resolver,
		broker:    opts.Broker,
		health:    opts.Health,
		deps:      opts.Dependencies,
		keepAlive: opts.KeepAlive,
	}
}

// Routes returns the mux with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/priority/dashboard", h.guard(access.PermDashboard, h.serveDashboard))
	mux.HandleFunc("GET /api/priority/report", h.guard(access.PermReport, h.serveReport))
	mux.HandleFunc("GET /api/priority/workload", h.guard(access.PermWorkload, h.serveWorkload))
	mux.HandleFunc("GET /api/priority/urgent", h.guard(access.PermUrgent, h.serveUrgent))
	mux.HandleFunc("POST /api/priority/cache/clear", h.guard(access.PermClearCache, h.serveCacheClear))
	mux.HandleFunc("GET /api/priority/events", h.guard(access.PermEvents, h.serveEvents))
	mux.HandleFunc("GET /api/priority/sources", h.guard(access.PermSourceHealth, h.serveSources))
	mux.HandleFunc("GET /api/priority/session", h.withSession(h.serveSession))
	mux.HandleFunc("GET /health", h.serveHealth)

	return mux
}

// withSession resolves the caller's permissions once and stores them on the
// request context.
func (h *Handler) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			user = focusUser(r)
		}
		s := h.access.Resolve(user)
		next(w, r.WithContext(access.WithSession(r.Context(), s)))
	}
}

// guard rejects sessions without perm.
func (h *Handler) guard(perm access.Permission, next http.HandlerFunc) http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request) {
		s, _ := access.FromContext(r.Context())
		if !s.Can(perm) {
			slog.Warn("permission denied", "user", s.User, "path", r.URL.Path)
			writeError(w, fmt.Errorf("%w: %s", errForbidden, r.URL.Path))
			return
		}
		next(w, r)
	})
}

// focusUser reads the focus user. A missing parameter is the empty identity.
func focusUser(r *http.Request) string {
	return r.URL.Query().Get("focusUser")
}

func (h *Handler) serveDashboard(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Dashboard(r.Context(), focusUser(r))
	respond(w, v, err)
}

func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Report(r.Context(), focusUser(r))
	respond(w, v, err)
}

func (h *Handler) serveWorkload(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Workload(r.Context(), focusUser(r))
	respond(w, v, err)
}

func (h *Handler) serveUrgent(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Urgent(r.Context(), focusUser(r))
	respond(w, v, err)
}

func (h *Handler) serveCacheClear(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.CacheClear(r.Context())
	respond(w, v, err)
}

type sessionBody struct {
	User        string        `json:"user"`
	Roles       []access.Role `json:"roles"`
	Permissions []string      `json:"permissions"`
}

func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request) {
	s, _ := access.FromContext(r.Context())
	writeJSON(w, http.StatusOK, sessionBody{
		User:        s.User,
		Roles:       s.Roles,
		Permissions: s.Permissions.Names(),
	})
}

func (h *Handler) serveSources(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.health.Snapshot())
}

type healthBody struct {
	Status       string            `json:"status"`
	Sources      string            `json:"sources,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// serveHealth reports process health. Upstream source outages degrade the
// body but not the status code; a failed Redis or Postgres ping is a 503.
func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "healthy"}
	code := http.StatusOK

	if len(h.deps) > 0 {
		body.Dependencies = make(map[string]string, len(h.deps))
		for name, p := range h.deps {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := p.Ping(ctx)
			cancel()
			if err != nil {
				slog.Warn("dependency unhealthy", "dependency", name, "error", err)
				body.Dependencies[name] = "unhealthy"
				body.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			body.Dependencies[name] = "healthy"
		}
	}
	if h.health != nil {
		body.Sources = h.health.Overall()
	}
	writeJSON(w, code, body)
}

func respond(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, models.ErrNoDataAvailable):
		status, code = http.StatusServiceUnavailable, "NO_DATA_AVAILABLE"
	case errors.Is(err, models.ErrInvalidFocusUser):
		status, code = http.StatusBadRequest, "INVALID_FOCUS_USER"
	case errors.Is(err, errForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	default:
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Serve starts the HTTP server on port. ready is closed once the listener is
// bound; stopped is closed after the server has drained following ctx
// cancellation.
func Serve(ctx context.Context, port int, handler http.Handler) (ready, stopped <-chan struct{}, err error) {
	server := &http.Server{
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	stoppedCh := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown error", "error", err)
			server.Close()
		}
		close(stoppedCh)
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return readyCh, stoppedCh, nil
}
