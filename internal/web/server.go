// Package web serves the compliance console over HTTP.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qualys/compliance-console/internal/auth"
	"github.com/qualys/compliance-console/internal/config"
	"github.com/qualys/compliance-console/internal/scheduler"
	"github.com/qualys/compliance-console/internal/session"
	"github.com/qualys/compliance-console/internal/store"
)

const loginPath = "/login"

// Pinger reports whether the compliance backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	auth      *auth.Service
	sessions  *session.Manager
	activity  store.ActivityStore
	scheduler *scheduler.Scheduler
	backend   Pinger
	limiter   *RateLimiter
	templates *template.Template

	title     string
	maxUpload int64
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithActivityStore(activity store.ActivityStore) ServerOption {
	return func(s *Server) {
		s.activity = activity
	}
}

func WithScheduler(sched *scheduler.Scheduler) ServerOption {
	return func(s *Server) {
		s.scheduler = sched
	}
}

// WithBackend sets the backend checked by /ready.
func WithBackend(p Pinger) ServerOption {
	return func(s *Server) {
		s.backend = p
	}
}

func NewServer(cfg *config.Config, authSvc *auth.Service, sessions *session.Manager, opts ...ServerOption) (*Server, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		logger:    slog.Default(),
		auth:      authSvc,
		sessions:  sessions,
		activity:  store.NopActivityStore{},
		limiter:   NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		templates: tmpl,
		title:     cfg.Console.Title,
		maxUpload: cfg.Console.MaxUploadBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Get(loginPath, s.loginPage)
	s.router.With(s.limiter.Middleware).Post(loginPath, s.login)

	s.router.Group(func(r chi.Router) {
		r.Use(s.auth.RequireSession(loginPath))

		r.Post("/logout", s.logout)

		r.Get("/", s.index)
		r.Get("/pages/{page}", s.navigate)
		r.Get("/reports/{id}/download", s.downloadReport)

		// Opening and closing modals changes session view state.
		r.Post("/modals/{modal}/close", s.closeModal)
		r.Post("/policies/new", s.newPolicy)
		r.Post("/policies/{id}", s.viewPolicy)
		r.Post("/violations/{id}", s.viewViolation)
		r.Post("/reports/{id}", s.viewReport)
		r.Post("/notifications/{id}/dismiss", s.dismissNotification)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/upload", s.upload)
			r.Post("/policies", s.createPolicy)
			r.Post("/policies/{id}/delete", s.deletePolicy)
			r.Post("/scan", s.runScan)
			r.Post("/reports/generate", s.generateReport)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/state", s.getState)
			r.Get("/activity", s.listActivity)
			r.Get("/jobs", s.listJobs)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	go s.limiter.Run(ctx)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total int `json:"total,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.sessions.Active(),
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if s.backend != nil {
		if err := s.backend.Ping(r.Context()); err != nil {
			s.logger.Warn("backend not ready", "error", err)
			respondError(w, http.StatusServiceUnavailable, "backend_unavailable", "Compliance backend not available")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
