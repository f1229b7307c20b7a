package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/config"
	"github.com/JakeFAU/seo-auditor/internal/dispatcher"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// OAuthFlow is the consent flow the OAuth routes drive.
type OAuthFlow interface {
	Configured() bool
	AuthURL(state string) string
	HandleCallback(ctx context.Context, code, state string) error
}

// ReadinessCheck reports whether a downstream dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	runs       audit.RunStore
	dispatcher *dispatcher.Dispatcher
	oauth      OAuthFlow
	idGen      audit.IDGenerator
	clock      audit.Clock
	checks     map[string]ReadinessCheck
	cfg        config.Config
	logger     *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithOAuth enables the Search Console consent routes.
func WithOAuth(flow OAuthFlow) Option {
	return func(s *Server) { s.oauth = flow }
}

// WithReadinessCheck adds a named dependency check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runs audit.RunStore,
	dispatcher *dispatcher.Dispatcher,
	idGen audit.IDGenerator,
	clock audit.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:       runs,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		checks:     make(map[string]ReadinessCheck),
		cfg:        cfg,
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Route("/audits", func(r chi.Router) {
				r.Post("/", s.submitAudit)
				r.Route("/{runId}", func(r chi.Router) {
					r.Get("/status", s.getAuditStatus)
					r.Get("/result", s.getAuditResult)
				})
			})
			r.Get("/oauth/url", s.oauthURL)
		})
		// Google redirects the browser here, so it carries no API key.
		r.Get("/oauth/callback", s.oauthCallback)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
