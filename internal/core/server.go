// Package core provides the HTTP chassis for the Vitrine payments backend.
// It creates the chi router and enforces cross-cutting concerns -- panic
// recovery, request IDs, structured request logging, security headers, and
// scanner-path blocking -- before requests reach the webhook handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vitrine/internal/config"
)

// Server encapsulates the router and the dependencies shared by all
// middleware, allowing injection during testing.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer builds a Server with the standard middleware stack installed.
// The caller mounts routes on Router() after construction.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.Recoverer)
	s.router.Use(RequestLogger(logger))
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(ScannerBlockerMiddleware(logger))

	s.router.Get("/health/live", s.HandleLiveness)
	s.router.Get("/health/ready", s.HandleReadiness)

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-held resources.
// Connection pools are owned by main and closed there; this hook exists for
// symmetry with startup and to flush anything the chassis buffers.
func (s *Server) Shutdown(_ context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
