package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/underwriting"
)

// Server wraps the HTTP server and router.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates an HTTP server with all routes configured.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, service *underwriting.Service, policies *rules.PolicyEngine, version string) *Server {
	handler := NewHandler(repo, cache, bus, service, policies, version)

	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints do not require a tenant
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Tenant-scoped routes
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/evaluate", handler.Evaluate)

		r.Post("/applicants", handler.CreateApplicant)
		r.Get("/applicants/{id}", handler.GetApplicant)
		r.Post("/applicants/{id}/evaluate", handler.EvaluateApplicant)
		r.Get("/applicants/{id}/assessments", handler.ListAssessments)

		r.Get("/assessments/{id}", handler.GetAssessment)
		r.Get("/assessments/{id}/audit", handler.GetAuditTrail)
		r.Put("/assessments/{id}", handler.ReEvaluate)
		r.Delete("/assessments/{id}", handler.DeleteAssessment)

		r.Get("/policies", handler.ListPolicies)
		r.Post("/policies", handler.CreatePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)
		r.Get("/policies/{id}", handler.GetPolicy)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("starting http server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router, mainly for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the API handler.
func (s *Server) Handler() *Handler {
	return s.handler
}
