package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/ycho/redmine-reader-mcp/docs" // swagger docs
)

// Config holds API server configuration
type Config struct {
	RedmineURL string
	Port       int
	Timeout    time.Duration
}

// Server is the REST API server
type Server struct {
	config      Config
	router      *chi.Mux
	rateLimiter *RateLimiter
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	s := &Server{
		config:      config,
		router:      chi.NewRouter(),
		rateLimiter: NewRateLimiter(100, time.Second, 200), // 100 req/sec, burst 200
	}

	s.setupRoutes()

	// Periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			s.rateLimiter.Cleanup(10 * time.Minute)
		}
	}()

	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.rateLimiter.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Swagger UI - uses swaggo generated docs
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/issues", s.handleListIssues)
		r.Get("/issues/export", s.handleExportIssues)
		r.Get("/issues/{id}", s.handleGetIssue)
		r.Post("/issues/{id}/attachments/download", s.handleDownloadAttachments)
		r.Get("/projects", s.handleListProjects)
	})
}

// Run starts the API server
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting REST API server",
		"address", addr,
		"redmine_url", s.config.RedmineURL,
	)
	return http.ListenAndServe(addr, s.router)
}
