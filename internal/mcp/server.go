package mcp

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ycho/redmine-reader-mcp/internal/redmine"
)

const (
	ServerName    = "redmine-reader-mcp"
	ServerVersion = "1.0.0"
)

// Config holds MCP server configuration
type Config struct {
	RedmineURL    string
	RedmineAPIKey string
	Port          int
	SSEMode       bool
	Timeout       time.Duration
}

// Server wraps the MCP server
type Server struct {
	config Config
}

// NewServer creates a new MCP server
func NewServer(config Config) *Server {
	return &Server{config: config}
}

// Run starts the MCP server
func (s *Server) Run() error {
	if s.config.SSEMode {
		// SSE mode - client is created per request from the API key header
		return s.runSSE()
	}

	client := redmine.NewClient(redmine.Config{
		BaseURL: s.config.RedmineURL,
		APIKey:  s.config.RedmineAPIKey,
		Timeout: s.config.Timeout,
	})

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)
	NewToolHandlers(client).RegisterTools(mcpServer)

	slog.Info("starting MCP server in stdio mode",
		"redmine_url", s.config.RedmineURL,
	)

	return server.ServeStdio(mcpServer)
}

// runSSE starts the server in SSE mode
func (s *Server) runSSE() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	slog.Info("starting MCP server in SSE mode",
		"address", addr,
		"redmine_url", s.config.RedmineURL,
	)

	sseHandler := &sseHandler{
		redmineURL: s.config.RedmineURL,
		timeout:    s.config.Timeout,
	}

	// 100 requests per minute per client
	limiter := newRequestLimiter(100, time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/sse", sseHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	handler := securityHeadersMiddleware(limiter.middleware(mux))

	return http.ListenAndServe(addr, handler)
}

// sseHandler serves SSE connections with per-request credentials
type sseHandler struct {
	redmineURL string
	timeout    time.Duration
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-Redmine-API-Key")
	if apiKey == "" {
		http.Error(w, "Missing X-Redmine-API-Key header", http.StatusUnauthorized)
		return
	}

	client := redmine.NewClient(redmine.Config{
		BaseURL: h.redmineURL,
		APIKey:  apiKey,
		Timeout: h.timeout,
	})

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)
	NewToolHandlers(client).RegisterTools(mcpServer)

	server.NewSSEServer(mcpServer).ServeHTTP(w, r)
}

// securityHeadersMiddleware adds security headers
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requestLimiter counts requests per client within a sliding window.
type requestLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	limit  int
	window time.Duration
}

func newRequestLimiter(limit int, window time.Duration) *requestLimiter {
	return &requestLimiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

func (rl *requestLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	recent := rl.seen[key][:0]
	for _, ts := range rl.seen[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.seen[key] = recent
		return false
	}

	rl.seen[key] = append(recent, time.Now())
	return true
}

func (rl *requestLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
