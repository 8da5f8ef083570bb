// Package api exposes the memory service over HTTP using chi. Tenant
// identity arrives in headers from the upstream auth proxy; this layer
// trusts it and maps it onto every service call.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemohq/mnemo/internal/config"
	"github.com/mnemohq/mnemo/internal/models"
	"github.com/mnemohq/mnemo/internal/service"
)

// Server is the HTTP front of the memory service.
type Server struct {
	svc       *service.Service
	router    *chi.Mux
	cfg       config.ServerConfig
	logger    *slog.Logger
	httpSrv   *http.Server
	sseServer *mcpserver.SSEServer
}

// NewServer builds the router and wires all routes.
func NewServer(svc *service.Service, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{svc: svc, cfg: cfg, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Org-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Liveness and readiness for orchestrators, no tenant scope needed.
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	timeout := s.cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Use(tenantScope)

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", s.handleCreateMemory)
			r.Get("/", s.handleListMemories)
			r.Post("/search", s.handleSearchMemories)
			r.Post("/bulk-delete", s.handleBulkDelete)
			r.Get("/{id}", s.handleGetMemory)
			r.Put("/{id}", s.handleUpdateMemory)
			r.Delete("/{id}", s.handleDeleteMemory)
			r.Get("/{id}/versions", s.handleListVersions)
		})

		r.Route("/topics", func(r chi.Router) {
			r.Post("/", s.handleCreateTopic)
			r.Get("/", s.handleListTopics)
			r.Get("/{id}", s.handleGetTopic)
			r.Put("/{id}", s.handleUpdateTopic)
			r.Delete("/{id}", s.handleDeleteTopic)
		})
	})

	s.router = r
}

// AddMCPServer mounts the MCP SSE transport onto the HTTP server.
// No timeout middleware here, SSE connections stay open indefinitely.
func (s *Server) AddMCPServer(mcp *mcpserver.MCPServer) {
	s.sseServer = mcpserver.NewSSEServer(
		mcp,
		mcpserver.WithBasePath("/mcp"),
		mcpserver.WithSSEEndpoint("/sse"),
		mcpserver.WithMessageEndpoint("/message"),
		mcpserver.WithKeepAlive(true),
		mcpserver.WithKeepAliveInterval(15*time.Second),
	)
	s.router.Mount("/mcp", s.sseServer)
	s.logger.Info("mcp sse endpoint mounted", "path", "/mcp/sse")
}

// Handler returns the root handler, exported for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr())
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, _, err := s.svc.List(ctx, models.ListParams{
		Scope: models.TenantScope{UserID: "readiness-probe"},
		Limit: 1,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps service errors onto HTTP statuses. Store internals are
// never leaked to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		errorResponse(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrEmbeddingProvider):
		s.logger.Error("embedding provider failure", "path", r.URL.Path, "error", err)
		errorResponse(w, http.StatusBadGateway, "embedding provider unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}
