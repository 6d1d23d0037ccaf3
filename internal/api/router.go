package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"remindtab/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	reminders  *service.Reminders
	mcpHandler http.Handler
	channels   []string
	logger     *slog.Logger
	location   *time.Location
	authToken  string
	startedAt  time.Time
}

// Options carries the optional parts of the HTTP server.
type Options struct {
	AuthToken string
	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler
	// Channels lists the notification channels reported by /v1/health.
	Channels []string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, reminders *service.Reminders, logger *slog.Logger, location *time.Location, opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	s := &Server{
		router:     router,
		reminders:  reminders,
		mcpHandler: opts.MCPHandler,
		channels:   opts.Channels,
		logger:     logger,
		location:   location,
		authToken:  opts.AuthToken,
		startedAt:  time.Now(),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	if s.mcpHandler != nil {
		mcpHandler := s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.authToken != "" {
				r.Use(AuthMiddleware(s.authToken))
			}

			r.Post("/cron/preview", s.handleCronPreview)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)

				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Patch("/", s.handleUpdateTask)
					r.Delete("/", s.handleDeleteTask)
					r.Get("/runs", s.handleListRuns)
				})
			})

			r.Get("/runs/{runID}", s.handleGetRun)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/calendar/{year}", s.handleSyncCalendar)
				r.Post("/maintenance", s.handleMaintenance)
			})
		})
	})
}
