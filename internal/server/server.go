// Package server provides the HTTP server and routing for Shortwatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/di"
	ingesthandlers "github.com/shortwatch/shortwatch/internal/modules/ingest/handlers"
	ledgerhandlers "github.com/shortwatch/shortwatch/internal/modules/ledger/handlers"
	rankingshandlers "github.com/shortwatch/shortwatch/internal/modules/rankings/handlers"
	reconcilerhandlers "github.com/shortwatch/shortwatch/internal/modules/reconciler/handlers"
	registryhandlers "github.com/shortwatch/shortwatch/internal/modules/registry/handlers"
	timelinehandlers "github.com/shortwatch/shortwatch/internal/modules/timeline/handlers"
	"github.com/shortwatch/shortwatch/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container // DI container with all services
	Scheduler *scheduler.Scheduler
	Port      int
	DevMode   bool
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	systemHandlers := NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.Container, cfg.Scheduler)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		container:      cfg.Container,
		systemHandlers: systemHandlers,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check and Prometheus metrics live outside /api
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.container.Metrics.Handler())

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		// Events stream (SSE) - must be before other routes for proper handling
		eventsStreamHandler := NewEventsStreamHandler(s.container.EventBus, s.log)
		r.Get("/events/stream", eventsStreamHandler.ServeHTTP)

		// System monitoring and operations
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Get("/backups", s.systemHandlers.HandleListBackups)

			// Manual job triggers
			r.Post("/jobs/{name}", func(w http.ResponseWriter, r *http.Request) {
				s.systemHandlers.HandleTriggerJob(w, r, chi.URLParam(r, "name"))
			})
		})

		// Ledger module: the append-only disclosure history
		ledgerHandler := ledgerhandlers.NewHandler(s.container.LedgerRepo, s.log)
		ledgerHandler.RegisterRoutes(r)

		// Registry module: countries, companies, managers
		registryHandler := registryhandlers.NewHandler(s.container.RegistryService, s.log)
		registryHandler.RegisterRoutes(r)

		// Positions module: live and point-in-time active sets
		positionsHandler := reconcilerhandlers.NewHandler(
			s.container.ReconcilerService,
			s.container.TimelineEngine,
			s.container.RegistryService,
			s.log,
		)
		positionsHandler.RegisterRoutes(r)

		// Timeline module: historical series reconstruction
		timelineHandler := timelinehandlers.NewHandler(s.container.TimelineEngine, s.log)
		timelineHandler.RegisterRoutes(r)

		// Rankings module: aggregations over the active set
		rankingsHandler := rankingshandlers.NewHandler(s.container.RankingsService, s.log)
		rankingsHandler.RegisterRoutes(r)

		// Ingest module: batch submission and run history
		ingestHandler := ingesthandlers.NewHandler(s.container.IngestService, s.log)
		ingestHandler.RegisterRoutes(r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
