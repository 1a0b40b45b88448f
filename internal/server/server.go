package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/harvest/internal/metrics"
	"github.com/me/harvest/internal/plugin"
	"github.com/me/harvest/internal/scheduler"
	"github.com/me/harvest/internal/store"
)

// Server is the Harvest REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	store     store.Store
	scheduler *scheduler.Scheduler
	plugins   *plugin.Manager  // optional; enables plugin introspection
	metrics   *metrics.Metrics // optional; enables /metrics

	// scheduleMu serializes passes triggered over the API; the scheduler
	// is designed to be driven by one caller at a time.
	scheduleMu sync.Mutex
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithPluginManager exposes loaded plugins through the API.
func WithPluginManager(pm *plugin.Manager) Option {
	return func(s *Server) { s.plugins = pm }
}

// WithMetrics mounts the Prometheus exposition endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new Server with all routes registered.
func New(st store.Store, sched *scheduler.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		store:     st,
		scheduler: sched,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(withRequestID)
	r.Use(requestLogger(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/collectors", func(r chi.Router) {
			r.Get("/", s.handleListCollectors)
			r.Get("/{handle}", s.handleGetCollector)
			r.Delete("/{handle}", s.handleRemoveCollector)
		})

		r.Post("/schedule", s.handleSchedule)

		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.handleListPlugins)
			r.Get("/{name}/records", s.handleListRecords)
		})
	})
}
