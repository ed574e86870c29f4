// Package api exposes the daemon's HTTP surface: registry and job queries,
// manual scan triggers, recent cached results, a server-sent-events bridge
// over the internal bus, and Prometheus metrics.
package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/clonehoundhq/clonehound/internal/cache"
	"github.com/clonehoundhq/clonehound/internal/config"
	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/queue"
	"github.com/clonehoundhq/clonehound/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type Server struct {
	cfg    *config.Config
	reg    *registry.Registry
	queue  *queue.Queue
	cache  *cache.Cache
	bus    *events.Bus
	logger *log.Logger

	rateLimitMu  sync.Mutex
	rateLimiters map[string]*rateLimiterEntry
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(cfg *config.Config, reg *registry.Registry, q *queue.Queue, c *cache.Cache, bus *events.Bus, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:          cfg,
		reg:          reg,
		queue:        q,
		cache:        c,
		bus:          bus,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Unauthenticated: probes and scrapers.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.apiAuthMiddleware)

		r.Get("/repositories", s.handleListRepositories)
		r.Get("/groups", s.handleListGroups)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Get("/scans/recent", s.handleRecentScans)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/scans", s.handleTriggerScan)
		})
	})

	return r
}
