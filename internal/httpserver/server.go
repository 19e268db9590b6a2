package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is implemented by the infrastructure clients a readiness check
// depends on (pgxpool.Pool, redis.Client both satisfy this shape already).
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker is consulted by /ready in addition to the Pingers; it reports
// whether the service has completed its own startup sequence (e.g. AC has
// loaded its active signing key, MC has registered with GC).
type ReadyChecker func(ctx context.Context) error

// Server is the shared chi-based scaffold every Dark Tower binary (AC, GC,
// MC) mounts its own routes onto.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router

	logger    *slog.Logger
	metrics   *prometheus.Registry
	pingers   []Pinger
	ready     ReadyChecker
	startedAt time.Time
}

// Options configures NewServer.
type Options struct {
	Logger         *slog.Logger
	Metrics        *prometheus.Registry
	CORSOrigins    []string
	Pingers        []Pinger
	ReadyCheck     ReadyChecker
	APIRoutePrefix string // e.g. "/api/v1"; empty mounts routes directly on Router
}

// NewServer builds the common middleware chain and health/ready/metrics
// endpoints. Domain handlers are mounted on the returned Server.APIRouter.
func NewServer(opts Options) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		pingers:   opts.Pingers,
		ready:     opts.ReadyCheck,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(opts.Logger))
	s.Router.Use(Metrics)
	s.Router.Use(chimw.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/ready", s.handleReady)
	s.Router.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))

	if opts.APIRoutePrefix != "" {
		s.Router.Route(opts.APIRoutePrefix, func(r chi.Router) {
			s.APIRouter = r
		})
	} else {
		s.APIRouter = s.Router
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady returns 503 until every Pinger and the ReadyCheck succeed,
// per spec §6.1's "503 when not yet registered/initialized".
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			s.logger.Error("readiness check: dependency ping failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "a dependency is not ready")
			return
		}
	}

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			s.logger.Error("readiness check: service not ready", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "service has not completed startup")
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
