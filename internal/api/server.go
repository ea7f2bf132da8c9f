package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nextconvert/shorts/internal/api/handlers"
	"github.com/nextconvert/shorts/internal/api/middleware"
	"github.com/nextconvert/shorts/internal/api/websocket"
	"github.com/nextconvert/shorts/internal/shared/config"
	"github.com/nextconvert/shorts/internal/shared/database"
	"github.com/nextconvert/shorts/internal/shared/metrics"
	"github.com/nextconvert/shorts/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil omits the endpoint.
	Gatherer prometheus.Gatherer
	// Redis enables rate limiting. It may be nil.
	Redis    *database.Redis
	Storage  *storage.Service
	Composer handlers.Composer
	// Jobs and WSHub are nil when the job pipeline is disabled.
	Jobs         handlers.JobService
	WSHub        *websocket.Hub
	HealthChecks map[string]handlers.HealthChecker
}

// Server represents the API server
type Server struct {
	cfg ServerConfig
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	cfg := s.cfg.Config
	logger := s.cfg.Logger

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	if s.cfg.Metrics != nil {
		r.Use(middleware.Metrics(s.cfg.Metrics))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	if s.cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	limit := func(middleware.RateLimitConfig) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	if s.cfg.Redis != nil {
		limiter := middleware.NewRateLimiter(middleware.NewRedisCounter(s.cfg.Redis.Client), logger)
		limit = limiter.Limit
	} else {
		logger.Info("Redis not configured, rate limiting disabled")
	}

	auth := middleware.NewAuth(cfg.ClerkSecretKey, cfg.IsProduction(), logger)
	uploads := middleware.ValidateUploads(middleware.ComposeUploadRules, cfg.MaxUploadSize)

	healthHandler := handlers.NewHealthHandler(s.cfg.HealthChecks)
	composeHandler := handlers.NewComposeHandler(s.cfg.Composer, s.cfg.Storage, s.cfg.Metrics, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)

		r.Group(func(r chi.Router) {
			r.Use(auth.Handler)

			r.Route("/compose", func(r chi.Router) {
				r.Use(middleware.NoCache)
				r.Use(limit(middleware.ComposeRateLimit(cfg.RateLimitPerMinute)))
				r.Use(uploads)
				for route, operation := range handlers.OperationRoutes {
					r.Post("/"+route, composeHandler.Handle(operation))
				}
			})

			if s.cfg.Jobs == nil {
				return
			}
			jobHandler := handlers.NewJobHandler(s.cfg.Jobs, s.cfg.Storage, logger)
			r.Route("/jobs", func(r chi.Router) {
				r.With(
					limit(middleware.JobRateLimit(cfg.RateLimitPerMinute)),
					uploads,
				).Post("/{operation}", jobHandler.CreateJob)
				r.Get("/", jobHandler.ListJobs)
				r.Get("/{id}", jobHandler.GetJob)
				r.Get("/{id}/download", jobHandler.Download)
			})

			if s.cfg.WSHub != nil {
				r.Get("/ws", s.cfg.WSHub.HandleConnection)
			}
		})
	})

	return r
}
