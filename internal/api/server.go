package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mattjoyce/sonargate/internal/analysis"
	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobs"
)

// Analyzer runs the scan pipeline for one upload.
type Analyzer interface {
	Run(ctx context.Context, up analysis.Upload) (*analysis.Result, error)
}

// JobReader reads job history.
type JobReader interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// HealthChecker reports SonarQube health (GREEN, YELLOW or RED).
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is an optional bearer token. Empty leaves the API open.
	APIKey         string
	MaxUploadBytes int64
	WriteTimeout   time.Duration
	// RateLimit is /analyze requests per client IP per minute. Zero disables it.
	RateLimit      int
	AllowedOrigins []string
	ServiceName    string
}

// Deps are the collaborators the handlers call into. Jobs, Engine and
// Events may be nil; their routes then answer 503.
type Deps struct {
	Analyzer Analyzer
	Jobs     JobReader
	Engine   HealthChecker
	Events   *events.Hub
	// Webhook, when set, is mounted at POST /webhooks/sonarqube. It
	// authenticates deliveries itself, so it sits outside API key auth.
	Webhook http.Handler
	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.ServiceName == "" {
		config.ServiceName = "sonargate"
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		// An analysis holds the connection for scan + poll + fetch.
		writeTimeout = 20 * time.Minute
	}

	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.setupRoutes(), s.config.ServiceName)
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	allowed := s.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id", jobIDHeader},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	// Unauthenticated ops endpoints.
	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.deps.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/sonarqube", s.deps.Webhook)
	}

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		analyze := r.With()
		if s.config.RateLimit > 0 {
			analyze = r.With(httprate.LimitByIP(s.config.RateLimit, time.Minute))
		}
		analyze.Post("/analyze", s.handleAnalyze)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
