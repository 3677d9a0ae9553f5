// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/geneflow/internal/errors"
	"github.com/3leaps/geneflow/internal/server/handlers"
	"github.com/3leaps/geneflow/internal/server/middleware"
)

// DefaultUploadTimeout bounds one upload request.
const DefaultUploadTimeout = time.Hour

// Server is the HTTP front end.
type Server struct {
	host   string
	port   int
	router chi.Router
	logger *zap.Logger

	pipeline  *handlers.Pipeline
	rateLimit float64
	rateBurst int

	readTimeout   time.Duration
	writeTimeout  time.Duration
	idleTimeout   time.Duration
	uploadTimeout time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the base request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPipeline mounts the upload, job and event routes.
func WithPipeline(p *handlers.Pipeline) Option {
	return func(s *Server) { s.pipeline = p }
}

// WithRateLimit throttles the upload and event routes. perSecond <= 0
// disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = perSecond
		s.rateBurst = burst
	}
}

// WithTimeouts sets the http.Server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithUploadTimeout sets the read and write deadline of the upload routes,
// which replaces the server timeouts for those requests. Zero keeps the
// default.
func WithUploadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.uploadTimeout = d
		}
	}
}

// New builds the router. Health and version routes are always present.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		readTimeout:   30 * time.Second,
		writeTimeout:  30 * time.Second,
		idleTimeout:   120 * time.Second,
		uploadTimeout: DefaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.WithLogger(s.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFound("no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewMethodNotAllowed("method "+r.Method+" not allowed on "+r.URL.Path))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if p := s.pipeline; p != nil {
		r.Get("/v1/jobs/{jobId}", p.GetJob)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.rateLimit, s.rateBurst))

			upload := r.With(middleware.ExtendDeadline(s.uploadTimeout))
			upload.Post("/api/upload_function", p.Upload)
			upload.Post("/v1/jobs", p.Upload)

			r.Post("/events/submission", p.SubmissionEvents)
			r.Options("/events/submission", p.WebhookHandshake)
			r.Post("/events/notification", p.NotificationEvents)
			r.Options("/events/notification", p.WebhookHandshake)
		})
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Port() int { return s.port }

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
