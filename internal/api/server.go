// Package api assembles the HTTP surface of the compliance service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/compliance-armada/internal/api/health"
	"github.com/ahrav/compliance-armada/internal/api/scanning"
	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
	"github.com/ahrav/compliance-armada/pkg/common/otel"
)

// Config contains everything the server needs.
type Config struct {
	Build       string
	ServiceName string
	Addr        string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Limits  document.Limits
	Service scanning.Service
	Checks  map[string]health.Checker
	Metrics APIMetrics
}

// Server serves the versioned HTTP API.
type Server struct {
	cfg    Config
	logger *logger.Logger
	router *chi.Mux
}

// Probe paths are excluded from tracing.
var excludedRoutes = map[string]struct{}{
	"/v1/liveness":  {},
	"/v1/readiness": {},
}

// NewServer builds the router. Metrics may be nil.
func NewServer(cfg Config, log *logger.Logger) *Server {
	log = log.With("component", "http_api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(cfg.ServiceName, excludedRoutes))
	r.Use(loggerMiddleware(log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		health.Routes(r, health.Config{Build: cfg.Build, Log: log, Checks: cfg.Checks})
		scanning.Routes(r, scanning.Config{Log: log, Service: cfg.Service, Limits: cfg.Limits})
	})

	return &Server{cfg: cfg, logger: log, router: r}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func loggerMiddleware(log *logger.Logger, metrics APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				route := r.URL.Path
				if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				elapsed := time.Since(start)

				if metrics != nil {
					metrics.IncRequestsTotal(ctx, r.Method, route, ww.Status())
					metrics.ObserveRequestDuration(ctx, r.Method, route, elapsed)
				}
				if _, probe := excludedRoutes[r.URL.Path]; probe {
					return
				}
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", elapsed,
					"request_id", middleware.GetReqID(ctx),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests for
// at most the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.logger.Info(shutdownCtx, "Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(shutdownCtx, "Failed to shut down HTTP server", "error", err)
		_ = server.Close()
		return err
	}
	return nil
}
