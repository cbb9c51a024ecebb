// Package api provides the HTTP REST API of the portscout port scanner. It
// wires the handler groups, middleware, Prometheus metrics and Swagger UI
// onto one gorilla/mux router.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/portscout/docs/swagger" // Import generated swagger docs
	apihandlers "github.com/anstrom/portscout/internal/api/handlers"
	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
)

// Server timeout constants.
const (
	defaultShutdownTimeout = 30 * time.Second
	systemMetricsInterval  = 15 * time.Second
	rateLimitCleanup       = time.Minute
	rateLimitMaxIdle       = 10 * time.Minute
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	handlers   *apihandlers.HandlerManager
	prometheus *metrics.PrometheusMetrics
	limiter    *middleware.RateLimiter
	logger     *logging.Logger
	startTime  time.Time
	stopOnce   sync.Once
}

// New creates a new API server instance. prom may be nil, in which case
// /metrics is not served and request metrics are not recorded.
func New(cfg *config.Config, deps apihandlers.Dependencies, prom *metrics.PrometheusMetrics) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Scanner == nil || deps.History == nil {
		return nil, fmt.Errorf("scanner and history are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if deps.MaxRequestSize == 0 {
		deps.MaxRequestSize = cfg.API.MaxRequestSize
	}

	server := &Server{
		router:     mux.NewRouter(),
		config:     cfg,
		handlers:   apihandlers.New(deps),
		prometheus: prom,
		logger:     logger.WithComponent("api"),
		startTime:  time.Now(),
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:      server.handler,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	return server, nil
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout,
		"rate_limit", s.limiter != nil)

	if s.prometheus != nil {
		go s.prometheus.StartPeriodicUpdates(ctx, systemMetricsInterval)
	}
	if s.limiter != nil {
		go s.cleanupLimiter(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server and disconnects feed clients.
func (s *Server) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping API server")

		timeout := s.config.API.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		_ = s.handlers.Close()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("API server shutdown error", "error", err)
			stopErr = fmt.Errorf("server shutdown failed: %w", err)
			return
		}
		s.logger.Info("API server stopped successfully")
	})
	return stopErr
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	s.handlers.RegisterRoutes(api)

	if s.config.API.EnableMetrics && s.prometheus != nil {
		s.router.Handle("/metrics", s.prometheus.Handler()).Methods(http.MethodGet)
	}

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))
	s.router.HandleFunc("/docs", s.redirectToSwagger).Methods(http.MethodGet)

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// setupMiddleware installs the route middleware on the router and wraps it
// with CORS and panic recovery.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	if s.config.Logging.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	if s.prometheus != nil {
		s.router.Use(middleware.Metrics(s.prometheus))
	}
	if rl := s.config.API.RateLimit; rl.Enabled {
		s.limiter = middleware.NewRateLimiter(rl.RequestsPerSecond, rl.BurstSize)
		s.router.Use(middleware.RateLimit(s.limiter, s.logger))
	}
	s.router.Use(middleware.ContentType())
	s.router.Use(middleware.SecurityHeaders())

	var handler http.Handler = s.router
	if cors := s.config.API.CORS; cors.Enabled {
		handler = handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedMethods(cors.AllowedMethods),
			handlers.AllowedHeaders(cors.AllowedHeaders),
		)(handler)
	}
	s.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(handler)
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(rateLimitCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup(rateLimitMaxIdle)
		}
	}
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": "portscout API",
		"version": "v1",
		"endpoints": map[string]string{
			"health": "/api/v1/health",
			"status": "/api/v1/status",
			"scan":   "/api/v1/scan",
			"docs":   "/swagger/",
		},
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// redirectToSwagger redirects to the Swagger UI.
func (s *Server) redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// recoveryLogger adapts Logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Panic in API handler", "error", fmt.Sprint(v...))
}
