package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"mercator-hq/chatgate/pkg/config"
	"mercator-hq/chatgate/pkg/limits/ratelimit"
	"mercator-hq/chatgate/pkg/providers"
	"mercator-hq/chatgate/pkg/telemetry/health"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

// Limiter is the part of *ratelimit.Limiter the server needs.
type Limiter interface {
	Send(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error)
	Stats() ratelimit.Stats
}

// Options holds optional server dependencies.
type Options struct {
	// Logger defaults to logging.Nop().
	Logger *logging.Logger

	// MetricsHandler is mounted at MetricsPath when non-nil.
	MetricsHandler http.Handler

	// MetricsPath defaults to "/metrics".
	MetricsPath string

	// Health backs GET /ready. Without it /ready always answers 200.
	Health *health.Checker
}

// Server exposes a Limiter over HTTP.
type Server struct {
	cfg        config.ServerConfig
	limiter    Limiter
	logger     *logging.Logger
	metrics    http.Handler
	metricsURL string
	health     *health.Checker

	mu           sync.RWMutex
	httpServer   *http.Server
	addr         net.Addr
	isRunning    bool
	shutdownOnce sync.Once
}

// New creates a server. It does not listen until Start is called.
func New(cfg config.ServerConfig, limiter Limiter, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	checker := opts.Health
	if checker == nil {
		checker = health.New(0)
	}
	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 * 1024 * 1024
	}
	return &Server{
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger.With("component", "server"),
		metrics:    opts.MetricsHandler,
		metricsURL: metricsPath,
		health:     checker,
	}
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	// Outermost first.
	router.Use(recoveryMiddleware(s.logger))
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(s.logger))

	router.Post("/v1/chat/completions", s.handleChatCompletions)
	router.Get("/v1/limits", s.handleLimits)
	router.Get("/health", s.handleHealth)
	router.Get("/ready", s.health.ReadinessHandler())
	if s.metrics != nil {
		router.Method(http.MethodGet, s.metricsURL, s.metrics)
	}

	router.NotFound(s.handleNotFound)
	router.MethodNotAllowed(s.handleMethodNotAllowed)

	return router
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String())
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else if err != nil {
			err = fmt.Errorf("server error: %w", err)
		}
		errChan <- err
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		// Serve returned on its own or after an external Shutdown.
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()
		if srv == nil {
			return
		}

		if s.cfg.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
			defer cancel()
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.cfg.ShutdownTimeout.String())
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
