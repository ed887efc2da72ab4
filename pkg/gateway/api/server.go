package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/pkg/auth"
	"github.com/marmos91/shoal/pkg/gateway"
	"github.com/marmos91/shoal/pkg/metrics"
	"github.com/marmos91/shoal/pkg/mpu"
	"github.com/marmos91/shoal/pkg/placement"
)

// Server is the gateway HTTP server.
//
// It serves the object namespace, the multipart upload surface, health
// probes and the metrics endpoint, with graceful shutdown on context
// cancellation.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new gateway HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests. The JWT secret must be configured via config.JWT.Secret or the
// SHOAL_API_SECRET environment variable.
func NewServer(config APIConfig, gw *gateway.Gateway, uploads *mpu.Manager, view *placement.View) (*Server, error) {
	config.applyDefaults()

	authorizer, err := auth.NewJWTAuthorizer(config.authorizerConfig())
	if err != nil {
		return nil, fmt.Errorf("create authorizer: set the secret via %s or config: %w",
			EnvAPISecret, err)
	}

	router := NewRouter(RouterDeps{
		Gateway:    gw,
		Uploads:    uploads,
		View:       view,
		Authorizer: authorizer,
		Metrics:    metrics.NewGatewayMetrics(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{server: server, config: config}, nil
}

// Start starts the HTTP server and blocks until the context is cancelled
// or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("gateway server listening", "port", s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("gateway server shutdown signal received")
		// Don't use the cancelled ctx: it would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("gateway server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and safe to
// call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("gateway server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("gateway server shutdown error: %w", err)
			logger.Error("gateway server shutdown error", "error", err)
		} else {
			logger.Info("gateway server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
