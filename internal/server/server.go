// Package server assembles the authd HTTP stack: the /auth routes, the
// metrics endpoint and the middleware chain around them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/internal/config"
	"github.com/railconnect/authcore/internal/httpapi"
	"github.com/railconnect/authcore/internal/logging"
	"github.com/railconnect/authcore/metrics/export/prometheus"
	"github.com/railconnect/authcore/middleware"
)

// Server wraps an http.Server with the configured routes.
type Server struct {
	inner           *http.Server
	log             logging.Logger
	shutdownTimeout time.Duration
}

// New wires middleware and routes around engine.
func New(cfg config.Config, engine *authcore.Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, authcore.ErrEngineNotReady
	}
	if logger == nil {
		logger = slog.Default()
	}
	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	mux := http.NewServeMux()
	httpapi.New(engine, engine.Config().Cookie, logger).Register(mux)
	if cfg.Metrics {
		mux.Handle("GET /metrics", prometheus.New(engine).Handler())
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSOrigins

	var handler http.Handler = mux
	handler = middleware.CORS(cors)(handler)
	handler = middleware.Logger(logger)(handler)
	handler = middleware.ClientInfo(trusted)(handler)

	return &Server{
		inner: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		log:             logging.NewSlogLogger(logger).With("component", "server"),
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.inner.Handler
}

// Start begins serving HTTP traffic. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	return s.inner.Serve(l)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

// Run serves on l until ctx is done, then drains in-flight requests for
// at most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "listening", "addr", l.Addr().String())
		errCh <- s.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info(ctx, "shutting down", "timeout", s.shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
