package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cligate/internal/config"
	"cligate/internal/discovery"
	"cligate/internal/router"
)

const (
	maxBodySize         = "10M"
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	// Streams may last as long as the backend timeout.
	writeTimeoutMargin = 30 * time.Second
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	address string
	version string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router, version string) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: newRequestID,
	}))
	e.Use(captureBodies(cfg.Logging))
	e.Use(requestLogger())
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(corsMiddleware(cfg.Security.CORSOrigins))
	e.Use(middleware.BodyLimit(maxBodySize))
	if cfg.RateLimit.Max > 0 {
		e.Use(rateLimiter(cfg.RateLimit))
	}
	if cfg.Security.APIKey != "" {
		e.Use(apiKeyAuth(cfg.Security.APIKey))
	}

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		app:     e,
		address: cfg.Address(),
		version: version,
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the echo instance, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.printStartupBanner(ctx)
	slog.Info("starting server", "addr", s.address, "backend", s.router.BackendName())

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: s.cfg.Backend.Timeout + writeTimeoutMargin,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/v1/models", s.handleListModels)
	s.app.GET("/v1/models/:model", s.handleGetModel)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/responses", s.handleResponses)
}

func (s *Server) printStartupBanner(ctx context.Context) {
	w := os.Stdout
	base := fmt.Sprintf("http://%s:%d", displayHost(s.cfg.Server.Host), s.cfg.Server.Port)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "cligate ready")
	fmt.Fprintf(w, "Listening on %s (backend: %s)\n", base, s.router.BackendName())
	fmt.Fprintln(w, "Endpoints:")
	fmt.Fprintln(w, "  GET  /health")
	fmt.Fprintln(w, "  GET  /v1/models")
	fmt.Fprintln(w, "  GET  /v1/models/:model")
	fmt.Fprintln(w, "  POST /v1/chat/completions")
	fmt.Fprintln(w, "  POST /v1/responses")
	fmt.Fprintf(w, "Default model: %s\n", s.router.DefaultModel())
	fmt.Fprintf(w, "Available models: %v\n", discovery.IDs(s.router.Models(ctx)))
	fmt.Fprintf(w, "Example:\n  curl %s/v1/chat/completions -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", base)
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}
