package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Default server configuration values.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "2M"
	DefaultMaxHeaderBytes  = 1 << 20 // 1MB
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
	}
}

// Server represents the HTTP server.
type Server struct {
	echo   *echo.Echo
	config ServerConfig
	logger *slog.Logger
}

// NewServer creates a new HTTP server with the given configuration.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Server.ReadTimeout = config.ReadTimeout
	e.Server.WriteTimeout = config.WriteTimeout
	e.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	if config.BodyLimit != "" {
		e.Use(echomw.BodyLimit(config.BodyLimit))
	}

	return &Server{
		echo:   e,
		config: config,
		logger: logger,
	}
}

// Echo returns the underlying Echo instance for middleware and route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Address returns the server address.
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		slog.String("address", s.Address()),
		slog.Duration("read_timeout", s.config.ReadTimeout),
		slog.Duration("write_timeout", s.config.WriteTimeout),
	)

	if err := s.echo.Start(s.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return <-errCh
}
