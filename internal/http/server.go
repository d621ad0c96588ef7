// Package http provides the internal HTTP server for health reporting.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ConnectionCounter reports live connections.
type ConnectionCounter interface {
	Count() int
}

// ContextCounter reports stored contexts.
type ContextCounter interface {
	Len(ctx context.Context) (int, error)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Contexts    int    `json:"contexts"`
	Error       string `json:"error,omitempty"`
}

// Server is the internal HTTP server.
type Server struct {
	echo     *echo.Echo
	conns    ConnectionCounter
	contexts ContextCounter
	logger   *slog.Logger
}

// NewServer creates a new internal HTTP server.
func NewServer(conns ConnectionCounter, contexts ContextCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		conns:    conns,
		contexts: contexts,
		logger:   logger.With(slog.String("component", "http")),
	}

	e.GET("/health", s.handleHealth)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	n, err := s.contexts.Len(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to count contexts", slog.String("err", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:      "unhealthy",
			Connections: s.conns.Count(),
			Error:       err.Error(),
		})
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Connections: s.conns.Count(),
		Contexts:    n,
	})
}
