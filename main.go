package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ellenfel/Model-Context-Protocol/internal/backend"
	"github.com/ellenfel/Model-Context-Protocol/internal/config"
	internalhttp "github.com/ellenfel/Model-Context-Protocol/internal/http"
	"github.com/ellenfel/Model-Context-Protocol/internal/hub"
	"github.com/ellenfel/Model-Context-Protocol/internal/policy"
	"github.com/ellenfel/Model-Context-Protocol/internal/session"
	"github.com/ellenfel/Model-Context-Protocol/internal/store"
	"github.com/ellenfel/Model-Context-Protocol/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting MCP server",
		slog.Int("wsPort", cfg.WSPort),
		slog.Int("httpPort", cfg.HTTPPort),
		slog.String("store", cfg.StoreBackend),
		slog.String("backend", cfg.ModelBackend))

	st, err := store.Open(cfg.StoreBackend, cfg.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("open context store: %w", err)
	}
	defer st.Close()

	be, err := backend.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create model backend: %w", err)
	}

	engine, err := policy.NewEngineFromFile(ctx, cfg.QueryPolicyFile, cfg.MaxQueryTokens)
	if err != nil {
		return fmt.Errorf("load query policy: %w", err)
	}

	sessions := session.New(st, be,
		session.WithLogger(logger),
		session.WithPolicy(engine),
		session.WithBackendTimeout(cfg.BackendTimeout),
		session.WithDefaultModelID(cfg.DefaultModelID),
		session.WithStrictContextUpdate(cfg.StrictContextUpdate),
	)

	connectionHub := hub.NewHub(logger)
	wsServer := ws.NewServer(cfg, connectionHub, sessions, logger)

	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(middleware.Logger())
	wsEcho.Use(middleware.Recover())
	wsEcho.GET(cfg.WSPath, wsServer.HandleWebSocket)

	httpServer := internalhttp.NewServer(connectionHub, st, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		connectionHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		logger.Info("websocket server listening", slog.String("addr", addr), slog.String("path", cfg.WSPath))
		if err := wsEcho.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("internal HTTP server listening", slog.String("addr", addr))
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("internal HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := wsEcho.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown websocket server gracefully", slog.String("err", err.Error()))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown HTTP server gracefully", slog.String("err", err.Error()))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
