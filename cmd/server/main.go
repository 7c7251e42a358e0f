package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sitebook/internal/application"
	"github.com/JonMunkholm/sitebook/internal/config"
	"github.com/JonMunkholm/sitebook/internal/logging"
	"github.com/JonMunkholm/sitebook/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("tables registered", "count", len(app.Registry.ListTables()))

	deps := web.Deps{
		Registry: app.Registry,
		Importer: app.Importer,
		Exporter: app.Exporter,
		Limiter:  app.Limiter,
		Logger:   logger,
	}
	if app.Archiver != nil {
		deps.Archiver = app.Archiver
	}
	server := web.NewServer(cfg, deps)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := app.WaitForImports(shutdownCtx); err != nil {
			logger.Warn("shutdown with imports still running", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
