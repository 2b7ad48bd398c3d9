package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/api/handler"
	"github.com/btwld/docling-sdk-sub000/internal/api/router"
	"github.com/btwld/docling-sdk-sub000/internal/bootstrap"
	"github.com/btwld/docling-sdk-sub000/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("MONITOR_API_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/monitor-api/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	appLogger := app.Logger

	appLogger.Info("Starting monitor API",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	r := initRouter(app)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Duration("max_wait", cfg.Server.MaxWait),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case serveErr = <-errChan:
		appLogger.Error("Server failed", slog.Any("error", serveErr))
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		serveErr = errors.Join(serveErr, err)
	}

	if err := app.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}

	return serveErr
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(app *bootstrap.App) *gin.Engine {
	if app.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:    app.Logger.Component("api"),
		Tracker:   app.Tracker,
		Converter: app.Client,
		Checks:    app.HealthChecks(),
		MaxWait:   app.Config.Server.MaxWait,
	}
	if app.Results != nil {
		deps.Results = app.Results
	}

	return router.SetupRouter(deps)
}
