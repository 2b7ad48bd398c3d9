package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/btwld/docling-sdk-sub000/internal/bootstrap"
	"github.com/btwld/docling-sdk-sub000/internal/config"
	"github.com/btwld/docling-sdk-sub000/internal/worker"
	"github.com/btwld/docling-sdk-sub000/shared/rabbitmq"
	"github.com/joho/godotenv"
)

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

	defaultConfigPath := os.Getenv("TRACKER_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/tracker-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	appLogger := app.Logger

	appLogger.Info("Starting tracker worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	consumer, err := rabbitmq.NewClient(ctx, cfg.RabbitMQ.ToClientConfig(true), appLogger.Component("consumer"))
	if err != nil {
		_ = app.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize RabbitMQ consumer: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Component("worker"),
		Source:      consumer,
		Tracker:     app.Tracker,
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Tracker worker started", slog.String("worker_id", workerInstance.ID()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		if runErr == nil {
			runErr = errors.New("consumer stopped unexpectedly")
		}
		appLogger.Error("Worker error", slog.Any("error", runErr))
	}

	// Canceling requeues in-flight jobs
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := consumer.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	return runErr
}
