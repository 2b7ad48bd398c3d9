// Package bootstrap assembles the runtime shared by the monitor API and the tracker worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btwld/docling-sdk-sub000/internal/api/handler"
	"github.com/btwld/docling-sdk-sub000/internal/config"
	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/notify"
	"github.com/btwld/docling-sdk-sub000/internal/storage"
	"github.com/btwld/docling-sdk-sub000/internal/tracker"
	"github.com/btwld/docling-sdk-sub000/shared/logger"
	"github.com/btwld/docling-sdk-sub000/shared/postgresql"
	"github.com/btwld/docling-sdk-sub000/shared/rabbitmq"
	"github.com/jonboulle/clockwork"
)

// App holds the long-lived clients. DB, Results and Events are nil when their section is disabled.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Client  *docling.Client
	Tracker *tracker.Manager
	DB      *postgresql.Client
	Results *storage.Storage
	Events  *rabbitmq.Client
}

// New builds the logger, the conversion client, the optional sinks and the tracker
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	appLogger, err := logger.New(cfg.Logging.ToLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{Config: cfg, Logger: appLogger}
	if err := app.init(ctx); err != nil {
		_ = app.closeClients()
		_ = appLogger.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	clock := clockwork.NewRealClock()

	defaults, err := cfg.Tracking.ToProgressConfig()
	if err != nil {
		return fmt.Errorf("invalid tracking config: %w", err)
	}

	a.Client = initDocling(&cfg.Docling, a.Logger.Component("docling"))

	opts := []tracker.Option{
		tracker.WithClock(clock),
		tracker.WithLogger(a.Logger.Component("tracker")),
	}

	if cfg.Database.Enabled {
		a.DB, err = postgresql.NewClient(ctx, cfg.Database.ToClientConfig(), a.Logger.Component("postgresql"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Results = storage.NewFromClient(a.DB, a.Logger.Component("storage"))
		if err := a.Results.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, tracker.WithSink(storage.NewRecorder(a.Results, clock, a.Logger.Component("recorder"))))
	}

	if cfg.RabbitMQ.Enabled {
		a.Events, err = rabbitmq.NewClient(ctx, cfg.RabbitMQ.ToClientConfig(false), a.Logger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		opts = append(opts, tracker.WithSink(notify.NewPublisher(a.Events,
			notify.WithRoutingPrefix(cfg.RabbitMQ.Events.RoutingPrefix),
			notify.WithProgress(cfg.RabbitMQ.Events.PublishProgress),
			notify.WithClock(clock),
			notify.WithLogger(a.Logger.Component("events")),
		)))
	}

	a.Tracker = tracker.NewForClient(a.Client, defaults, opts...)

	a.Logger.Info("Runtime initialized",
		slog.String("docling_url", cfg.Docling.BaseURL),
		slog.String("mode", string(defaults.Mode)),
		slog.Bool("history", a.Results != nil),
		slog.Bool("events", a.Events != nil),
	)
	return nil
}

func initDocling(cfg *config.DoclingConfig, log *slog.Logger) *docling.Client {
	opts := []docling.ClientOption{
		docling.WithLogger(log),
		docling.WithTimeout(cfg.RequestTimeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, docling.WithAPIKey(cfg.APIKey))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, docling.WithRateLimit(cfg.RateLimit))
	}
	return docling.NewClient(cfg.BaseURL, opts...)
}

// HealthChecks returns one probe per dependency in use
func (a *App) HealthChecks() map[string]handler.HealthChecker {
	checks := map[string]handler.HealthChecker{"docling": a.Client}
	if a.DB != nil {
		checks["postgresql"] = a.DB
	}
	if a.Events != nil {
		checks["rabbitmq"] = a.Events
	}
	return checks
}

// Shutdown stops every tracked job, then closes the clients and the log output
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Tracker != nil {
		if err := a.Tracker.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop tracker: %w", err))
		}
	}
	errs = append(errs, a.closeClients())

	a.Logger.Info("Runtime stopped")
	if err := a.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeClients() error {
	var errs []error
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
