package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"edustat/internal/aggregation"
	"edustat/internal/cleaning"
	"edustat/internal/config"
	"edustat/internal/exporter"
	"edustat/internal/infrastructure"
	"edustat/internal/ingest"
	"edustat/internal/operations"
	"edustat/internal/statistics"
	"edustat/internal/statuspub"
	"edustat/internal/storage/memory"
	"edustat/internal/storage/sqlite"
	handlers "edustat/internal/transport/http"
	"edustat/pkg/contracts"
	"edustat/pkg/contracts/domain"
)

// Backend is the persistence surface every component reads from or writes to.
// Both storage drivers implement it.
type Backend interface {
	ingest.RawWriter
	ingest.ConfigWriter
	cleaning.SourceRepository
	cleaning.CleanedStore
	aggregation.CleanedReader
	aggregation.ResultSink
	LoadQuestionnaireItems(ctx context.Context, batchCode, subjectName string) ([]domain.QuestionnaireItemRecord, error)
	LoadOptionDistribution(ctx context.Context, batchCode, subjectName string) ([]domain.OptionDistribution, error)
	LoadStatistics(ctx context.Context, batchCode string, level domain.AggregationLevel, schoolID string) ([]domain.StatisticsRecord, error)
}

// taskPruner is implemented by task stores that can drop old finished tasks
type taskPruner interface {
	DeleteFinishedTasks(ctx context.Context, maxAge time.Duration) (int, error)
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics

	Store       Backend
	TaskStore   operations.TaskStore
	Publisher   *statuspub.Publisher
	Cleaner     *cleaning.Cleaner
	Aggregation *aggregation.Service
	Importer    *ingest.Importer
	Exporter    *exporter.Exporter
	Manager     *operations.Manager

	Router http.Handler
	Server *http.Server

	closers []func() error
	cancel  context.CancelFunc
}

// New builds the application from a loaded configuration
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewWithLogger(ctx, cfg, logger)
}

// NewWithLogger builds the application with an explicit logger
func NewWithLogger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	a := &Application{Config: cfg, Logger: logger}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		a.shutdownOTel(ctx)
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}
	a.Metrics = metrics

	if err := a.initializeStorage(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initializeServices(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	logger.InfoContext(ctx, "application_initialized",
		slog.String("version", contracts.Version),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.Bool("redis_enabled", a.Publisher != nil))
	return a, nil
}

// initializeStorage opens the configured backend and task store
func (a *Application) initializeStorage(ctx context.Context) error {
	cfg := a.Config
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.Store = store
		a.TaskStore = store
		a.closers = append(a.closers, store.Close)
	default:
		a.Store = memory.NewStore()
		a.TaskStore = operations.NewMemoryTaskStore()
	}
	a.Logger.InfoContext(ctx, "storage_opened",
		slog.String("driver", cfg.Storage.Driver),
		slog.String("path", cfg.Storage.Path))
	return nil
}

// initializeServices builds the domain services and the task manager
func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config

	var publisher operations.StatusPublisher
	if cfg.Redis.Enabled {
		p, err := statuspub.New(ctx, cfg.Redis, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect status publisher: %w", err)
		}
		a.Publisher = p
		publisher = p
		a.closers = append(a.closers, p.Close)
	}

	a.Importer = ingest.NewImporter(a.Store, a.Logger)
	a.Exporter = exporter.NewExporter(a.Store, a.Logger)
	a.Cleaner = cleaning.NewCleaner(a.Store, a.Store, a.Logger, a.Metrics)

	engine := statistics.NewDefaultEngine(
		statistics.WithChunkThreshold(cfg.Statistics.ChunkThreshold),
		statistics.WithWorkers(cfg.Statistics.Workers),
		statistics.WithLogger(a.Logger),
		statistics.WithMetrics(a.Metrics),
	)
	consolidator := aggregation.NewConsolidator(engine, statistics.ConfigFrom(cfg.Statistics), a.Logger)
	a.Aggregation = aggregation.NewService(a.Store, a.Store, a.Store, consolidator, a.Logger, a.Metrics)

	a.Manager = operations.NewManager(operations.ConfigFrom(cfg.Tasks), a.TaskStore, publisher, a.Logger, a.Metrics)
	if err := operations.RegisterCleaningPipeline(a.Manager, a.Store, a.Cleaner, a.Store, a.Logger); err != nil {
		return fmt.Errorf("failed to register cleaning pipeline: %w", err)
	}
	if err := operations.RegisterCalculationPipeline(a.Manager, a.Aggregation); err != nil {
		return fmt.Errorf("failed to register calculation pipeline: %w", err)
	}

	recovered, err := a.Manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	if recovered > 0 {
		a.Logger.WarnContext(ctx, "stale_tasks_recovered", slog.Int("count", recovered))
	}
	return nil
}

// setupRouter builds the ops router
func (a *Application) setupRouter() {
	var metricsHandler http.Handler
	if a.OTelProviders != nil {
		metricsHandler = a.OTelProviders.PrometheusHTTP
	}
	var pinger handlers.Pinger
	if p, ok := a.Store.(handlers.Pinger); ok {
		pinger = p
	}

	a.Router = handlers.NewRouter(handlers.RouterDeps{
		Tasks:      a.Manager,
		Statistics: a.Store,
		Exporter:   a.Exporter,
		Store:      pinger,
		Metrics:    metricsHandler,
		Business:   a.Metrics,
		Server:     a.Config.Server,
		Version:    contracts.Version,
		Logger:     a.Logger,
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// StartWorkers starts the task queue workers and the durable task pruner
func (a *Application) StartWorkers(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Manager.Start(ctx)

	if pruner, ok := a.TaskStore.(taskPruner); ok && a.Config.Tasks.PruneAfter > 0 {
		go a.prune(ctx, pruner)
	}
}

// Start starts the workers and the HTTP server. Server failures call cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.StartWorkers(ctx)
	a.setupRouter()
	a.createServer()

	a.Logger.InfoContext(ctx, "server_starting",
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "server_error", slog.String("error", err.Error()))
			cancel()
		}
	}()
	return nil
}

// Stop gracefully stops the server, drains the task queue and closes the backends
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "application_stopping")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.Manager != nil {
		if err := a.Manager.Stop(a.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("task manager stop: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "application_stopped")
	return errors.Join(errs...)
}

// Close releases storage, Redis and telemetry. It is safe after a failed New.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.shutdownOTel(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Application) shutdownOTel(ctx context.Context) error {
	if a.OTelProviders == nil {
		return nil
	}
	err := a.OTelProviders.Shutdown(ctx)
	a.OTelProviders = nil
	return err
}

// Run runs the server until interrupted
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "signal_received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}

// prune periodically deletes finished tasks older than PruneAfter
func (a *Application) prune(ctx context.Context, pruner taskPruner) {
	interval := a.Config.Tasks.PruneAfter / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pruner.DeleteFinishedTasks(ctx, a.Config.Tasks.PruneAfter)
			if err != nil {
				a.Logger.WarnContext(ctx, "task_prune_failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.Logger.InfoContext(ctx, "tasks_pruned", slog.Int("count", n))
			}
		}
	}
}
