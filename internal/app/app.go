package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/handlers"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/services/aggregation"
	"github.com/ternarybob/stockpulse/internal/services/cache"
	"github.com/ternarybob/stockpulse/internal/services/events"
	"github.com/ternarybob/stockpulse/internal/services/ingestion"
	"github.com/ternarybob/stockpulse/internal/services/metrics"
	"github.com/ternarybob/stockpulse/internal/services/query"
	"github.com/ternarybob/stockpulse/internal/services/report"
	"github.com/ternarybob/stockpulse/internal/services/scheduler"
	"github.com/ternarybob/stockpulse/internal/services/status"
	"github.com/ternarybob/stockpulse/internal/services/validation"
	"github.com/ternarybob/stockpulse/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	StatusService    *status.Service
	SchedulerService *scheduler.Service

	// Market data services
	Sectors            *validation.SectorRegistry
	Calculator         *metrics.Calculator
	IngestionService   *ingestion.Service
	AggregationService *aggregation.Service
	CacheService       *cache.Service
	QueryService       *query.Service
	ReportService      *report.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	MarketHandler *handlers.MarketHandler
	IngestHandler *handlers.IngestHandler
	ReportHandler *handlers.ReportHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// WebSocket handler subscribes to the event bus, so both come first
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("known_sectors", len(app.Sectors.List())).
		Bool("cache_enabled", cfg.Cache.Enabled).
		Str("schedule", cfg.Ingestion.Schedule).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the badger store
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config
	records := a.StorageManager.RecordStorage()
	runs := a.StorageManager.IngestionRunStorage()

	// 1. Status tracks ingestion activity for health
	a.StatusService = status.NewService(a.EventService, a.Logger)
	if err := a.StatusService.SubscribeToIngestionEvents(); err != nil {
		return fmt.Errorf("failed to subscribe status service: %w", err)
	}

	// 2. Sector registry and validator
	sectors, err := validation.LoadSectorRegistry(cfg.Sectors.RegistryFile, cfg.Sectors.Known, cfg.Sectors.AllowDynamic)
	if err != nil {
		return fmt.Errorf("failed to load sector registry: %w", err)
	}
	// Sectors already in the store stay addressable under any spelling
	stored, err := records.Sectors(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list stored sectors: %w", err)
	}
	sectors.Register(stored...)
	a.Sectors = sectors
	validator := validation.NewValidator(sectors).WithDistributionsPerYear(cfg.Metrics.DistributionsPerYear)

	// 3. Ingestion engine
	a.IngestionService = ingestion.NewService(records, runs, validator, a.EventService, a.StatusService, a.Logger, cfg.Ingestion.Workers)

	// 4. Metrics and aggregation
	a.Calculator = metrics.NewCalculator(cfg.Metrics.VolatilityWindow, cfg.Metrics.DistributionsPerYear)
	a.AggregationService = aggregation.NewService(records, a.Calculator, a.Logger, cfg.Ingestion.Workers)

	// 5. Read-through cache, dropped after every ingestion batch
	a.CacheService = cache.NewService(&cfg.Cache, a.Logger)
	if err := a.CacheService.SubscribeToIngestionEvents(a.EventService); err != nil {
		return fmt.Errorf("failed to subscribe cache service: %w", err)
	}

	// 6. Query facade and reports
	a.QueryService = query.NewService(records, runs, a.AggregationService, a.Calculator, a.CacheService, a.StatusService, a.Logger).
		WithSectors(sectors)
	a.ReportService = report.NewService(a.QueryService, a.Logger)

	// 7. Scheduled re-ingestion
	a.SchedulerService = scheduler.NewService(a.IngestionService, cfg.Ingestion, a.Logger)
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	return nil
}

func (a *App) initHandlers() {
	cfg := a.Config

	a.APIHandler = handlers.NewAPIHandler(a.QueryService, a.Logger)
	a.MarketHandler = handlers.NewMarketHandler(a.QueryService, a.QueryService, cfg.API, a.Logger)
	a.IngestHandler = handlers.NewIngestHandler(a.IngestionService, a.SchedulerService, a.QueryService, cfg.API, cfg.Ingestion.MaxRuns, a.Logger)
	a.ReportHandler = handlers.NewReportHandler(a.ReportService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.SchedulerService, a.Logger)
}

// RunStartupIngestion ingests the configured sources in the background when
// run_on_startup is set. Queries are served while it runs.
func (a *App) RunStartupIngestion() {
	cfg := a.Config.Ingestion
	if !cfg.RunOnStartup {
		return
	}
	if cfg.CSVPath != "" {
		if _, err := os.Stat(cfg.CSVPath); err != nil && cfg.SourceDir == "" {
			a.Logger.Warn().Str("csv_path", cfg.CSVPath).Msg("Startup ingestion skipped: CSV file not found")
			return
		}
	}

	common.SafeGo(a.Logger, "startup-ingestion", func() {
		start := time.Now()
		report, err := a.SchedulerService.RunNow(a.ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Startup ingestion finished with errors")
		}
		if report != nil {
			a.Logger.Info().
				Int("inserted", report.Inserted).
				Int("skipped_duplicate", report.SkippedDuplicate).
				Int("rejected", report.Rejected).
				Dur("duration", time.Since(start)).
				Msg("Startup ingestion complete")
		}
	})
}

// Close stops background work and closes the store
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background goroutines")
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
