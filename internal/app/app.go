// Package app wires the application together: configuration, storage, the
// source adapters, the aggregation pipeline and the HTTP handlers. It owns
// startup order and the reverse shutdown order.
package app

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/aggregator"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/export"
	"github.com/ternarybob/colligo/internal/services/orchestrator"
	"github.com/ternarybob/colligo/internal/services/sources"
	"github.com/ternarybob/colligo/internal/services/validation"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
)

// App is the dependency container
type App struct {
	Logger arbor.ILogger

	configMu sync.RWMutex
	config   *common.Config

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService

	Aggregator   *aggregator.Service
	Validator    interfaces.ValidationService
	Exporter     interfaces.ExportService
	Orchestrator *orchestrator.Service
	Scheduler    *orchestrator.Scheduler

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	JobHandler     *handlers.JobHandler
	RecordsHandler *handlers.RecordsHandler
	ExportHandler  *handlers.ExportHandler
	ConfigHandler  *handlers.ConfigHandler
	StatusHandler  *handlers.StatusHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the application with all dependencies. Nothing is running
// yet when New returns; the caller starts the scheduler and HTTP server.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		config: cfg,
		Logger: logger,
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initServices(); err != nil {
		a.StorageManager.Close()
		return nil, err
	}
	if err := a.initHandlers(); err != nil {
		a.StorageManager.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialized")
	return a, nil
}

// Config returns the currently effective configuration
func (a *App) Config() *common.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}

// ReloadConfig re-reads the config files plus env overrides and applies the
// reloadable subset: orchestrator settings and the source adapter set. The
// server address and storage path are pinned until restart.
func (a *App) ReloadConfig() (*common.Config, error) {
	reloaded, err := a.Config().Reload()
	if err != nil {
		return nil, fmt.Errorf("config reload failed: %w", err)
	}
	if err := reloaded.Validate(); err != nil {
		return nil, fmt.Errorf("reloaded config invalid: %w", err)
	}

	srcs, err := sources.BuildSources(reloaded, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild sources: %w", err)
	}

	a.configMu.Lock()
	a.config = reloaded
	a.configMu.Unlock()

	a.Orchestrator.UpdateConfig(reloaded.Orchestrator)
	a.Scheduler.UpdateConfig(reloaded.Orchestrator)
	a.Aggregator.UpdateSources(srcs, reloaded.Sources)

	a.Logger.Info().Int("sources", len(srcs)).Msg("Configuration reloaded")
	return reloaded, nil
}

func (a *App) initStorage() error {
	cfg := a.Config()
	manager, err := badgerstore.NewManager(a.Logger, &cfg.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config()

	a.EventService = events.NewService(a.Logger)

	srcs, err := sources.BuildSources(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build sources: %w", err)
	}
	a.Aggregator = aggregator.NewService(srcs, cfg.Sources, a.Logger)
	a.Validator = validation.NewService(a.Logger)
	a.Exporter = export.NewService(a.Logger)

	a.Orchestrator = orchestrator.NewService(
		cfg,
		a.Aggregator,
		a.Validator,
		a.StorageManager,
		a.Exporter,
		a.EventService,
		a.Logger,
	)
	a.Scheduler = orchestrator.NewScheduler(cfg, a.Orchestrator, a.EventService, a.Logger)

	return nil
}

func (a *App) initHandlers() error {
	dramas := a.StorageManager.DramaStorage()

	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.Logger)
	a.RecordsHandler = handlers.NewRecordsHandler(dramas, a.Logger)
	a.ExportHandler = handlers.NewExportHandler(dramas, a.Exporter, a, a.Logger)
	a.ConfigHandler = handlers.NewConfigHandler(a, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Orchestrator, a.Scheduler, dramas, a.Logger)

	ws, err := handlers.NewWebSocketHandler(a.EventService, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create websocket handler: %w", err)
	}
	a.WSHandler = ws

	return nil
}

// Close shuts services down in reverse dependency order. The caller has
// already stopped the scheduler and drained the orchestrator.
func (a *App) Close() error {
	var firstErr error

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return firstErr
}
