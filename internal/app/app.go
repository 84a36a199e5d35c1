// -----------------------------------------------------------------------
// App - Dependency container and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/apps"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/handlers"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/schedulers"
	"github.com/ternarybob/caelum/internal/schedulers/kube"
	"github.com/ternarybob/caelum/internal/schedulers/local"
	"github.com/ternarybob/caelum/internal/schedulers/slurm"
	"github.com/ternarybob/caelum/internal/services/accounting"
	"github.com/ternarybob/caelum/internal/services/auth"
	"github.com/ternarybob/caelum/internal/services/events"
	jobsvc "github.com/ternarybob/caelum/internal/services/jobs"
	"github.com/ternarybob/caelum/internal/services/packager"
	"github.com/ternarybob/caelum/internal/services/reconciler"
	"github.com/ternarybob/caelum/internal/services/reports"
	"github.com/ternarybob/caelum/internal/services/scheduler"
	"github.com/ternarybob/caelum/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	Registry       *apps.Registry
	AuthService    interfaces.AuthService

	// Scheduler backends: the active adapter receives submissions, the map
	// serves the reconciler.
	Scheduler schedulers.Scheduler
	Adapters  map[string]schedulers.Scheduler

	PackagerService   *packager.Service
	JobService        *jobsvc.Service
	ReconcilerService *reconciler.Service
	AccountingService *accounting.Service
	SchedulerService  interfaces.SchedulerService

	// HTTP handlers
	FileHandler       *handlers.FileHandler
	AppHandler        *handlers.AppHandler
	JobHandler        *handlers.JobHandler
	OutputHandler     *handlers.OutputHandler
	AccountingHandler *handlers.AccountingHandler
	StatusHandler     *handlers.StatusHandler
	WSHandler         *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(logger)

	if err := app.initCatalog(); err != nil {
		return nil, fmt.Errorf("failed to initialize app catalog: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	if err := app.registerLoops(); err != nil {
		return nil, fmt.Errorf("failed to register background loops: %w", err)
	}

	logger.Info().
		Str("scheduler", cfg.Jobs.Scheduler).
		Int("apps", len(app.Registry.Names())).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initCatalog builds the application registry from the built-in catalog plus
// any deployment-provided YAML descriptors.
func (a *App) initCatalog() error {
	a.Registry = apps.NewRegistry(apps.CatalogConfig{
		UseSlurm:        a.Config.Jobs.Scheduler == "slurm",
		SlurmQueue:      a.Config.Schedulers.Slurm.Queue,
		MaskRCNNWeights: a.Config.Jobs.MaskRCNNWeights,
		MaxNProc:        a.Config.Jobs.MaxNProc,
		MaxNThreads:     a.Config.Jobs.MaxNThreads,
	})

	if dir := a.Config.Jobs.AppCatalogDir; dir != "" {
		if err := a.Registry.LoadCatalogDir(dir); err != nil {
			return err
		}
		a.Logger.Info().
			Str("dir", dir).
			Msg("Loaded external app descriptors")
	}
	return nil
}

func (a *App) initServices() error {
	a.AuthService = auth.NewService(&a.Config.Auth, a.Logger)

	var renderer packager.Renderer
	if a.Config.Reports.Enabled {
		renderer = reports.NewService(a.Logger)
	}
	a.PackagerService = packager.NewService(
		a.StorageManager.JobStorage(), a.EventService, renderer, reports.ReportName, a.Logger)

	if err := a.initSchedulers(); err != nil {
		return err
	}

	a.JobService = jobsvc.NewService(a.Config, a.Registry,
		a.StorageManager.JobStorage(), a.StorageManager.FileStorage(),
		a.Scheduler, a.EventService, a.Logger)

	a.ReconcilerService = reconciler.NewService(
		a.StorageManager.JobStorage(), a.Adapters, a.PackagerService,
		a.EventService, a.Config.Reconciler.WorkerPool, a.Logger)

	a.AccountingService = accounting.NewService(a.Config,
		a.StorageManager.JobStorage(), a.StorageManager.AccountingStorage(), a.Logger)

	a.SchedulerService = scheduler.NewService(a.Logger)
	return nil
}

// initSchedulers constructs the adapter named by the configuration. Only the
// configured backend is built; its clients fail fast on bad settings.
func (a *App) initSchedulers() error {
	a.Adapters = make(map[string]schedulers.Scheduler)

	switch a.Config.Jobs.Scheduler {
	case "local":
		adapter := local.New(&a.Config.Schedulers.Local,
			a.StorageManager.JobStorage(), a.PackagerService, a.Logger)
		adapter.Start()
		a.Scheduler = adapter

	case "kube":
		adapter, err := kube.New(&a.Config.Schedulers.Kube, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create kubernetes adapter: %w", err)
		}
		a.Scheduler = adapter

	case "slurm":
		adapter, err := slurm.New(&a.Config.Schedulers.Slurm, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create slurm adapter: %w", err)
		}
		a.Scheduler = adapter

	default:
		return fmt.Errorf("unknown job scheduler %q", a.Config.Jobs.Scheduler)
	}

	a.Adapters[a.Scheduler.Kind()] = a.Scheduler
	return nil
}

func (a *App) initHandlers() {
	a.FileHandler = handlers.NewFileHandler(a.Config,
		a.StorageManager.FileStorage(), a.AuthService, a.EventService, a.Logger)
	a.AppHandler = handlers.NewAppHandler(a.Registry, a.AuthService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.AuthService, a.Logger)
	a.OutputHandler = handlers.NewOutputHandler(a.JobService, a.AuthService, a.Logger)
	a.AccountingHandler = handlers.NewAccountingHandler(
		a.StorageManager.AccountingStorage(), a.AuthService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Config, a.SchedulerService, a.Logger)

	if a.Config.WebSocket.Enabled {
		a.WSHandler = handlers.NewWebSocketHandler(a.EventService, &a.Config.WebSocket, a.Logger)
	}
}

// registerLoops binds the periodic services to the cron scheduler.
func (a *App) registerLoops() error {
	reconcilePeriod := common.Duration(a.Config.Reconciler.Period, 0)
	if err := a.SchedulerService.RegisterLoop("reconcile",
		"Merge external scheduler state into the job store",
		reconcilePeriod, func() error {
			return a.ReconcilerService.Reconcile(context.Background())
		}); err != nil {
		return err
	}

	accountingPeriod := common.Duration(a.Config.Accounting.Period, 0)
	if err := a.SchedulerService.RegisterLoop("accounting",
		"Aggregate per-user storage and job usage",
		accountingPeriod, func() error {
			return a.AccountingService.Aggregate(context.Background())
		}); err != nil {
		return err
	}

	gcPeriod := common.Duration(a.Config.Storage.Badger.GCPeriod, 10*time.Minute)
	return a.SchedulerService.RegisterLoop("storage-gc",
		"Reclaim Badger value log space",
		gcPeriod, a.StorageManager.RunGC)
}

// Start begins the background loops.
func (a *App) Start() error {
	return a.SchedulerService.Start()
}

// Close shuts down services in reverse dependency order.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}

	if adapter, ok := a.Scheduler.(*local.Scheduler); ok {
		adapter.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service close failed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application shut down")
	return nil
}
