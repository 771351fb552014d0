package container

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/yang123apple/EHS-system-sub002/internal/application/dispatcher"
	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/application/service"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/document"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/expression"
	infraLark "github.com/yang123apple/EHS-system-sub002/internal/infrastructure/external/lark"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/repository"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/validation"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/worker"
	"github.com/yang123apple/EHS-system-sub002/pkg/database"
	"github.com/yang123apple/EHS-system-sub002/pkg/database/migrations"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Raw   *database.DB
	Store *sqlstore.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Item         port.ItemRepository
	Definition   port.DefinitionRepository
	Log          port.AuditLogRepository
	Visibility   port.VisibilityRepository
	Notification port.NotificationRepository
	Org          port.OrgRepository
	Document     port.DocumentRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Items         service.ItemService
	Queries       service.QueryService
	Definitions   service.DefinitionService
	Visibility    service.VisibilityService
	Org           service.OrgService
	Notifications service.NotificationService
	Invalidation  service.InvalidationService
}

// ServiceDeps holds the collaborators ProvideServices needs.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Sink       port.NotificationSink
	Dispatcher dispatcher.Dispatcher
	Config     *Config
	Logger     *zap.Logger
}

// WorkerDeps holds the collaborators ProvideWorkers needs.
type WorkerDeps struct {
	Services *ServiceBundle
	Config   *Config
	Logger   *zap.Logger
}

// ProvideDatabase opens the connection, applies pending migrations and
// wraps the pool in the transaction-aware store.
//
// Migrations come from the embedded schema unless MigrationsDir is set, in
// which case MigrationsDir/<driver>/*.sql is used instead.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	raw, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	var schema fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		schema = os.DirFS(cfg.MigrationsDir)
	}
	if err := database.NewMigrator(raw, logger).RunMigrations(schema, raw.Driver()); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dialect, err := sqlstore.DialectFor(raw.Driver())
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	return &DatabaseBundle{
		Raw:   raw,
		Store: sqlstore.NewDB(raw.DB, dialect, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the store.
func ProvideRepositories(db *sqlstore.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Item:         repository.NewItemRepository(db, logger),
		Definition:   repository.NewDefinitionRepository(db, logger),
		Log:          repository.NewLogRepository(db, logger),
		Visibility:   repository.NewVisibilityRepository(db, logger),
		Notification: repository.NewNotificationRepository(db, logger),
		Org:          repository.NewOrgRepository(db, logger),
		Document:     repository.NewDocumentRepository(db, logger),
	}, nil
}

// ProvideNotificationSink returns the Lark sink when Lark is enabled, and a
// sink that only logs otherwise.
func ProvideNotificationSink(cfg *LarkConfig, logger *zap.Logger) (port.NotificationSink, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lark config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if !cfg.Enabled {
		logger.Info("Lark delivery disabled, notifications will only be logged")
		return infraLark.NewLogSink(logger), nil
	}

	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
	}, logger)

	return infraLark.NewSink(infraLark.NewMessenger(client, logger), logger), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: logger})), nil
}

// ProvideServices creates the engine and every application service.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.Config == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	svcLogger := &zapLoggerAdapter{logger: deps.Logger}
	repos := deps.Repos
	cfg := deps.Config

	evaluator := expression.NewEvaluator(deps.Logger.Named("expression"))
	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build definition validator: %w", err)
	}

	engine := appwf.NewEngine(
		appwf.WithConditions(evaluator),
		appwf.WithCacheExpiry(cfg.Workflow.CacheExpiry),
	)

	orgSvc := service.NewOrgService(repos.Org, deps.Dispatcher, svcLogger)
	visSvc := service.NewVisibilityService(repos.Item, repos.Visibility, deps.TxManager, cfg.Visibility.Throttle, svcLogger)
	notifSvc := service.NewNotificationService(repos.Notification, repos.Org, deps.Sink, service.NotificationConfig{
		BatchSize:   cfg.Notification.BatchSize,
		MaxAttempts: cfg.Notification.MaxAttempts,
	}, svcLogger)

	itemDeps := service.ItemServiceDeps{
		ItemRepo:       repos.Item,
		DefinitionRepo: repos.Definition,
		LogRepo:        repos.Log,
		DocumentRepo:   repos.Document,
		Org:            orgSvc,
		Engine:         engine,
		Notifications:  notifSvc,
		Visibility:     visSvc,
		Signer:         document.NewSignatureWriter(deps.Logger),
		Exporter:       document.NewLogExporter(deps.Logger),
		TxManager:      deps.TxManager,
		Dispatcher:     deps.Dispatcher,
		Logger:         svcLogger,
	}

	return &ServiceBundle{
		Items:         service.NewItemService(itemDeps),
		Queries:       service.NewQueryService(repos.Item, repos.Visibility),
		Definitions:   service.NewDefinitionService(repos.Definition, validator, evaluator, svcLogger),
		Visibility:    visSvc,
		Org:           orgSvc,
		Notifications: notifSvc,
		Invalidation:  service.NewInvalidationService(itemDeps),
	}, nil
}

// RegisterEventHandlers subscribes the services to the events they react to.
func RegisterEventHandlers(d dispatcher.Dispatcher, services *ServiceBundle) error {
	if err := d.OnAccount("invalidation", services.Invalidation.HandleAccountEvent); err != nil {
		return err
	}
	if err := d.OnItem("notification_delivery", services.Notifications.HandleItemEvent,
		event.TypeItemCreated, event.TypeItemTransitioned); err != nil {
		return err
	}
	return d.OnItem("visibility_repair", func(ctx context.Context, itemID int64, _ *event.Event) error {
		return services.Visibility.Sync(ctx, itemID)
	}, event.TypeVisibilityStale)
}

// ProvideWorkers registers the background workers. The rebuild worker is
// skipped when no schedule is configured.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Services == nil || deps.Config == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	cfg := deps.Config
	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewNotificationWorker(deps.Services.Notifications, cfg.Notification.PollInterval, deps.Logger))
	manager.Register(worker.NewStaleRepairWorker(deps.Services.Visibility, cfg.Visibility.StaleRepairInterval, cfg.Visibility.BatchSize, deps.Logger))

	if cfg.Visibility.RebuildSchedule != "" {
		manager.Register(worker.NewRebuildWorker(deps.Services.Visibility, cfg.Visibility.RebuildSchedule, cfg.Visibility.BatchSize, deps.Logger))
	}

	return manager, nil
}
