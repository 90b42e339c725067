package container

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/application/service"
	"github.com/garyjia/procurement-workflow/internal/application/workflow"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/changefeed"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/worker"
	"github.com/garyjia/procurement-workflow/pkg/database"
)

// ChangeFeedBundle holds the change notifier and its health probe.
type ChangeFeedBundle struct {
	Notifier port.ChangeNotifier

	// Ping is nil for drivers without a remote dependency
	Ping func(ctx context.Context) error
}

// ProvideDatabase opens the database and, when enabled, applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.Open(database.Config{
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

	if cfg.AutoMigrate {
		applied, err := database.NewMigrator(db, logger).Run()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Database migrations applied", zap.Int("count", applied))
	}

	return db, nil
}

// ProvideStore creates the SQL store. Store timings feed the metrics when m is non-nil.
func ProvideStore(db *database.DB, cfg *DatabaseConfig, m *metrics.Metrics, logger *zap.Logger) (*sqlstore.Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	opts := []sqlstore.Option{sqlstore.WithQueryTimeout(cfg.QueryTimeout)}
	if m != nil {
		opts = append(opts, sqlstore.WithObserver(m.ObserveStore))
		if err := m.RegisterDB(db.DB.DB, "workflow"); err != nil {
			return nil, fmt.Errorf("failed to register database metrics: %w", err)
		}
	}
	return sqlstore.New(db.DB, logger, opts...), nil
}

// ProvideMetrics creates the metrics registry, or nil when disabled.
func ProvideMetrics(cfg *MetricsConfig) *metrics.Metrics {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return metrics.New()
}

// ProvideChangeFeed creates the change notifier selected by the config.
func ProvideChangeFeed(ctx context.Context, cfg *ChangeFeedConfig, logger *zap.Logger) (*ChangeFeedBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("changefeed config is required")
	}

	switch cfg.Driver {
	case ChangeFeedMemory, "":
		return &ChangeFeedBundle{
			Notifier: changefeed.NewMemory(logger, changefeed.WithBufferSize(cfg.BufferSize)),
		}, nil

	case ChangeFeedRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		feed := changefeed.NewRedis(client, logger,
			changefeed.WithChannelPrefix(cfg.ChannelPrefix),
			changefeed.WithRedisBufferSize(cfg.BufferSize),
		)
		if err := feed.Ping(ctx); err != nil {
			_ = feed.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return &ChangeFeedBundle{Notifier: feed, Ping: feed.Ping}, nil

	default:
		return nil, fmt.Errorf("unsupported changefeed driver %q", cfg.Driver)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(newLoggerAdapter(logger.Named("dispatcher"))))
}

// EventDeps holds the event subscribers wired onto the dispatcher.
type EventDeps struct {
	Dispatcher dispatcher.Dispatcher
	Notifier   port.ChangeNotifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// ProvideEventHandlers subscribes the change publisher and the metrics recorder.
func ProvideEventHandlers(deps *EventDeps) error {
	if deps.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if deps.Notifier != nil {
		service.NewChangePublisher(deps.Notifier, newLoggerAdapter(deps.Logger.Named("changes"))).
			Register(deps.Dispatcher)
	}
	if deps.Metrics != nil {
		deps.Metrics.Register(deps.Dispatcher)
	}
	return nil
}

// ProvideTemplateService creates the template service.
func ProvideTemplateService(store *sqlstore.Store, d dispatcher.Dispatcher, logger *zap.Logger) service.TemplateService {
	return service.NewTemplateService(store.Templates(), store,
		newLoggerAdapter(logger.Named("templates")),
		service.WithTemplateDispatcher(d),
	)
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(store *sqlstore.Store, d dispatcher.Dispatcher, logger *zap.Logger) workflow.WorkflowEngine {
	return workflow.NewEngine(store.Templates(), store.Instances(), store.Steps(), store,
		newLoggerAdapter(logger.Named("workflow")),
		workflow.WithDispatcher(d),
	)
}

// ProvideWorkers creates the worker manager with the reconciler registered when enabled.
func ProvideWorkers(cfg *ReconcilerConfig, engine workflow.WorkflowEngine, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger.Named("workers"))
	if cfg != nil && cfg.Enabled {
		manager.Register(worker.NewReconciler(engine, worker.ReconcilerConfig{
			Schedule:  cfg.Schedule,
			BatchSize: cfg.BatchSize,
		}, logger))
	}
	return manager
}

// SeedTemplates loads the seed file and creates missing templates.
func SeedTemplates(ctx context.Context, path string, templates service.TemplateService, logger *zap.Logger) (*service.SeedResult, error) {
	seeds, err := service.LoadTemplateSeedsFile(path)
	if err != nil {
		return nil, err
	}
	result, err := templates.SeedTemplates(ctx, seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to seed templates from %s: %w", path, err)
	}
	logger.Info("Workflow templates seeded",
		zap.String("file", path),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}
