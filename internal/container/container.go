package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/application/service"
	"github.com/garyjia/procurement-workflow/internal/application/workflow"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/worker"
	httpapi "github.com/garyjia/procurement-workflow/internal/interfaces/http"
	"github.com/garyjia/procurement-workflow/internal/interfaces/websocket"
	"github.com/garyjia/procurement-workflow/pkg/database"
	"github.com/garyjia/procurement-workflow/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	db      *database.DB
	store   *sqlstore.Store
	metrics *metrics.Metrics
	changes *ChangeFeedBundle

	// Application
	dispatcher dispatcher.Dispatcher
	templates  service.TemplateService
	engine     workflow.WorkflowEngine

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Metrics and database
// 2. Change feed
// 3. Dispatcher and its subscribers
// 4. Template service and workflow engine
// 5. Template seeds
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.start(); err != nil {
		c.teardown()
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) start() error {
	// Step 1: metrics and database
	c.metrics = ProvideMetrics(&c.config.Metrics)

	db, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db

	c.store, err = ProvideStore(c.db, &c.config.Database, c.metrics, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: change feed
	c.changes, err = ProvideChangeFeed(c.ctx, &c.config.ChangeFeed, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize change feed: %w", err)
	}
	c.logger.Info("Change feed initialized", zap.String("driver", c.config.ChangeFeed.Driver))

	// Step 3: dispatcher
	c.dispatcher = ProvideDispatcher(c.logger)
	if err := ProvideEventHandlers(&EventDeps{
		Dispatcher: c.dispatcher,
		Notifier:   c.changes.Notifier,
		Metrics:    c.metrics,
		Logger:     c.logger,
	}); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// Step 4: services
	c.templates = ProvideTemplateService(c.store, c.dispatcher, c.logger)
	c.engine = ProvideWorkflowEngine(c.store, c.dispatcher, c.logger)
	c.logger.Info("Application services initialized")

	// Step 5: seeds
	if path := c.config.Workflow.SeedFile; path != "" {
		if _, err := SeedTemplates(c.ctx, path, c.templates, c.logger); err != nil {
			return err
		}
	}

	// Step 6: workers
	c.workers = ProvideWorkers(&c.config.Reconciler, c.engine, c.logger)
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers initialized and started", zap.Int("count", c.workers.GetWorkerCount()))

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever start managed to build
func (c *Container) teardown() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Drains in-flight async handlers before the change feed goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.changes != nil && c.changes.Notifier != nil {
		if err := c.changes.Notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close change feed: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error, msg string) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true, Message: msg}
	}

	if c.db != nil {
		set("database", c.db.PingContext(ctx), "")
	} else {
		set("database", errors.New("not initialized"), "")
	}

	switch {
	case c.changes == nil:
		set("changefeed", errors.New("not initialized"), "")
	case c.changes.Ping != nil:
		set("changefeed", c.changes.Ping(ctx), c.config.ChangeFeed.Driver)
	default:
		set("changefeed", nil, c.config.ChangeFeed.Driver)
	}

	if c.workers != nil {
		var err error
		if c.workers.GetWorkerCount() > 0 && !c.workers.IsRunning() {
			err = errors.New("workers stopped")
		}
		set("workers", err, fmt.Sprintf("running: %v", c.workers.RunningWorkers()))
	}

	return status
}

// HealthCheck adapts Health to the HTTP health endpoint.
func (c *Container) HealthCheck(ctx context.Context) (map[string]string, error) {
	status := c.Health(ctx)
	out := make(map[string]string, len(status.Components))
	for name, comp := range status.Components {
		switch {
		case !comp.Healthy:
			out[name] = "unhealthy: " + comp.Message
		case comp.Message != "":
			out[name] = "ok (" + comp.Message + ")"
		default:
			out[name] = "ok"
		}
	}
	if !status.Overall {
		return out, fmt.Errorf("one or more components are unhealthy")
	}
	return out, nil
}

// HTTPServer builds the HTTP server over the container's services.
func (c *Container) HTTPServer() *httpapi.Server {
	cfg := c.config.Server
	opts := []httpapi.ServerOption{
		httpapi.WithHealthCheck(c.HealthCheck),
		httpapi.WithChangeStream(websocket.NewChangeStream(c.changes.Notifier, c.logger.Named("changes")).Handle),
	}
	if c.metrics != nil {
		opts = append(opts, httpapi.WithMetrics(c.metrics))
	}

	return httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, c.templates, c.engine, newLoggerAdapter(c.logger.Named("http")), opts...)
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.store
}

// Store returns the SQL store.
func (c *Container) Store() *sqlstore.Store {
	return c.store
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Templates returns the template service.
func (c *Container) Templates() service.TemplateService {
	return c.templates
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.engine
}

// ChangeNotifier returns the change feed.
func (c *Container) ChangeNotifier() port.ChangeNotifier {
	if c.changes == nil {
		return nil
	}
	return c.changes.Notifier
}

// Metrics returns the metrics registry, nil when disabled.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// loggerAdapter adapts zap.Logger to the key/value Logger interfaces of the
// application and interface layers.
type loggerAdapter struct {
	logger *zap.Logger
}

func newLoggerAdapter(logger *zap.Logger) *loggerAdapter {
	return &loggerAdapter{logger: logger}
}

func (a *loggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, utils.FieldsFromKeyValues(keysAndValues...)...)
}

func (a *loggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, utils.FieldsFromKeyValues(keysAndValues...)...)
}

func (a *loggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, utils.FieldsFromKeyValues(keysAndValues...)...)
}
