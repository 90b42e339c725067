package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/workflow"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

// Default reconciler settings
const (
	DefaultReconcileSchedule  = "@every 5m"
	DefaultReconcileBatchSize = 100
)

// InstanceReconciler is the part of the workflow engine the reconciler drives
type InstanceReconciler interface {
	ListInstances(ctx context.Context, filter workflow.InstanceFilter) ([]*entity.WorkflowInstance, error)
	Reconcile(ctx context.Context, instanceID string) (bool, error)
}

// ReconcilerConfig holds reconciler settings
type ReconcilerConfig struct {
	// Schedule is a standard cron spec or descriptor such as "@every 5m"
	Schedule  string
	BatchSize int
}

// ReconcileReport summarises one pass
type ReconcileReport struct {
	Scanned    int
	Reconciled int
	Failed     int
	Duration   time.Duration
}

// Reconciler periodically re-derives the status of pending instances from their steps,
// repairing instances whose aggregate drifted from a write made outside the engine
type Reconciler struct {
	engine InstanceReconciler
	config ReconcilerConfig
	logger *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
	last ReconcileReport
}

// NewReconciler creates a reconciler. Zero config values fall back to the defaults.
func NewReconciler(engine InstanceReconciler, config ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if config.Schedule == "" {
		config.Schedule = DefaultReconcileSchedule
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcileBatchSize
	}
	return &Reconciler{
		engine: engine,
		config: config,
		logger: logger.Named("reconciler"),
	}
}

// Name returns the worker name
func (r *Reconciler) Name() string {
	return "instance-reconciler"
}

// Start schedules reconciliation passes until Stop or ctx cancellation
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	if _, err := cron.ParseStandard(r.config.Schedule); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.config.Schedule, err)
	}

	logger := cronLogger{r.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.config.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Reconcile pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciler: %w", err)
	}

	c.Start()
	r.cron = c
	r.logger.Info("Reconciler scheduled",
		zap.String("schedule", r.config.Schedule),
		zap.Int("batch_size", r.config.BatchSize))
	return nil
}

// Stop unschedules the reconciler and waits for a running pass to finish
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// RunOnce reconciles every pending instance once
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()
	report := ReconcileReport{}

	ids, err := r.pendingIDs(ctx)
	if err != nil {
		return report, err
	}
	report.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		changed, err := r.engine.Reconcile(ctx, id)
		if err != nil {
			report.Failed++
			r.logger.Warn("Failed to reconcile instance", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		if changed {
			report.Reconciled++
		}
	}
	report.Duration = time.Since(start)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	r.logger.Info("Reconcile pass completed",
		zap.Int("scanned", report.Scanned),
		zap.Int("reconciled", report.Reconciled),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, ctx.Err()
}

// pendingIDs pages through pending instances before any of them is modified, so
// instances leaving the pending set do not shift later pages
func (r *Reconciler) pendingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += r.config.BatchSize {
		page, err := r.engine.ListInstances(ctx, workflow.InstanceFilter{
			Status: entity.InstanceStatusPending,
			Limit:  r.config.BatchSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pending instances: %w", err)
		}
		for _, inst := range page {
			ids = append(ids, inst.ID)
		}
		if len(page) < r.config.BatchSize {
			return ids, nil
		}
	}
}

// LastReport returns the most recent pass summary
func (r *Reconciler) LastReport() ReconcileReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
