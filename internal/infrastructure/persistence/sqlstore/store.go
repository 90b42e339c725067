// Package sqlstore implements the repository ports on SQLite or PostgreSQL through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
)

type contextKey string

const txKey contextKey = "tx"

// DefaultQueryTimeout bounds every statement when no timeout is configured
const DefaultQueryTimeout = 5 * time.Second

// Observer receives the duration and outcome of every store operation
type Observer func(operation string, duration time.Duration, err error)

// Store owns the connection and implements port.TransactionManager
type Store struct {
	db           *sqlx.DB
	logger       *zap.Logger
	queryTimeout time.Duration
	observe      Observer
}

// Option configures the store
type Option func(*Store)

// WithQueryTimeout bounds each statement
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithObserver installs a latency hook, used for metrics
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observe = o
	}
}

// New creates a store over an open connection
func New(db *sqlx.DB, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		db:           db,
		logger:       logger,
		queryTimeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Templates returns the template repository
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{store: s}
}

// Instances returns the instance repository
func (s *Store) Instances() *InstanceRepository {
	return &InstanceRepository{store: s}
}

// Steps returns the approval step repository
func (s *Store) Steps() *StepRepository {
	return &StepRepository{store: s}
}

// WithTransaction runs fn inside a transaction carried by the context passed to fn.
// Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if extractTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", zap.Error(err))
		return apperr.Store("WithTransaction", err, "failed to begin transaction")
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			s.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", zap.Error(err))
		return apperr.Store("WithTransaction", err, "failed to commit transaction")
	}
	return nil
}

func extractTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// executor returns the transaction in ctx, or the connection pool
func (s *Store) executor(ctx context.Context) sqlx.ExtContext {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return s.db
}

// run executes one store operation under the query timeout and reports it to the observer
func (s *Store) run(ctx context.Context, operation string, fn func(ctx context.Context, exec sqlx.ExtContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx, s.executor(ctx))
	if s.observe != nil {
		s.observe(operation, time.Since(start), err)
	}
	return err
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) isPostgres() bool {
	return s.db.DriverName() == "postgres"
}

// storeErr logs and wraps an unexpected persistence failure
func (s *Store) storeErr(op string, err error, msg string, fields ...zap.Field) error {
	s.logger.Error(fmt.Sprintf("Failed to %s", msg), append(fields, zap.Error(err))...)
	return apperr.Store(op, err, "failed to %s", msg)
}

func expectOneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var (
	_ port.TransactionManager = (*Store)(nil)
	_ port.TemplateRepository = (*TemplateRepository)(nil)
	_ port.InstanceRepository = (*InstanceRepository)(nil)
	_ port.StepRepository     = (*StepRepository)(nil)
)
