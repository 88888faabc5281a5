// Package system owns the shared database handle and runs caller logic
// inside PostgreSQL transactions.
package system

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/trustification/trustify/engine/infra/postgres"
	"github.com/trustification/trustify/pkg/config"
	"github.com/trustification/trustify/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName              = "trustify.system"
	defaultRollbackTimeout = 5 * time.Second
	productionEnvironment  = "production"
)

var (
	// ErrBootstrapForbidden guards production databases against Bootstrap.
	ErrBootstrapForbidden = errors.New("system: bootstrap is not allowed in production")
	// ErrSystemClosed is returned by Run and HealthCheck after Close.
	ErrSystemClosed       = errors.New("system: closed")
)

// System is the process-wide handle to the database. Share the pointer;
// it is safe for concurrent use.
type System struct {
	pool            postgres.Pool
	txOptions       pgx.TxOptions
	rollbackTimeout time.Duration
	metrics         *txMetrics
	closed          atomic.Bool
}

type options struct {
	isolation       pgx.TxIsoLevel
	migrate         postgres.MigrateMode
	rollbackTimeout time.Duration
	environment     string
	meter           metric.Meter
}

// Option customizes a System.
type Option func(*options)

// WithIsolationLevel sets the isolation level of every transaction.
// Serializable is the default.
func WithIsolationLevel(level pgx.TxIsoLevel) Option {
	return func(o *options) { o.isolation = level }
}

// WithMigrateMode selects how New prepares the schema.
func WithMigrateMode(mode postgres.MigrateMode) Option {
	return func(o *options) { o.migrate = mode }
}

// WithRollbackTimeout bounds rollbacks, which run detached from the caller's
// cancellation.
func WithRollbackTimeout(d time.Duration) Option {
	return func(o *options) { o.rollbackTimeout = d }
}

// WithEnvironment names the deployment environment. Bootstrap refuses to run
// in production.
func WithEnvironment(env string) Option {
	return func(o *options) { o.environment = env }
}

// WithMeter records transaction metrics on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

func applyOptions(opts []Option) *options {
	o := &options{
		isolation:       pgx.Serializable,
		migrate:         postgres.MigrateUp,
		rollbackTimeout: defaultRollbackTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.rollbackTimeout <= 0 {
		o.rollbackTimeout = defaultRollbackTimeout
	}
	return o
}

// OptionsFromConfig translates application configuration into driver
// settings and System options.
func OptionsFromConfig(cfg *config.Config) (*postgres.Config, []Option, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("system: config is required")
	}
	level, err := postgres.ParseIsolationLevel(cfg.Database.IsolationLevel)
	if err != nil {
		return nil, nil, err
	}
	mode, err := postgres.ParseMigrateMode(cfg.Database.MigrateMode)
	if err != nil {
		return nil, nil, err
	}
	return postgres.FromDatabaseConfig(&cfg.Database), []Option{
		WithIsolationLevel(level),
		WithMigrateMode(mode),
		WithRollbackTimeout(cfg.Database.RollbackTimeout),
		WithEnvironment(cfg.Runtime.Environment),
	}, nil
}

// New connects to the database, applies migrations and returns the System.
// On failure the pool is closed and no System is returned. Errors are
// KindDatabase.
func New(ctx context.Context, cfg *postgres.Config, opts ...Option) (*System, error) {
	o := applyOptions(opts)
	store, err := postgres.NewStore(ctx, cfg)
	if err != nil {
		return nil, FromDatabase[error](err)
	}
	if err := postgres.Migrate(ctx, store.Pool(), o.migrate); err != nil {
		store.Close()
		return nil, FromDatabase[error](err)
	}
	return newSystem(ctx, store, o), nil
}

// NewFromPool wraps an already connected pool without migrating it.
func NewFromPool(ctx context.Context, pool postgres.Pool, opts ...Option) *System {
	return newSystem(ctx, pool, applyOptions(opts))
}

func newSystem(ctx context.Context, pool postgres.Pool, o *options) *System {
	meter := o.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	return &System{
		pool:            pool,
		txOptions:       pgx.TxOptions{IsoLevel: o.isolation},
		rollbackTimeout: o.rollbackTimeout,
		metrics:         newTxMetrics(ctx, meter),
	}
}

// Bootstrap drops and recreates the configured database, then calls New.
// All existing data in that database is destroyed.
func Bootstrap(ctx context.Context, cfg *postgres.Config, opts ...Option) (*System, error) {
	o := applyOptions(opts)
	if strings.EqualFold(o.environment, productionEnvironment) {
		return nil, ErrBootstrapForbidden
	}
	if err := postgres.RecreateDatabase(ctx, cfg); err != nil {
		return nil, FromDatabase[error](err)
	}
	return New(ctx, cfg, opts...)
}

// HealthCheck pings the database.
func (s *System) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSystemClosed
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool. Calling it more than once is harmless.
func (s *System) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.pool.Close()
	logger.FromContext(ctx).Info("Database connection pool closed")
	return nil
}

// IsolationLevel reports the isolation level transactions are opened with.
func (s *System) IsolationLevel() pgx.TxIsoLevel {
	return s.txOptions.IsoLevel
}
