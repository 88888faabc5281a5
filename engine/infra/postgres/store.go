package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trustification/trustify/pkg/logger"
)

const (
	defaultMaxConns          = 20
	defaultMinConns          = 0
	defaultHealthCheckPeriod = 30 * time.Second
	defaultConnectTimeout    = 5 * time.Second
	defaultPingTimeout       = 3 * time.Second
)

// Pool is the part of a connection pool the transaction executor relies on.
// *Store and pgxmock pools both satisfy it.
type Pool interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is the shared connection handle backed by pgxpool.Pool.
// It is safe for concurrent use; copies of the pointer share one pool.
type Store struct {
	pool    *pgxpool.Pool
	metrics *poolMetrics
}

// NewStore opens the pool described by cfg and verifies it with a ping.
// The pool is closed again when the ping fails.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	pingTimeout := defaultPingTimeout
	if cfg.PingTimeout > 0 {
		pingTimeout = cfg.PingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	metrics := newPoolMetrics(cfg)
	if err := metrics.attach(pool); err != nil {
		logger.FromContext(ctx).Warn("Postgres metrics not initialized; continuing without metrics", "error", err)
	}
	logger.FromContext(ctx).Info("Store initialized",
		"store_driver", "postgres",
		"host", cfg.Host,
		"port", cfg.Port,
		"db_name", cfg.DBName,
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
	)
	return &Store{pool: pool, metrics: metrics}, nil
}

// BeginTx opens a transaction on a pooled connection.
func (s *Store) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, opts)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.metrics.unregister()
	s.pool.Close()
}

// Pool exposes the pgx pool for driver-local usage such as migrations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func buildPoolConfig(cfg *Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns, poolCfg.MinConns = connectionBounds(cfg)
	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	return poolCfg, nil
}

// connectionBounds clamps configured sizes into int32 and keeps min <= max.
func connectionBounds(cfg *Config) (int32, int32) {
	maxConns := int32(defaultMaxConns)
	if cfg.MaxConns > 0 {
		maxConns = int32(min(cfg.MaxConns, math.MaxInt32))
	}
	minConns := int32(defaultMinConns)
	if cfg.MinConns > 0 {
		minConns = int32(min(cfg.MinConns, int(maxConns)))
	}
	return maxConns, minConns
}
