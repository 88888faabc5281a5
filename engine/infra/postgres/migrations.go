package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/trustification/trustify/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its dialect, filesystem and logger in package globals.
var gooseMu sync.Mutex

const (
	migrationsDir        = "migrations"
	migrationLockTimeout = 45 * time.Second
)

// MigrateMode selects how the schema is brought up to date.
type MigrateMode string

const (
	// MigrateUp applies pending migrations only.
	MigrateUp MigrateMode = "up"
	// MigrateRefresh rolls every applied migration back, then applies all of
	// them again. Existing data is lost.
	MigrateRefresh MigrateMode = "refresh"
	// MigrateNone leaves the schema untouched.
	MigrateNone MigrateMode = "none"
)

// ParseMigrateMode validates a configured migration mode.
func ParseMigrateMode(mode string) (MigrateMode, error) {
	switch m := MigrateMode(strings.ToLower(strings.TrimSpace(mode))); m {
	case "":
		return MigrateUp, nil
	case MigrateUp, MigrateRefresh, MigrateNone:
		return m, nil
	default:
		return "", fmt.Errorf("postgres: unsupported migrate mode %q", mode)
	}
}

// Migrate brings the schema of the pool's database up to date. Concurrent
// runners are serialized by a Postgres advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool, mode MigrateMode) error {
	if mode == MigrateNone {
		return nil
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire dedicated connection: %w", err)
	}
	defer conn.Close()
	log := logger.FromContext(ctx)
	lockCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(
		lockCtx,
		"select pg_advisory_lock(hashtext($1), hashtext($2))",
		"trustify",
		"migrations",
	); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(
			context.WithoutCancel(ctx),
			"select pg_advisory_unlock(hashtext($1), hashtext($2))",
			"trustify",
			"migrations",
		); err != nil {
			log.Warn("Failed to release migration advisory lock", "error", err)
		}
	}()
	return runMigrations(ctx, db, mode)
}

// Version reports the latest applied migration version.
func Version(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(ctx); err != nil {
		return 0, err
	}
	defer goose.SetBaseFS(nil)
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	return version, nil
}

func runMigrations(ctx context.Context, db *sql.DB, mode MigrateMode) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(ctx); err != nil {
		return err
	}
	defer goose.SetBaseFS(nil)
	log := logger.FromContext(ctx)
	if mode == MigrateRefresh {
		log.Warn("Refreshing database schema; all data will be dropped")
		if err := goose.ResetContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("migrate reset: %w", err)
		}
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	log.Info("Database migrations completed", "mode", string(mode))
	return nil
}

// configureGoose must be called with gooseMu held.
func configureGoose(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: logger.FromContext(ctx)})
	if err := goose.SetDialect("postgres"); err != nil {
		goose.SetBaseFS(nil)
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct {
	log logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}
