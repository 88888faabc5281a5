package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/trustification/trustify/pkg/logger"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RecreateDatabase drops the configured database, terminating any open
// sessions, and creates it again empty. It connects to the administrative
// database to do so and closes that connection before returning.
func RecreateDatabase(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("postgres: config is required")
	}
	if cfg.DBName == "" {
		return fmt.Errorf("postgres: database name is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.AdminDSN())
	if err != nil {
		return fmt.Errorf("postgres: parse admin config: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("postgres: connect admin database: %w", err)
	}
	defer func() {
		if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("Failed to close admin connection", "error", err)
		}
	}()
	return recreateDatabase(ctx, conn, cfg.DBName)
}

func recreateDatabase(ctx context.Context, db execer, name string) error {
	log := logger.FromContext(ctx)
	log.Warn("Dropping database", "db_name", name)
	if _, err := db.Exec(ctx, dropDatabaseSQL(name)); err != nil {
		return fmt.Errorf("postgres: drop database %s: %w", name, err)
	}
	if _, err := db.Exec(ctx, createDatabaseSQL(name)); err != nil {
		return fmt.Errorf("postgres: create database %s: %w", name, err)
	}
	log.Info("Database recreated", "db_name", name)
	return nil
}

func dropDatabaseSQL(name string) string {
	return "DROP DATABASE IF EXISTS " + pgx.Identifier{name}.Sanitize() + " WITH (FORCE)"
}

func createDatabaseSQL(name string) string {
	return "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
}
