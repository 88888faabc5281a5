// Package pgtest starts disposable PostgreSQL servers for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgstore "github.com/trustification/trustify/engine/infra/postgres"
)

const (
	image    = "postgres:16-alpine"
	database = "trustify-test"
	username = "trustify"
	password = "trustify"
)

// Start runs a PostgreSQL container for the lifetime of t and returns the
// driver configuration pointing at it. Tests are skipped under -short.
func Start(ctx context.Context, t *testing.T) *pgstore.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	container, err := postgres.Run(ctx,
		image,
		postgres.WithDatabase(database),
		postgres.WithUsername(username),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %s", err)
		}
	})
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitReady(ctx, connStr))
	return &pgstore.Config{
		ConnString: connStr,
		DBName:     database,
		MaxConns:   8,
	}
}

// waitReady polls until the server accepts connections; the log line can
// appear slightly before the listener is reachable from the host.
func waitReady(ctx context.Context, connStr string) error {
	backoff := retry.WithMaxRetries(10, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer conn.Close(ctx)
		if err := conn.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
