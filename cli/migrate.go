package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trustification/trustify/engine/infra/postgres"
	"github.com/trustification/trustify/pkg/logger"
)

// MigrateCmd applies schema migrations without starting the server.
func MigrateCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := postgres.MigrateUp
			if refresh {
				mode = postgres.MigrateRefresh
			}
			return runMigrate(cmd.Context(), mode)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "roll back every migration and apply them again (drops all data)")
	return cmd
}

func runMigrate(ctx context.Context, mode postgres.MigrateMode) error {
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	if mode == postgres.MigrateRefresh && cfg.IsProduction() {
		return fmt.Errorf("refusing to refresh migrations in production")
	}
	store, err := postgres.NewStore(ctx, postgres.FromDatabaseConfig(&cfg.Database))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := postgres.Migrate(ctx, store.Pool(), mode); err != nil {
		return err
	}
	version, err := postgres.Version(ctx, store.Pool())
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Schema is up to date", "version", version)
	return nil
}
