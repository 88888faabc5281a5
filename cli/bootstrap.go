package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/pkg/logger"
)

var errConfirmationRequired = errors.New("bootstrap destroys all data in the target database; pass --yes to confirm")

// BootstrapCmd drops and recreates the database, then migrates it.
func BootstrapCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Drop, recreate and migrate the database (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errConfirmationRequired
			}
			return runBootstrap(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that all data may be destroyed")
	return cmd
}

func runBootstrap(ctx context.Context) error {
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	dbCfg, opts, err := system.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	sys, err := system.Bootstrap(ctx, dbCfg, opts...)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Database bootstrapped", "db_name", dbCfg.DBName)
	return sys.Close(ctx)
}
