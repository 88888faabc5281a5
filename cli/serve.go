package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trustification/trustify/engine/infra/monitoring"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/pkg/logger"
	"github.com/trustification/trustify/pkg/version"
	"github.com/trustification/trustify/server"
)

// ServeCmd starts the HTTP API.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect, migrate and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Info("Starting trustify", "version", version.Get().Version, "environment", cfg.Runtime.Environment)
	mon, err := monitoring.NewService(ctx, &cfg.Monitoring)
	if err != nil {
		return fmt.Errorf("failed to initialize monitoring: %w", err)
	}
	mon.SetAsGlobal()
	defer func() {
		if err := mon.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to shut down monitoring", "error", err)
		}
	}()
	dbCfg, opts, err := system.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	sys, err := system.New(ctx, dbCfg, append(opts, system.WithMeter(mon.Meter()))...)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to close database", "error", err)
		}
	}()
	return server.NewServer(&cfg.Server, sys, mon).Run(ctx)
}
