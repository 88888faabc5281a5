// Package cli implements the trustify command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trustification/trustify/pkg/config"
	"github.com/trustification/trustify/pkg/logger"
	"github.com/trustification/trustify/pkg/version"
)

const defaultConfigFile = "trustify.yaml"

type configCtxKey struct{}

// flagBindings maps command line flags onto dotted configuration keys.
// Only flags the user set explicitly override other sources.
var flagBindings = map[string]string{
	"db-host":         "database.host",
	"db-port":         "database.port",
	"db-user":         "database.user",
	"db-password":     "database.password",
	"db-name":         "database.name",
	"isolation-level": "database.isolation_level",
	"environment":     "runtime.environment",
	"log-level":       "runtime.log_level",
	"log-json":        "runtime.log_json",
}

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trustify",
		Short:         "Trustify software supply chain knowledge base",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "path to the YAML configuration file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit logs as JSON")
	flags.Bool("log-source", false, "include source locations in logs")
	flags.String("db-host", "", "database host")
	flags.String("db-port", "", "database port")
	flags.String("db-user", "", "database user")
	flags.String("db-password", "", "database password")
	flags.String("db-name", "", "database name")
	flags.String("isolation-level", "", "transaction isolation (read_committed, repeatable_read, serializable)")
	flags.String("environment", "", "runtime environment (development, test, staging, production)")

	root.AddCommand(
		ServeCmd(),
		MigrateCmd(),
		BootstrapCmd(),
	)
	return root
}

// setupGlobalConfig loads configuration, initializes logging and stores
// both in the command context.
func setupGlobalConfig(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	overrides, err := changedFlags(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, config.NewYAMLProvider(path), config.NewCLIProvider(overrides))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logSource, err := cmd.Flags().GetBool("log-source")
	if err != nil {
		return fmt.Errorf("failed to get log-source flag: %w", err)
	}
	level, err := logger.ParseLevel(cfg.Runtime.LogLevel)
	if err != nil {
		return err
	}
	log := logger.Setup(logger.Options{Level: level, JSON: cfg.Runtime.LogJSON, AddSource: logSource})
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = context.WithValue(ctx, configCtxKey{}, cfg)
	cmd.SetContext(ctx)
	return nil
}

func changedFlags(cmd *cobra.Command) (map[string]any, error) {
	overrides := make(map[string]any)
	for flag, key := range flagBindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if f.Value.Type() == "bool" {
			v, err := cmd.Flags().GetBool(flag)
			if err != nil {
				return nil, fmt.Errorf("failed to get %s flag: %w", flag, err)
			}
			overrides[key] = v
			continue
		}
		overrides[key] = f.Value.String()
	}
	return overrides, nil
}

// configFrom returns the configuration loaded by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configCtxKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
