package config

import (
	"time"
)

// Config is the complete trustify configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"   validate:"required"`
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

// DatabaseConfig contains database connection configuration.
type DatabaseConfig struct {
	Host            string          `koanf:"host"               validate:"required"                                                  env:"DB_HOST"`
	Port            string          `koanf:"port"               validate:"required"                                                  env:"DB_PORT"`
	User            string          `koanf:"user"               validate:"required"                                                  env:"DB_USER"`
	Password        SensitiveString `koanf:"password"                                                                                env:"DB_PASSWORD"           sensitive:"true"`
	Name            string          `koanf:"name"               validate:"required"                                                  env:"DB_NAME"`
	AdminDatabase   string          `koanf:"admin_database"     validate:"required"                                                  env:"DB_ADMIN_DATABASE"`
	SSLMode         string          `koanf:"ssl_mode"           validate:"oneof=disable allow prefer require verify-ca verify-full" env:"DB_SSL_MODE"`
	MaxConns        int             `koanf:"max_conns"          validate:"min=1"                                                     env:"DB_MAX_CONNS"`
	MinConns        int             `koanf:"min_conns"          validate:"min=0"                                                     env:"DB_MIN_CONNS"`
	ConnMaxLifetime time.Duration   `koanf:"conn_max_lifetime"                                                                       env:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration   `koanf:"conn_max_idle_time"                                                                      env:"DB_CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration   `koanf:"connect_timeout"                                                                         env:"DB_CONNECT_TIMEOUT"`
	IsolationLevel  string          `koanf:"isolation_level"    validate:"oneof=read_committed repeatable_read serializable"         env:"DB_ISOLATION_LEVEL"`
	MigrateMode     string          `koanf:"migrate_mode"       validate:"oneof=up refresh none"                                     env:"DB_MIGRATE_MODE"`
	RollbackTimeout time.Duration   `koanf:"rollback_timeout"   validate:"min=0"                                                     env:"DB_ROLLBACK_TIMEOUT"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host    string        `koanf:"host"    validate:"required"        env:"SERVER_HOST"`
	Port    int           `koanf:"port"    validate:"min=1,max=65535" env:"SERVER_PORT"`
	Timeout time.Duration `koanf:"timeout"                            env:"SERVER_TIMEOUT"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development test staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error"               env:"RUNTIME_LOG_LEVEL"`
	LogJSON     bool   `koanf:"log_json"                                                         env:"RUNTIME_LOG_JSON"`
}

// MonitoringConfig toggles the Prometheus exporter.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"    validate:"omitempty,startswith=/"`
}

// Default returns the built-in defaults applied before any other source.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Name:            "trustify",
			AdminDatabase:   "postgres",
			SSLMode:         "disable",
			MaxConns:        20,
			MinConns:        0,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			IsolationLevel:  "serializable",
			MigrateMode:     "up",
			RollbackTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}

// IsProduction reports whether the runtime environment is production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Runtime.Environment == "production"
}
