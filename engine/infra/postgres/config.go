package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/trustification/trustify/pkg/config"
)

const (
	defaultPort          = "5432"
	defaultAdminDatabase = "postgres"
	defaultSSLMode       = "disable"
)

// Config holds PostgreSQL connection settings for the driver.
// Prefer providing a DSN via ConnString. When empty, a DSN is
// synthesized from the individual fields.
type Config struct {
	ConnString      string
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	AdminDBName     string
	SSLMode         string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	PingTimeout     time.Duration
}

// NewConfig builds a Config from credentials. host may carry a port
// ("db.local:5433").
func NewConfig(username, password, host, dbName string) *Config {
	port := defaultPort
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, port = h, p
	}
	return &Config{
		Host:     host,
		Port:     port,
		User:     username,
		Password: password,
		DBName:   dbName,
	}
}

// FromDatabaseConfig converts application configuration into driver settings.
func FromDatabaseConfig(cfg *config.DatabaseConfig) *Config {
	return &Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password.Value(),
		DBName:          cfg.Name,
		AdminDBName:     cfg.AdminDatabase,
		SSLMode:         cfg.SSLMode,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}
}

// DSN returns the connection string for the target database.
func (c *Config) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	return c.dsnFor(c.DBName)
}

// AdminDSN returns the connection string for the administrative database
// used to drop and create the target database.
func (c *Config) AdminDSN() string {
	admin := c.AdminDBName
	if admin == "" {
		admin = defaultAdminDatabase
	}
	if c.ConnString != "" {
		u, err := url.Parse(c.ConnString)
		if err == nil && u.Scheme != "" {
			u.Path = "/" + admin
			return u.String()
		}
	}
	return c.dsnFor(admin)
}

func (c *Config) dsnFor(database string) string {
	port := c.Port
	if port == "" {
		port = defaultPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, port),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}

// ParseIsolationLevel maps the configuration spelling onto pgx levels.
func ParseIsolationLevel(level string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "serializable":
		return pgx.Serializable, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "read_committed":
		return pgx.ReadCommitted, nil
	default:
		return "", fmt.Errorf("postgres: unsupported isolation level %q", level)
	}
}
