package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	monitoringmetrics "github.com/trustification/trustify/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPoolLabel  = "default"
	postgresMeterName = "trustify.postgres"
)

var (
	postgresMetricsOnce sync.Once
	postgresMetricsErr  error
	postgresPools       sync.Map
)

// poolMetrics publishes pgxpool statistics through observable instruments.
type poolMetrics struct {
	label string
	pool  atomic.Pointer[pgxpool.Pool]
}

func newPoolMetrics(cfg *Config) *poolMetrics {
	return &poolMetrics{label: computePoolLabel(cfg)}
}

func (p *poolMetrics) attach(pool *pgxpool.Pool) error {
	if p == nil || pool == nil {
		return nil
	}
	if err := ensurePostgresMetrics(); err != nil {
		return err
	}
	p.pool.Store(pool)
	postgresPools.Store(p, p)
	return nil
}

func (p *poolMetrics) unregister() {
	if p == nil {
		return
	}
	postgresPools.Delete(p)
	p.pool.Store(nil)
}

func ensurePostgresMetrics() error {
	postgresMetricsOnce.Do(func() {
		postgresMetricsErr = registerPoolInstruments(otel.GetMeterProvider().Meter(postgresMeterName))
	})
	return postgresMetricsErr
}

func registerPoolInstruments(meter metric.Meter) error {
	open, err := meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("postgres", "connections_open"),
		metric.WithDescription("Number of open Postgres connections"),
	)
	if err != nil {
		return fmt.Errorf("postgres: init metrics: %w", err)
	}
	inUse, err := meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("postgres", "connections_in_use"),
		metric.WithDescription("Number of Postgres connections currently acquired"),
	)
	if err != nil {
		return fmt.Errorf("postgres: init metrics: %w", err)
	}
	idle, err := meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("postgres", "connections_idle"),
		metric.WithDescription("Number of idle Postgres connections"),
	)
	if err != nil {
		return fmt.Errorf("postgres: init metrics: %w", err)
	}
	maxConns, err := meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("postgres", "max_open_connections"),
		metric.WithDescription("Configured Postgres connection pool size"),
	)
	if err != nil {
		return fmt.Errorf("postgres: init metrics: %w", err)
	}
	waitSeconds, err := meter.Float64ObservableCounter(
		monitoringmetrics.MetricNameWithSubsystem("postgres", "acquire_wait_seconds_total"),
		metric.WithDescription("Cumulative time spent waiting for a pooled connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("postgres: init metrics: %w", err)
	}
	_, err = meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			postgresPools.Range(func(_, value any) bool {
				pm, ok := value.(*poolMetrics)
				if !ok || pm == nil {
					return true
				}
				pool := pm.pool.Load()
				if pool == nil {
					return true
				}
				stats := pool.Stat()
				attrs := metric.WithAttributes(attribute.String("pool", pm.label))
				observer.ObserveInt64(open, int64(stats.TotalConns()), attrs)
				observer.ObserveInt64(inUse, int64(stats.AcquiredConns()), attrs)
				observer.ObserveInt64(idle, int64(stats.IdleConns()), attrs)
				observer.ObserveInt64(maxConns, int64(stats.MaxConns()), attrs)
				observer.ObserveFloat64(waitSeconds, stats.EmptyAcquireWaitTime().Seconds(), attrs)
				return true
			})
			return nil
		},
		open, inUse, idle, maxConns, waitSeconds,
	)
	if err != nil {
		return fmt.Errorf("postgres: register metrics callback: %w", err)
	}
	return nil
}

func computePoolLabel(cfg *Config) string {
	if cfg == nil {
		return defaultPoolLabel
	}
	parts := make([]string, 0, 3)
	for _, c := range []string{cfg.Host, cfg.Port, cfg.DBName} {
		if s := sanitizeLabelComponent(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return defaultPoolLabel
	}
	return strings.Join(parts, "-")
}

func sanitizeLabelComponent(component string) string {
	lower := strings.ToLower(strings.TrimSpace(component))
	var builder strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == ':':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return strings.Trim(builder.String(), "_")
}
