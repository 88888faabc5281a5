package system

import (
	"context"
	"time"

	monitoringmetrics "github.com/trustification/trustify/engine/infra/monitoring/metrics"
	"github.com/trustification/trustify/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	outcomeCommitted      = "committed"
	outcomeRolledBack     = "rolled_back"
	outcomeBeginFailed    = "begin_failed"
	outcomeCommitFailed   = "commit_failed"
	outcomeRollbackFailed = "rollback_failed"
	outcomePanicked       = "panicked"
)

type txMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func newTxMetrics(ctx context.Context, meter metric.Meter) *txMetrics {
	m, err := buildTxMetrics(meter)
	if err != nil {
		logger.FromContext(ctx).Warn("Transaction metrics not initialized; continuing without metrics", "error", err)
		m, _ = buildTxMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func buildTxMetrics(meter metric.Meter) (*txMetrics, error) {
	total, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("transaction", "total"),
		metric.WithDescription("Finished transactions by outcome"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("transaction", "duration_seconds"),
		metric.WithDescription("Time from begin to commit or rollback"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.DurationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	return &txMetrics{total: total, duration: duration}, nil
}

func (m *txMetrics) record(ctx context.Context, outcome string, started time.Time) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	ctx = context.WithoutCancel(ctx)
	m.total.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
}
