package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trustification/trustify/pkg/config"
	"github.com/trustification/trustify/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "trustify"

// Service owns the meter provider and the Prometheus registry behind /metrics.
type Service struct {
	meter       metric.Meter
	provider    *sdkmetric.MeterProvider
	registry    *prom.Registry
	path        string
	initialized bool
}

func newDisabledService(path string) *Service {
	return &Service{
		meter: noop.NewMeterProvider().Meter(meterName),
		path:  path,
	}
}

// Validate checks the exporter path.
func Validate(cfg *config.MonitoringConfig) error {
	if cfg.Path == "" {
		return fmt.Errorf("monitoring path cannot be empty")
	}
	if cfg.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", cfg.Path)
	}
	if strings.HasPrefix(cfg.Path, "/api/") {
		return fmt.Errorf("monitoring path cannot be under /api/")
	}
	return nil
}

// NewService creates the monitoring service. A disabled config yields a
// no-op meter.
func NewService(ctx context.Context, cfg *config.MonitoringConfig) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = &config.Default().Monitoring
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, using no-op meter")
		return newDisabledService(cfg.Path), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	log.Info("Monitoring service initialized", "path", cfg.Path)
	return &Service{
		meter:       provider.Meter(meterName),
		provider:    provider,
		registry:    registry,
		path:        cfg.Path,
		initialized: true,
	}, nil
}

// Meter returns the meter for custom instrumentation.
func (s *Service) Meter() metric.Meter {
	return s.meter
}

// MeterProvider returns the provider backing Meter.
func (s *Service) MeterProvider() metric.MeterProvider {
	if s.provider == nil {
		return noop.NewMeterProvider()
	}
	return s.provider
}

// Path is the route the exporter handler should be mounted on.
func (s *Service) Path() string {
	return s.path
}

func (s *Service) IsInitialized() bool {
	return s.initialized
}

// ExporterHandler serves the Prometheus exposition format.
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// SetAsGlobal installs the provider as the global OpenTelemetry meter provider.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.provider != nil {
		return s.provider.Shutdown(ctx)
	}
	return nil
}
