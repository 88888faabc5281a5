package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustification/trustify/pkg/config"
)

func TestNewService(t *testing.T) {
	t.Run("Should use defaults when config is nil", func(t *testing.T) {
		service, err := NewService(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, service.IsInitialized())
		assert.Equal(t, "/metrics", service.Path())
		assert.NotNil(t, service.Meter())
	})
	t.Run("Should fail with an empty path", func(t *testing.T) {
		_, err := NewService(context.Background(), &config.MonitoringConfig{Enabled: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "monitoring path cannot be empty")
	})
	t.Run("Should reject paths under the API prefix", func(t *testing.T) {
		_, err := NewService(context.Background(), &config.MonitoringConfig{Enabled: true, Path: "/api/metrics"})
		assert.Error(t, err)
	})
	t.Run("Should initialize the Prometheus exporter when enabled", func(t *testing.T) {
		service, err := NewService(context.Background(), &config.MonitoringConfig{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = service.Shutdown(context.Background()) })
		assert.True(t, service.IsInitialized())
		assert.NotNil(t, service.provider)
		assert.NotNil(t, service.registry)
	})
}

func TestService_ExporterHandler(t *testing.T) {
	t.Run("Should report unavailable when disabled", func(t *testing.T) {
		service, err := NewService(context.Background(), &config.MonitoringConfig{Path: "/metrics"})
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
	t.Run("Should expose recorded instruments", func(t *testing.T) {
		service, err := NewService(context.Background(), &config.MonitoringConfig{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = service.Shutdown(context.Background()) })
		counter, err := service.Meter().Int64Counter("trustify_test_events_total")
		require.NoError(t, err)
		counter.Add(context.Background(), 3)

		rec := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "trustify_test_events_total")
	})
}

func TestService_Shutdown(t *testing.T) {
	t.Run("Should be a no-op when disabled", func(t *testing.T) {
		service, err := NewService(context.Background(), nil)
		require.NoError(t, err)
		assert.NoError(t, service.Shutdown(context.Background()))
	})
}
