package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarjproxy/sarjproxy/internal/api/handler"
	"github.com/sarjproxy/sarjproxy/internal/api/models"
	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
)

// registerFailing registers a default client and sends it n calls that
// each end in a 503.
func registerFailing(t *testing.T, registry *resilience.Registry, name string, upstream string, n int) *resilience.Client {
	t.Helper()

	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	for range n {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, upstream, http.NoBody)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	return client
}

func failingUpstream(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestOpsHandler_HealthCheck(t *testing.T) {
	h := handler.NewOpsHandler("1.2.3", "2026-01-01T00:00:00Z", nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/ops/health", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Details["version"])
	assert.Equal(t, "2026-01-01T00:00:00Z", health.Details["buildTime"])
}

func TestOpsHandler_SystemStatus(t *testing.T) {
	upstream := failingUpstream(t)
	registry := resilience.NewRegistry()
	registerFailing(t, registry, "epdk", upstream, resilience.UnhealthyAfter)
	registerFailing(t, registry, "other", upstream, 1)
	registerFailing(t, registry, "shortlink", upstream, 0)

	h := handler.NewOpsHandler("test", "", registry)

	rec := httptest.NewRecorder()
	h.SystemStatus(rec, httptest.NewRequest(http.MethodGet, "/api/ops/status", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.Len(t, status.Providers, 3)

	epdk := status.Providers[0]
	assert.Equal(t, "epdk", epdk.Provider)
	assert.Equal(t, models.HealthStatusFail, epdk.Status)
	assert.Equal(t, "disabled", epdk.CircuitState)
	assert.Equal(t, uint32(resilience.UnhealthyAfter), epdk.ConsecutiveFailures)
	assert.Nil(t, epdk.LastSuccessAt)
	assert.NotNil(t, epdk.LastFailureAt)
	require.NotNil(t, epdk.Message)
	assert.Contains(t, *epdk.Message, "Service Unavailable")

	other := status.Providers[1]
	assert.Equal(t, models.HealthStatusDegraded, other.Status)
	assert.Equal(t, uint32(1), other.ConsecutiveFailures)

	shortlink := status.Providers[2]
	assert.Equal(t, "shortlink", shortlink.Provider)
	assert.Equal(t, models.HealthStatusOK, shortlink.Status)
	assert.Zero(t, shortlink.ConsecutiveFailures)
	assert.Nil(t, shortlink.Message)
}

func TestOpsHandler_SystemStatusWithBreaker(t *testing.T) {
	registry := resilience.NewRegistry()
	cb := resilience.CircuitBreakerConfig{
		Name:        "epdk",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}
	client := resilience.NewClient(resilience.ClientConfig{Name: "epdk", CircuitBreaker: &cb, Registry: registry})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, failingUpstream(t), http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	h := handler.NewOpsHandler("test", "", registry)

	rec := httptest.NewRecorder()
	h.SystemStatus(rec, httptest.NewRequest(http.MethodGet, "/api/ops/status", http.NoBody))

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "open", status.Providers[0].CircuitState)
	assert.Equal(t, models.HealthStatusFail, status.Providers[0].Status)
}

func TestOpsHandler_SystemStatusWithoutRegistry(t *testing.T) {
	h := handler.NewOpsHandler("test", "", nil)

	rec := httptest.NewRecorder()
	h.SystemStatus(rec, httptest.NewRequest(http.MethodGet, "/api/ops/status", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"providers":[]`)
}

func TestOpsHandler_ReadinessCheck(t *testing.T) {
	upstream := failingUpstream(t)
	registry := resilience.NewRegistry()
	registerFailing(t, registry, "epdk", upstream, resilience.UnhealthyAfter)
	shortlink := registerFailing(t, registry, "shortlink", upstream, resilience.UnhealthyAfter-1)

	h := handler.NewOpsHandler("test", "", registry)

	rec := httptest.NewRecorder()
	h.ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/api/ops/ready", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code, "one unhealthy upstream is not enough to fail readiness")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, upstream, http.NoBody)
	require.NoError(t, err)
	resp, err := shortlink.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	rec = httptest.NewRecorder()
	h.ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/api/ops/ready", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
}
