package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
)

func newRegistered(registry *resilience.Registry, name string) *resilience.Client {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = registry
	return resilience.NewClient(cfg)
}

func TestRegistry_RegistersOnConstruction(t *testing.T) {
	registry := resilience.NewRegistry()
	client := newRegistered(registry, "epdk")

	assert.Equal(t, 1, registry.Len())

	health, ok := registry.Health("epdk")
	require.True(t, ok)
	assert.Equal(t, client.Name(), health.Name)
	assert.False(t, health.HasCircuitBreaker)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.True(t, health.IsHealthy())
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
	assert.Empty(t, health.LastError)
}

func TestRegistry_ReplacesSameName(t *testing.T) {
	registry := resilience.NewRegistry()
	newRegistered(registry, "epdk")
	registry.RecordFailure("epdk", assert.AnError)

	newRegistered(registry, "epdk")

	assert.Equal(t, 1, registry.Len())
	health, ok := registry.Health("epdk")
	require.True(t, ok)
	assert.Empty(t, health.LastError)
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()
	newRegistered(registry, "shortlink")

	registry.RecordSuccess("shortlink")
	registry.RecordFailure("shortlink", assert.AnError)

	health, ok := registry.Health("shortlink")
	require.True(t, ok)
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastSuccessAt, time.Second)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
	assert.Equal(t, uint32(1), health.ConsecutiveFailures)
	assert.True(t, health.IsDegraded())

	registry.RecordSuccess("shortlink")
	health, _ = registry.Health("shortlink")
	assert.Zero(t, health.ConsecutiveFailures)
	assert.True(t, health.IsHealthy())
}

func TestRegistry_UnknownNames(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.RecordSuccess("nonexistent")
	registry.RecordFailure("nonexistent", assert.AnError)

	_, ok := registry.Health("nonexistent")
	assert.False(t, ok)
	assert.Zero(t, registry.Len())
	assert.False(t, registry.AllUnhealthy())
}

func TestRegistry_AllIsSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"shortlink", "epdk", "other"} {
		newRegistered(registry, name)
	}

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "epdk", all[0].Name)
	assert.Equal(t, "other", all[1].Name)
	assert.Equal(t, "shortlink", all[2].Name)
}

func TestRegistry_AllUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	fail := func(client *resilience.Client, times int) {
		for range times {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
			require.NoError(t, err)
			resp, err := client.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
		}
	}

	epdk := newRegistered(registry, "epdk")
	shortlink := newRegistered(registry, "shortlink")

	fail(epdk, resilience.UnhealthyAfter)
	fail(shortlink, resilience.UnhealthyAfter-1)
	assert.False(t, registry.AllUnhealthy())

	health, _ := registry.Health("shortlink")
	assert.True(t, health.IsDegraded())

	fail(shortlink, 1)
	assert.True(t, registry.AllUnhealthy())

	health, _ = registry.Health("epdk")
	assert.True(t, health.IsUnhealthy())
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
}

func TestRegistry_OpenBreakerIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cb := resilience.CircuitBreakerConfig{
		Name:        "epdk",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 },
	}
	client := resilience.NewClient(resilience.ClientConfig{Name: "epdk", CircuitBreaker: &cb, Registry: registry})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	health, ok := registry.Health("epdk")
	require.True(t, ok)
	assert.True(t, health.HasCircuitBreaker)
	assert.Equal(t, gobreaker.StateOpen, health.CircuitState)
	assert.Equal(t, uint32(1), health.ConsecutiveFailures)
	assert.True(t, health.IsUnhealthy())
	assert.True(t, registry.AllUnhealthy())
}

func TestRegistry_ClientRecordsOutcomes(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("epdk")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	do := func() {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	do()
	health, ok := registry.Health("epdk")
	require.True(t, ok)
	require.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	fail.Store(true)
	do()
	health, _ = registry.Health("epdk")
	require.NotNil(t, health.LastFailureAt)
	assert.Contains(t, health.LastError, "Bad Gateway")
}

func TestProviderHealth_States(t *testing.T) {
	tests := []struct {
		name       string
		health     resilience.ProviderHealth
		isHealthy  bool
		isDegraded bool
		isUnhealth bool
	}{
		{"no failures", resilience.ProviderHealth{}, true, false, false},
		{"one failure", resilience.ProviderHealth{ConsecutiveFailures: 1}, false, true, false},
		{"failure run", resilience.ProviderHealth{ConsecutiveFailures: resilience.UnhealthyAfter}, false, false, true},
		{
			"half-open breaker",
			resilience.ProviderHealth{HasCircuitBreaker: true, CircuitState: gobreaker.StateHalfOpen},
			false, true, false,
		},
		{
			"open breaker",
			resilience.ProviderHealth{HasCircuitBreaker: true, CircuitState: gobreaker.StateOpen},
			false, false, true,
		},
		{
			"state without breaker",
			resilience.ProviderHealth{CircuitState: gobreaker.StateOpen},
			true, false, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isHealthy, tt.health.IsHealthy())
			assert.Equal(t, tt.isDegraded, tt.health.IsDegraded())
			assert.Equal(t, tt.isUnhealth, tt.health.IsUnhealthy())
		})
	}
}

func TestRegistry_CallerCancellationNotRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := newRegistered(registry, "epdk")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	require.ErrorIs(t, err, context.Canceled)

	health, ok := registry.Health("epdk")
	require.True(t, ok)
	assert.Nil(t, health.LastFailureAt)
	assert.Zero(t, health.ConsecutiveFailures)
}
