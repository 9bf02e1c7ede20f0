package epdk_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/station"
	"github.com/sarjproxy/sarjproxy/internal/station/epdk"
	"github.com/sarjproxy/sarjproxy/internal/telemetry"
)

func newClient(metrics *telemetry.ProxyMetrics) *epdk.Client {
	return epdk.NewClient(epdk.ClientConfig{
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("test")),
		Logger:     zerolog.Nop(),
		Outcomes:   metrics,
	})
}

func query(baseURL string) station.Query {
	return station.Query{
		BaseURL:   baseURL + "/sarjet/api",
		StationID: "999",
		Timestamp: "2024-05-10 12:02:00",
	}
}

func TestClient_GetStation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sarjet/api/stations/id/999/2024-05-10%2012%3A02%3A00", r.RequestURI)
		assert.Equal(t, "Dart/3.1 (dart:io)", r.Header.Get("User-Agent"))
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		assert.Equal(t, "sarjtr.epdk.gov.tr", r.Host)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sockets": []}`))
	}))
	defer server.Close()

	body, err := newClient(nil).GetStation(context.Background(), query(server.URL))
	require.NoError(t, err)

	assert.JSONEq(t, `{"sockets": []}`, string(body))
}

func TestClient_GetStation_Gzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte(`{"sockets": [{"id": 1}]}`))
		_ = gz.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	body, err := newClient(nil).GetStation(context.Background(), query(server.URL))
	require.NoError(t, err)

	assert.JSONEq(t, `{"sockets": [{"id": 1}]}`, string(body))
}

func TestClient_GetStation_CorruptGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("not gzip"))
	}))
	defer server.Close()

	_, err := newClient(nil).GetStation(context.Background(), query(server.URL))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestClient_GetStation_NonSuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"message": "nope"}`))
			}))
			defer server.Close()

			_, err := newClient(nil).GetStation(context.Background(), query(server.URL))

			var statusErr *station.UpstreamStatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, status, statusErr.StatusCode)
		})
	}
}

func TestClient_GetStation_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metrics := telemetry.NewProxyMetrics()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(metrics).GetStation(ctx, query(server.URL))

	require.Error(t, err)
	assert.True(t, resilience.IsTimeout(err))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `sarjproxy_upstream_requests_total{outcome="timeout",provider="epdk"} 1`)
}

func TestClient_GetStation_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := newClient(nil).GetStation(context.Background(), query(baseURL))

	require.Error(t, err)
	assert.True(t, resilience.IsUnreachable(err))
}

func TestClient_CustomHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "staging.example", r.Host)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := epdk.NewClient(epdk.ClientConfig{Host: "staging.example", Logger: zerolog.Nop()})

	_, err := client.GetStation(context.Background(), query(server.URL))
	require.NoError(t, err)
}

func TestClient_Name(t *testing.T) {
	assert.Equal(t, "epdk", epdk.NewClient(epdk.ClientConfig{}).Name())
}

func TestHeaders(t *testing.T) {
	h := epdk.Headers()

	assert.Equal(t, "Dart/3.1 (dart:io)", h.Get("User-Agent"))
	assert.Equal(t, "gzip", h.Get("Accept-Encoding"))
	assert.False(t, strings.Contains(h.Get("Accept-Encoding"), "br"))
}
