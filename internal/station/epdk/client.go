// Package epdk implements the station provider for the EPDK charging
// station API (sarjtr.epdk.gov.tr).
package epdk

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/station"
	"github.com/sarjproxy/sarjproxy/internal/telemetry"
)

const (
	// ProviderName identifies this station provider.
	ProviderName = "epdk"

	// UpstreamHost is sent as the Host header regardless of BaseURL.
	UpstreamHost = "sarjtr.epdk.gov.tr"

	// UserAgent mimics the official mobile client.
	UserAgent = "Dart/3.1 (dart:io)"

	maxBodyBytes = 10 << 20
)

// Headers returns the fixed header set sent to the station API. Host is
// applied separately through http.Request.Host.
func Headers() http.Header {
	return http.Header{
		"User-Agent":      []string{UserAgent},
		"Accept-Encoding": []string{"gzip"},
	}
}

// ClientConfig holds configuration for the EPDK client.
type ClientConfig struct {
	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Host overrides the Host header (default: UpstreamHost).
	Host string

	// Logger for client operations.
	Logger zerolog.Logger

	// Metrics records per-call OpenTelemetry instruments (optional).
	Metrics *telemetry.ProviderMetrics

	// Outcomes counts per-call Prometheus outcomes (optional).
	Outcomes *telemetry.ProxyMetrics
}

// Client is an EPDK station API client.
type Client struct {
	httpClient *resilience.Client
	host       string
	logger     zerolog.Logger
	metrics    *telemetry.ProviderMetrics
	outcomes   *telemetry.ProxyMetrics
	tracer     trace.Tracer
}

// NewClient creates a new EPDK client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	host := cfg.Host
	if host == "" {
		host = UpstreamHost
	}

	return &Client{
		httpClient: httpClient,
		host:       host,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		outcomes:   cfg.Outcomes,
		tracer:     telemetry.Tracer("github.com/sarjproxy/sarjproxy/internal/station/epdk"),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetStation fetches the station detail document for q.
func (c *Client) GetStation(ctx context.Context, q station.Query) (body json.RawMessage, err error) {
	ctx, span := c.tracer.Start(ctx, "epdk.GetStation", trace.WithAttributes(
		attribute.String("station.id", q.StationID),
		attribute.String("station.timestamp", q.Timestamp),
	))
	start := time.Now()
	defer func() {
		c.metrics.RecordRequest(ProviderName, "GetStation", time.Since(start), err)
		c.outcomes.ObserveUpstream(ProviderName, outcome(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	target := station.StationURL(q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = Headers()
	req.Host = c.host

	c.logger.Debug().
		Str("station_id", q.StationID).
		Str("url", target).
		Msg("requesting station detail")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes)) //nolint:errcheck // drain for connection reuse
		return nil, &station.UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	reader, err := decodedBody(resp)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return data, nil
}

// decodedBody unwraps gzip bodies. The transport leaves them compressed
// because Accept-Encoding is set explicitly.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		return io.NopCloser(resp.Body), nil
	}
	return gzip.NewReader(resp.Body)
}

func outcome(err error) string {
	var statusErr *station.UpstreamStatusError
	switch {
	case err == nil:
		return telemetry.OutcomeSuccess
	case errors.As(err, &statusErr):
		return telemetry.OutcomeBadStatus
	case resilience.IsTimeout(err):
		return telemetry.OutcomeTimeout
	case resilience.IsUnreachable(err):
		return telemetry.OutcomeUnreachable
	default:
		return telemetry.OutcomeError
	}
}
