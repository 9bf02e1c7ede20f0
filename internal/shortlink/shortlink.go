// Package shortlink resolves Google Maps short links to the location they
// redirect to.
package shortlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/config"
	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/telemetry"
)

// ProviderName identifies the short-link upstream.
const ProviderName = "shortlink"

// DefaultAllowedHost is the only short-link host accepted by default.
const DefaultAllowedHost = "maps.app.goo.gl"

// Validation errors.
var (
	ErrMissingURL      = errors.New("missing url")
	ErrInvalidURL      = errors.New("invalid url format")
	ErrUnsupportedHost = errors.New("unsupported short link")
)

// BrowserHeaders returns the generic browser header set sent when
// following short links.
func BrowserHeaders() http.Header {
	return http.Header{
		"User-Agent":                []string{"Mozilla/5.0 (NetlifyFunctionProxy)"},
		"Accept":                    []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language":           []string{"en-US,en;q=0.5"},
		"Accept-Encoding":           []string{"gzip, deflate, br"},
		"Connection":                []string{"keep-alive"},
		"Upgrade-Insecure-Requests": []string{"1"},
		"Sec-Fetch-Dest":            []string{"document"},
		"Sec-Fetch-Mode":            []string{"navigate"},
		"Sec-Fetch-Site":            []string{"none"},
		"Sec-Fetch-User":            []string{"?1"},
	}
}

// Result describes a resolved short link.
type Result struct {
	RequestedURL string
	FinalURL     string
	StatusCode   int
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Config supplies the redirect timeout per call.
	Config config.Source

	// AllowedHost is the accepted short-link host (default: DefaultAllowedHost).
	AllowedHost string

	// Logger for resolver operations.
	Logger zerolog.Logger

	// Metrics records per-call OpenTelemetry instruments (optional).
	Metrics *telemetry.ProviderMetrics

	// Outcomes counts per-call Prometheus outcomes (optional).
	Outcomes *telemetry.ProxyMetrics
}

// Resolver follows short links to their final destination.
type Resolver struct {
	httpClient  *resilience.Client
	config      config.Source
	allowedHost string
	logger      zerolog.Logger
	metrics     *telemetry.ProviderMetrics
	outcomes    *telemetry.ProxyMetrics
}

// NewResolver creates a new Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	source := cfg.Config
	if source == nil {
		source = config.Static(config.Default())
	}

	host := cfg.AllowedHost
	if host == "" {
		host = DefaultAllowedHost
	}

	return &Resolver{
		httpClient:  httpClient,
		config:      source,
		allowedHost: strings.ToLower(host),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		outcomes:    cfg.Outcomes,
	}
}

// AllowedHost returns the accepted short-link host.
func (r *Resolver) AllowedHost() string {
	return r.allowedHost
}

// Validate checks that raw is an absolute https URL on the allowed host.
func (r *Resolver) Validate(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	if u.Scheme != "https" || !strings.EqualFold(u.Hostname(), r.allowedHost) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHost, raw)
	}

	return u, nil
}

// Resolve validates raw and follows its redirects, returning the URL of
// the last response in the chain. The call is bounded by the configured
// redirect timeout.
func (r *Resolver) Resolve(ctx context.Context, raw string) (result *Result, err error) {
	u, err := r.Validate(raw)
	if err != nil {
		return nil, err
	}

	timeout := r.config.Load().EffectiveRedirectTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		r.metrics.RecordRequest(ProviderName, "Resolve", time.Since(start), err)
		r.outcomes.ObserveUpstream(ProviderName, outcome(err))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = BrowserHeaders()

	r.logger.Debug().
		Str("url", raw).
		Dur("timeout", timeout).
		Msg("resolving short link")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("url", raw).
			Dur("timeout", timeout).
			Msg("failed to resolve short link")
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // drain for connection reuse

	result = &Result{
		RequestedURL: raw,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
	}

	r.logger.Info().
		Str("url", raw).
		Str("final_url", result.FinalURL).
		Int("upstream_status", result.StatusCode).
		Msg("resolved short link")

	return result, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeSuccess
	case resilience.IsTimeout(err):
		return telemetry.OutcomeTimeout
	case resilience.IsUnreachable(err):
		return telemetry.OutcomeUnreachable
	default:
		return telemetry.OutcomeError
	}
}
