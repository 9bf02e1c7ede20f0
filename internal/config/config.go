// Package config resolves runtime settings for the proxy endpoints.
//
// Upstream settings (base URL, timeouts, allowed CORS origin) are read
// through a Source so callers choose between a per-request environment
// read and a fixed snapshot. Process settings (listen port, telemetry)
// are read once at startup with LoadServer.
package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Environment variables consumed by the upstream configuration.
const (
	EnvBaseURL               = "BASE_URL"
	EnvFetchTimeout          = "FETCH_TIMEOUT"
	EnvRedirectTimeout       = "MAPS_REDIRECT_TIMEOUT"
	EnvAllowedOrigin         = "ALLOWED_CORS_ORIGIN"
	EnvTLSRejectUnauthorized = "NODE_TLS_REJECT_UNAUTHORIZED"
	EnvUpstreamTimeZone      = "UPSTREAM_TIME_ZONE"
)

// Defaults for unset or malformed settings.
const (
	DefaultBaseURL         = "https://sarjtr.epdk.gov.tr:443/sarjet/api"
	DefaultFetchTimeout    = 5000 * time.Millisecond
	DefaultRedirectTimeout = 10000 * time.Millisecond
	DefaultAllowedOrigin   = "http://localhost:63342"
	DefaultTimeZone        = "UTC"

	// MaxUpstreamTimeout caps every outbound call so an error response can
	// still be written before the hosting platform's ~10s execution ceiling.
	MaxUpstreamTimeout = 9500 * time.Millisecond

	// WildcardOrigin disables server-side origin enforcement.
	WildcardOrigin = "*"
)

// Config is a snapshot of the upstream-facing settings.
type Config struct {
	// BaseURL is the EPDK charging-station API base URL.
	BaseURL string

	// FetchTimeout bounds the station data request. Never negative.
	FetchTimeout time.Duration

	// RedirectTimeout bounds short-link resolution. Never negative.
	RedirectTimeout time.Duration

	// AllowedOrigin is the CORS origin, or "*" for any.
	AllowedOrigin string

	// DisableTLSVerify turns off certificate verification for outbound
	// connections. Only honoured when the HTTP clients are constructed.
	DisableTLSVerify bool

	// Location is the zone used for upstream timestamps that carry none.
	Location *time.Location
}

// EffectiveFetchTimeout returns the station fetch timeout capped at MaxUpstreamTimeout.
func (c Config) EffectiveFetchTimeout() time.Duration {
	return min(c.FetchTimeout, MaxUpstreamTimeout)
}

// EffectiveRedirectTimeout returns the redirect timeout capped at MaxUpstreamTimeout.
func (c Config) EffectiveRedirectTimeout() time.Duration {
	return min(c.RedirectTimeout, MaxUpstreamTimeout)
}

// RestrictsOrigin reports whether a specific (non-wildcard) origin is configured.
func (c Config) RestrictsOrigin() bool {
	return c.AllowedOrigin != "" && c.AllowedOrigin != WildcardOrigin
}

// TimeLocation returns Location, falling back to UTC.
func (c Config) TimeLocation() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("base_url", c.BaseURL).
		Dur("fetch_timeout", c.FetchTimeout).
		Dur("redirect_timeout", c.RedirectTimeout).
		Str("allowed_origin", c.AllowedOrigin).
		Bool("disable_tls_verify", c.DisableTLSVerify).
		Str("time_zone", c.TimeLocation().String())
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		FetchTimeout:    DefaultFetchTimeout,
		RedirectTimeout: DefaultRedirectTimeout,
		AllowedOrigin:   DefaultAllowedOrigin,
		Location:        time.UTC,
	}
}

// Source produces configuration snapshots.
type Source interface {
	Load() Config
}

type staticSource struct {
	cfg Config
}

// Static returns a Source that always yields cfg.
func Static(cfg Config) Source {
	return staticSource{cfg: cfg}
}

func (s staticSource) Load() Config {
	return s.cfg
}

// EnvSource reads the environment on every Load, so changes take effect
// on the next request without a restart.
type EnvSource struct {
	v      *viper.Viper
	logger zerolog.Logger
}

// NewEnvSource creates an environment-backed Source.
func NewEnvSource(logger zerolog.Logger) *EnvSource {
	v := viper.New()
	v.AutomaticEnv()

	return &EnvSource{
		v:      v,
		logger: logger,
	}
}

// Load builds a Config from the current environment. Malformed values
// fall back to their defaults and are logged.
func (s *EnvSource) Load() Config {
	return Config{
		BaseURL:          s.stringOr(EnvBaseURL, DefaultBaseURL),
		FetchTimeout:     s.millisOr(EnvFetchTimeout, DefaultFetchTimeout),
		RedirectTimeout:  s.millisOr(EnvRedirectTimeout, DefaultRedirectTimeout),
		AllowedOrigin:    s.stringOr(EnvAllowedOrigin, DefaultAllowedOrigin),
		DisableTLSVerify: s.v.GetString(EnvTLSRejectUnauthorized) == "0",
		Location:         s.location(),
	}
}

func (s *EnvSource) stringOr(key, def string) string {
	if v := strings.TrimSpace(s.v.GetString(key)); v != "" {
		return v
	}
	return def
}

func (s *EnvSource) millisOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(s.v.GetString(key))
	if raw == "" {
		return def
	}

	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		s.logger.Warn().
			Str("variable", key).
			Str("value", raw).
			Dur("default", def).
			Msg("invalid timeout, using default")
		return def
	}

	return time.Duration(ms) * time.Millisecond
}

func (s *EnvSource) location() *time.Location {
	name := s.stringOr(EnvUpstreamTimeZone, DefaultTimeZone)
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("variable", EnvUpstreamTimeZone).
			Str("value", name).
			Msg("unknown time zone, using UTC")
		return time.UTC
	}
	return loc
}

// ServerConfig holds process-level settings read once at startup.
type ServerConfig struct {
	Port             string
	Environment      string
	LogLevel         zerolog.Level
	TelemetryEnabled bool
	OTLPEndpoint     string
	TraceSampleRatio float64
	RequireTLS       bool

	// EnforceStationOrigin adds the server-side origin check to the
	// station route. The redirect route always has it.
	EnforceStationOrigin bool
}

// LoadServer reads process settings from the environment.
func LoadServer() ServerConfig {
	v := viper.New()
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_TRACE_SAMPLE_RATIO", 1.0)
	v.AutomaticEnv()

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return ServerConfig{
		Port:             v.GetString("APP_PORT"),
		Environment:      v.GetString("APP_ENV"),
		LogLevel:         level,
		TelemetryEnabled: v.GetString("OTEL_ENABLED") == "true",
		OTLPEndpoint:     v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: v.GetFloat64("OTEL_TRACE_SAMPLE_RATIO"),
		RequireTLS:       v.GetString("REQUIRE_TLS") == "true",

		EnforceStationOrigin: v.GetString("STATION_ENFORCE_ORIGIN") == "true",
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already present in the environment.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}
