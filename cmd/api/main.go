// Package main provides the entrypoint for the station proxy server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // UPSTREAM_TIME_ZONE must resolve in minimal images

	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/api"
	"github.com/sarjproxy/sarjproxy/internal/api/middleware"
	"github.com/sarjproxy/sarjproxy/internal/config"
	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/shortlink"
	"github.com/sarjproxy/sarjproxy/internal/station"
	"github.com/sarjproxy/sarjproxy/internal/station/epdk"
	"github.com/sarjproxy/sarjproxy/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "sarjproxy"

	bootLog := zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	if err := config.LoadDotEnv(); err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load .env")
	}

	srvCfg := config.LoadServer()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		Level(srvCfg.LogLevel).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", srvCfg.Environment).
		Msg("starting station proxy")

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    srvCfg.Environment,
		OTLPEndpoint:   srvCfg.OTLPEndpoint,
		Enabled:        srvCfg.TelemetryEnabled,
		SampleRatio:    srvCfg.TraceSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if srvCfg.TelemetryEnabled {
		log.Info().
			Str("otlp_endpoint", srvCfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}
	proxyMetrics := telemetry.NewProxyMetrics()

	// Upstream settings are re-read per request; the TLS flag is only
	// honoured here, when the clients are built.
	source := config.NewEnvSource(log)
	startup := source.Load()
	log.Info().Object("upstream", startup).Msg("upstream configuration")
	if startup.DisableTLSVerify {
		log.Warn().
			Str("variable", config.EnvTLSRejectUnauthorized).
			Msg("TLS certificate verification disabled for all upstream calls")
	}

	registry := resilience.NewRegistry()

	epdkHTTP := resilience.DefaultClientConfig(epdk.ProviderName)
	epdkHTTP.InsecureSkipVerify = startup.DisableTLSVerify
	epdkHTTP.Registry = registry

	stationService := station.NewService(station.ServiceConfig{
		Provider: epdk.NewClient(epdk.ClientConfig{
			HTTPClient: resilience.NewClient(epdkHTTP),
			Logger:     log,
			Metrics:    providerMetrics,
			Outcomes:   proxyMetrics,
		}),
		Config:  source,
		Logger:  log,
		Metrics: proxyMetrics,
	})

	linkHTTP := resilience.DefaultClientConfig(shortlink.ProviderName)
	linkHTTP.InsecureSkipVerify = startup.DisableTLSVerify
	linkHTTP.Registry = registry

	resolver := shortlink.NewResolver(shortlink.ResolverConfig{
		HTTPClient: resilience.NewClient(linkHTTP),
		Config:     source,
		Logger:     log,
		Metrics:    providerMetrics,
		Outcomes:   proxyMetrics,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:              Version,
		BuildTime:            BuildTime,
		Logger:               log,
		ServiceName:          serviceName,
		Metrics:              httpMetrics,
		ProxyMetrics:         proxyMetrics,
		Config:               source,
		RequireTLS:           srvCfg.RequireTLS,
		EnforceStationOrigin: srvCfg.EnforceStationOrigin,
		Resolver:             resolver,
		StationService:       stationService,
		Registry:             registry,
	})

	server := &http.Server{
		Addr:         ":" + srvCfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
