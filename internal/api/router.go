// Package api provides the HTTP API of the station proxy.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/api/handler"
	"github.com/sarjproxy/sarjproxy/internal/api/middleware"
	"github.com/sarjproxy/sarjproxy/internal/api/response"
	"github.com/sarjproxy/sarjproxy/internal/config"
	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/telemetry"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string

	// Metrics records OpenTelemetry HTTP instruments (optional).
	Metrics *middleware.Metrics

	// ProxyMetrics backs the /metrics scrape endpoint (optional).
	ProxyMetrics *telemetry.ProxyMetrics

	// Config supplies the allowed CORS origin per request.
	Config config.Source

	// RequireTLS rejects plain HTTP requests.
	RequireTLS bool

	// EnforceStationOrigin turns on the server-side origin check for the
	// station route. The redirect route always enforces it.
	EnforceStationOrigin bool

	Resolver       handler.LinkResolver
	StationService handler.SocketLister
	Registry       *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sarjproxy"
	}

	source := cfg.Config
	if source == nil {
		source = config.Static(config.Default())
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.StripSlashes)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	r.MethodNotAllowed(response.MethodNotAllowed)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry)
	redirectHandler := handler.NewRedirectHandler(cfg.Resolver, cfg.Logger)
	stationHandler := handler.NewStationHandler(cfg.StationService, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min per IP

	cors := func(enforce bool) func(http.Handler) http.Handler {
		return middleware.CORS(middleware.CORSConfig{
			Config:        source,
			EnforceOrigin: enforce,
			Logger:        cfg.Logger,
		})
	}

	r.Route("/api", func(r chi.Router) {
		// Short-link resolution. Every method reaches the handler so that
		// the origin check runs before the method check.
		r.Route("/maps-redirect", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Use(cors(true))
			r.HandleFunc("/", redirectHandler.Resolve)
		})

		// Station sockets. Any other path below /api/station is a request
		// whose station id could not be determined.
		r.Route("/station", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Use(cors(cfg.EnforceStationOrigin))
			r.HandleFunc("/{"+handler.StationIDParam+"}/sockets", stationHandler.GetSockets)
			r.NotFound(stationHandler.UnknownPath)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})
	})

	r.Method(http.MethodGet, "/metrics", cfg.ProxyMetrics.Handler())

	return r
}
