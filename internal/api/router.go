// Package api provides the HTTP API for climaglyph.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/api/handler"
	"github.com/climaglyph/climaglyph/internal/api/middleware"
	"github.com/climaglyph/climaglyph/internal/climatology"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Climatology handler.ClimatologyService
	// DefaultMode applies to lookups that do not name a mode.
	DefaultMode climatology.Mode

	Offline   handler.OfflineInfo
	Providers handler.ProviderControl
	Ops       handler.OpsConfig

	// LookupRateLimit bounds climatology lookups per client IP.
	LookupRateLimit middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "climaglyph-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)

	opsCfg := cfg.Ops
	opsCfg.Version = cfg.Version
	opsCfg.BuildTime = cfg.BuildTime
	opsCfg.Offline = cfg.Offline
	opsCfg.Providers = cfg.Providers
	opsCfg.Logger = cfg.Logger
	opsHandler := handler.NewOpsHandler(opsCfg)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/providers", opsHandler.Providers)
			r.With(middleware.RateLimitByIP(middleware.OpsRateLimit)).
				Post("/providers/{provider}/reset", opsHandler.ResetProvider)
		})

		if cfg.Climatology != nil {
			climatologyHandler := handler.NewClimatologyHandler(cfg.Climatology, cfg.DefaultMode, cfg.Logger)
			r.Route("/climatology", func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(cfg.LookupRateLimit))
				r.Get("/", climatologyHandler.Point)
				r.Get("/grid", climatologyHandler.Grid)
				r.Get("/riding-hours", climatologyHandler.RidingHours)
				r.Get("/window", climatologyHandler.Window)
			})
		}
	})

	return r
}
