// Package main provides the entrypoint for the climaglyph API server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/api"
	"github.com/climaglyph/climaglyph/internal/api/handler"
	"github.com/climaglyph/climaglyph/internal/api/middleware"
	"github.com/climaglyph/climaglyph/internal/app"
	"github.com/climaglyph/climaglyph/internal/climatology"
	"github.com/climaglyph/climaglyph/internal/config"
	"github.com/climaglyph/climaglyph/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "climaglyph-api"

	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := app.NewLogger(cfg.Logging, serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Str("config", cfg.Path).
		Msg("starting climaglyph API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Server.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
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

	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	stack, err := app.Build(ctx, cfg, log, tp.Meter)
	if err != nil {
		log.Error().Err(err).Msg("failed to build climatology stack")
		os.Exit(1)
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close climatology stack")
		}
	}()

	if meta, ok := stack.OfflineMeta(); ok {
		log.Info().
			Str("path", meta.Path).
			Int("year_start", meta.YearStart).
			Int("year_end", meta.YearEnd).
			Msg("offline climatology attached")
	}

	defaultMode := climatology.ModeAuto
	if cfg.Offline.Strict {
		defaultMode = climatology.ModeOfflineStrict
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Climatology: stack.Service,
		DefaultMode: defaultMode,
		Offline:     stack,
		Providers:   stack.Coordinator,
		Ops: handler.OpsConfig{
			Registry:       stack.Registry,
			RequireOffline: cfg.Offline.Strict,
		},
		LookupRateLimit: middleware.PerMinute(cfg.Server.RateLimit),
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("default_mode", string(defaultMode)).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
