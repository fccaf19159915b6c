// Package main provides the entrypoint for the climaglyph cache warming worker.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/api/handler"
	"github.com/climaglyph/climaglyph/internal/api/middleware"
	"github.com/climaglyph/climaglyph/internal/api/response"
	"github.com/climaglyph/climaglyph/internal/app"
	"github.com/climaglyph/climaglyph/internal/config"
	"github.com/climaglyph/climaglyph/internal/telemetry"
	"github.com/climaglyph/climaglyph/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "climaglyph-worker"

	configPath := flag.String("config", "", "path to the TOML configuration file")
	once := flag.Bool("once", false, "run a single warming pass and exit")
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
	log.Info().Str("build_time", BuildTime).Msg("starting climaglyph worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	refreshCfg, err := worker.FromConfig(cfg.Warm)
	if err != nil {
		log.Error().Err(err).Msg("invalid warm configuration")
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

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: refreshCfg,
		Logger: log,
		Stats:  stack.Service,
	})

	log.Info().
		Int("targets", len(refreshCfg.Targets)).
		Int("points", refreshCfg.TotalPoints()).
		Dur("interval", cfg.Warm.Interval).
		Msg("warming configured")

	if *once {
		result := job.Run(ctx)
		if result.Failed > 0 {
			log.Error().Int("failed", result.Failed).Msg("warming pass had failures")
		}
		return
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      newOpsRouter(log, stack, job),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.RunEvery(ctx, cfg.Warm.Interval)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// newOpsRouter serves liveness, provider state and warming counters.
func newOpsRouter(log zerolog.Logger, stack *app.Stack, job *worker.RefreshJob) http.Handler {
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Offline:   stack,
		Providers: stack.Coordinator,
		Registry:  stack.Registry,
		Logger:    log,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.Get("/v1/ops/health", ops.HealthCheck)
	r.Get("/v1/ops/providers", ops.Providers)
	r.Get("/v1/ops/warm", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, job.MetricsSnapshot())
	})
	return r
}
