// Package app assembles the climatology stack shared by the API server and
// the warming worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/climaglyph/climaglyph/internal/climatology"
	"github.com/climaglyph/climaglyph/internal/config"
	"github.com/climaglyph/climaglyph/internal/offline"
	"github.com/climaglyph/climaglyph/internal/provider/resilience"
	"github.com/climaglyph/climaglyph/internal/ratestate"
	"github.com/climaglyph/climaglyph/internal/weather/cache"
	"github.com/climaglyph/climaglyph/internal/weather/coordinator"
	"github.com/climaglyph/climaglyph/internal/weather/meteostat"
	"github.com/climaglyph/climaglyph/internal/weather/openmeteo"
)

// Stack is a running climatology stack.
type Stack struct {
	Service     *climatology.Service
	Coordinator *coordinator.Coordinator
	Registry    *resilience.Registry

	// Offline is nil when no usable store was found.
	Offline *offline.Store

	// Meteostat is nil when no API key is configured.
	Meteostat *meteostat.Client
}

// Build wires caches, rate state, clients, the coordinator, the providers,
// the offline store and the service, and starts the coordinator. Callers
// must Close the stack.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, meter metric.Meter) (*Stack, error) {
	disk, err := cache.NewDisk(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening disk cache: %w", err)
	}

	store, err := openOffline(ctx, cfg.Offline, logger)
	if err != nil {
		return nil, err
	}

	// Only the primary's breaker deadline survives restarts. The secondary
	// keeps its own so a rate-limited primary never disables the fallback.
	var primaryDeadline ratestate.DeadlineStore = ratestate.NewMemoryStore()
	if path := cfg.DeadlinePath(); path != "" {
		primaryDeadline = ratestate.NewFileStore(path)
	}

	type providerSettings struct {
		timeout  time.Duration
		deadline ratestate.DeadlineStore
	}

	registry := resilience.NewRegistry()
	limiters := make(map[string]*ratestate.Limiter, 2)
	clients := make(map[string]*resilience.Client, 2)
	for name, p := range map[string]providerSettings{
		openmeteo.ProviderName: {timeout: cfg.OpenMeteo.Timeout, deadline: primaryDeadline},
		meteostat.ProviderName: {timeout: cfg.Meteostat.Timeout, deadline: ratestate.NewMemoryStore()},
	} {
		limiters[name] = ratestate.New(ratestate.Config{
			Name:         name,
			BaseInterval: cfg.Pacing.BaseInterval,
			MaxInterval:  cfg.Pacing.MaxInterval,
			Store:        p.deadline,
			Logger:       logger,
		})
		cb := resilience.DefaultCircuitBreakerConfig(name)
		clients[name] = resilience.NewClient(resilience.ClientConfig{
			Name:           name,
			Timeout:        p.timeout,
			RetryDelays:    cfg.Pacing.RetryDelays,
			CircuitBreaker: &cb,
			Registry:       registry,
			Logger:         logger,
		})
	}

	coord := coordinator.New(coordinator.Config{
		Logger:      logger,
		Memory:      cache.NewMemory(),
		Disk:        disk,
		Limiters:    limiters,
		Clients:     clients,
		RetryDelays: cfg.Pacing.RetryDelays,
		Registry:    registry,
		Cooldown:    cfg.Pacing.Cooldown,
		Meter:       meter,
	})

	primary := openmeteo.NewClient(openmeteo.ClientConfig{
		BaseURL:  cfg.OpenMeteo.BaseURL,
		Resolver: coord,
		FanOut:   cfg.Pacing.FanOut,
		Logger:   logger,
	})

	stack := &Stack{
		Coordinator: coord,
		Registry:    registry,
		Offline:     store,
	}

	svcCfg := climatology.Config{
		Primary:       primary,
		YearsWindow:   cfg.Climatology.YearsWindow,
		MinUsableRows: cfg.Climatology.MinUsableRows,
		Logger:        logger,
	}
	// A nil *offline.Store must not reach the interface field.
	if store != nil {
		svcCfg.Offline = store
	}

	secondary := meteostat.NewClient(meteostat.ClientConfig{
		BaseURL:  cfg.Meteostat.BaseURL,
		APIKey:   cfg.Meteostat.APIKey,
		Host:     cfg.Meteostat.Host,
		Resolver: coord,
		FanOut:   cfg.Pacing.FanOut,
		Logger:   logger,
	})
	if secondary.Enabled() {
		svcCfg.Secondary = secondary
		stack.Meteostat = secondary
	} else {
		logger.Info().Msg("meteostat disabled, no API key configured")
	}

	stack.Service = climatology.NewService(svcCfg)
	coord.Start()

	return stack, nil
}

// openOffline opens the pinned store, or the best candidate in the search
// directory. A missing store is not an error.
func openOffline(ctx context.Context, cfg config.OfflineConfig, logger zerolog.Logger) (*offline.Store, error) {
	if cfg.DBPath != "" {
		store, err := offline.Open(ctx, cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening offline store: %w", err)
		}
		return store, nil
	}
	if cfg.SearchDir == "" {
		return nil, nil
	}

	store, err := offline.Discover(ctx, cfg.SearchDir, cfg.Pattern, logger)
	if errors.Is(err, offline.ErrNoStore) {
		logger.Warn().Str("dir", cfg.SearchDir).Msg("no offline store found, running online only")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OfflineMeta reports the selected offline store.
func (s *Stack) OfflineMeta() (offline.Meta, bool) {
	return s.Service.OfflineMeta()
}

// Close stops the coordinator and closes the offline store.
func (s *Stack) Close() error {
	s.Coordinator.Close()
	if s.Offline != nil {
		return s.Offline.Close()
	}
	return nil
}
