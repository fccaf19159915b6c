package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/climaglyph/climaglyph/internal/api/models"
	"github.com/climaglyph/climaglyph/internal/api/response"
	"github.com/climaglyph/climaglyph/internal/offline"
	"github.com/climaglyph/climaglyph/internal/provider/resilience"
	"github.com/climaglyph/climaglyph/internal/weather/coordinator"
)

// OfflineInfo reports the attached offline store.
type OfflineInfo interface {
	OfflineMeta() (offline.Meta, bool)
}

// ProviderControl exposes provider pacing state.
type ProviderControl interface {
	Status() coordinator.Status
	ResetBreaker(provider string) bool
}

// OpsConfig holds the dependencies of the ops endpoints. Nil dependencies
// are reported as absent.
type OpsConfig struct {
	Version   string
	BuildTime string
	Offline   OfflineInfo
	Providers ProviderControl
	Registry  *resilience.Registry
	// RequireOffline makes readiness fail without an offline store.
	RequireOffline bool
	Logger         zerolog.Logger
	Now            func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. A missing
// offline store degrades the service, and fails it when strict offline
// lookups are the default.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(h.cfg.Now()),
		Details: map[string]interface{}{},
	}

	var meta offline.Meta
	ok := false
	if h.cfg.Offline != nil {
		meta, ok = h.cfg.Offline.OfflineMeta()
	}
	if ok {
		health.Details["offline"] = models.OfflineStatus{
			Path:           meta.Path,
			Provider:       meta.Provider,
			TileKm:         meta.TileKm,
			YearStart:      meta.YearStart,
			YearEnd:        meta.YearEnd,
			PopulatedTiles: meta.PopulatedTiles,
		}
	} else {
		health.Status = models.HealthStatusDegraded
		health.Details["offline"] = "missing"
	}

	status := http.StatusOK
	if !ok && h.cfg.RequireOffline {
		health.Status = models.HealthStatusFail
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// Providers handles GET /v1/ops/providers - pacing and breaker state of every
// upstream provider.
func (h *OpsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	resp := models.ProvidersStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.cfg.Now()),
		Providers: []models.ProviderStatus{},
	}
	if h.cfg.Providers == nil {
		response.JSON(w, r, http.StatusOK, resp)
		return
	}

	st := h.cfg.Providers.Status()
	resp.Pending = st.Pending
	resp.Queued = st.Queued
	resp.MemoryEntries = st.MemoryEntries

	for _, p := range st.Providers {
		ps := models.ProviderStatus{
			Provider:     p.Provider,
			Status:       models.HealthStatusOK,
			IntervalMs:   p.Interval.Milliseconds(),
			LastDispatch: models.TimestampPtr(p.LastDispatch),
		}
		if p.Disabled {
			ps.Status = models.HealthStatusFail
			ps.DisabledUntil = models.TimestampPtr(p.DisabledUntil)
		}
		if h.cfg.Registry != nil {
			if health := h.cfg.Registry.Health(p.Provider); health != nil {
				ps.CircuitState = health.CircuitState.String()
				if health.LastSuccessAt != nil {
					ps.LastSuccessAt = models.TimestampPtr(*health.LastSuccessAt)
				}
				if health.LastFailureAt != nil {
					ps.LastFailureAt = models.TimestampPtr(*health.LastFailureAt)
				}
				ps.RateLimitHits = health.RateLimited
				if health.LastRateLimitAt != nil {
					ps.LastRateLimit = models.TimestampPtr(*health.LastRateLimitAt)
				}
				if health.LastError != "" {
					msg := health.LastError
					ps.Message = &msg
				}
				if health.CircuitState != gobreaker.StateClosed && ps.Status == models.HealthStatusOK {
					ps.Status = models.HealthStatusDegraded
				}
			}
		}
		resp.Status = worse(resp.Status, ps.Status)
		resp.Providers = append(resp.Providers, ps)
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// ResetProvider handles POST /v1/ops/providers/{provider}/reset - clears the
// rate-limit deadline and restores the base interval.
func (h *OpsHandler) ResetProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	if h.cfg.Providers == nil || !h.cfg.Providers.ResetBreaker(name) {
		response.NotFound(w, r, "unknown provider "+name)
		return
	}
	h.cfg.Logger.Info().Str("provider", name).Msg("provider breaker reset")
	response.NoContent(w, r)
}

func worse(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
