// Package handler provides HTTP handlers for the climaglyph API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/climaglyph/climaglyph/internal/api/middleware"
	"github.com/climaglyph/climaglyph/internal/api/models"
	"github.com/climaglyph/climaglyph/internal/api/response"
	"github.com/climaglyph/climaglyph/internal/climatology"
	"github.com/climaglyph/climaglyph/internal/config"
	"github.com/climaglyph/climaglyph/internal/offline"
)

// ClimatologyService answers climatology lookups.
type ClimatologyService interface {
	StatsAt(ctx context.Context, q climatology.Query) (climatology.Stats, error)
	GridAt(ctx context.Context, q climatology.GridQuery) ([]climatology.TileResult, error)
	RidingHoursAt(ctx context.Context, lat, lon float64, month, day int) (string, []offline.RidingHour, error)
	WindowAt(ctx context.Context, q climatology.WindowQuery) ([]climatology.DayStats, error)
}

// ClimatologyHandler handles climatology endpoints.
type ClimatologyHandler struct {
	svc         ClimatologyService
	defaultMode climatology.Mode
	logger      zerolog.Logger
}

// NewClimatologyHandler creates a new ClimatologyHandler. defaultMode applies
// when a request does not name one.
func NewClimatologyHandler(svc ClimatologyService, defaultMode climatology.Mode, logger zerolog.Logger) *ClimatologyHandler {
	if defaultMode == "" {
		defaultMode = climatology.ModeAuto
	}
	return &ClimatologyHandler{svc: svc, defaultMode: defaultMode, logger: logger}
}

// Point handles GET /v1/climatology - statistics for one point and day.
func (h *ClimatologyHandler) Point(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	lat := p.float("lat")
	lon := p.float("lon")
	month, day, date := p.monthDay("date")
	start := p.optionalInt("start_year")
	end := p.optionalInt("end_year")
	mode := p.mode("mode", h.defaultMode)
	if p.invalid(w, r) {
		return
	}

	stats, err := h.svc.StatsAt(r.Context(), climatology.Query{
		Lat: lat, Lon: lon,
		Month: month, Day: day,
		StartYear: start, EndYear: end,
		Mode: mode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("climatology.mode", string(mode)),
		attribute.String("climatology.source", string(stats.Source)),
		attribute.Int("climatology.match_days", stats.MatchDays),
	)

	maxAge := response.ClimatologyMaxAge
	if stats.Source == climatology.SourceSynthetic {
		maxAge = 0
	}
	response.Cached(w, r, maxAge, models.ClimatologyResponse{
		Point: models.Point{Lat: lat, Lon: lon},
		Date:  date,
		Mode:  mode,
		Stats: stats,
	})
}

// Grid handles GET /v1/climatology/grid - offline statistics for every tile
// in a viewport.
func (h *ClimatologyHandler) Grid(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	latMin := p.float("lat_min")
	latMax := p.float("lat_max")
	lonMin := p.float("lon_min")
	lonMax := p.float("lon_max")
	month, day, date := p.monthDay("date")
	mode := p.mode("mode", h.defaultMode)
	if p.invalid(w, r) {
		return
	}

	tiles, err := h.svc.GridAt(r.Context(), climatology.GridQuery{
		LatMin: latMin, LatMax: latMax,
		LonMin: lonMin, LonMax: lonMax,
		Month: month, Day: day,
		Mode: mode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("climatology.tiles", len(tiles)))

	resp := models.GridResponse{
		BBox:  models.GeoBox{MinLat: latMin, MinLon: lonMin, MaxLat: latMax, MaxLon: lonMax},
		Date:  date,
		Mode:  mode,
		Tiles: make([]models.GridTile, 0, len(tiles)),
	}
	for _, t := range tiles {
		resp.Tiles = append(resp.Tiles, models.GridTile{
			TileID: t.Tile.ID,
			Row:    t.Tile.Row,
			Col:    t.Tile.Col,
			Center: models.Point{Lat: t.Tile.Lat, Lon: t.Tile.Lon},
			Stats:  t.Stats,
		})
	}
	response.Cached(w, r, response.OfflineMaxAge, resp)
}

// Window handles GET /v1/climatology/window - statistics for each day of a
// tour starting on date.
func (h *ClimatologyHandler) Window(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	lat := p.float("lat")
	lon := p.float("lon")
	month, day, date := p.monthDay("date")
	days := p.count("days", climatology.MaxWindowDays)
	start := p.optionalInt("start_year")
	end := p.optionalInt("end_year")
	mode := p.mode("mode", h.defaultMode)
	if p.invalid(w, r) {
		return
	}

	out, err := h.svc.WindowAt(r.Context(), climatology.WindowQuery{
		Lat: lat, Lon: lon,
		Month: month, Day: day,
		Days:      days,
		StartYear: start, EndYear: end,
		Mode: mode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := models.WindowResponse{
		Point: models.Point{Lat: lat, Lon: lon},
		Start: date,
		Mode:  mode,
		Days:  make([]models.WindowDay, 0, len(out)),
	}
	maxAge := response.ClimatologyMaxAge
	for _, d := range out {
		if d.Stats.Source == climatology.SourceSynthetic {
			maxAge = 0
		}
		resp.Days = append(resp.Days, models.WindowDay{
			Date:  fmt.Sprintf("%02d-%02d", d.Month, d.Day),
			Stats: d.Stats,
		})
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("climatology.mode", string(mode)),
		attribute.Int("climatology.days", len(out)),
	)
	response.Cached(w, r, maxAge, resp)
}

// RidingHours handles GET /v1/climatology/riding-hours - the hourly
// temperature distribution of the tile containing a point.
func (h *ClimatologyHandler) RidingHours(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	lat := p.float("lat")
	lon := p.float("lon")
	month, day, date := p.monthDay("date")
	if p.invalid(w, r) {
		return
	}

	tileID, hours, err := h.svc.RidingHoursAt(r.Context(), lat, lon, month, day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := models.RidingHoursResponse{
		Point:  models.Point{Lat: lat, Lon: lon},
		Date:   date,
		TileID: tileID,
		Hours:  make([]models.RidingHour, 0, len(hours)),
	}
	for _, hr := range hours {
		resp.Hours = append(resp.Hours, models.RidingHour{
			Hour:       hr.Hour,
			TempMedian: hr.TempMedian,
			TempP25:    hr.TempP25,
			TempP75:    hr.TempP75,
			Samples:    hr.Samples,
		})
	}
	response.Cached(w, r, response.OfflineMaxAge, resp)
}

func (h *ClimatologyHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, climatology.ErrInvalidQuery):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, climatology.ErrOfflineDataMissing):
		response.OfflineDataMissing(w, r, err.Error())
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("climatology lookup failed")
		response.InternalError(w, r, "climatology lookup failed")
	}
}

// params collects query parameter errors so that one response lists all of
// them.
type params struct {
	r      *http.Request
	errors []models.FieldError
}

func newParams(r *http.Request) *params {
	return &params{r: r}
}

func (p *params) fail(field, code, format string, args ...any) {
	p.errors = append(p.errors, models.FieldError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (p *params) float(name string) float64 {
	raw := p.r.URL.Query().Get(name)
	if raw == "" {
		p.fail(name, "REQUIRED", "required")
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(name, "INVALID", "must be a number")
		return 0
	}
	return v
}

func (p *params) optionalInt(name string) int {
	raw := p.r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		p.fail(name, "INVALID", "must be a positive year")
		return 0
	}
	return v
}

// count parses a required positive integer no larger than maxValue.
func (p *params) count(name string, maxValue int) int {
	raw := p.r.URL.Query().Get(name)
	if raw == "" {
		p.fail(name, "REQUIRED", "required")
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > maxValue {
		p.fail(name, "INVALID", "must be between 1 and %d", maxValue)
		return 0
	}
	return v
}

func (p *params) monthDay(name string) (month, day int, raw string) {
	raw = p.r.URL.Query().Get(name)
	if raw == "" {
		p.fail(name, "REQUIRED", "required")
		return 0, 0, raw
	}
	month, day, err := config.ParseMonthDay(raw)
	if err != nil {
		p.fail(name, "INVALID", "must be a calendar day as MM-DD")
		return 0, 0, raw
	}
	return month, day, fmt.Sprintf("%02d-%02d", month, day)
}

func (p *params) mode(name string, def climatology.Mode) climatology.Mode {
	raw := p.r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	m, err := climatology.ParseMode(raw)
	if err != nil {
		p.fail(name, "INVALID", "must be one of auto, offline, strict, online")
		return def
	}
	return m
}

// invalid writes a 400 listing every parameter error, if there were any.
func (p *params) invalid(w http.ResponseWriter, r *http.Request) bool {
	if len(p.errors) == 0 {
		return false
	}
	response.BadRequest(w, r, "invalid query parameters", p.errors)
	return true
}
