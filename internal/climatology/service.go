package climatology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/geotile"
	"github.com/climaglyph/climaglyph/internal/offline"
	"github.com/climaglyph/climaglyph/internal/weather"
)

// Climatology errors.
var (
	// ErrOfflineDataMissing is returned in strict offline mode when the
	// offline store has nothing for the request.
	ErrOfflineDataMissing = errors.New("offline climatology data missing")

	// ErrInvalidQuery covers out-of-range coordinates, dates and year windows.
	ErrInvalidQuery = errors.New("invalid climatology query")

	// ErrInvalidBBox is returned for grid queries with an empty box.
	ErrInvalidBBox = fmt.Errorf("%w: invalid bounding box", ErrInvalidQuery)
)

// Mode selects which tiers a lookup may use.
type Mode string

const (
	// ModeAuto tries offline, then the providers, then synthetic stats.
	ModeAuto Mode = "auto"
	// ModeOfflineOnly never calls a provider; misses become synthetic.
	ModeOfflineOnly Mode = "offline"
	// ModeOfflineStrict never calls a provider and fails on a miss.
	ModeOfflineStrict Mode = "strict"
	// ModeOnline skips the offline store.
	ModeOnline Mode = "online"
)

// ParseMode parses a mode name. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "offline", "offline_only":
		return ModeOfflineOnly, nil
	case "strict", "offline_strict":
		return ModeOfflineStrict, nil
	case "online":
		return ModeOnline, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, s)
	}
}

func (m Mode) usesNetwork() bool {
	return m == ModeAuto || m == ModeOnline
}

// OfflineStore is the read side of an offline climatology file.
type OfflineStore interface {
	Meta() offline.Meta
	TileFor(lat, lon float64) (string, bool)
	StatsFor(ctx context.Context, tileID string, month, day int) (*offline.Record, error)
	GridStats(ctx context.Context, latMin, latMax, lonMin, lonMax float64, month, day int) ([]offline.TileStats, error)
	RidingHours(ctx context.Context, tileID string, month, day int) ([]offline.RidingHour, error)
}

// DailyProvider fetches one calendar day across years.
type DailyProvider interface {
	Provider() string
	FetchSameDay(ctx context.Context, lat, lon float64, month, day int, years []int) (*weather.Series, error)
}

// HourlyProvider fetches hourly samples for one calendar day across years.
type HourlyProvider interface {
	FetchHourlySameDay(ctx context.Context, lat, lon float64, month, day int, years []int) (*weather.Series, error)
}

// Config holds configuration for the service.
type Config struct {
	// Offline is the offline store; nil disables the offline tier.
	Offline OfflineStore

	// Primary is the archive provider (required for network lookups).
	Primary DailyProvider

	// Hourly feeds the daytime pass. Defaults to Primary when it implements
	// HourlyProvider.
	Hourly HourlyProvider

	// Secondary is used when Primary yields too few rows; nil disables it.
	Secondary DailyProvider

	// YearsWindow is the default number of years (default: 10).
	YearsWindow int

	// MinUsableRows is the row count below which the secondary provider is
	// tried (default: 1).
	MinUsableRows int

	Logger zerolog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service is the climatology lookup. It is safe for concurrent use.
type Service struct {
	offline       OfflineStore
	primary       DailyProvider
	hourly        HourlyProvider
	secondary     DailyProvider
	yearsWindow   int
	minUsableRows int
	logger        zerolog.Logger
	now           func() time.Time
}

// NewService creates a new climatology service.
func NewService(cfg Config) *Service {
	hourly := cfg.Hourly
	if hourly == nil {
		if h, ok := cfg.Primary.(HourlyProvider); ok {
			hourly = h
		}
	}
	window := cfg.YearsWindow
	if window <= 0 {
		window = 10
	}
	minRows := cfg.MinUsableRows
	if minRows <= 0 {
		minRows = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		offline:       cfg.Offline,
		primary:       cfg.Primary,
		hourly:        hourly,
		secondary:     cfg.Secondary,
		yearsWindow:   window,
		minUsableRows: minRows,
		logger:        cfg.Logger.With().Str("component", "climatology").Logger(),
		now:           now,
	}
}

// HasOffline reports whether an offline store is attached.
func (s *Service) HasOffline() bool {
	return s.offline != nil
}

// OfflineMeta returns the attached store's metadata.
func (s *Service) OfflineMeta() (offline.Meta, bool) {
	if s.offline == nil {
		return offline.Meta{}, false
	}
	return s.offline.Meta(), true
}

// Query is a point lookup. Zero years default to the last YearsWindow
// complete years.
type Query struct {
	Lat, Lon   float64
	Month, Day int
	StartYear  int
	EndYear    int
	Mode       Mode
}

// Years resolves the requested year window. The end year is capped at the
// last complete year.
func (s *Service) Years(q Query) ([]int, error) {
	lastComplete := s.now().UTC().Year() - 1

	end := q.EndYear
	if end == 0 || end > lastComplete {
		end = lastComplete
	}
	start := q.StartYear
	if start == 0 {
		start = end - s.yearsWindow + 1
	}
	if start > end {
		return nil, fmt.Errorf("%w: start year %d after end year %d", ErrInvalidQuery, start, end)
	}
	return weather.YearRange(start, end), nil
}

func validatePoint(lat, lon float64, month, day int) error {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	// 2000 is a leap year, so 29 Feb is accepted.
	if !weather.ValidDate(2000, month, day) {
		return fmt.Errorf("%w: no such day %02d-%02d", ErrInvalidQuery, month, day)
	}
	return nil
}

// StatsAt returns statistics for a point and calendar day. Apart from
// invalid queries it only fails in ModeOfflineStrict, with
// ErrOfflineDataMissing.
func (s *Service) StatsAt(ctx context.Context, q Query) (Stats, error) {
	if q.Mode == "" {
		q.Mode = ModeAuto
	}
	if err := validatePoint(q.Lat, q.Lon, q.Month, q.Day); err != nil {
		return Stats{}, err
	}
	years, err := s.Years(q)
	if err != nil {
		return Stats{}, err
	}

	log := s.logger.With().
		Float64("lat", q.Lat).
		Float64("lon", q.Lon).
		Int("month", q.Month).
		Int("day", q.Day).
		Str("mode", string(q.Mode)).
		Logger()

	var rec *offline.Record
	var meta offline.Meta
	if q.Mode != ModeOnline {
		rec, meta = s.offlineRecord(ctx, log, q)
	}

	switch q.Mode {
	case ModeOfflineStrict:
		if rec == nil {
			return Stats{}, fmt.Errorf("%w: %.4f,%.4f %02d-%02d", ErrOfflineDataMissing, q.Lat, q.Lon, q.Month, q.Day)
		}
		return FromRecord(rec, meta), nil
	case ModeOfflineOnly:
		if rec == nil {
			return s.synthetic(log, q.Month, q.Day), nil
		}
		return FromRecord(rec, meta), nil
	}

	// A single-year offline build only stands in when the network fails and
	// the caller asked for several years.
	if rec != nil && !(len(years) >= 2 && meta.YearSpan() == 1) {
		log.Debug().Str("tile_id", rec.TileID).Msg("offline hit")
		return FromRecord(rec, meta), nil
	}

	stats, err := s.online(ctx, log, q, years)
	if err == nil {
		return stats, nil
	}
	log.Warn().Err(err).Msg("online climatology unavailable")

	if rec != nil {
		log.Info().Str("tile_id", rec.TileID).Msg("falling back to single-year offline record")
		return FromRecord(rec, meta), nil
	}
	return s.synthetic(log, q.Month, q.Day), nil
}

func (s *Service) offlineRecord(ctx context.Context, log zerolog.Logger, q Query) (*offline.Record, offline.Meta) {
	if s.offline == nil {
		return nil, offline.Meta{}
	}
	tileID, ok := s.offline.TileFor(q.Lat, q.Lon)
	if !ok {
		return nil, offline.Meta{}
	}
	rec, err := s.offline.StatsFor(ctx, tileID, q.Month, q.Day)
	if err != nil {
		if !errors.Is(err, offline.ErrNotFound) {
			log.Warn().Err(err).Str("tile_id", tileID).Msg("offline lookup failed")
		}
		return nil, offline.Meta{}
	}
	return rec, s.offline.Meta()
}

func (s *Service) online(ctx context.Context, log zerolog.Logger, q Query, years []int) (Stats, error) {
	series, err := s.fetchDaily(ctx, log, q, years)
	if err != nil {
		return Stats{}, err
	}

	stats, err := Compute(series.Daily, q.Month, q.Day)
	if err != nil {
		return Stats{}, err
	}
	stats.Source = provenance(series)
	stats.Provider = series.Provider
	stats.YearsStart, stats.YearsEnd = yearBounds(series)

	if s.hourly != nil && series.Provider == s.primary.Provider() {
		hourly, err := s.hourly.FetchHourlySameDay(ctx, q.Lat, q.Lon, q.Month, q.Day, years)
		if err == nil {
			daytime, err := ComputeDaytime(hourly.Hourly, q.Month, q.Day)
			if err == nil {
				stats.ApplyDaytime(daytime)
			} else {
				log.Debug().Err(err).Msg("daytime pass skipped")
			}
		} else {
			log.Debug().Err(err).Msg("hourly samples unavailable")
		}
	}

	log.Info().
		Str("source", string(stats.Source)).
		Str("provider", stats.Provider).
		Int("match_days", stats.MatchDays).
		Ints("failed_years", series.Failed).
		Msg("climatology computed")
	return stats, nil
}

func (s *Service) fetchDaily(ctx context.Context, log zerolog.Logger, q Query, years []int) (*weather.Series, error) {
	if s.primary == nil {
		return nil, fmt.Errorf("%w: no provider configured", weather.ErrConfiguration)
	}

	primary, err := s.primary.FetchSameDay(ctx, q.Lat, q.Lon, q.Month, q.Day, years)
	if err == nil && len(primary.Daily) >= s.minUsableRows {
		return primary, nil
	}
	if s.secondary == nil {
		if err == nil {
			return primary, nil
		}
		return nil, err
	}

	log.Info().Err(err).Str("fallback", s.secondary.Provider()).Msg("primary provider yielded too few rows")

	secondary, secErr := s.secondary.FetchSameDay(ctx, q.Lat, q.Lon, q.Month, q.Day, years)
	switch {
	case secErr == nil && len(secondary.Daily) >= s.minUsableRows:
		return secondary, nil
	case err == nil:
		return primary, nil
	case secErr == nil:
		return secondary, nil
	default:
		return nil, errors.Join(err, secErr)
	}
}

func (s *Service) synthetic(log zerolog.Logger, month, day int) Stats {
	log.Info().Msg("using synthetic climatology")
	return Synthetic(month, day)
}

// GridQuery is a viewport lookup.
type GridQuery struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
	Month, Day     int
	Mode           Mode
}

// TileResult is one tile of a grid lookup. Stats is nil for tiles without
// data in strict mode.
type TileResult struct {
	Tile  geotile.Tile
	Stats *Stats
}

// GridAt returns offline statistics for every tile in the box. Grid lookups
// never call a provider; tiles without a record get synthetic stats unless
// the mode is strict.
func (s *Service) GridAt(ctx context.Context, q GridQuery) ([]TileResult, error) {
	if q.Mode == "" {
		q.Mode = ModeAuto
	}
	box := weather.BoundingBox{MinLat: q.LatMin, MaxLat: q.LatMax, MinLon: q.LonMin, MaxLon: q.LonMax}
	if !box.Valid() || weather.ValidateCoordinates(q.LatMin, q.LonMin) != nil || weather.ValidateCoordinates(q.LatMax, q.LonMax) != nil {
		return nil, ErrInvalidBBox
	}
	if !weather.ValidDate(2000, q.Month, q.Day) {
		return nil, fmt.Errorf("%w: no such day %02d-%02d", ErrInvalidQuery, q.Month, q.Day)
	}

	if s.offline == nil || q.Mode == ModeOnline {
		if q.Mode == ModeOfflineStrict {
			return nil, fmt.Errorf("%w: no offline store", ErrOfflineDataMissing)
		}
		return []TileResult{}, nil
	}

	tiles, err := s.offline.GridStats(ctx, q.LatMin, q.LatMax, q.LonMin, q.LonMax, q.Month, q.Day)
	if err != nil {
		return nil, fmt.Errorf("loading grid stats: %w", err)
	}

	meta := s.offline.Meta()
	out := make([]TileResult, 0, len(tiles))
	missing := 0
	for _, t := range tiles {
		res := TileResult{Tile: t.Tile}
		switch {
		case t.Record != nil:
			st := FromRecord(t.Record, meta)
			res.Stats = &st
		case q.Mode != ModeOfflineStrict:
			st := Synthetic(q.Month, q.Day)
			st.TileID = t.Tile.ID
			res.Stats = &st
			missing++
		default:
			missing++
		}
		out = append(out, res)
	}

	s.logger.Debug().
		Int("tiles", len(out)).
		Int("missing", missing).
		Msg("grid lookup")
	return out, nil
}

// RidingHoursAt returns the per-hour temperature distribution of the tile
// containing the point.
func (s *Service) RidingHoursAt(ctx context.Context, lat, lon float64, month, day int) (string, []offline.RidingHour, error) {
	if err := validatePoint(lat, lon, month, day); err != nil {
		return "", nil, err
	}
	if s.offline == nil {
		return "", nil, fmt.Errorf("%w: no offline store", ErrOfflineDataMissing)
	}
	tileID, ok := s.offline.TileFor(lat, lon)
	if !ok {
		return "", nil, fmt.Errorf("%w: outside offline grid", ErrOfflineDataMissing)
	}
	hours, err := s.offline.RidingHours(ctx, tileID, month, day)
	if errors.Is(err, offline.ErrNotFound) {
		return tileID, nil, fmt.Errorf("%w: no riding hours for %s", ErrOfflineDataMissing, tileID)
	}
	if err != nil {
		return tileID, nil, err
	}
	return tileID, hours, nil
}
