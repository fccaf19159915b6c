// Package offline reads precomputed per-tile climatology from a read-only
// SQLite file produced by the offline tile builder.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/climaglyph/climaglyph/internal/geotile"
	"github.com/climaglyph/climaglyph/internal/weather"
)

// Offline store errors.
var (
	// ErrRejected means the file is not a usable offline store. It wraps
	// weather.ErrConfiguration.
	ErrRejected = fmt.Errorf("%w: offline store rejected", weather.ErrConfiguration)

	// ErrNotFound means the store has no record for the tile and day.
	ErrNotFound = errors.New("offline record not found")

	// ErrOutsideGrid means the point is not covered by the store's grid.
	ErrOutsideGrid = errors.New("point outside offline grid")
)

// Meta describes an opened store.
type Meta struct {
	Path           string
	Provider       string
	TileKm         float64
	BBox           weather.BoundingBox
	YearStart      int
	YearEnd        int
	PopulatedTiles int
	ModTime        time.Time
}

// YearSpan returns the number of historical years the build covers, or 0
// when unknown.
func (m Meta) YearSpan() int {
	if m.YearStart <= 0 || m.YearEnd < m.YearStart {
		return 0
	}
	return m.YearEnd - m.YearStart + 1
}

// Record is one (tile, month, day) climatology row. Missing values are NaN.
type Record struct {
	TileID string
	Month  int
	Day    int

	TemperatureC    float64
	TempP25         float64
	TempP75         float64
	TempStd         float64
	PrecipitationMM float64
	RainProbability float64
	RainTypicalMM   float64
	WindSpeedMS     float64
	WindDirDeg      float64
	WindVarDeg      float64
	TempHistP25     float64
	TempHistP75     float64
	TempDayP25      float64
	TempDayP75      float64
	TempDayMedian   float64

	SamplesDaily    int
	SamplesRain     int
	SamplesWind     int
	SamplesDayMeans int
	SamplesDayHours int
}

// RidingHour is the hourly temperature distribution for one riding hour.
type RidingHour struct {
	Hour       int
	TempMedian float64
	TempP25    float64
	TempP75    float64
	Samples    int
}

// TileStats pairs a tile with its record, which is nil when the tile has
// no data for the requested day.
type TileStats struct {
	Tile   geotile.Tile
	Record *Record
}

// Store is a read-only offline climatology store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	meta   Meta
	grid   *geotile.Grid
	logger zerolog.Logger
}

// Open opens path read-only and validates its metadata. Files that were not
// built exclusively from open-meteo data are rejected with ErrRejected.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening offline store: %w", err)
	}
	db.SetMaxOpenConns(4)

	meta, err := loadMeta(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	meta.Path = path
	meta.ModTime = info.ModTime()

	grid, err := geotile.New(meta.BBox, meta.TileKm)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tile_id) FROM climatology`).Scan(&meta.PopulatedTiles); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: counting tiles: %v", ErrRejected, err)
	}

	s := &Store{
		db:     db,
		meta:   meta,
		grid:   grid,
		logger: logger.With().Str("component", "offline_store").Str("path", path).Logger(),
	}

	s.logger.Info().
		Float64("tile_km", meta.TileKm).
		Int("populated_tiles", meta.PopulatedTiles).
		Int("years_start", meta.YearStart).
		Int("years_end", meta.YearEnd).
		Msg("offline store opened")

	return s, nil
}

func loadMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: reading meta: %v", ErrRejected, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, fmt.Errorf("%w: reading meta: %v", ErrRejected, err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, fmt.Errorf("%w: reading meta: %v", ErrRejected, err)
	}

	meta := Meta{Provider: values[MetaProvider], TileKm: 50}
	if meta.Provider != RequiredProvider {
		return Meta{}, fmt.Errorf("%w: provider %q", ErrRejected, meta.Provider)
	}
	if !strings.EqualFold(strings.TrimSpace(values[MetaProviderOnly]), "true") {
		return Meta{}, fmt.Errorf("%w: provider_only %q", ErrRejected, values[MetaProviderOnly])
	}

	if raw, ok := values[MetaTileKm]; ok {
		km, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Meta{}, fmt.Errorf("%w: tile_km %q", ErrRejected, raw)
		}
		meta.TileKm = km
	}

	var bbox struct {
		LatMin *float64 `json:"lat_min"`
		LatMax *float64 `json:"lat_max"`
		LonMin *float64 `json:"lon_min"`
		LonMax *float64 `json:"lon_max"`
	}
	if err := json.Unmarshal([]byte(values[MetaBBox]), &bbox); err != nil {
		return Meta{}, fmt.Errorf("%w: bbox: %v", ErrRejected, err)
	}
	if bbox.LatMin == nil || bbox.LatMax == nil || bbox.LonMin == nil || bbox.LonMax == nil {
		return Meta{}, fmt.Errorf("%w: bbox incomplete", ErrRejected)
	}
	meta.BBox = weather.BoundingBox{MinLat: *bbox.LatMin, MaxLat: *bbox.LatMax, MinLon: *bbox.LonMin, MaxLon: *bbox.LonMax}

	if raw, ok := values[MetaYears]; ok {
		var years struct {
			Start int `json:"start"`
			End   int `json:"end"`
		}
		if err := json.Unmarshal([]byte(raw), &years); err == nil {
			meta.YearStart, meta.YearEnd = years.Start, years.End
		}
	}

	return meta, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Meta returns the store's metadata.
func (s *Store) Meta() Meta {
	return s.meta
}

// TileFor returns the tile containing (lat, lon), or false outside the grid.
func (s *Store) TileFor(lat, lon float64) (string, bool) {
	return s.grid.TileIDFor(lat, lon)
}

const recordColumns = `
	temperature_c, temp_p25, temp_p75, temp_std,
	precipitation_mm, rain_probability, rain_typical_mm,
	wind_speed_ms, wind_dir_deg, wind_var_deg,
	temp_hist_p25, temp_hist_p75, temp_day_p25, temp_day_p75, temp_day_median,
	samples_daily, samples_rain, samples_wind, samples_day_means, samples_day_hours`

// StatsFor returns the record for an exact (tile, month, day).
func (s *Store) StatsFor(ctx context.Context, tileID string, month, day int) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM climatology WHERE tile_id = ? AND month = ? AND day = ?`,
		tileID, month, day)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying climatology for %s: %w", tileID, err)
	}
	rec.TileID, rec.Month, rec.Day = tileID, month, day
	return rec, nil
}

// StatsAt resolves the tile for (lat, lon) and returns its record.
func (s *Store) StatsAt(ctx context.Context, lat, lon float64, month, day int) (*Record, error) {
	tileID, ok := s.TileFor(lat, lon)
	if !ok {
		return nil, ErrOutsideGrid
	}
	return s.StatsFor(ctx, tileID, month, day)
}

// ListTiles returns the stored tiles whose centres fall inside the box,
// ordered by row and column.
func (s *Store) ListTiles(ctx context.Context, latMin, latMax, lonMin, lonMax float64) ([]geotile.Tile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tile_id, lat, lon, row, col
		FROM tiles
		WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY row, col`,
		latMin, latMax, lonMin, lonMax)
	if err != nil {
		return nil, fmt.Errorf("listing tiles: %w", err)
	}
	defer rows.Close()

	var tiles []geotile.Tile
	for rows.Next() {
		var t geotile.Tile
		if err := rows.Scan(&t.ID, &t.Lat, &t.Lon, &t.Row, &t.Col); err != nil {
			return nil, fmt.Errorf("scanning tile: %w", err)
		}
		tiles = append(tiles, t)
	}
	return tiles, rows.Err()
}

// GridStats returns every stored tile in the box with its record for the
// day. Tiles without a record are returned with a nil Record.
func (s *Store) GridStats(ctx context.Context, latMin, latMax, lonMin, lonMax float64, month, day int) ([]TileStats, error) {
	tiles, err := s.ListTiles(ctx, latMin, latMax, lonMin, lonMax)
	if err != nil {
		return nil, err
	}

	out := make([]TileStats, 0, len(tiles))
	for _, t := range tiles {
		rec, err := s.StatsFor(ctx, t.ID, month, day)
		switch {
		case errors.Is(err, ErrNotFound):
			rec = nil
		case err != nil:
			return nil, err
		}
		out = append(out, TileStats{Tile: t, Record: rec})
	}
	return out, nil
}

// RidingHours returns the per-hour temperature distributions for a tile and
// day, ordered by hour.
func (s *Store) RidingHours(ctx context.Context, tileID string, month, day int) ([]RidingHour, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hour, temp_median, temp_p25, temp_p75, samples
		FROM riding_hourly
		WHERE tile_id = ? AND month = ? AND day = ?
		ORDER BY hour`,
		tileID, month, day)
	if err != nil {
		return nil, fmt.Errorf("querying riding hours: %w", err)
	}
	defer rows.Close()

	var out []RidingHour
	for rows.Next() {
		var (
			h             RidingHour
			med, p25, p75 sql.NullFloat64
			samples       sql.NullInt64
		)
		if err := rows.Scan(&h.Hour, &med, &p25, &p75, &samples); err != nil {
			return nil, fmt.Errorf("scanning riding hour: %w", err)
		}
		h.TempMedian, h.TempP25, h.TempP75 = nullFloat(med), nullFloat(p25), nullFloat(p75)
		h.Samples = int(samples.Int64)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var f [15]sql.NullFloat64
	var n [5]sql.NullInt64

	dest := make([]any, 0, len(f)+len(n))
	for i := range f {
		dest = append(dest, &f[i])
	}
	for i := range n {
		dest = append(dest, &n[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	return &Record{
		TemperatureC:    nullFloat(f[0]),
		TempP25:         nullFloat(f[1]),
		TempP75:         nullFloat(f[2]),
		TempStd:         nullFloat(f[3]),
		PrecipitationMM: nullFloat(f[4]),
		RainProbability: nullFloat(f[5]),
		RainTypicalMM:   nullFloat(f[6]),
		WindSpeedMS:     nullFloat(f[7]),
		WindDirDeg:      nullFloat(f[8]),
		WindVarDeg:      nullFloat(f[9]),
		TempHistP25:     nullFloat(f[10]),
		TempHistP75:     nullFloat(f[11]),
		TempDayP25:      nullFloat(f[12]),
		TempDayP75:      nullFloat(f[13]),
		TempDayMedian:   nullFloat(f[14]),
		SamplesDaily:    int(n[0].Int64),
		SamplesRain:     int(n[1].Int64),
		SamplesWind:     int(n[2].Int64),
		SamplesDayMeans: int(n[3].Int64),
		SamplesDayHours: int(n[4].Int64),
	}, nil
}

func nullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
