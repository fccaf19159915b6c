// Package offlinetest writes small offline climatology files for tests.
package offlinetest

import (
	"database/sql"
	"encoding/json"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/climaglyph/climaglyph/internal/geotile"
	"github.com/climaglyph/climaglyph/internal/offline"
	"github.com/climaglyph/climaglyph/internal/weather"
)

// Fixture describes the content of a test store.
type Fixture struct {
	Provider     string
	ProviderOnly string
	TileKm       float64
	BBox         weather.BoundingBox
	YearStart    int
	YearEnd      int

	// SkipTiles leaves the tiles table empty.
	SkipTiles bool

	Records     []offline.Record
	RidingHours []RidingRow
}

// RidingRow is one riding_hourly row.
type RidingRow struct {
	TileID string
	Month  int
	Day    int
	offline.RidingHour
}

// Default returns a valid open-meteo fixture over the western Pyrenees
// covering 2015-2024 with 50 km tiles and no records.
func Default() Fixture {
	return Fixture{
		Provider:     offline.RequiredProvider,
		ProviderOnly: "true",
		TileKm:       50,
		BBox:         weather.BoundingBox{MinLat: 42.0, MaxLat: 44.5, MinLon: -2.5, MaxLon: 1.0},
		YearStart:    2015,
		YearEnd:      2024,
	}
}

// Record returns a fully populated record for the tile and day.
func Record(tileID string, month, day int, tempC float64, samples int) offline.Record {
	return offline.Record{
		TileID:          tileID,
		Month:           month,
		Day:             day,
		TemperatureC:    tempC,
		TempP25:         tempC - 2,
		TempP75:         tempC + 2,
		TempStd:         1.5,
		PrecipitationMM: 0.4,
		RainProbability: 0.3,
		RainTypicalMM:   2.1,
		WindSpeedMS:     3.2,
		WindDirDeg:      250,
		WindVarDeg:      40,
		TempHistP25:     tempC - 1,
		TempHistP75:     tempC + 1,
		TempDayP25:      tempC - 1.5,
		TempDayP75:      tempC + 3,
		TempDayMedian:   tempC + 1,
		SamplesDaily:    samples,
		SamplesRain:     samples,
		SamplesWind:     samples,
		SamplesDayMeans: samples,
		SamplesDayHours: samples * 4,
	}
}

// TileID returns the tile containing (lat, lon) under the fixture's grid.
func (f Fixture) TileID(t testing.TB, lat, lon float64) string {
	t.Helper()
	grid, err := geotile.New(f.BBox, f.TileKm)
	require.NoError(t, err)
	id, ok := grid.TileIDFor(lat, lon)
	require.True(t, ok, "point %.3f,%.3f outside fixture grid", lat, lon)
	return id
}

// Write creates the SQLite file at path.
func Write(t testing.TB, path string, f Fixture) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range offline.Schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	bbox, err := json.Marshal(map[string]float64{
		"lat_min": f.BBox.MinLat, "lat_max": f.BBox.MaxLat,
		"lon_min": f.BBox.MinLon, "lon_max": f.BBox.MaxLon,
	})
	require.NoError(t, err)
	years, err := json.Marshal(map[string]int{"start": f.YearStart, "end": f.YearEnd})
	require.NoError(t, err)

	meta := map[string]string{
		offline.MetaProvider:     f.Provider,
		offline.MetaProviderOnly: f.ProviderOnly,
		offline.MetaTileKm:       strconv.FormatFloat(f.TileKm, 'f', -1, 64),
		offline.MetaBBox:         string(bbox),
		offline.MetaYears:        string(years),
	}
	for k, v := range meta {
		_, err := db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}

	if !f.SkipTiles {
		grid, err := geotile.New(f.BBox, f.TileKm)
		require.NoError(t, err)
		for _, tile := range grid.Tiles() {
			_, err := db.Exec(`INSERT INTO tiles (tile_id, lat, lon, row, col) VALUES (?, ?, ?, ?, ?)`,
				tile.ID, tile.Lat, tile.Lon, tile.Row, tile.Col)
			require.NoError(t, err)
		}
	}

	for _, r := range f.Records {
		_, err := db.Exec(`INSERT INTO climatology (
			tile_id, month, day, temperature_c, temp_p25, temp_p75, temp_std,
			precipitation_mm, rain_probability, rain_typical_mm,
			wind_speed_ms, wind_dir_deg, wind_var_deg,
			temp_hist_p25, temp_hist_p75, temp_day_p25, temp_day_p75, temp_day_median,
			samples_daily, samples_rain, samples_wind, samples_day_means, samples_day_hours
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.TileID, r.Month, r.Day, null(r.TemperatureC), null(r.TempP25), null(r.TempP75), null(r.TempStd),
			null(r.PrecipitationMM), null(r.RainProbability), null(r.RainTypicalMM),
			null(r.WindSpeedMS), null(r.WindDirDeg), null(r.WindVarDeg),
			null(r.TempHistP25), null(r.TempHistP75), null(r.TempDayP25), null(r.TempDayP75), null(r.TempDayMedian),
			r.SamplesDaily, r.SamplesRain, r.SamplesWind, r.SamplesDayMeans, r.SamplesDayHours)
		require.NoError(t, err)

		_, err = db.Exec(`INSERT OR REPLACE INTO build_state (tile_id, status, updated_at) VALUES (?, 'done', datetime('now'))`, r.TileID)
		require.NoError(t, err)
	}

	for _, h := range f.RidingHours {
		_, err := db.Exec(`INSERT INTO riding_hourly (tile_id, month, day, hour, temp_median, temp_p25, temp_p75, samples)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			h.TileID, h.Month, h.Day, h.Hour, null(h.TempMedian), null(h.TempP25), null(h.TempP75), h.Samples)
		require.NoError(t, err)
	}
}

func null(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
