// Package climatology turns multi-year samples into the per-day statistics
// used to draw weather glyphs, and chains the offline store, the archive
// providers and synthetic placeholders into one lookup.
package climatology

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/climaglyph/climaglyph/internal/circstats"
	"github.com/climaglyph/climaglyph/internal/offline"
	"github.com/climaglyph/climaglyph/internal/weather"
)

// Source is the provenance of a Stats value.
type Source string

const (
	SourceOfflineTile Source = "offline_tile"
	SourceDiskCache   Source = "disk_cache"
	SourceAPI         Source = "api"
	SourceMixed       Source = "mixed"
	SourceSynthetic   Source = "synthetic"
)

// Temperature sources.
const (
	TempSourceDaily         = "daily"
	TempSourceHourlyDaytime = "hourly_daytime"
	TempSourceOffline       = "offline"
	TempSourceSynthetic     = "synthetic"
)

const (
	wetThresholdMM           = 0.1
	minPooledForDayQuartiles = 4
	minSamplesPerDate        = 2
)

// DaytimeHours are the local hours sampled for daytime temperatures.
var DaytimeHours = [...]int{10, 12, 14, 16}

// Stats is the aggregated climatology for one point and calendar day.
// Quantities that could not be derived are NaN and are left out of the JSON
// form rather than reported as zero.
type Stats struct {
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

	Source     Source
	Provider   string
	YearsStart int
	YearsEnd   int
	MatchDays  int
	TileID     string
	TempSource string
}

func emptyStats() Stats {
	nan := math.NaN()
	return Stats{
		TemperatureC: nan, TempP25: nan, TempP75: nan, TempStd: nan,
		PrecipitationMM: nan, RainProbability: nan, RainTypicalMM: nan,
		WindSpeedMS: nan, WindDirDeg: nan, WindVarDeg: nan,
		TempHistP25: nan, TempHistP75: nan,
		TempDayP25: nan, TempDayP75: nan, TempDayMedian: nan,
	}
}

// Values returns the derived quantities that are present, keyed by their
// wire names.
func (s Stats) Values() map[string]float64 {
	all := map[string]float64{
		"temperature_c":    s.TemperatureC,
		"temp_p25":         s.TempP25,
		"temp_p75":         s.TempP75,
		"temp_std":         s.TempStd,
		"precipitation_mm": s.PrecipitationMM,
		"rain_probability": s.RainProbability,
		"rain_typical_mm":  s.RainTypicalMM,
		"wind_speed_ms":    s.WindSpeedMS,
		"wind_dir_deg":     s.WindDirDeg,
		"wind_var_deg":     s.WindVarDeg,
		"temp_hist_p25":    s.TempHistP25,
		"temp_hist_p75":    s.TempHistP75,
		"temp_day_p25":     s.TempDayP25,
		"temp_day_p75":     s.TempDayP75,
		"temp_day_median":  s.TempDayMedian,
	}
	out := make(map[string]float64, len(all))
	for k, v := range all {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// MarshalJSON renders the flat key/value form.
func (s Stats) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 24)
	for k, v := range s.Values() {
		m[k] = v
	}
	m["source"] = s.Source
	m["match_days"] = s.MatchDays
	if s.Provider != "" {
		m["provider"] = s.Provider
	}
	if s.YearsStart > 0 {
		m["years_start"] = s.YearsStart
		m["years_end"] = s.YearsEnd
	}
	if s.TileID != "" {
		m["tile_id"] = s.TileID
	}
	if s.TempSource != "" {
		m["temp_source"] = s.TempSource
	}
	return json.Marshal(m)
}

// Compute derives daily statistics from rows falling on month/day. The
// temperature is the median daily mean, or the median min/max midpoint when
// no row has a mean. A day counts as wet above 0.1 mm; the typical amount is
// the median of wet days only. Rain quantities are omitted when no row has a
// precipitation value.
func Compute(rows []weather.DailyRow, month, day int) (Stats, error) {
	var (
		means, midpoints, precip, speeds, dirs []float64
		match                                  int
	)

	for _, r := range rows {
		if int(r.Date.Month()) != month || r.Date.Day() != day {
			continue
		}
		match++
		means = append(means, r.MeanTemp)
		if !math.IsNaN(r.MinTemp) && !math.IsNaN(r.MaxTemp) {
			midpoints = append(midpoints, (r.MinTemp+r.MaxTemp)/2)
		}
		precip = append(precip, r.Precip)
		speeds = append(speeds, r.WindSpeed)
		dirs = append(dirs, r.WindDir)
	}

	temps := circstats.Finite(means)
	if len(temps) == 0 {
		temps = circstats.Finite(midpoints)
	}
	if len(temps) == 0 {
		return Stats{}, fmt.Errorf("%w: no temperature sample for %02d-%02d in %d rows",
			weather.ErrInsufficientData, month, day, match)
	}

	s := emptyStats()
	s.MatchDays = match
	s.TempSource = TempSourceDaily
	s.TemperatureC = circstats.Median(temps)
	s.TempP25 = circstats.Percentile(temps, 25)
	s.TempP75 = circstats.Percentile(temps, 75)
	s.TempStd = circstats.PopulationStdDev(temps)

	if valid := circstats.Finite(precip); len(valid) > 0 {
		var wet []float64
		for _, p := range valid {
			if p > wetThresholdMM {
				wet = append(wet, p)
			}
		}
		s.PrecipitationMM = circstats.Median(valid)
		s.RainProbability = float64(len(wet)) / float64(len(valid))
		s.RainTypicalMM = 0
		if len(wet) > 0 {
			s.RainTypicalMM = circstats.Median(wet)
		}
	}

	s.WindSpeedMS = circstats.Median(speeds)
	s.WindDirDeg, s.WindVarDeg = circstats.Wind(circstats.Finite(dirs))

	return s, nil
}

// Daytime is the result of the hourly pass. Hist* spread the per-date
// daytime means between years; Day* spread every pooled hourly sample.
type Daytime struct {
	Median    float64
	HistP25   float64
	HistP75   float64
	Std       float64
	DayMedian float64
	DayP25    float64
	DayP75    float64
	Dates     int
	Samples   int
}

// ComputeDaytime runs the hourly pass over samples on month/day at the
// DaytimeHours. A date contributes a mean only with at least two samples;
// every sample still joins the pooled within-day distribution, whose
// quartiles need at least four values.
func ComputeDaytime(hourly []weather.HourlyRow, month, day int) (Daytime, error) {
	type dateKey struct{ y, m, d int }

	byDate := make(map[dateKey][]float64)
	var order []dateKey
	var pooled []float64

	for _, h := range hourly {
		if int(h.Time.Month()) != month || h.Time.Day() != day || !isDaytimeHour(h.Time) {
			continue
		}
		if math.IsNaN(h.Temp) || math.IsInf(h.Temp, 0) {
			continue
		}
		k := dateKey{h.Time.Year(), month, day}
		if _, ok := byDate[k]; !ok {
			order = append(order, k)
		}
		byDate[k] = append(byDate[k], h.Temp)
		pooled = append(pooled, h.Temp)
	}

	var dateMeans []float64
	for _, k := range order {
		if v := byDate[k]; len(v) >= minSamplesPerDate {
			dateMeans = append(dateMeans, circstats.ArithmeticMean(v))
		}
	}
	if len(dateMeans) == 0 {
		return Daytime{}, fmt.Errorf("%w: no daytime mean for %02d-%02d", weather.ErrInsufficientData, month, day)
	}

	d := Daytime{
		Median:    circstats.Median(dateMeans),
		HistP25:   circstats.Percentile(dateMeans, 25),
		HistP75:   circstats.Percentile(dateMeans, 75),
		Std:       circstats.PopulationStdDev(dateMeans),
		DayMedian: circstats.Median(pooled),
		DayP25:    math.NaN(),
		DayP75:    math.NaN(),
		Dates:     len(dateMeans),
		Samples:   len(pooled),
	}
	if len(pooled) >= minPooledForDayQuartiles {
		d.DayP25 = circstats.Percentile(pooled, 25)
		d.DayP75 = circstats.Percentile(pooled, 75)
	}
	return d, nil
}

func isDaytimeHour(t time.Time) bool {
	if t.Minute() != 0 {
		return false
	}
	for _, h := range DaytimeHours {
		if t.Hour() == h {
			return true
		}
	}
	return false
}

// ApplyDaytime folds the hourly pass into s. The daytime median replaces the
// daily temperature and the between-year spread replaces the daily quartiles,
// matching how offline tiles are built.
func (s *Stats) ApplyDaytime(d Daytime) {
	s.TemperatureC = d.Median
	s.TempP25 = d.HistP25
	s.TempP75 = d.HistP75
	s.TempStd = d.Std
	s.TempHistP25 = d.HistP25
	s.TempHistP75 = d.HistP75
	s.TempDayMedian = d.DayMedian
	s.TempDayP25 = d.DayP25
	s.TempDayP75 = d.DayP75
	s.TempSource = TempSourceHourlyDaytime
}

// Synthetic returns placeholder statistics for month/day.
func Synthetic(month, day int) Stats {
	var base float64
	switch month {
	case 4, 5, 6, 9, 10:
		base = 15
	case 7, 8:
		base = 25
	case 1, 2, 12:
		base = 5
	default:
		base = 12
	}

	s := emptyStats()
	s.TemperatureC = base
	s.TempP25 = base - 2
	s.TempP75 = base + 2
	s.PrecipitationMM = 0
	s.WindDirDeg = 180
	s.WindVarDeg = 20
	s.WindSpeedMS = 4
	s.Source = SourceSynthetic
	s.TempSource = TempSourceSynthetic
	return s
}

// FromRecord converts an offline record.
func FromRecord(rec *offline.Record, meta offline.Meta) Stats {
	return Stats{
		TemperatureC:    rec.TemperatureC,
		TempP25:         rec.TempP25,
		TempP75:         rec.TempP75,
		TempStd:         rec.TempStd,
		PrecipitationMM: rec.PrecipitationMM,
		RainProbability: rec.RainProbability,
		RainTypicalMM:   rec.RainTypicalMM,
		WindSpeedMS:     rec.WindSpeedMS,
		WindDirDeg:      rec.WindDirDeg,
		WindVarDeg:      rec.WindVarDeg,
		TempHistP25:     rec.TempHistP25,
		TempHistP75:     rec.TempHistP75,
		TempDayP25:      rec.TempDayP25,
		TempDayP75:      rec.TempDayP75,
		TempDayMedian:   rec.TempDayMedian,

		Source:     SourceOfflineTile,
		Provider:   meta.Provider,
		YearsStart: meta.YearStart,
		YearsEnd:   meta.YearEnd,
		MatchDays:  rec.SamplesDaily,
		TileID:     rec.TileID,
		TempSource: TempSourceOffline,
	}
}

// provenance classifies a fetched series by the tiers that served it.
func provenance(s *weather.Series) Source {
	if len(s.Failed) > 0 {
		return SourceMixed
	}
	cached, network := 0, 0
	for _, tier := range s.Years {
		if tier.Cached() {
			cached++
		} else {
			network++
		}
	}
	switch {
	case network == 0:
		return SourceDiskCache
	case cached == 0:
		return SourceAPI
	default:
		return SourceMixed
	}
}

func yearBounds(s *weather.Series) (start, end int) {
	for y := range s.Years {
		if start == 0 || y < start {
			start = y
		}
		if y > end {
			end = y
		}
	}
	return start, end
}
