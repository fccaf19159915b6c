package climatology

import (
	"context"
	"fmt"
	"time"

	"github.com/climaglyph/climaglyph/internal/offline"
	"github.com/climaglyph/climaglyph/internal/weather"
)

// MaxWindowDays caps a window lookup. Longer windows are truncated.
const MaxWindowDays = 180

// WindowProvider fetches a contiguous run of days starting at month/day in
// each year, one request per year.
type WindowProvider interface {
	Provider() string
	FetchWindow(ctx context.Context, lat, lon float64, month, day, days int, years []int) (*weather.Series, error)
}

// WindowQuery is a multi-day lookup for a tour starting on Month/Day.
type WindowQuery struct {
	Lat, Lon   float64
	Month, Day int
	Days       int
	StartYear  int
	EndYear    int
	Mode       Mode
}

// DayStats is the statistics of one calendar day of a window.
type DayStats struct {
	Month, Day int
	Stats      Stats
}

// windowDays lists the calendar days of a window. 29 Feb only appears when
// the window starts on it.
func windowDays(month, day, days int) []DayStats {
	ref := 2001
	if month == 2 && day == 29 {
		ref = 2000
	}
	first := time.Date(ref, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	out := make([]DayStats, 0, days)
	for i := 0; i < days; i++ {
		d := first.AddDate(0, 0, i)
		out = append(out, DayStats{Month: int(d.Month()), Day: d.Day()})
	}
	return out
}

// WindowAt returns statistics for each day of a window. Days are resolved
// like StatsAt, except that network data for all days not served offline
// comes from one range request per year instead of one request per day.
// The secondary provider is not consulted.
func (s *Service) WindowAt(ctx context.Context, q WindowQuery) ([]DayStats, error) {
	if q.Mode == "" {
		q.Mode = ModeAuto
	}
	if err := validatePoint(q.Lat, q.Lon, q.Month, q.Day); err != nil {
		return nil, err
	}
	if q.Days < 1 {
		return nil, fmt.Errorf("%w: window needs at least one day", ErrInvalidQuery)
	}
	if q.Days > MaxWindowDays {
		s.logger.Warn().Int("days", q.Days).Msg("window capped")
		q.Days = MaxWindowDays
	}
	years, err := s.Years(Query{StartYear: q.StartYear, EndYear: q.EndYear})
	if err != nil {
		return nil, err
	}

	log := s.logger.With().
		Float64("lat", q.Lat).
		Float64("lon", q.Lon).
		Int("month", q.Month).
		Int("day", q.Day).
		Int("days", q.Days).
		Str("mode", string(q.Mode)).
		Logger()

	out := windowDays(q.Month, q.Day, q.Days)
	recs := make([]*offline.Record, len(out))
	var meta offline.Meta
	needNetwork := false

	for i, d := range out {
		if q.Mode != ModeOnline {
			rec, m := s.offlineRecord(ctx, log, Query{Lat: q.Lat, Lon: q.Lon, Month: d.Month, Day: d.Day})
			if rec != nil {
				recs[i], meta = rec, m
			}
		}
		rec := recs[i]
		switch {
		case q.Mode == ModeOfflineStrict && rec == nil:
			return nil, fmt.Errorf("%w: %.4f,%.4f %02d-%02d", ErrOfflineDataMissing, q.Lat, q.Lon, d.Month, d.Day)
		case !q.Mode.usesNetwork() && rec == nil:
			out[i].Stats = Synthetic(d.Month, d.Day)
		case rec != nil && (!q.Mode.usesNetwork() || !(len(years) >= 2 && meta.YearSpan() == 1)):
			out[i].Stats = FromRecord(rec, meta)
		default:
			needNetwork = true
		}
	}
	if !needNetwork {
		return out, nil
	}

	series, err := s.fetchWindow(ctx, q, years)
	if err != nil {
		log.Warn().Err(err).Msg("online window unavailable")
	}

	online, fallback := 0, 0
	for i := range out {
		if out[i].Stats.Source != "" {
			continue
		}
		d := out[i]
		if series != nil {
			if st, err := Compute(series.Daily, d.Month, d.Day); err == nil {
				st.Source = provenance(series)
				st.Provider = series.Provider
				st.YearsStart, st.YearsEnd = yearBounds(series)
				out[i].Stats = st
				online++
				continue
			}
		}
		fallback++
		if recs[i] != nil {
			out[i].Stats = FromRecord(recs[i], meta)
			continue
		}
		out[i].Stats = Synthetic(d.Month, d.Day)
	}

	log.Info().
		Int("online_days", online).
		Int("fallback_days", fallback).
		Msg("window computed")
	return out, nil
}

func (s *Service) fetchWindow(ctx context.Context, q WindowQuery, years []int) (*weather.Series, error) {
	wp, ok := s.primary.(WindowProvider)
	if !ok {
		return nil, fmt.Errorf("%w: primary provider has no window support", weather.ErrConfiguration)
	}
	return wp.FetchWindow(ctx, q.Lat, q.Lon, q.Month, q.Day, q.Days, years)
}
