package weather

import (
	"fmt"
	"math"
	"time"
)

// Kind is the type of raw request behind a RequestKey.
type Kind string

const (
	KindDaily         Kind = "daily"
	KindDailyRange    Kind = "daily_range"
	KindHourly        Kind = "hourly"
	KindStationNearby Kind = "station_nearby"
	KindStationDaily  Kind = "station_daily"
)

// quantizeScale buckets coordinates to 0.1 degree for cache keys.
const quantizeScale = 10

// RequestKey identifies one raw provider request. Coordinates are quantised
// to tenths of a degree so nearby points share cache entries. The zero value
// is not meaningful; use the constructors.
type RequestKey struct {
	Kind Kind

	// Quantised coordinates in tenths of a degree.
	QLat int
	QLon int

	Year  int
	Month int
	Day   int

	// Date ranges as YYYYMMDD.
	Start int
	End   int

	Station string
}

func quantize(v float64) int {
	return int(math.Round(v * quantizeScale))
}

// DailyKey is the key for one day of daily aggregates at a point.
func DailyKey(lat, lon float64, year, month, day int) RequestKey {
	return RequestKey{Kind: KindDaily, QLat: quantize(lat), QLon: quantize(lon), Year: year, Month: month, Day: day}
}

// HourlyKey is the key for one day of hourly samples at a point.
func HourlyKey(lat, lon float64, year, month, day int) RequestKey {
	return RequestKey{Kind: KindHourly, QLat: quantize(lat), QLon: quantize(lon), Year: year, Month: month, Day: day}
}

// DailyRangeKey is the key for daily aggregates over an inclusive date range.
func DailyRangeKey(lat, lon float64, start, end time.Time) RequestKey {
	return RequestKey{Kind: KindDailyRange, QLat: quantize(lat), QLon: quantize(lon), Start: yyyymmdd(start), End: yyyymmdd(end)}
}

// StationNearbyKey is the key for a station discovery query around a point.
func StationNearbyKey(lat, lon float64) RequestKey {
	return RequestKey{Kind: KindStationNearby, QLat: quantize(lat), QLon: quantize(lon)}
}

// StationDailyKey is the key for daily station observations over a range.
func StationDailyKey(station string, start, end time.Time) RequestKey {
	return RequestKey{Kind: KindStationDaily, Station: station, Start: yyyymmdd(start), End: yyyymmdd(end)}
}

func yyyymmdd(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Lat returns the quantised latitude.
func (k RequestKey) Lat() float64 { return float64(k.QLat) / quantizeScale }

// Lon returns the quantised longitude.
func (k RequestKey) Lon() float64 { return float64(k.QLon) / quantizeScale }

// StartDate returns the first day covered by the key.
func (k RequestKey) StartDate() time.Time {
	switch k.Kind {
	case KindDaily, KindHourly:
		return time.Date(k.Year, time.Month(k.Month), k.Day, 0, 0, 0, 0, time.UTC)
	default:
		return fromYYYYMMDD(k.Start)
	}
}

// EndDate returns the last day covered by the key.
func (k RequestKey) EndDate() time.Time {
	switch k.Kind {
	case KindDaily, KindHourly:
		return k.StartDate()
	default:
		return fromYYYYMMDD(k.End)
	}
}

func fromYYYYMMDD(v int) time.Time {
	return time.Date(v/10000, time.Month(v/100%100), v%100, 0, 0, 0, 0, time.UTC)
}

// DiskCached reports whether payloads for this key are mirrored to disk.
// Hourly payloads stay in memory only.
func (k RequestKey) DiskCached() bool {
	return k.Kind != KindHourly
}

// String returns the canonical in-memory key.
func (k RequestKey) String() string {
	switch k.Kind {
	case KindDaily, KindHourly:
		return fmt.Sprintf("%s:%.2f_%.2f_%d_%02d_%02d", k.Kind, k.Lat(), k.Lon(), k.Year, k.Month, k.Day)
	case KindDailyRange:
		return fmt.Sprintf("%s:%.2f_%.2f_%08d_%08d", k.Kind, k.Lat(), k.Lon(), k.Start, k.End)
	case KindStationNearby:
		return fmt.Sprintf("%s:%.2f_%.2f", k.Kind, k.Lat(), k.Lon())
	case KindStationDaily:
		return fmt.Sprintf("%s:%s_%08d_%08d", k.Kind, k.Station, k.Start, k.End)
	default:
		return fmt.Sprintf("%s:%d_%d", k.Kind, k.QLat, k.QLon)
	}
}

// Filename returns the deterministic disk cache file name for the key.
func (k RequestKey) Filename() string {
	switch k.Kind {
	case KindDaily:
		return fmt.Sprintf("daily_oneday_lat%.1f_lon%.1f_y%d_m%02d_d%02d.json", k.Lat(), k.Lon(), k.Year, k.Month, k.Day)
	case KindHourly:
		return fmt.Sprintf("hourly_oneday_lat%.1f_lon%.1f_y%d_m%02d_d%02d.json", k.Lat(), k.Lon(), k.Year, k.Month, k.Day)
	case KindDailyRange:
		return fmt.Sprintf("daily_range_lat%.1f_lon%.1f_%08d_%08d.json", k.Lat(), k.Lon(), k.Start, k.End)
	case KindStationNearby:
		return fmt.Sprintf("meteostat_nearby_lat%.1f_lon%.1f.json", k.Lat(), k.Lon())
	case KindStationDaily:
		return fmt.Sprintf("meteostat_daily_%s_%08d_%08d.json", k.Station, k.Start, k.End)
	default:
		return fmt.Sprintf("%s_%d_%d.json", k.Kind, k.QLat, k.QLon)
	}
}
