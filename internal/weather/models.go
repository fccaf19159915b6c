package weather

import (
	"math"
	"time"
)

// DailyRow is one day of historical observations in the normalised schema
// shared by every provider. Missing values are NaN.
type DailyRow struct {
	Date time.Time // UTC midnight

	// Temperature in Celsius
	MeanTemp float64
	MinTemp  float64
	MaxTemp  float64

	// Precipitation sum in mm
	Precip float64

	WindSpeed float64 // m/s
	WindDir   float64 // degrees (0-360, 0=N, 90=E)
}

// HourlyRow is a single hourly temperature sample.
type HourlyRow struct {
	Time time.Time // local wall time as reported by the provider
	Temp float64   // Celsius, NaN when missing
}

// Usable reports whether the row carries any temperature information.
func (r DailyRow) Usable() bool {
	return !math.IsNaN(r.MeanTemp) || (!math.IsNaN(r.MinTemp) && !math.IsNaN(r.MaxTemp))
}

// Tier identifies where a raw payload was served from.
type Tier string

const (
	TierMemory  Tier = "memory"
	TierDisk    Tier = "disk"
	TierNetwork Tier = "network"
)

// Cached reports whether the payload came from a cache tier rather than a
// provider call made on behalf of this request.
func (t Tier) Cached() bool {
	return t == TierMemory || t == TierDisk
}

// Series is the result of a multi-year fetch for one calendar day.
type Series struct {
	Provider string
	Daily    []DailyRow
	Hourly   []HourlyRow

	// Years maps each year that produced rows to the tier that served it.
	Years map[int]Tier

	// Failed lists years whose fetch errored.
	Failed []int
}

// MatchYears returns the number of years that produced rows.
func (s *Series) MatchYears() int {
	if s == nil {
		return 0
	}
	return len(s.Years)
}

// BoundingBox represents a geographic bounding box.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains checks if a point is within the bounding box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lon >= b.MinLon && lon <= b.MaxLon
}

// Valid reports whether the box has a positive extent on both axes.
func (b BoundingBox) Valid() bool {
	return b.MaxLat > b.MinLat && b.MaxLon > b.MinLon
}

// ValidateCoordinates checks that lat/lon are within WGS84 bounds.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// ValidDate reports whether year/month/day is a real calendar date.
func ValidDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Year() == year && int(t.Month()) == month && t.Day() == day
}
