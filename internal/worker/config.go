// Package worker warms the climatology caches for configured places and
// calendar days.
package worker

import (
	"fmt"
	"sort"
	"time"

	"github.com/climaglyph/climaglyph/internal/climatology"
	"github.com/climaglyph/climaglyph/internal/config"
	"github.com/climaglyph/climaglyph/pkg/polyline"
)

// RefreshTarget represents a named place or route to warm.
type RefreshTarget struct {
	// Name is the human-readable name of the target.
	Name string

	// Points are the lat/lon coordinates to warm.
	Points []Point

	// Polyline is an encoded route. It is decoded and thinned to
	// RefreshConfig.SpacingKm.
	Polyline string

	// Priority determines refresh order (lower = higher priority).
	Priority int
}

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// CalendarDay is a month and day without a year.
type CalendarDay struct {
	Month int
	Day   int
}

func (d CalendarDay) String() string {
	return fmt.Sprintf("%02d-%02d", d.Month, d.Day)
}

// RefreshConfig holds configuration for the cache warming job.
type RefreshConfig struct {
	// Targets are the places to warm.
	// If empty, uses DefaultRefreshTargets.
	Targets []RefreshTarget

	// Days are the calendar days to warm. Empty means the coming
	// DefaultHorizonDays days.
	Days []CalendarDay

	// Concurrency is the number of concurrent lookups.
	// Default: 2
	Concurrency int

	// Timeout bounds a single lookup.
	// Default: 5 minutes
	Timeout time.Duration

	// SpacingKm is the minimum distance between points sampled from a
	// polyline. Default: 25
	SpacingKm float64

	// Mode is the lookup mode. Default: auto, which fills the disk cache.
	Mode climatology.Mode
}

// DefaultHorizonDays is the number of days warmed when none are configured.
const DefaultHorizonDays = 7

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Targets:     DefaultRefreshTargets(),
		Concurrency: 2,
		Timeout:     5 * time.Minute,
		SpacingKm:   25,
		Mode:        climatology.ModeAuto,
	}
}

// DefaultRefreshTargets returns popular riding bases and climbs of the
// western Pyrenees and the Basque coast.
func DefaultRefreshTargets() []RefreshTarget {
	return []RefreshTarget{
		{
			Name:     "Basque coast",
			Priority: 1,
			Points: []Point{
				{Lat: 43.4832, Lon: -1.5586}, // Biarritz
				{Lat: 43.3883, Lon: -1.6633}, // Saint-Jean-de-Luz
				{Lat: 43.3183, Lon: -1.9812}, // Donostia
			},
		},
		{
			Name:     "Béarn",
			Priority: 1,
			Points: []Point{
				{Lat: 43.2951, Lon: -0.3708}, // Pau
				{Lat: 43.1950, Lon: -0.6070}, // Oloron-Sainte-Marie
			},
		},
		{
			Name:     "Cols",
			Priority: 2,
			Points: []Point{
				{Lat: 42.9096, Lon: 0.1453},  // Col du Tourmalet
				{Lat: 42.9740, Lon: -0.3380}, // Col d'Aubisque
				{Lat: 43.0339, Lon: -0.5447}, // Col de Marie-Blanque
			},
		},
		{
			Name:     "Pays basque interior",
			Priority: 3,
			Points: []Point{
				{Lat: 43.1632, Lon: -1.2370}, // Saint-Jean-Pied-de-Port
				{Lat: 43.3717, Lon: -1.3214}, // Espelette
			},
		},
	}
}

// FromConfig builds a RefreshConfig from the file configuration.
func FromConfig(c config.WarmConfig) (RefreshConfig, error) {
	out := DefaultRefreshConfig()
	if c.Concurrency > 0 {
		out.Concurrency = c.Concurrency
	}
	if c.Timeout > 0 {
		out.Timeout = c.Timeout
	}
	if c.SpacingKm > 0 {
		out.SpacingKm = c.SpacingKm
	}

	for _, s := range c.Days {
		m, d, err := config.ParseMonthDay(s)
		if err != nil {
			return RefreshConfig{}, err
		}
		out.Days = append(out.Days, CalendarDay{Month: m, Day: d})
	}

	if len(c.Targets) > 0 {
		out.Targets = make([]RefreshTarget, 0, len(c.Targets))
		for _, t := range c.Targets {
			target := RefreshTarget{Name: t.Name, Priority: t.Priority, Polyline: t.Polyline}
			if err := polyline.Validate(t.Polyline); err != nil {
				return RefreshConfig{}, fmt.Errorf("target %q: %w", t.Name, err)
			}
			for _, p := range t.Points {
				if len(p) != 2 {
					return RefreshConfig{}, fmt.Errorf("target %q: point needs lat and lon", t.Name)
				}
				target.Points = append(target.Points, Point{Lat: p[0], Lon: p[1]})
			}
			out.Targets = append(out.Targets, target)
		}
	}
	return out, nil
}

// AllPoints returns all points from all targets, ordered by priority.
// Polylines contribute one point per SpacingKm along the route.
func (c RefreshConfig) AllPoints() []Point {
	targets := make([]RefreshTarget, len(c.Targets))
	copy(targets, c.Targets)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })

	var points []Point
	for _, target := range targets {
		points = append(points, target.Points...)
		if target.Polyline != "" {
			points = append(points, c.routePoints(target.Polyline)...)
		}
	}
	return points
}

// TotalPoints returns the total number of points to refresh.
func (c RefreshConfig) TotalPoints() int {
	return len(c.AllPoints())
}

func (c RefreshConfig) routePoints(encoded string) []Point {
	coords := polyline.Decode(encoded)
	if len(coords) == 0 {
		return nil
	}
	spacing := c.SpacingKm * 1000
	sampled := polyline.Sample(coords, spacing)

	// Sample always keeps the last vertex, even right after a sample.
	kept := []polyline.Coordinate{sampled[0]}
	for _, p := range sampled[1:] {
		if spacing > 0 && polyline.Length([]polyline.Coordinate{kept[len(kept)-1], p}) < spacing/2 {
			continue
		}
		kept = append(kept, p)
	}

	out := make([]Point, len(kept))
	for i, p := range kept {
		out[i] = Point{Lat: p.Lat, Lon: p.Lon}
	}
	return out
}

// days returns the configured days, or DefaultHorizonDays days from now.
func (c RefreshConfig) days(now time.Time) []CalendarDay {
	if len(c.Days) > 0 {
		return c.Days
	}
	out := make([]CalendarDay, DefaultHorizonDays)
	for i := range out {
		d := now.AddDate(0, 0, i)
		out[i] = CalendarDay{Month: int(d.Month()), Day: d.Day()}
	}
	return out
}
