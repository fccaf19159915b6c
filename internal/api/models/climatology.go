package models

import "github.com/climaglyph/climaglyph/internal/climatology"

// ClimatologyResponse is the body of a point lookup. Stats renders as the
// flat key/value map glyph renderers consume.
type ClimatologyResponse struct {
	Point Point             `json:"point"`
	Date  string            `json:"date"`
	Mode  climatology.Mode  `json:"mode"`
	Stats climatology.Stats `json:"stats"`
}

// GridTile is one tile of a grid response. Stats is omitted for tiles
// without offline data in strict mode.
type GridTile struct {
	TileID string             `json:"tileId"`
	Row    int                `json:"row"`
	Col    int                `json:"col"`
	Center Point              `json:"center"`
	Stats  *climatology.Stats `json:"stats,omitempty"`
}

// GridResponse is the body of a viewport lookup.
type GridResponse struct {
	BBox  GeoBox           `json:"bbox"`
	Date  string           `json:"date"`
	Mode  climatology.Mode `json:"mode"`
	Tiles []GridTile       `json:"tiles"`
}

// RidingHour is the temperature distribution of one hour of the day.
type RidingHour struct {
	Hour       int     `json:"hour"`
	TempMedian float64 `json:"tempMedian"`
	TempP25    float64 `json:"tempP25"`
	TempP75    float64 `json:"tempP75"`
	Samples    int     `json:"samples"`
}

// RidingHoursResponse is the body of a riding hours lookup.
type RidingHoursResponse struct {
	Point  Point        `json:"point"`
	Date   string       `json:"date"`
	TileID string       `json:"tileId"`
	Hours  []RidingHour `json:"hours"`
}

// WindowDay is one calendar day of a window response.
type WindowDay struct {
	Date  string            `json:"date"`
	Stats climatology.Stats `json:"stats"`
}

// WindowResponse is the body of a multi-day window lookup.
type WindowResponse struct {
	Point Point            `json:"point"`
	Start string           `json:"start"`
	Mode  climatology.Mode `json:"mode"`
	Days  []WindowDay      `json:"days"`
}
