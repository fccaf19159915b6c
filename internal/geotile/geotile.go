// Package geotile lays a fixed-size tile grid over a bounding box and maps
// points back to the tile that contains them.
//
// Rows use a constant latitude step of TileKm/111.32 degrees. Each row's
// longitude step is corrected by 1/cos(row centre latitude) so tiles stay
// roughly square. Tile identifiers are "r{row}_c{col}" and must match the
// ones written by the offline build, so Tiles and TileIDFor share the same
// arithmetic.
package geotile

import (
	"errors"
	"fmt"
	"math"

	"github.com/climaglyph/climaglyph/internal/weather"
)

// KmPerDegree is the length of one degree of latitude used by the grid.
const KmPerDegree = 111.32

const (
	minCos    = 0.05
	tolerance = 1e-9
)

// ErrInvalidGrid is returned for empty boxes or non-positive tile sizes.
var ErrInvalidGrid = fmt.Errorf("%w: invalid tile grid", weather.ErrConfiguration)

// Tile is one grid cell.
type Tile struct {
	ID  string
	Row int
	Col int
	Lat float64 // centre
	Lon float64 // centre
}

// Grid is an immutable tile layout.
type Grid struct {
	bbox   weather.BoundingBox
	tileKm float64
}

// New validates the layout parameters.
func New(bbox weather.BoundingBox, tileKm float64) (*Grid, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("%w: bbox lat [%g,%g] lon [%g,%g]", ErrInvalidGrid, bbox.MinLat, bbox.MaxLat, bbox.MinLon, bbox.MaxLon)
	}
	if !(tileKm > 0) || math.IsInf(tileKm, 0) {
		return nil, fmt.Errorf("%w: tile_km %g", ErrInvalidGrid, tileKm)
	}
	return &Grid{bbox: bbox, tileKm: tileKm}, nil
}

// BBox returns the grid's bounding box.
func (g *Grid) BBox() weather.BoundingBox { return g.bbox }

// TileKm returns the tile edge length in kilometres.
func (g *Grid) TileKm() float64 { return g.tileKm }

// ID formats a tile identifier.
func ID(row, col int) string {
	return fmt.Sprintf("r%d_c%d", row, col)
}

func (g *Grid) stepLat() float64 {
	return g.tileKm / KmPerDegree
}

func (g *Grid) rowCenter(row int) float64 {
	return g.bbox.MinLat + (float64(row)+0.5)*g.stepLat()
}

func (g *Grid) stepLon(latCenter float64) float64 {
	c := math.Max(minCos, math.Cos(latCenter*(math.Pi/180)))
	return g.tileKm / (KmPerDegree * c)
}

func (g *Grid) colCenter(col int, stepLon float64) float64 {
	return g.bbox.MinLon + (float64(col)+0.5)*stepLon
}

func clampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// Tiles generates every tile of the grid in row-major order.
func (g *Grid) Tiles() []Tile {
	stepLat := g.stepLat()
	nRows := int(math.Ceil((g.bbox.MaxLat - g.bbox.MinLat) / stepLat))

	var tiles []Tile
	for r := 0; r < nRows; r++ {
		latC := g.rowCenter(r)
		if latC > g.bbox.MaxLat {
			break
		}
		stepLon := g.stepLon(latC)
		nCols := int(math.Ceil((g.bbox.MaxLon - g.bbox.MinLon) / stepLon))
		for c := 0; c < nCols; c++ {
			lonC := g.colCenter(c, stepLon)
			if lonC > g.bbox.MaxLon {
				break
			}
			tiles = append(tiles, Tile{
				ID:  ID(r, c),
				Row: r,
				Col: c,
				Lat: clampLat(latC),
				Lon: lonC,
			})
		}
	}
	return tiles
}

// TileIDFor returns the identifier of the tile containing (lat, lon). ok is
// false outside the bounding box or when the point falls in a partial tile
// whose centre lies beyond the bounds.
func (g *Grid) TileIDFor(lat, lon float64) (id string, ok bool) {
	if math.IsNaN(lat) || math.IsNaN(lon) || !g.bbox.Contains(lat, lon) {
		return "", false
	}

	row := int(math.Floor((lat - g.bbox.MinLat) / g.stepLat()))
	latC := g.rowCenter(row)
	if row < 0 || latC > g.bbox.MaxLat+tolerance {
		return "", false
	}

	stepLon := g.stepLon(latC)
	col := int(math.Floor((lon - g.bbox.MinLon) / stepLon))
	lonC := g.colCenter(col, stepLon)
	if col < 0 || lonC > g.bbox.MaxLon+tolerance {
		return "", false
	}

	return ID(row, col), true
}

// TilesIn returns the generated tiles whose centres fall inside box.
func (g *Grid) TilesIn(box weather.BoundingBox) []Tile {
	var out []Tile
	for _, t := range g.Tiles() {
		if box.Contains(t.Lat, t.Lon) {
			out = append(out, t)
		}
	}
	return out
}

// ParseID splits "r{row}_c{col}".
func ParseID(id string) (row, col int, err error) {
	if _, err := fmt.Sscanf(id, "r%d_c%d", &row, &col); err != nil {
		return 0, 0, errors.New("geotile: malformed tile id " + id)
	}
	return row, col, nil
}
