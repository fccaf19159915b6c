package geotile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaglyph/climaglyph/internal/geotile"
	"github.com/climaglyph/climaglyph/internal/weather"
)

var pyrenees = weather.BoundingBox{MinLat: 42.0, MaxLat: 44.0, MinLon: -2.0, MaxLon: 3.5}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		bbox   weather.BoundingBox
		tileKm float64
	}{
		{"empty latitude", weather.BoundingBox{MinLat: 1, MaxLat: 1, MinLon: 0, MaxLon: 1}, 50},
		{"inverted longitude", weather.BoundingBox{MinLat: 0, MaxLat: 1, MinLon: 2, MaxLon: 1}, 50},
		{"zero tile", pyrenees, 0},
		{"negative tile", pyrenees, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := geotile.New(tt.bbox, tt.tileKm)
			require.Error(t, err)
			assert.ErrorIs(t, err, geotile.ErrInvalidGrid)
			assert.ErrorIs(t, err, weather.ErrConfiguration)
		})
	}
}

func TestTileIDFor_InvertsGenerator(t *testing.T) {
	boxes := []struct {
		bbox   weather.BoundingBox
		tileKm float64
	}{
		{pyrenees, 50},
		{pyrenees, 7.5},
		{weather.BoundingBox{MinLat: 60, MaxLat: 71, MinLon: 4, MaxLon: 31}, 25},
		{weather.BoundingBox{MinLat: -45, MaxLat: -10, MinLon: 110, MaxLon: 155}, 100},
	}

	for _, b := range boxes {
		grid, err := geotile.New(b.bbox, b.tileKm)
		require.NoError(t, err)

		tiles := grid.Tiles()
		require.NotEmpty(t, tiles)

		for _, tile := range tiles {
			id, ok := grid.TileIDFor(tile.Lat, tile.Lon)
			require.True(t, ok, "tile %s centre should map back", tile.ID)
			assert.Equal(t, tile.ID, id)
		}
	}
}

func TestTileIDFor_OutsideBBox(t *testing.T) {
	grid, err := geotile.New(pyrenees, 50)
	require.NoError(t, err)

	for _, p := range [][2]float64{{41.9, 0}, {44.1, 0}, {43, -2.1}, {43, 3.6}} {
		_, ok := grid.TileIDFor(p[0], p[1])
		assert.False(t, ok, "point %v", p)
	}
}

func TestTileIDFor_Deterministic(t *testing.T) {
	a, err := geotile.New(pyrenees, 50)
	require.NoError(t, err)
	b, err := geotile.New(pyrenees, 50)
	require.NoError(t, err)

	idA, okA := a.TileIDFor(43.5, -1.5)
	idB, okB := b.TileIDFor(43.5, -1.5)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, idA, idB)

	row, col, err := geotile.ParseID(idA)
	require.NoError(t, err)
	assert.Equal(t, geotile.ID(row, col), idA)
}

func TestTiles_RowZeroStartsAtOrigin(t *testing.T) {
	grid, err := geotile.New(pyrenees, 50)
	require.NoError(t, err)

	first := grid.Tiles()[0]
	assert.Equal(t, "r0_c0", first.ID)
	assert.InDelta(t, 42.0+0.5*50/geotile.KmPerDegree, first.Lat, 1e-12)
}

func TestTilesIn(t *testing.T) {
	grid, err := geotile.New(pyrenees, 50)
	require.NoError(t, err)

	box := weather.BoundingBox{MinLat: 43, MaxLat: 44, MinLon: -2, MaxLon: 0}
	in := grid.TilesIn(box)
	require.NotEmpty(t, in)
	for _, tile := range in {
		assert.True(t, box.Contains(tile.Lat, tile.Lon))
	}
	assert.Less(t, len(in), len(grid.Tiles()))
}

func TestParseID_Malformed(t *testing.T) {
	_, _, err := geotile.ParseID("tile-7")
	assert.Error(t, err)
}

// Column counts and centres computed with the offline tile builder for the
// same boxes.
func TestTiles_MatchOfflineBuilder(t *testing.T) {
	tests := []struct {
		name      string
		bbox      weather.BoundingBox
		tileKm    float64
		colsByRow []int
		lastLat   float64
		lastLon   float64
	}{
		{
			name:      "pyrenees 50km",
			bbox:      pyrenees,
			tileKm:    50,
			colsByRow: []int{9, 9, 9, 9},
			lastLat:   43.57204455623428,
			lastLon:   3.2695362549845717,
		},
		{
			name:   "scandinavia 25km",
			bbox:   weather.BoundingBox{MinLat: 60, MaxLat: 71, MinLon: 4, MaxLon: 31},
			tileKm: 25,
			colsByRow: []int{
				60, 59, 59, 59, 58, 58, 57, 57, 57, 56, 56, 55, 55, 55, 54, 54, 53, 53, 52, 52, 52, 51, 51, 50, 50,
				49, 49, 49, 48, 48, 47, 47, 46, 46, 46, 45, 45, 44, 44, 43, 43, 42, 42, 42, 41, 41, 40, 40, 39,
			},
			lastLat: 70.89202299676609,
			lastLon: 30.412889629401878,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid, err := geotile.New(tt.bbox, tt.tileKm)
			require.NoError(t, err)

			tiles := grid.Tiles()
			counts := make([]int, len(tt.colsByRow))
			for _, tile := range tiles {
				require.Less(t, tile.Row, len(counts))
				counts[tile.Row]++
			}
			assert.Equal(t, tt.colsByRow, counts)

			last := tiles[len(tiles)-1]
			assert.InDelta(t, tt.lastLat, last.Lat, 1e-12)
			assert.InDelta(t, tt.lastLon, last.Lon, 1e-12)
		})
	}
}
