package circstats_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaglyph/climaglyph/internal/circstats"
)

func circularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func TestMean_WrapAround(t *testing.T) {
	mean, ok := circstats.Mean([]float64{350, 10})

	assert.True(t, ok)
	assert.InDelta(t, 0, circularDistance(mean, 0), 1e-6)
}

func TestMean(t *testing.T) {
	tests := []struct {
		name string
		degs []float64
		want float64
	}{
		{"single", []float64{90}, 90},
		{"west quadrant", []float64{260, 280}, 270},
		{"ignores NaN", []float64{math.NaN(), 45, 45}, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, ok := circstats.Mean(tt.degs)
			assert.True(t, ok)
			assert.InDelta(t, tt.want, mean, 1e-6)
		})
	}
}

func TestMean_NoSamples(t *testing.T) {
	_, ok := circstats.Mean(nil)
	assert.False(t, ok)
}

func TestStdDev(t *testing.T) {
	assert.InDelta(t, 0, circstats.StdDev([]float64{0, 0, 0, 0}), 1e-6)
	assert.Equal(t, circstats.MaxStdDev, circstats.StdDev([]float64{0, 90, 180, 270}))
	assert.Equal(t, circstats.MaxStdDev, circstats.StdDev(nil))

	spread := circstats.StdDev([]float64{170, 190})
	assert.Greater(t, spread, 0.0)
	assert.Less(t, spread, 20.0)
}

func TestWind_Empty(t *testing.T) {
	mean, std := circstats.Wind(nil)
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, circstats.MaxStdDev, std)
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4}

	assert.InDelta(t, 1.75, circstats.Percentile(values, 25), 1e-9)
	assert.InDelta(t, 2.5, circstats.Median(values), 1e-9)
	assert.InDelta(t, 3.25, circstats.Percentile(values, 75), 1e-9)
	assert.Equal(t, 7.0, circstats.Median([]float64{7}))
	assert.True(t, math.IsNaN(circstats.Median(nil)))
	assert.InDelta(t, 2.0, circstats.Median([]float64{3, math.NaN(), 1, 2}), 1e-9)
}

func TestPopulationStdDev(t *testing.T) {
	assert.InDelta(t, 2.0, circstats.PopulationStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.True(t, math.IsNaN(circstats.PopulationStdDev(nil)))
}

func TestMean_MatchesResultantDirection(t *testing.T) {
	degs := []float64{10, 20, 30, 300, math.Inf(1)}

	var s, c float64
	for _, d := range degs[:4] {
		s += math.Sin(d * math.Pi / 180)
		c += math.Cos(d * math.Pi / 180)
	}
	want := math.Atan2(s, c) * 180 / math.Pi
	if want < 0 {
		want += 360
	}

	mean, ok := circstats.Mean(degs)
	require.True(t, ok)
	assert.InDelta(t, want, mean, 1e-9)
	assert.InDelta(t, 0, circularDistance(mean, 2.6), 0.1)
}

func TestArithmeticMean_IgnoresNonFinite(t *testing.T) {
	assert.InDelta(t, 3.0, circstats.ArithmeticMean([]float64{1, math.NaN(), 5, math.Inf(-1)}), 1e-12)
	assert.True(t, math.IsNaN(circstats.ArithmeticMean([]float64{math.NaN()})))
	assert.InDelta(t, 2.0, circstats.PopulationStdDev([]float64{1, math.NaN(), 5}), 1e-12)
}
