// Package circstats provides numeric summaries used by the climatology
// aggregator: circular statistics for wind direction and linear percentile
// summaries for scalar samples.
package circstats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MaxStdDev is the circular standard deviation reported when the samples
// have no coherent mean direction.
const MaxStdDev = 180.0

// minResultant is the resultant length below which directions are treated as
// having no mean.
const minResultant = 1e-9

// Finite returns the finite values of v in their original order.
func Finite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// radians converts the finite directions (degrees) to radians.
func radians(degs []float64) []float64 {
	out := Finite(degs)
	for i, d := range out {
		out[i] = d * (math.Pi / 180)
	}
	return out
}

// resultantLength returns R, the length of the mean unit vector.
func resultantLength(rads []float64) float64 {
	var s, c float64
	for _, r := range rads {
		s += math.Sin(r)
		c += math.Cos(r)
	}
	n := float64(len(rads))
	return math.Hypot(s/n, c/n)
}

// Mean returns the circular mean of directions in degrees, normalised to
// [0, 360). ok is false when there are no samples or the resultant vanishes.
func Mean(degs []float64) (mean float64, ok bool) {
	rads := radians(degs)
	if len(rads) == 0 || resultantLength(rads) < minResultant {
		return 0, false
	}
	mean = math.Mod(stat.CircularMean(rads, nil)*(180/math.Pi), 360)
	if mean < 0 {
		mean += 360
	}
	return mean, true
}

// StdDev returns the circular standard deviation sqrt(-2 ln R) in degrees.
// Empty input or R≈0 yields MaxStdDev.
func StdDev(degs []float64) float64 {
	rads := radians(degs)
	if len(rads) == 0 {
		return MaxStdDev
	}
	r := resultantLength(rads)
	if r < minResultant {
		return MaxStdDev
	}
	if r > 1 {
		r = 1
	}
	return math.Sqrt(-2*math.Log(r)) * (180 / math.Pi)
}

// Wind returns the mean direction and circular spread for a set of wind
// directions. With no usable samples it returns (0, MaxStdDev).
func Wind(degs []float64) (mean, std float64) {
	mean, _ = Mean(degs)
	return mean, StdDev(degs)
}

// Percentile returns the p-th percentile (0..100) of the finite values using
// linear interpolation between closest ranks. It returns NaN for empty input.
// stat.Quantile's LinInterp places ranks differently, so the offline builder's
// values would not be reproduced.
func Percentile(values []float64, p float64) float64 {
	v := Finite(values)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	if len(v) == 1 {
		return v[0]
	}

	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(len(v)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return v[lo]
	}
	frac := pos - float64(lo)
	return v[lo] + (v[hi]-v[lo])*frac
}

// Median is Percentile(values, 50).
func Median(values []float64) float64 {
	return Percentile(values, 50)
}

// ArithmeticMean returns the mean of the finite values, NaN when there are none.
func ArithmeticMean(values []float64) float64 {
	v := Finite(values)
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}

// PopulationStdDev returns the population standard deviation of the finite
// values, NaN when there are none.
func PopulationStdDev(values []float64) float64 {
	v := Finite(values)
	if len(v) == 0 {
		return math.NaN()
	}
	_, std := stat.PopMeanStdDev(v, nil)
	return std
}
