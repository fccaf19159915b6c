// Package polyline decodes, validates and samples routes in Google's encoded polyline format.
// The polyline algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformed reports a string that is not a complete polyline.
var ErrMalformed = errors.New("malformed polyline")

// Coordinate represents a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Decode decodes a polyline-encoded string into a slice of coordinates.
// The polyline format uses precision of 5 decimal places (standard Google/ORS format).
func Decode(encoded string) []Coordinate {
	if encoded == "" {
		return nil
	}

	var coords []Coordinate
	index := 0
	lat := 0
	lon := 0

	for index < len(encoded) {
		// Decode latitude
		latDelta, newIndex, _ := decodeValue(encoded, index)
		index = newIndex
		lat += latDelta

		// Decode longitude
		lonDelta, newIndex, _ := decodeValue(encoded, index)
		index = newIndex
		lon += lonDelta

		coords = append(coords, Coordinate{
			Lat: float64(lat) / 1e5,
			Lon: float64(lon) / 1e5,
		})
	}

	return coords
}

// decodeValue decodes a single value from the polyline at the given index.
// Returns the decoded delta value and the new index position. ok is false
// when the value holds a byte outside the alphabet or is cut short.
func decodeValue(encoded string, index int) (value, next int, ok bool) {
	shift := 0
	result := 0

	for index < len(encoded) {
		c := encoded[index]
		if c < 63 || c > 126 || shift > 30 {
			return 0, index + 1, false
		}
		b := int(c) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			ok = true
			break
		}
	}

	// Apply two's complement for negative values
	if result&1 != 0 {
		return ^(result >> 1), index, ok
	}
	return result >> 1, index, ok
}

// Validate checks that encoded is a sequence of complete lat/lon pairs
// within coordinate ranges.
func Validate(encoded string) error {
	index, lat, lon := 0, 0, 0
	for n := 0; index < len(encoded); n++ {
		var dLat, dLon int
		var ok bool
		if dLat, index, ok = decodeValue(encoded, index); !ok {
			return fmt.Errorf("%w: bad latitude of point %d", ErrMalformed, n)
		}
		if index >= len(encoded) {
			return fmt.Errorf("%w: point %d has no longitude", ErrMalformed, n)
		}
		if dLon, index, ok = decodeValue(encoded, index); !ok {
			return fmt.Errorf("%w: bad longitude of point %d", ErrMalformed, n)
		}
		lat += dLat
		lon += dLon
		if lat < -90e5 || lat > 90e5 || lon < -180e5 || lon > 180e5 {
			return fmt.Errorf("%w: point %d out of range", ErrMalformed, n)
		}
	}
	return nil
}

// Length calculates the total length of a polyline in meters using the haversine formula.
func Length(coords []Coordinate) float64 {
	if len(coords) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(coords); i++ {
		total += haversineDistance(coords[i-1], coords[i])
	}
	return total
}

// Sample returns coordinates sampled at approximately the specified interval along the polyline.
// The first and last coordinates are always included.
func Sample(coords []Coordinate, intervalMeters float64) []Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if intervalMeters <= 0 {
		return coords
	}

	sampled := []Coordinate{coords[0]}
	accumulated := 0.0

	for i := 1; i < len(coords); i++ {
		a, b := coords[i-1], coords[i]
		segmentDist := haversineDistance(a, b)

		// pos is the distance from a of the last sample on this segment.
		pos := 0.0
		for accumulated+segmentDist-pos >= intervalMeters {
			pos += intervalMeters - accumulated
			fraction := pos / segmentDist
			sampled = append(sampled, Coordinate{
				Lat: a.Lat + fraction*(b.Lat-a.Lat),
				Lon: a.Lon + fraction*(b.Lon-a.Lon),
			})
			accumulated = 0
		}

		accumulated += segmentDist - pos
	}

	// Always include the last point if it's not already included
	last := coords[len(coords)-1]
	if sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}

	return sampled
}

// haversineDistance calculates the distance between two coordinates in meters.
const earthRadiusMeters = 6371000

func haversineDistance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
