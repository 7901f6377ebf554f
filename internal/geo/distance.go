// Package geo provides great-circle distance between coordinate pairs.
package geo

import "math"

// earthRadiusMeters is the mean sphere radius used by the haversine formula.
const earthRadiusMeters = 6371000

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the haversine distance in meters between two points.
// The second return is false when either point is missing or non-numeric, so
// callers can tell "zero distance" apart from "cannot compute".
func Distance(a, b *Point) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	for _, v := range []float64{a.Lat, a.Lng, b.Lat, b.Lng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
	}

	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lng - a.Lng)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c, true
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
