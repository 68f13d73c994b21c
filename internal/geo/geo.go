package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6371000.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Lerp interpolates linearly between a and b. This is a planar approximation,
// fine at street-segment scale.
func Lerp(a, b Point, t float64) Point {
	return Point{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// Bearing returns the heading from a to b in degrees, in [0, 360).
//
//	bearing = atan2(Δlng, Δlat)
//
// so 0° is north (increasing latitude) and 90° is east.
func Bearing(a, b Point) float64 {
	deg := toDegrees(math.Atan2(b.Lng-a.Lng, b.Lat-a.Lat))
	if deg < 0 {
		deg += 360
	}
	// -0.0 + 360 rounds to exactly 360 for tiny negative angles.
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

// Offset returns p shifted by the given number of degrees.
func Offset(p Point, dLat, dLng float64) Point {
	return Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }

func toDegrees(rad float64) float64 { return rad * 180.0 / math.Pi }
