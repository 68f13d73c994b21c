package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	// One thousandth of a degree of latitude is ~111.19 m everywhere.
	d := Haversine(Point{0, 0}, Point{0.001, 0})
	assert.InDelta(t, 111.19, d, 0.01)

	// Curitiba Centro Cívico to Batel, roughly 2.6 km.
	d = Haversine(Point{-25.4190, -49.2680}, Point{-25.4390, -49.2820})
	assert.InDelta(t, 2630, d, 30)

	assert.Zero(t, Haversine(Point{10, 20}, Point{10, 20}))
}

func TestHaversineSymmetric(t *testing.T) {
	a := Point{-25.44, -49.27}
	b := Point{-25.45, -49.25}
	assert.InDelta(t, Haversine(a, b), Haversine(b, a), 1e-9)
}

func TestBearing(t *testing.T) {
	o := Point{0, 0}
	cases := []struct {
		name string
		to   Point
		want float64
	}{
		{"north", Point{1, 0}, 0},
		{"east", Point{0, 1}, 90},
		{"south", Point{-1, 0}, 180},
		{"west", Point{0, -1}, 270},
		{"north-east", Point{1, 1}, 45},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Bearing(o, tc.to), 1e-9)
		})
	}
}

func TestBearingRange(t *testing.T) {
	pts := []Point{{0, 0}, {0.3, -0.7}, {-1e-12, -1}, {-5, 1e-15}, {2, 2}}
	for _, a := range pts {
		for _, b := range pts {
			got := Bearing(a, b)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, 360.0)
		}
	}
}

func TestLerp(t *testing.T) {
	a := Point{0, 0}
	b := Point{0.002, -0.004}
	assert.Equal(t, a, Lerp(a, b, 0))
	assert.Equal(t, b, Lerp(a, b, 1))

	mid := Lerp(a, b, 0.5)
	assert.InDelta(t, 0.001, mid.Lat, 1e-12)
	assert.InDelta(t, -0.002, mid.Lng, 1e-12)
}
