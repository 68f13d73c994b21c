package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
)

var checkpoints = []geo.Point{
	{Lat: -25.4190, Lng: -49.2680},
	{Lat: -25.4170, Lng: -49.2700},
	{Lat: -25.4210, Lng: -49.2650},
	{Lat: -25.4150, Lng: -49.2660},
	{Lat: -25.4190, Lng: -49.2680},
}

const tripBody = `{
  "code": "Ok",
  "trips": [{
    "geometry": {"type": "LineString", "coordinates": [[-49.268, -25.419], [-49.2685, -25.4185], [-49.27, -25.417]]},
    "distance": 1234.5
  }]
}`

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMapboxRoute(t *testing.T) {
	srv := serve(t, http.StatusOK, tripBody, func(r *http.Request) {
		assert.Equal(t, "/optimized-trips/v1/mapbox/driving/-49.268000,-25.419000;-49.270000,-25.417000;-49.265000,-25.421000;-49.266000,-25.415000;-49.268000,-25.419000", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("roundtrip"))
		assert.Equal(t, "first", q.Get("source"))
		assert.Equal(t, "last", q.Get("destination"))
		assert.Equal(t, "geojson", q.Get("geometries"))
		assert.Equal(t, "secret", q.Get("access_token"))
	})

	points, err := NewMapbox(srv.URL, "secret", time.Second).Route(context.Background(), checkpoints)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, geo.Point{Lat: -25.419, Lng: -49.268}, points[0])
	assert.Equal(t, geo.Point{Lat: -25.417, Lng: -49.27}, points[2])
}

func TestOSRMRoute(t *testing.T) {
	srv := serve(t, http.StatusOK, tripBody, func(r *http.Request) {
		assert.Contains(t, r.URL.Path, "/trip/v1/driving/")
		assert.Equal(t, "true", r.URL.Query().Get("roundtrip"))
	})

	points, err := NewOSRM(srv.URL+"/", time.Second).Route(context.Background(), checkpoints)
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestRouteFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"empty trips", http.StatusOK, `{"code":"Ok","trips":[]}`},
		{"no geometry", http.StatusOK, `{"code":"Ok","trips":[{}]}`},
		{"empty line", http.StatusOK, `{"code":"Ok","trips":[{"geometry":{"type":"LineString","coordinates":[]}}]}`},
		{"wrong geometry", http.StatusOK, `{"code":"Ok","trips":[{"geometry":{"type":"Point","coordinates":[1,2]}}]}`},
		{"error code", http.StatusOK, `{"code":"NoTrips","message":"no trips"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Not Authorized - Invalid Token"}`},
		{"malformed", http.StatusOK, `{"trips":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body, nil)
			_, err := NewMapbox(srv.URL, "x", time.Second).Route(context.Background(), checkpoints)
			assert.Error(t, err)
		})
	}
}

func TestEmptyTripsIsErrNoRoute(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"code":"Ok","trips":[]}`, nil)
	_, err := NewOSRM(srv.URL, time.Second).Route(context.Background(), checkpoints)
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestRouteShortInputSkipsRequest(t *testing.T) {
	called := false
	srv := serve(t, http.StatusOK, tripBody, func(*http.Request) { called = true })

	one := []geo.Point{{Lat: 1, Lng: 2}}
	points, err := NewMapbox(srv.URL, "x", time.Second).Route(context.Background(), one)
	require.NoError(t, err)
	assert.Equal(t, one, points)
	assert.False(t, called)
}

func TestRouteUnreachable(t *testing.T) {
	srv := serve(t, http.StatusOK, tripBody, nil)
	srv.Close()

	_, err := NewOSRM(srv.URL, 200*time.Millisecond).Route(context.Background(), checkpoints)
	assert.Error(t, err)
}

func TestMapboxErrorsDoNotLeakToken(t *testing.T) {
	const token = "pk.secret-token-value"

	down := serve(t, http.StatusOK, tripBody, nil)
	down.Close()
	_, err := NewMapbox(down.URL, token, 200*time.Millisecond).Route(context.Background(), checkpoints)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.NotContains(t, err.Error(), "access_token")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	_, err = NewMapbox(slow.URL, token, 20*time.Millisecond).Route(context.Background(), checkpoints)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Route(context.Background(), checkpoints)
	assert.Error(t, err)
}
