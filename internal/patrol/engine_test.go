package patrol

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
)

const tick = 50 * time.Millisecond

// square is a small loop near the equator: north, east, south, west.
var square = Route{
	{Lat: 0, Lng: 0},
	{Lat: 0.001, Lng: 0},
	{Lat: 0.001, Lng: 0.001},
	{Lat: 0, Lng: 0.001},
}

func noStops() Params {
	p := DefaultParams()
	p.StopProbability = 0
	return p
}

func newEngine(t *testing.T, p Params, tracks map[string]*Track) (*Engine, *metrics.Metrics) {
	t.Helper()
	require.NoError(t, p.Validate())
	store := NewStore()
	store.Replace(tracks)
	m := metrics.New()
	return NewEngine(store, NewRand(1), NewTunables(p), m), m
}

func unitAt(id string, route Route, idx int, speedKmh float64) *Track {
	return &Track{
		Route: route,
		State: &State{UnitID: id, WaypointIndex: idx, SpeedKmh: speedKmh, Position: route[idx]},
	}
}

func TestStepFirstSegmentNorthThenEast(t *testing.T) {
	tr := unitAt("VTR-01", square, 0, 36) // 10 m/s, 0.5 m per tick
	e, _ := newEngine(t, noStops(), map[string]*Track{"VTR-01": tr})
	now := time.Unix(1700000000, 0)

	segment := geo.Haversine(square[0], square[1])
	wantInc := 0.5 / segment

	prev := 0.0
	for i := 0; i < 200; i++ {
		now = now.Add(tick)
		batch := e.Step(now, tick)
		require.Len(t, batch, 1)

		st := tr.State
		require.Equal(t, 0, st.WaypointIndex)
		assert.Greater(t, st.Progress, prev)
		assert.InDelta(t, wantInc, st.Progress-prev, 1e-9)
		prev = st.Progress

		assert.InDelta(t, 0.0, batch[0].Bearing, 1e-9)
		assert.Equal(t, st.Position.Lat, batch[0].Lat)
		assert.InDelta(t, 0.0, batch[0].Lng, 1e-12)
	}

	for tr.State.WaypointIndex == 0 {
		now = now.Add(tick)
		e.Step(now, tick)
	}
	require.Equal(t, 1, tr.State.WaypointIndex)
	assert.Equal(t, 0.0, tr.State.Progress)

	now = now.Add(tick)
	batch := e.Step(now, tick)
	assert.InDelta(t, 90.0, batch[0].Bearing, 1e-6)
	assert.InDelta(t, 0.001, batch[0].Lat, 1e-9)
	assert.Greater(t, batch[0].Lng, 0.0)
}

func TestClosedLoopReturnsToStart(t *testing.T) {
	d := geo.Haversine(square[0], square[1])
	step := d / 199.9
	speedKmh := step / tick.Seconds() * 3.6

	tr := unitAt("VTR-05", square, 0, speedKmh)
	e, _ := newEngine(t, noStops(), map[string]*Track{"VTR-05": tr})

	n := int(math.Ceil(4 * d / step))
	now := time.Unix(1700000000, 0)
	for i := 0; i < n-1; i++ {
		now = now.Add(tick)
		e.Step(now, tick)
	}
	assert.Equal(t, 3, tr.State.WaypointIndex)

	e.Step(now.Add(tick), tick)
	assert.Equal(t, 0, tr.State.WaypointIndex)
	assert.LessOrEqual(t, tr.State.Progress, step/d)
	assert.Equal(t, square[0], tr.State.Position)
}

func TestDegenerateSegmentNeverStalls(t *testing.T) {
	// Consecutive points ~0.1 m apart, as routing services often return.
	route := Route{
		{Lat: -25.4190000, Lng: -49.2680000},
		{Lat: -25.4190009, Lng: -49.2680000},
		{Lat: -25.4200000, Lng: -49.2680000},
	}
	require.Less(t, geo.Haversine(route[0], route[1]), 0.5)

	tr := unitAt("AMB-10", route, 0, 1) // crawling speed would take minutes otherwise
	e, _ := newEngine(t, noStops(), map[string]*Track{"AMB-10": tr})

	e.Step(time.Now(), tick)
	assert.Equal(t, 1, tr.State.WaypointIndex)
	assert.Equal(t, 0.0, tr.State.Progress)
	assert.Equal(t, route[1], tr.State.Position)
}

func TestZeroLengthSegmentKeepsBearing(t *testing.T) {
	route := Route{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.001}, {Lat: 0, Lng: 0.001}}
	tr := unitAt("VTR-08", route, 0, 3600)
	e, _ := newEngine(t, noStops(), map[string]*Track{"VTR-08": tr})

	now := time.Now()
	for tr.State.WaypointIndex == 0 {
		now = now.Add(tick)
		e.Step(now, tick)
	}
	// Now sitting on the duplicated point; heading stays east.
	assert.Equal(t, 1, tr.State.WaypointIndex)
	assert.InDelta(t, 90.0, tr.State.Bearing, 1e-6)
}

func TestStepInvariants(t *testing.T) {
	rng := NewRand(7)
	tracks := map[string]*Track{}
	for _, id := range []string{"A", "B", "C", "D"} {
		route := make(Route, 2+rng.Intn(20))
		for i := range route {
			route[i] = geo.Point{Lat: -25.4 + (rng.Float64()-0.5)*0.01, Lng: -49.2 + (rng.Float64()-0.5)*0.01}
		}
		tracks[id] = unitAt(id, route, rng.Intn(len(route)), 30+rng.Float64()*50)
	}
	p := DefaultParams()
	p.StopProbability = 0.3
	e, _ := newEngine(t, p, tracks)

	now := time.Unix(1700000000, 0)
	for i := 0; i < 5000; i++ {
		now = now.Add(tick)
		batch := e.Step(now, tick)
		require.Len(t, batch, len(tracks))
		for _, u := range batch {
			assert.GreaterOrEqual(t, u.Bearing, 0.0)
			assert.Less(t, u.Bearing, 360.0)
		}
		for _, tr := range tracks {
			st := tr.State
			require.GreaterOrEqual(t, st.WaypointIndex, 0)
			require.Less(t, st.WaypointIndex, len(tr.Route))
			require.GreaterOrEqual(t, st.Progress, 0.0)
			require.Less(t, st.Progress, 1.0)
		}
	}
}

func TestStopHoldsPosition(t *testing.T) {
	p := DefaultParams()
	p.StopProbability = 1

	tr := unitAt("VTR-11", square, 0, 36)
	tr.State.Progress = 0.9999 // next tick crosses into segment 1
	e, m := newEngine(t, p, map[string]*Track{"VTR-11": tr})

	now := time.Unix(1700000000, 0)
	e.Step(now, tick)

	st := tr.State
	require.Equal(t, 1, st.WaypointIndex)
	require.False(t, st.ResumeAt.IsZero())
	assert.False(t, st.ResumeAt.Before(now.Add(5000*time.Millisecond)))
	assert.False(t, st.ResumeAt.After(now.Add(13000*time.Millisecond)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stops))

	held := st.Position
	heldBearing := st.Bearing
	resume := st.ResumeAt
	for at := now.Add(tick); at.Before(resume); at = at.Add(250 * time.Millisecond) {
		batch := e.Step(at, tick)
		require.Len(t, batch, 1)
		assert.Equal(t, held.Lat, batch[0].Lat)
		assert.Equal(t, held.Lng, batch[0].Lng)
		assert.Equal(t, heldBearing, batch[0].Bearing)
		assert.Equal(t, 0.0, st.Progress)
	}

	batch := e.Step(resume, tick)
	assert.NotEqual(t, held.Lng, batch[0].Lng)
	assert.True(t, st.ResumeAt.IsZero())
}

func TestStepIsolatesFaults(t *testing.T) {
	good := unitAt("GOOD", square, 0, 40)
	bad := &Track{Route: square, State: &State{UnitID: "BAD", WaypointIndex: 99, SpeedKmh: 40}}
	orphan := &Track{Route: square}
	e, m := newEngine(t, noStops(), map[string]*Track{"GOOD": good, "BAD": bad, "ORPHAN": orphan})

	batch := e.Step(time.Now(), tick)
	require.Len(t, batch, 1)
	assert.Equal(t, "GOOD", batch[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitFaults))
}

func TestStepEmptyStore(t *testing.T) {
	e, _ := newEngine(t, noStops(), nil)
	batch := e.Step(time.Now(), tick)
	assert.NotNil(t, batch)
	assert.Empty(t, batch)
}

func TestStepSingleWaypointRoute(t *testing.T) {
	route := Route{{Lat: 1, Lng: 2}}
	tr := unitAt("SOLO", route, 0, 40)
	e, _ := newEngine(t, noStops(), map[string]*Track{"SOLO": tr})

	batch := e.Step(time.Now(), tick)
	require.Len(t, batch, 1)
	assert.Equal(t, 0, tr.State.WaypointIndex)
	assert.Equal(t, 1.0, batch[0].Lat)
	assert.Equal(t, 2.0, batch[0].Lng)
}
