package patrol

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/patrol_tracker/internal/fleet"
	"github.com/relabs-tech/patrol_tracker/internal/geo"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
	"github.com/relabs-tech/patrol_tracker/internal/routing"
)

var base = geo.Point{Lat: -25.4480, Lng: -49.2770}

func newGenerator(provider routing.Provider, seed int64) *Generator {
	return NewGenerator(provider, NewRand(seed), NewTunables(DefaultParams()), 4, metrics.New())
}

func TestGenerateFallsBackToCheckpoints(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		for _, status := range []fleet.Status{fleet.StatusActive, fleet.StatusIdle, fleet.StatusEmergency} {
			g := newGenerator(routing.Unavailable{}, seed)

			tr, fallback, err := g.Generate(context.Background(), "AMB-10", base, status)
			require.NoError(t, err)
			assert.True(t, fallback)

			route := tr.Route
			require.Len(t, route, 5)
			assert.Equal(t, base, route[0])
			assert.Equal(t, base, route[4])
			for _, cp := range route[1:4] {
				assert.LessOrEqual(t, math.Abs(cp.Lat-base.Lat), 0.005+1e-12)
				assert.LessOrEqual(t, math.Abs(cp.Lng-base.Lng), 0.005+1e-12)
			}

			st := tr.State
			if status.Emergency() {
				assert.GreaterOrEqual(t, st.SpeedKmh, 60.0)
				assert.LessOrEqual(t, st.SpeedKmh, 80.0)
			} else {
				assert.GreaterOrEqual(t, st.SpeedKmh, 30.0)
				assert.LessOrEqual(t, st.SpeedKmh, 50.0)
			}

			assert.GreaterOrEqual(t, st.WaypointIndex, 0)
			assert.Less(t, st.WaypointIndex, 5)
			assert.Equal(t, route[st.WaypointIndex], st.Position)
			assert.Equal(t, 0.0, st.Progress)
			assert.Equal(t, 0.0, st.Bearing)
			assert.True(t, st.ResumeAt.IsZero())
		}
	}
}

func TestGenerateUsesProviderRoute(t *testing.T) {
	street := []geo.Point{
		base,
		{Lat: -25.4475, Lng: -49.2772},
		{Lat: -25.4470, Lng: -49.2760},
		{Lat: -25.4478, Lng: -49.2755},
		{Lat: -25.4485, Lng: -49.2765},
		{Lat: -25.4482, Lng: -49.2769},
	}
	var got []geo.Point
	provider := routing.ProviderFunc(func(_ context.Context, cps []geo.Point) ([]geo.Point, error) {
		got = cps
		return street, nil
	})

	tr, fallback, err := newGenerator(provider, 3).Generate(context.Background(), "VTR-03", base, fleet.StatusActive)
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Equal(t, Route(street), tr.Route)

	require.Len(t, got, 5)
	assert.Equal(t, base, got[0])
	assert.Equal(t, base, got[4])
}

func TestGenerateEmptyProviderResultFallsBack(t *testing.T) {
	provider := routing.ProviderFunc(func(context.Context, []geo.Point) ([]geo.Point, error) {
		return []geo.Point{}, nil
	})

	tr, fallback, err := newGenerator(provider, 3).Generate(context.Background(), "VTR-03", base, fleet.StatusActive)
	require.NoError(t, err)
	assert.True(t, fallback)
	assert.Len(t, tr.Route, 5)
}

func TestGenerateSkipsDegenerateBase(t *testing.T) {
	g := newGenerator(routing.Unavailable{}, 3)
	_, _, err := g.Generate(context.Background(), "GHOST", geo.Point{Lat: math.NaN(), Lng: 0}, fleet.StatusActive)
	assert.ErrorIs(t, err, ErrEmptyRoute)
}

func TestCheckpointCountIsConfigurable(t *testing.T) {
	p := DefaultParams()
	p.CheckpointCount = 6
	g := NewGenerator(nil, NewRand(1), NewTunables(p), 1, nil)
	assert.Len(t, g.Checkpoints(base), 8)
}

func TestBuild(t *testing.T) {
	units := fleet.Seed()
	units = append(units, fleet.Unit{ID: "GHOST", Lat: math.Inf(1), Lng: 0, Status: fleet.StatusActive})

	var calls atomic.Int32
	provider := routing.ProviderFunc(func(_ context.Context, cps []geo.Point) ([]geo.Point, error) {
		calls.Add(1)
		return nil, routing.ErrNoRoute
	})

	res := newGenerator(provider, 9).Build(context.Background(), units)
	assert.Len(t, res.Tracks, 15)
	assert.Equal(t, []string{"GHOST"}, res.Skipped)
	assert.Equal(t, 16, res.Fallbacks)
	assert.Equal(t, int32(16), calls.Load())

	for id, tr := range res.Tracks {
		assert.Equal(t, id, tr.State.UnitID)
		assert.Len(t, tr.Route, 5)
	}
}
