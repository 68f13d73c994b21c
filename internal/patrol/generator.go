package patrol

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/patrol_tracker/internal/fleet"
	"github.com/relabs-tech/patrol_tracker/internal/geo"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
	"github.com/relabs-tech/patrol_tracker/internal/routing"
)

// ErrEmptyRoute means neither the provider nor the checkpoint fallback
// produced a single waypoint. The unit is left out of the simulation.
var ErrEmptyRoute = errors.New("patrol: empty route")

// Generator builds a randomized patrol loop for each unit.
type Generator struct {
	provider    routing.Provider
	rng         Rand
	tunables    *Tunables
	concurrency int
	metrics     *metrics.Metrics
}

// NewGenerator creates a generator. concurrency bounds the number of route
// requests in flight during Build.
func NewGenerator(provider routing.Provider, rng Rand, tunables *Tunables, concurrency int, m *metrics.Metrics) *Generator {
	if provider == nil {
		provider = routing.Unavailable{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Generator{
		provider:    provider,
		rng:         rng,
		tunables:    tunables,
		concurrency: concurrency,
		metrics:     m,
	}
}

// Checkpoints returns base, CheckpointCount random points within
// ±CheckpointOffsetDeg of base, and base again. A non-finite base yields nil.
func (g *Generator) Checkpoints(base geo.Point) []geo.Point {
	if !finite(base.Lat) || !finite(base.Lng) {
		return nil
	}
	p := g.tunables.Load()

	points := make([]geo.Point, 0, p.CheckpointCount+2)
	points = append(points, base)
	for i := 0; i < p.CheckpointCount; i++ {
		dLat := uniform(g.rng, -p.CheckpointOffsetDeg, p.CheckpointOffsetDeg)
		dLng := uniform(g.rng, -p.CheckpointOffsetDeg, p.CheckpointOffsetDeg)
		points = append(points, geo.Offset(base, dLat, dLng))
	}
	points = append(points, base)
	return points
}

// Generate builds the route and initial state for one unit. fallback is true
// when the provider failed and the straight-line checkpoint loop is used.
// ErrEmptyRoute is returned when the unit must be skipped.
func (g *Generator) Generate(ctx context.Context, unitID string, base geo.Point, status fleet.Status) (track *Track, fallback bool, err error) {
	checkpoints := g.Checkpoints(base)

	route, err := g.provider.Route(ctx, checkpoints)
	if err == nil && len(route) == 0 {
		err = routing.ErrNoRoute
	}
	if err != nil {
		log.WithFields(log.Fields{"unit": unitID}).WithError(err).
			Warn("tracker: route unavailable, using straight-line checkpoints")
		route = checkpoints
		fallback = true
	}
	if len(route) == 0 {
		return nil, fallback, ErrEmptyRoute
	}

	p := g.tunables.Load()
	band := p.PatrolSpeed
	if status.Emergency() {
		band = p.EmergencySpeed
	}
	speed := uniform(g.rng, band.MinKmh, band.MaxKmh)

	start := g.rng.Intn(len(route))

	return &Track{
		Route: Route(route),
		State: &State{
			UnitID:        unitID,
			WaypointIndex: start,
			Progress:      0,
			SpeedKmh:      speed,
			Position:      route[start],
			Bearing:       0,
		},
		Emergency: status.Emergency(),
	}, fallback, nil
}

// BuildResult is the outcome of generating tracks for a unit snapshot.
type BuildResult struct {
	Tracks    map[string]*Track
	Fallbacks int
	Skipped   []string
}

// Build generates tracks for all units with at most concurrency route requests
// in flight. Failures are per unit and never abort the build.
func (g *Generator) Build(ctx context.Context, units []fleet.Unit) BuildResult {
	res := BuildResult{Tracks: make(map[string]*Track, len(units))}
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)

	for _, u := range units {
		u := u // per-iteration copy: keeps Go 1.22+ loop semantics under the go 1.21 directive
		eg.Go(func() error {
			track, fallback, err := g.Generate(ctx, u.ID, u.Base(), u.Status)

			mu.Lock()
			defer mu.Unlock()
			if fallback {
				res.Fallbacks++
				g.metrics.IncFallback()
			}
			if err != nil {
				log.WithFields(log.Fields{"unit": u.ID}).WithError(err).
					Error("tracker: failed to generate route, unit skipped")
				res.Skipped = append(res.Skipped, u.ID)
				g.metrics.IncSkipped()
				return nil
			}
			res.Tracks[u.ID] = track
			return nil
		})
	}
	_ = eg.Wait()

	sort.Strings(res.Skipped)
	return res
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
