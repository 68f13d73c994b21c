package patrol

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
)

// Update is one unit's position in a tick batch.
type Update struct {
	ID      string  `json:"id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Bearing float64 `json:"bearing"`
}

// Batch is everything published for one tick.
type Batch []Update

// Broadcaster delivers a batch to subscribers of topic. Publish must return
// promptly; a slow transport drops batches rather than stalling the tick.
type Broadcaster interface {
	Publish(topic string, batch Batch)
}

// Engine advances every unit along its route once per tick. It performs no
// I/O; the only shared data it touches is the Store.
type Engine struct {
	store    *Store
	rng      Rand
	tunables *Tunables
	metrics  *metrics.Metrics
}

func NewEngine(store *Store, rng Rand, tunables *Tunables, m *metrics.Metrics) *Engine {
	return &Engine{store: store, rng: rng, tunables: tunables, metrics: m}
}

// Step advances all units by dt as of now and returns the batch. Units that
// disappear during the pass or fault while being processed are omitted.
func (e *Engine) Step(now time.Time, dt time.Duration) Batch {
	p := e.tunables.Load()
	ids := e.store.IDs()
	batch := make(Batch, 0, len(ids))

	for _, id := range ids {
		track, ok := e.store.Get(id)
		if !ok || track == nil || track.State == nil || len(track.Route) == 0 {
			log.WithField("unit", id).Debug("tracker: unit removed during tick, skipped")
			continue
		}
		u, err := e.advance(track, now, dt, p)
		if err != nil {
			e.metrics.IncUnitFault()
			log.WithField("unit", id).WithError(err).Warn("tracker: unit fault, omitted from tick")
			continue
		}
		batch = append(batch, u)
	}
	return batch
}

// advance moves one unit. A panic inside is turned into an error so the rest
// of the tick proceeds.
func (e *Engine) advance(t *Track, now time.Time, dt time.Duration, p Params) (u Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	st := t.State
	route := t.Route

	if st.Stopped(now) {
		return snapshot(st), nil
	}
	st.ResumeAt = time.Time{}

	// Out-of-range indices only happen if a state is paired with the wrong route.
	if st.WaypointIndex < 0 || st.WaypointIndex >= len(route) {
		return Update{}, fmt.Errorf("waypoint index %d out of range for route of %d points", st.WaypointIndex, len(route))
	}

	cur := route[st.WaypointIndex]
	nextIdx := route.next(st.WaypointIndex)
	segment := geo.Haversine(cur, route[nextIdx])

	traveled := st.SpeedKmh / 3.6 * dt.Seconds()

	increment := 1.0
	if segment >= p.DegenerateSegmentMeters && segment > 0 {
		increment = traveled / segment
	}
	st.Progress += increment

	if st.Progress >= 1.0 {
		st.Progress = 0
		st.WaypointIndex = nextIdx

		if e.rng.Float64() < p.StopProbability {
			ms := uniform(e.rng, float64(p.StopMin.Milliseconds()), float64(p.StopMax.Milliseconds()))
			st.ResumeAt = now.Add(time.Duration(ms) * time.Millisecond)
			e.metrics.IncStops()
		}
	}

	from := route[st.WaypointIndex]
	to := route[route.next(st.WaypointIndex)]

	st.Position = geo.Lerp(from, to, st.Progress)
	// A zero-length segment keeps the previous heading instead of snapping to north.
	if from != to {
		st.Bearing = geo.Bearing(from, to)
	}

	return snapshot(st), nil
}

func snapshot(st *State) Update {
	return Update{
		ID:      st.UnitID,
		Lat:     st.Position.Lat,
		Lng:     st.Position.Lng,
		Bearing: st.Bearing,
	}
}
