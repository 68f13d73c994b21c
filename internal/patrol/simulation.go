// Package patrol simulates patrol units driving closed loops around their
// base and produces one batch of positions per tick.
//
// A refresh generates a randomized loop per unit (base, a few nearby random
// checkpoints, back to base), asks the routing provider for real streets,
// and falls back to straight lines when it cannot. The engine then advances
// each unit along its loop at its own speed, occasionally holding it still
// to mimic traffic stops.
package patrol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/fleet"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
	"github.com/relabs-tech/patrol_tracker/internal/routing"
)

// Options configures a Simulation.
type Options struct {
	Source      fleet.Source
	Provider    routing.Provider
	Broadcaster Broadcaster
	Topic       string
	Params      Params
	Concurrency int
	Rand        Rand // nil uses a time-seeded source
	Metrics     *metrics.Metrics
}

// RefreshReport describes a completed refresh.
type RefreshReport struct {
	Generation string    `json:"generation"`
	Units      int       `json:"units"`
	Simulated  int       `json:"simulated"`
	Fallbacks  int       `json:"fallbacks"`
	Skipped    []string  `json:"skipped,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
	Duration   string    `json:"duration"`
	At         time.Time `json:"at"`
}

// Simulation owns the store and drives refreshes and ticks.
type Simulation struct {
	source   fleet.Source
	out      Broadcaster
	topic    string
	tunables *Tunables
	store    *Store
	gen      *Generator
	engine   *Engine
	metrics  *metrics.Metrics

	refreshMu sync.Mutex
	latest    atomic.Pointer[Batch]
	report    atomic.Pointer[RefreshReport]
}

func New(opts Options) (*Simulation, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("patrol: unit source is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("patrol: %w", err)
	}
	if opts.Rand == nil {
		opts.Rand = NewRand(time.Now().UnixNano())
	}
	if opts.Topic == "" {
		opts.Topic = "vehicles"
	}

	tunables := NewTunables(opts.Params)
	store := NewStore()

	s := &Simulation{
		source:   opts.Source,
		out:      opts.Broadcaster,
		topic:    opts.Topic,
		tunables: tunables,
		store:    store,
		gen:      NewGenerator(opts.Provider, opts.Rand, tunables, opts.Concurrency, opts.Metrics),
		engine:   NewEngine(store, opts.Rand, tunables, opts.Metrics),
		metrics:  opts.Metrics,
	}
	empty := Batch{}
	s.latest.Store(&empty)
	return s, nil
}

// Refresh rebuilds every unit's route and state from a fresh unit snapshot and
// swaps them into the store. Concurrent calls run one after another. Ticks keep
// running on the previous set until the swap. Units that had a track but get
// none this time are removed. If the snapshot itself cannot be read, the
// current set is kept and the error returned.
//
// A refresh always runs to completion: cancelling ctx does not abort pending
// route requests, so a caller that goes away cannot swap in a set of
// straight-line fallbacks.
func (s *Simulation) Refresh(ctx context.Context) (RefreshReport, error) {
	ctx = context.WithoutCancel(ctx)

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := time.Now()
	gen := uuid.NewString()

	units, err := s.source.Units(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("load units: %w", err)
	}

	log.WithFields(log.Fields{"generation": gen, "units": len(units)}).
		Info("tracker: generating patrol routes")

	res := s.gen.Build(ctx, units)
	removed := s.store.Replace(res.Tracks)

	s.metrics.SetActiveUnits(len(res.Tracks))
	s.metrics.IncRefresh()

	report := RefreshReport{
		Generation: gen,
		Units:      len(units),
		Simulated:  len(res.Tracks),
		Fallbacks:  res.Fallbacks,
		Skipped:    res.Skipped,
		Removed:    removed,
		Duration:   time.Since(start).Round(time.Millisecond).String(),
		At:         start,
	}
	s.report.Store(&report)

	log.WithFields(log.Fields{
		"generation": gen,
		"simulated":  report.Simulated,
		"fallbacks":  report.Fallbacks,
		"skipped":    len(report.Skipped),
		"duration":   report.Duration,
	}).Info("tracker: simulation initialized")

	return report, nil
}

// Tick runs one engine step and hands the batch to the broadcaster. The batch
// is published even when empty.
func (s *Simulation) Tick(now time.Time) Batch {
	p := s.tunables.Load()

	start := time.Now()
	batch := s.engine.Step(now, p.TickInterval)
	s.metrics.ObserveTick(time.Since(start))

	s.latest.Store(&batch)
	if s.out != nil {
		s.out.Publish(s.topic, batch)
	}
	return batch
}

// Start performs the initial refresh and starts the tick loop. A failed
// initial refresh leaves the engine idling on an empty store.
func (s *Simulation) Start(ctx context.Context) *Ticker {
	if _, err := s.Refresh(ctx); err != nil {
		log.WithError(err).Error("tracker: initial refresh failed, engine idle until next refresh")
	}

	p := s.tunables.Load()
	log.Printf("tracker: ticking every %s on topic %q", p.TickInterval, s.topic)

	return Every(ctx, p.TickInterval, func(now time.Time) { s.Tick(now) })
}

// Run is Start followed by waiting for ctx to be done.
func (s *Simulation) Run(ctx context.Context) {
	t := s.Start(ctx)
	<-t.Done()
	log.Println("tracker: tick loop stopped")
}

// Latest returns the most recently produced batch.
func (s *Simulation) Latest() Batch { return *s.latest.Load() }

// LastRefresh returns the report of the last successful refresh, if any.
func (s *Simulation) LastRefresh() (RefreshReport, bool) {
	r := s.report.Load()
	if r == nil {
		return RefreshReport{}, false
	}
	return *r, true
}

// Routes returns the current route of every simulated unit.
func (s *Simulation) Routes() map[string]Route { return s.store.Routes() }

// Emergencies returns the ids of simulated units in an emergency status.
func (s *Simulation) Emergencies() map[string]bool { return s.store.Emergencies() }

// Units reads the current unit snapshot from the source.
func (s *Simulation) Units(ctx context.Context) ([]fleet.Unit, error) {
	return s.source.Units(ctx)
}

// Params returns the active tunables.
func (s *Simulation) Params() Params { return s.tunables.Load() }

// SetParams swaps the tunables. Stop and degenerate-segment settings apply from
// the next tick; checkpoint and speed settings from the next refresh. The tick
// interval is fixed once Run has started.
func (s *Simulation) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cur := s.tunables.Load()
	p.TickInterval = cur.TickInterval
	s.tunables.Store(p)
	return nil
}
