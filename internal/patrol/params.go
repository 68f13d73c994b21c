package patrol

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// SpeedBand is a uniform speed range in km/h.
type SpeedBand struct {
	MinKmh float64
	MaxKmh float64
}

// Params holds the simulation tunables.
type Params struct {
	TickInterval time.Duration

	// Traffic stops, drawn at each waypoint crossing.
	StopProbability float64
	StopMin         time.Duration
	StopMax         time.Duration

	// Segments shorter than this are crossed in a single tick.
	DegenerateSegmentMeters float64

	// Random checkpoints around the base. 0.005° is roughly 500 m.
	CheckpointOffsetDeg float64
	CheckpointCount     int

	PatrolSpeed    SpeedBand
	EmergencySpeed SpeedBand
}

// DefaultParams returns the reference values: 20 Hz ticks, 2% stop chance for
// 5-13 s, 0.5 m degenerate threshold, 3 checkpoints within ±0.005°,
// 30-50 km/h on patrol and 60-80 km/h on emergencies.
func DefaultParams() Params {
	return Params{
		TickInterval:            50 * time.Millisecond,
		StopProbability:         0.02,
		StopMin:                 5000 * time.Millisecond,
		StopMax:                 13000 * time.Millisecond,
		DegenerateSegmentMeters: 0.5,
		CheckpointOffsetDeg:     0.005,
		CheckpointCount:         3,
		PatrolSpeed:             SpeedBand{MinKmh: 30, MaxKmh: 50},
		EmergencySpeed:          SpeedBand{MinKmh: 60, MaxKmh: 80},
	}
}

// Validate checks that the parameters keep the engine invariants.
func (p Params) Validate() error {
	if p.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", p.TickInterval)
	}
	if p.StopProbability < 0 || p.StopProbability > 1 {
		return fmt.Errorf("stop probability must be 0-1, got %f", p.StopProbability)
	}
	if p.StopMin < 0 || p.StopMax < p.StopMin {
		return fmt.Errorf("stop duration range invalid: %s-%s", p.StopMin, p.StopMax)
	}
	if p.DegenerateSegmentMeters < 0 {
		return fmt.Errorf("degenerate segment threshold must be >= 0, got %f", p.DegenerateSegmentMeters)
	}
	if p.CheckpointOffsetDeg <= 0 {
		return fmt.Errorf("checkpoint offset must be positive, got %f", p.CheckpointOffsetDeg)
	}
	if p.CheckpointCount < 1 {
		return fmt.Errorf("checkpoint count must be at least 1, got %d", p.CheckpointCount)
	}
	for name, b := range map[string]SpeedBand{"patrol": p.PatrolSpeed, "emergency": p.EmergencySpeed} {
		if b.MinKmh <= 0 || b.MaxKmh < b.MinKmh {
			return fmt.Errorf("%s speed band invalid: %.1f-%.1f km/h", name, b.MinKmh, b.MaxKmh)
		}
	}
	return nil
}

// Tunables shares Params between the generator and the engine and lets them
// be swapped while the simulation runs.
type Tunables struct {
	p atomic.Pointer[Params]
}

func NewTunables(p Params) *Tunables {
	t := &Tunables{}
	t.Store(p)
	return t
}

func (t *Tunables) Load() Params { return *t.p.Load() }

func (t *Tunables) Store(p Params) { t.p.Store(&p) }

// Rand is the random source used for checkpoints, speeds, start positions
// and stops. Tests inject scripted sources to force branches.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// lockedRand makes a *rand.Rand safe for the generator's worker pool.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe source seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// uniform draws from [lo, hi).
func uniform(r Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}
