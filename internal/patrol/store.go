package patrol

import (
	"sort"
	"sync"
	"time"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
)

// Route is a closed patrol loop. The last waypoint connects back to the first.
// A Route is never modified after it is built.
type Route []geo.Point

// next returns the index after i, wrapping to 0 at the end of the loop.
func (r Route) next(i int) int { return (i + 1) % len(r) }

// State is the mutable per-unit simulation record. Only the tick loop writes it.
type State struct {
	UnitID        string
	WaypointIndex int     // 0 <= WaypointIndex < len(route)
	Progress      float64 // 0 <= Progress < 1 along the current segment
	SpeedKmh      float64
	Position      geo.Point
	Bearing       float64   // degrees, 0 <= Bearing < 360
	ResumeAt      time.Time // zero when not stopped
}

// Stopped reports whether the unit is holding position at now.
func (s *State) Stopped(now time.Time) bool {
	return !s.ResumeAt.IsZero() && now.Before(s.ResumeAt)
}

// Track pairs a unit's route with its simulation state. Tracks are fully
// built before they are put in a Store.
type Track struct {
	Route     Route
	State     *State
	Emergency bool // unit status at generation time
}

// Store maps unit ids to tracks. Refresh swaps the whole map in one step, so a
// tick never sees a partially built set; a tick that still holds tracks from
// the previous generation only mutates states that are being discarded.
type Store struct {
	mu     sync.RWMutex
	tracks map[string]*Track
}

func NewStore() *Store {
	return &Store{tracks: make(map[string]*Track)}
}

// Replace installs tracks as the new contents and returns the ids of units
// that were present before but are not anymore.
func (s *Store) Replace(tracks map[string]*Track) []string {
	if tracks == nil {
		tracks = make(map[string]*Track)
	}

	s.mu.Lock()
	old := s.tracks
	s.tracks = tracks
	s.mu.Unlock()

	var removed []string
	for id := range old {
		if _, ok := tracks[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Get returns the track for id.
func (s *Store) Get(id string) (*Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	return t, ok
}

// Delete removes a unit.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracks, id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// IDs returns the unit ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Emergencies returns the ids of units generated with an emergency status.
func (s *Store) Emergencies() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for id, t := range s.tracks {
		if t.Emergency {
			out[id] = true
		}
	}
	return out
}

// Routes returns the current route of every unit. Routes are immutable, so
// callers may keep them.
func (s *Store) Routes() map[string]Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Route, len(s.tracks))
	for id, t := range s.tracks {
		out[id] = t.Route
	}
	return out
}
