package fleet

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
)

// Type is the kind of unit.
type Type string

const (
	TypePatrol Type = "PATROL"
	TypeMedic  Type = "MEDIC"
)

// Status is the operational status of a unit.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusEmergency Status = "EMERGENCY"
	StatusIdle      Status = "IDLE"
)

// Emergency reports whether the unit is responding to an emergency.
func (s Status) Emergency() bool { return s == StatusEmergency }

// Unit is one patrol/medical unit as seen by the simulation: its base
// location and current status.
type Unit struct {
	ID       string  `json:"id"`
	Type     Type    `json:"type"`
	Status   Status  `json:"status"`
	Location string  `json:"location"` // neighborhood name
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// Base returns the unit's base location.
func (u Unit) Base() geo.Point { return geo.Point{Lat: u.Lat, Lng: u.Lng} }

// Source provides a snapshot of all known units. It is only consulted when the
// simulation is (re)generated.
type Source interface {
	Units(ctx context.Context) ([]Unit, error)
}

//go:embed seed.json
var seedJSON []byte

// Seed returns the built-in unit list.
func Seed() []Unit {
	var units []Unit
	if err := json.Unmarshal(seedJSON, &units); err != nil {
		panic(fmt.Sprintf("fleet: embedded seed is invalid: %v", err))
	}
	return units
}

// StaticSource always returns the same units.
type StaticSource []Unit

func (s StaticSource) Units(context.Context) ([]Unit, error) {
	out := make([]Unit, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads units from a JSON array on every call, so edits to the
// file are picked up on the next refresh.
type FileSource struct {
	Path string
}

func (f FileSource) Units(context.Context) ([]Unit, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read units file: %w", err)
	}
	units, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("units file %s: %w", f.Path, err)
	}
	return units, nil
}

// Decode parses and validates a JSON array of units.
func Decode(data []byte) ([]Unit, error) {
	var units []Unit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("invalid units JSON: %w", err)
	}
	seen := make(map[string]bool, len(units))
	for i, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("unit %d: id is required", i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("unit %q: duplicate id", u.ID)
		}
		seen[u.ID] = true
		if u.Lat < -90 || u.Lat > 90 || u.Lng < -180 || u.Lng > 180 {
			return nil, fmt.Errorf("unit %q: coordinates out of range (%f, %f)", u.ID, u.Lat, u.Lng)
		}
		switch u.Status {
		case StatusActive, StatusEmergency, StatusIdle:
		case "":
			units[i].Status = StatusActive
		default:
			return nil, fmt.Errorf("unit %q: unknown status %q", u.ID, u.Status)
		}
	}
	return units, nil
}

// Statistics summarizes a unit snapshot.
type Statistics struct {
	TotalUnits     int `json:"totalUnits"`
	ActiveUnits    int `json:"activeUnits"`
	EmergencyUnits int `json:"emergencyUnits"`
	IdleUnits      int `json:"idleUnits"`
	PatrolUnits    int `json:"patrolUnits"`
	MedicUnits     int `json:"medicUnits"`
}

// Stats counts units by status and type.
func Stats(units []Unit) Statistics {
	st := Statistics{TotalUnits: len(units)}
	for _, u := range units {
		switch u.Status {
		case StatusActive:
			st.ActiveUnits++
		case StatusEmergency:
			st.EmergencyUnits++
		case StatusIdle:
			st.IdleUnits++
		}
		switch u.Type {
		case TypePatrol:
			st.PatrolUnits++
		case TypeMedic:
			st.MedicUnits++
		}
	}
	return st
}
