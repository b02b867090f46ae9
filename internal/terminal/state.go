// Package terminal tracks, per vehicle, whether it is at, approaching or away
// from a route terminal, and flags vehicles that stopped reporting.
package terminal

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultVisitMeters     = 20.0
	DefaultProximityMeters = 100.0
	DefaultInactivity      = 15 * time.Minute
)

type Status string

const (
	StatusNeither     Status = "neither"
	StatusApproaching Status = "approaching"
	StatusAtTerminal  Status = "at_terminal"
)

// State is the externally visible terminal state of one vehicle. Approaching
// and a visit recorded by the current observation are mutually exclusive;
// LastTerminal and LastVisit keep the most recent confirmed visit as history.
type State struct {
	VehicleID        string    `json:"vehicle_id"`
	LineID           string    `json:"line_id"`
	Status           Status    `json:"status"`
	LastTerminal     string    `json:"last_terminal,omitempty"`
	LastVisit        time.Time `json:"last_visit,omitzero"`
	Approaching      string    `json:"approaching,omitempty"`
	ApproachDistance float64   `json:"approach_distance_m,omitempty"`
	ApproachingSince time.Time `json:"approaching_since,omitzero"`
	LastSeen         time.Time `json:"last_seen"`
	Inactive         bool      `json:"inactive"`
}

// Observation is one enriched position reduced to what the state machine
// needs. Found is false when no terminal lies within the proximity radius or
// the line has no geometry.
type Observation struct {
	VehicleID string
	LineID    string
	EventTime time.Time
	Found     bool
	Terminal  string
	Distance  float64
}

// Result describes what an observation did to a vehicle.
type Result struct {
	State State
	// Applied is false when the observation was older than the last one
	// applied for the vehicle.
	Applied bool
	// Changed is true when the status, the approached terminal or the visit
	// changed, or the vehicle came back from inactivity.
	Changed  bool
	Previous Status
}

type Table struct {
	visitMeters     float64
	proximityMeters float64

	mu       sync.RWMutex
	vehicles map[string]*State
}

func NewTable(visitMeters, proximityMeters float64) *Table {
	if visitMeters <= 0 {
		visitMeters = DefaultVisitMeters
	}
	if proximityMeters < visitMeters {
		proximityMeters = DefaultProximityMeters
		if proximityMeters < visitMeters {
			proximityMeters = visitMeters
		}
	}
	return &Table{
		visitMeters:     visitMeters,
		proximityMeters: proximityMeters,
		vehicles:        make(map[string]*State),
	}
}

func (t *Table) ProximityMeters() float64 { return t.proximityMeters }

func (t *Table) classify(o Observation) Status {
	switch {
	case !o.Found || o.Distance > t.proximityMeters:
		return StatusNeither
	case o.Distance <= t.visitMeters:
		return StatusAtTerminal
	default:
		return StatusApproaching
	}
}

// Apply runs one transition for the observed vehicle.
func (t *Table) Apply(o Observation) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.vehicles[o.VehicleID]
	if !ok {
		s = &State{VehicleID: o.VehicleID, Status: StatusNeither}
		t.vehicles[o.VehicleID] = s
	} else if o.EventTime.Before(s.LastSeen) {
		return Result{State: *s, Applied: false, Previous: s.Status}
	}

	prev := *s
	s.LineID = o.LineID
	s.LastSeen = o.EventTime
	s.Inactive = false

	switch t.classify(o) {
	case StatusAtTerminal:
		s.Status = StatusAtTerminal
		s.LastTerminal = o.Terminal
		s.LastVisit = o.EventTime
		s.Approaching = ""
		s.ApproachDistance = 0
		s.ApproachingSince = time.Time{}
	case StatusApproaching:
		if prev.Approaching != o.Terminal || prev.Approaching == "" {
			s.ApproachingSince = o.EventTime
		}
		s.Status = StatusApproaching
		s.Approaching = o.Terminal
		s.ApproachDistance = o.Distance
	default:
		s.Status = StatusNeither
		s.Approaching = ""
		s.ApproachDistance = 0
		s.ApproachingSince = time.Time{}
	}

	changed := !ok ||
		prev.Status != s.Status ||
		prev.Approaching != s.Approaching ||
		!prev.LastVisit.Equal(s.LastVisit) ||
		prev.Inactive
	return Result{State: *s, Applied: true, Changed: changed, Previous: prev.Status}
}

// Sweep marks every active vehicle whose last report is older than threshold
// as inactive and returns the newly deactivated states.
func (t *Table) Sweep(now time.Time, threshold time.Duration) []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []State
	for _, s := range t.vehicles {
		if s.Inactive || now.Sub(s.LastSeen) <= threshold {
			continue
		}
		s.Inactive = true
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

func (t *Table) Get(vehicleID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.vehicles[vehicleID]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// All returns every tracked vehicle sorted by id.
func (t *Table) All() []State {
	t.mu.RLock()
	out := make([]State, 0, len(t.vehicles))
	for _, s := range t.vehicles {
		out = append(out, *s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// Counts returns the number of tracked and inactive vehicles.
func (t *Table) Counts() (total, inactive int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.vehicles {
		if s.Inactive {
			inactive++
		}
	}
	return len(t.vehicles), inactive
}
