// Package poscache keeps the few most recent positions of every vehicle,
// grouped by line, and can be snapshotted and restored for crash recovery.
package poscache

import (
	"sort"
	"sync"

	"vehicle-tracker/internal/vehicle"
)

const DefaultDepth = 3

// Snapshot is a serialisable copy of a cache: every retained position,
// keyed by line id.
type Snapshot map[string][]vehicle.Position

// Len counts the positions held by s.
func (s Snapshot) Len() int {
	n := 0
	for _, ps := range s {
		n += len(ps)
	}
	return n
}

// Cache is safe for concurrent use. The ingestion step is its only writer;
// the read API and the snapshot saver read it from other goroutines.
type Cache struct {
	depth int

	mu    sync.RWMutex
	lines map[string]map[string][]vehicle.Position
}

func New(depth int) *Cache {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Cache{depth: depth, lines: make(map[string]map[string][]vehicle.Position)}
}

// Put appends p to its (line, vehicle) history, re-sorts it newest first
// and keeps the newest depth entries.
func (c *Cache) Put(p vehicle.Position) {
	if p.LineID == "" || p.VehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(p)
}

func (c *Cache) put(p vehicle.Position) {
	byVehicle, ok := c.lines[p.LineID]
	if !ok {
		byVehicle = make(map[string][]vehicle.Position)
		c.lines[p.LineID] = byVehicle
	}
	h := append(byVehicle[p.VehicleID], clone(p))
	sort.SliceStable(h, func(i, j int) bool { return h[i].EventTime.After(h[j].EventTime) })
	if len(h) > c.depth {
		h = h[:c.depth]
	}
	byVehicle[p.VehicleID] = h
}

// Latest returns the newest position of every vehicle seen on line, ordered
// by vehicle id.
func (c *Cache) Latest(line string) []vehicle.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byVehicle := c.lines[line]
	out := make([]vehicle.Position, 0, len(byVehicle))
	for _, h := range byVehicle {
		if len(h) > 0 {
			out = append(out, clone(h[0]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// History returns the retained positions of one vehicle, newest first.
func (c *Cache) History(line, vehicleID string) []vehicle.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.lines[line][vehicleID]
	out := make([]vehicle.Position, len(h))
	for i, p := range h {
		out[i] = clone(p)
	}
	return out
}

// Lines returns the line ids with at least one vehicle, sorted.
func (c *Cache) Lines() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.lines))
	for line := range c.lines {
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the whole cache taken under one read lock.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(Snapshot, len(c.lines))
	for line, byVehicle := range c.lines {
		var ps []vehicle.Position
		for _, h := range byVehicle {
			for _, p := range h {
				ps = append(ps, clone(p))
			}
		}
		sort.SliceStable(ps, func(i, j int) bool {
			if ps[i].VehicleID != ps[j].VehicleID {
				return ps[i].VehicleID < ps[j].VehicleID
			}
			return ps[i].EventTime.After(ps[j].EventTime)
		})
		snap[line] = ps
	}
	return snap
}

// Restore clears the cache and replays Put for every position in snap, so
// the depth and ordering rules hold for restored data too.
func (c *Cache) Restore(snap Snapshot) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = make(map[string]map[string][]vehicle.Position)
	n := 0
	for line, ps := range snap {
		for _, p := range ps {
			if p.LineID == "" {
				p.LineID = line
			}
			if p.VehicleID == "" {
				continue
			}
			c.put(p)
			n++
		}
	}
	return n
}

func clone(p vehicle.Position) vehicle.Position {
	return p.WithDirection(p.Direction)
}
