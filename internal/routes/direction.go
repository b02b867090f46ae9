package routes

import (
	"math"
	"sort"

	"vehicle-tracker/internal/geo"
)

const DefaultMaxSnapMeters = 300.0

// Match is the distance from a point to one candidate direction.
type Match struct {
	Direction      string
	RouteID        string
	DistanceMeters float64
}

// Engine picks the direction of travel for a point on a line.
type Engine struct {
	cache         *Cache
	maxSnapMeters float64
}

func NewEngine(cache *Cache, maxSnapMeters float64) *Engine {
	if maxSnapMeters <= 0 {
		maxSnapMeters = DefaultMaxSnapMeters
	}
	return &Engine{cache: cache, maxSnapMeters: maxSnapMeters}
}

func (e *Engine) MaxSnapMeters() float64 { return e.maxSnapMeters }

// Infer returns the nearest direction of line to pt. It reports false when
// the cache has not loaded yet, the line has no geometry, or the nearest
// direction is farther than the snap cutoff. Exact ties keep the candidate
// that was loaded first.
func (e *Engine) Infer(line string, pt geo.Point) (Match, bool) {
	var best Match
	found := false
	for _, m := range e.distances(line, pt) {
		if !found || m.DistanceMeters < best.DistanceMeters {
			best = m
			found = true
		}
	}
	if !found || best.DistanceMeters > e.maxSnapMeters {
		return Match{}, false
	}
	return best, true
}

// Metrics returns the distance to every candidate direction, nearest first,
// regardless of the snap cutoff.
func (e *Engine) Metrics(line string, pt geo.Point) []Match {
	ms := e.distances(line, pt)
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].DistanceMeters < ms[j].DistanceMeters })
	return ms
}

func (e *Engine) distances(line string, pt geo.Point) []Match {
	if !finite(pt) {
		return nil
	}
	candidates := e.cache.ByLine(line)
	if len(candidates) == 0 {
		return nil
	}
	out := make([]Match, 0, len(candidates))
	for _, g := range candidates {
		d := geo.PointToMultiPolyline(pt, g.Parts)
		if math.IsInf(d, 1) {
			continue
		}
		out = append(out, Match{Direction: g.Direction, RouteID: g.RouteID, DistanceMeters: d})
	}
	return out
}

func finite(p geo.Point) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) && !math.IsInf(p.Lat, 0) && !math.IsInf(p.Lon, 0)
}
