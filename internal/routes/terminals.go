package routes

import (
	"github.com/tidwall/rtree"

	"vehicle-tracker/internal/geo"
)

// Terminal is a route endpoint near a queried point.
type Terminal struct {
	Direction      string
	RouteID        string
	Point          geo.Point
	DistanceMeters float64
}

type terminalRef struct {
	direction string
	routeID   string
	point     geo.Point
	order     int
}

type terminalIndex struct {
	tree rtree.RTreeG[terminalRef]
}

// buildTerminalIndex indexes the last vertex of every direction, then the
// first vertex of every direction. The insertion order breaks distance ties,
// so arrival ends win over departure ends at a shared point.
func buildTerminalIndex(geoms []Geometry) *terminalIndex {
	ti := &terminalIndex{}
	order := 0
	add := func(g Geometry, p geo.Point) {
		ref := terminalRef{direction: g.Direction, routeID: g.RouteID, point: p, order: order}
		order++
		pt := [2]float64{p.Lon, p.Lat}
		ti.tree.Insert(pt, pt, ref)
	}
	for _, g := range geoms {
		if p, ok := lastVertex(g); ok {
			add(g, p)
		}
	}
	for _, g := range geoms {
		if p, ok := firstVertex(g); ok {
			add(g, p)
		}
	}
	return ti
}

func firstVertex(g Geometry) (geo.Point, bool) {
	for _, part := range g.Parts {
		if len(part) > 0 {
			return part[0], true
		}
	}
	return geo.Point{}, false
}

func lastVertex(g Geometry) (geo.Point, bool) {
	for i := len(g.Parts) - 1; i >= 0; i-- {
		if n := len(g.Parts[i]); n > 0 {
			return g.Parts[i][n-1], true
		}
	}
	return geo.Point{}, false
}

// NearestTerminal returns the closest endpoint of any direction of line
// within radius meters of pt.
func (c *Cache) NearestTerminal(line string, pt geo.Point, radius float64) (Terminal, bool) {
	idx := c.current.Load()
	if idx == nil || !finite(pt) || radius < 0 {
		return Terminal{}, false
	}
	ti := idx.terminals[line]
	if ti == nil {
		return Terminal{}, false
	}
	min, max := geo.BoundsAround(pt, radius)

	var best terminalRef
	bestDist := 0.0
	found := false
	ti.tree.Search(min, max, func(_, _ [2]float64, ref terminalRef) bool {
		d := geo.Haversine(pt, ref.point)
		if d > radius {
			return true
		}
		if !found || d < bestDist || (d == bestDist && ref.order < best.order) {
			best, bestDist, found = ref, d, true
		}
		return true
	})
	if !found {
		return Terminal{}, false
	}
	return Terminal{
		Direction:      best.direction,
		RouteID:        best.routeID,
		Point:          best.point,
		DistanceMeters: bestDist,
	}, true
}
