package poscache

import (
	"sort"
	"time"
)

const DefaultActiveWindow = 48 * time.Hour

// LineSummary is the activity of one line at a point in time.
type LineSummary struct {
	LineID         string    `json:"line_id"`
	LastUpdate     time.Time `json:"last_update,omitzero"`
	Active         bool      `json:"active"`
	Vehicles       int       `json:"vehicles"`
	ActiveVehicles int       `json:"active_vehicles"`
}

// Summary reports per-line activity. A vehicle or line is active when its
// newest event time is within window of now. knownLines adds lines that have
// geometry but no vehicles yet. Lines are ordered by last update, newest
// first; lines never updated come last, by id.
func (c *Cache) Summary(now time.Time, window time.Duration, knownLines ...string) []LineSummary {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	cutoff := now.Add(-window)

	c.mu.RLock()
	byLine := make(map[string]*LineSummary, len(c.lines)+len(knownLines))
	for line, byVehicle := range c.lines {
		s := &LineSummary{LineID: line}
		for _, h := range byVehicle {
			if len(h) == 0 {
				continue
			}
			s.Vehicles++
			latest := h[0].EventTime
			if !latest.Before(cutoff) {
				s.ActiveVehicles++
			}
			if latest.After(s.LastUpdate) {
				s.LastUpdate = latest
			}
		}
		byLine[line] = s
	}
	c.mu.RUnlock()

	for _, line := range knownLines {
		if _, ok := byLine[line]; !ok {
			byLine[line] = &LineSummary{LineID: line}
		}
	}

	out := make([]LineSummary, 0, len(byLine))
	for _, s := range byLine {
		s.Active = !s.LastUpdate.IsZero() && !s.LastUpdate.Before(cutoff)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastUpdate.IsZero() && b.LastUpdate.IsZero():
			return a.LineID < b.LineID
		case a.LastUpdate.IsZero():
			return false
		case b.LastUpdate.IsZero():
			return true
		case !a.LastUpdate.Equal(b.LastUpdate):
			return a.LastUpdate.After(b.LastUpdate)
		default:
			return a.LineID < b.LineID
		}
	})
	return out
}
