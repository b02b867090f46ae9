package routes

import (
	"math"

	"vehicle-tracker/internal/geo"
)

// LineCoverage counts how many sampled points of a line had no direction
// within the snap cutoff.
type LineCoverage struct {
	LineID       string  `json:"line_id"`
	Sampled      int     `json:"sampled"`
	Unmatched    int     `json:"unmatched"`
	UnmatchedPct float64 `json:"unmatched_pct"`
}

// Coverage classifies pts against the geometry of line. Points on a line
// with no enabled geometry all count as unmatched.
func (e *Engine) Coverage(line string, pts []geo.Point) LineCoverage {
	c := LineCoverage{LineID: line, Sampled: len(pts)}
	for _, pt := range pts {
		if _, ok := e.Infer(line, pt); !ok {
			c.Unmatched++
		}
	}
	if c.Sampled > 0 {
		c.UnmatchedPct = math.Round(10000*float64(c.Unmatched)/float64(c.Sampled)) / 100
	}
	return c
}
