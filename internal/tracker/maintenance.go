package tracker

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/geo"
	"vehicle-tracker/internal/poscache"
	"vehicle-tracker/internal/routes"
)

// DefaultCoverageSample is the number of points sampled per line.
const DefaultCoverageSample = 100

// CoverageSink stores one coverage report per feed and day.
type CoverageSink interface {
	WriteCoverage(ctx context.Context, feed string, day time.Time, rows []routes.LineCoverage) error
}

// JobLogPurger deletes poll records older than a cutoff.
type JobLogPurger interface {
	PurgeJobExecutions(ctx context.Context, before time.Time) (int64, error)
}

// Coverage samples up to sample retained positions per line of snap and
// reports the share without a direction within the snap cutoff. Lines are
// sorted.
func Coverage(e *routes.Engine, snap poscache.Snapshot, sample int) []routes.LineCoverage {
	lines := make([]string, 0, len(snap))
	for line := range snap {
		lines = append(lines, line)
	}
	sort.Strings(lines)

	out := make([]routes.LineCoverage, 0, len(lines))
	for _, line := range lines {
		ps := snap[line]
		idx := rand.Perm(len(ps))
		if sample > 0 && len(idx) > sample {
			idx = idx[:sample]
		}
		pts := make([]geo.Point, 0, len(idx))
		for _, i := range idx {
			pts = append(pts, geo.Point{Lat: ps[i].Lat, Lon: ps[i].Lon})
		}
		out = append(out, e.Coverage(line, pts))
	}
	return out
}

// CoverageReport runs Coverage over the current cache of feed. Without
// route geometry every sampled point is unmatched.
func (m *Manager) CoverageReport(feed string) ([]routes.LineCoverage, error) {
	rt, err := m.feed(feed)
	if err != nil {
		return nil, err
	}
	e := m.opts.Engine
	if e == nil {
		e = routes.NewEngine(routes.NewCache(nil, nil), 0)
	}
	return Coverage(e, rt.cache.Snapshot(), m.opts.CoverageSample), nil
}

// Maintain writes the coverage report of every feed and purges job
// records older than the retention. Failures are logged.
func (m *Manager) Maintain(ctx context.Context) {
	now := m.opts.Clock.Now()
	if m.opts.Coverage != nil {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		for _, name := range m.Feeds() {
			rows, err := m.CoverageReport(name)
			if err != nil || len(rows) == 0 {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, time.Minute)
			err = m.opts.Coverage.WriteCoverage(wctx, name, day, rows)
			cancel()
			if err != nil {
				log.Error().Err(err).Str("feed", name).Msg("coverage report write failed")
				continue
			}
			log.Info().Str("feed", name).Int("lines", len(rows)).Msg("coverage report written")
		}
	}
	if m.opts.JobLogs != nil && m.opts.JobLogRetention > 0 {
		pctx, cancel := context.WithTimeout(ctx, time.Minute)
		n, err := m.opts.JobLogs.PurgeJobExecutions(pctx, now.Add(-m.opts.JobLogRetention))
		cancel()
		switch {
		case err != nil:
			log.Error().Err(err).Msg("job log purge failed")
		case n > 0:
			log.Info().Int64("deleted", n).Str("retention", m.opts.JobLogRetention.String()).Msg("old job records purged")
		}
	}
}
