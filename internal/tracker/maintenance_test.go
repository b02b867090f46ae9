package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-tracker/internal/clock"
	"vehicle-tracker/internal/geo"
	"vehicle-tracker/internal/ingest"
	"vehicle-tracker/internal/poscache"
	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/vehicle"
)

type coverageRecorder struct {
	feeds []string
	days  []time.Time
	rows  [][]routes.LineCoverage
	err   error
}

func (c *coverageRecorder) WriteCoverage(_ context.Context, feed string, day time.Time, rows []routes.LineCoverage) error {
	c.feeds = append(c.feeds, feed)
	c.days = append(c.days, day)
	c.rows = append(c.rows, rows)
	return c.err
}

type purger struct {
	before []time.Time
	err    error
}

func (p *purger) PurgeJobExecutions(_ context.Context, before time.Time) (int64, error) {
	p.before = append(p.before, before)
	return 7, p.err
}

func coverageManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	g := geometry(t)
	require.NoError(t, g.Reload(context.Background()))
	opts.Geometry = g
	opts.Clock = clock.NewMock(now)
	m := NewManager(opts)
	f := &staticFetcher{raws: []vehicle.RawPosition{
		raw("A", "100", geo.Offset(origin, 30, 500), now.Add(-time.Minute)),
		raw("B", "100", geo.Offset(origin, 1000, 500), now.Add(-time.Minute)),
		raw("C", "100", geo.Offset(origin, -100, 200), now.Add(-time.Minute)),
		raw("D", "999", origin, now.Add(-time.Minute)),
	}}
	require.NoError(t, m.AddFeed(ingest.Config{Feed: "rio"}, ingest.Deps{Fetcher: f}))
	require.NoError(t, m.feeds["rio"].loop.Step(context.Background()).Err)
	return m
}

func TestCoverageReport(t *testing.T) {
	m := coverageManager(t, Options{})

	rows, err := m.CoverageReport("rio")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, routes.LineCoverage{LineID: "100", Sampled: 3, Unmatched: 1, UnmatchedPct: 33.33}, rows[0])
	assert.Equal(t, routes.LineCoverage{LineID: "999", Sampled: 1, Unmatched: 1, UnmatchedPct: 100}, rows[1])

	_, err = m.CoverageReport("sp")
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestCoverageCapsSamplePerLine(t *testing.T) {
	g := geometry(t)
	require.NoError(t, g.Reload(context.Background()))
	e := routes.NewEngine(g, 300)
	snap := poscache.Snapshot{"100": make([]vehicle.Position, 10)}
	for i := range snap["100"] {
		p := geo.Offset(origin, 10, float64(i*50))
		snap["100"][i] = vehicle.Position{VehicleID: "A", LineID: "100", Lat: p.Lat, Lon: p.Lon}
	}
	rows := Coverage(e, snap, 4)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].Sampled)
	assert.Zero(t, rows[0].Unmatched)
}

func TestCoverageWithoutGeometry(t *testing.T) {
	m := NewManager(Options{})
	f := &staticFetcher{raws: []vehicle.RawPosition{raw("A", "100", origin, time.Now())}}
	require.NoError(t, m.AddFeed(ingest.Config{Feed: "rio"}, ingest.Deps{Fetcher: f}))
	require.NoError(t, m.feeds["rio"].loop.Step(context.Background()).Err)

	rows, err := m.CoverageReport("rio")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 100.0, rows[0].UnmatchedPct)
}

func TestMaintainWritesCoverageAndPurgesJobLogs(t *testing.T) {
	cov := &coverageRecorder{}
	jobs := &purger{}
	m := coverageManager(t, Options{Coverage: cov, JobLogs: jobs, JobLogRetention: 30 * 24 * time.Hour})

	m.Maintain(context.Background())

	require.Equal(t, []string{"rio"}, cov.feeds)
	assert.Equal(t, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), cov.days[0])
	assert.Len(t, cov.rows[0], 2)
	require.Len(t, jobs.before, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), jobs.before[0])
}

func TestMaintainKeepsGoingAfterFailures(t *testing.T) {
	cov := &coverageRecorder{err: errors.New("db down")}
	jobs := &purger{err: errors.New("db down")}
	m := coverageManager(t, Options{Coverage: cov, JobLogs: jobs, JobLogRetention: time.Hour})

	m.Maintain(context.Background())
	assert.Len(t, cov.feeds, 1)
	assert.Len(t, jobs.before, 1)
}

func TestMaintainSkipsPurgeWithoutRetention(t *testing.T) {
	jobs := &purger{}
	m := coverageManager(t, Options{JobLogs: jobs})
	m.Maintain(context.Background())
	assert.Empty(t, jobs.before)
}
