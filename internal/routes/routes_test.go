package routes

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-tracker/internal/geo"
)

var origin = geo.Point{Lat: -22.9035, Lon: -43.2096}

// eastWest runs 1 km east along the origin latitude; westEast runs back
// along a parallel street 200 m north.
func fixture() []Geometry {
	eastWest := []geo.Point{geo.Offset(origin, 0, 0), geo.Offset(origin, 0, 1000)}
	westEast := []geo.Point{geo.Offset(origin, 200, 1000), geo.Offset(origin, 200, 0)}
	return []Geometry{
		{LineID: "100", Direction: "IDA", RouteID: "r-ida", Enabled: true, Parts: [][]geo.Point{eastWest}},
		{LineID: "100", Direction: "VOLTA", RouteID: "r-volta", Enabled: true, Parts: [][]geo.Point{westEast}},
		{LineID: "200", Direction: "IDA", Enabled: false, Parts: [][]geo.Point{eastWest}},
		{LineID: "300", Direction: "IDA", Enabled: true},
	}
}

type recorder struct {
	calls int
	err   error
	lines int
}

func (r *recorder) GeometryReloaded(lines, rows int, _ time.Duration, err error) {
	r.calls++
	r.lines = lines
	r.err = err
}

func loadedCache(t *testing.T, geoms []Geometry) *Cache {
	t.Helper()
	c := NewCache(SourceFunc(func(context.Context) ([]Geometry, error) { return geoms, nil }), nil)
	require.NoError(t, c.Reload(context.Background()))
	return c
}

func TestReloadSkipsDisabledAndEmpty(t *testing.T) {
	rec := &recorder{}
	c := NewCache(SourceFunc(func(context.Context) ([]Geometry, error) { return fixture(), nil }), rec)
	assert.False(t, c.IsLoaded())
	require.NoError(t, c.Reload(context.Background()))
	assert.True(t, c.IsLoaded())
	assert.Equal(t, []string{"100"}, c.Lines())
	assert.Len(t, c.ByLine("100"), 2)
	assert.Empty(t, c.ByLine("200"))
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, rec.lines)
	assert.False(t, c.LoadedAt().IsZero())
}

func TestReloadFailureKeepsPreviousIndex(t *testing.T) {
	fail := false
	rec := &recorder{}
	c := NewCache(SourceFunc(func(context.Context) ([]Geometry, error) {
		if fail {
			return nil, errors.New("db down")
		}
		return fixture(), nil
	}), rec)
	require.NoError(t, c.Reload(context.Background()))
	fail = true
	err := c.Reload(context.Background())
	require.Error(t, err)
	assert.Error(t, rec.err)
	assert.Len(t, c.ByLine("100"), 2)
}

func TestInferNotLoaded(t *testing.T) {
	c := NewCache(SourceFunc(func(context.Context) ([]Geometry, error) { return fixture(), nil }), nil)
	e := NewEngine(c, 300)
	_, ok := e.Infer("100", origin)
	assert.False(t, ok)
}

func TestInferPicksNearestDirection(t *testing.T) {
	e := NewEngine(loadedCache(t, fixture()), 300)

	m, ok := e.Infer("100", geo.Offset(origin, 30, 500))
	require.True(t, ok)
	assert.Equal(t, "IDA", m.Direction)
	assert.Equal(t, "r-ida", m.RouteID)
	assert.InDelta(t, 30, m.DistanceMeters, 0.5)

	m, ok = e.Infer("100", geo.Offset(origin, 180, 500))
	require.True(t, ok)
	assert.Equal(t, "VOLTA", m.Direction)
	assert.InDelta(t, 20, m.DistanceMeters, 0.5)
}

func TestInferCutoff(t *testing.T) {
	e := NewEngine(loadedCache(t, fixture()), 300)
	_, ok := e.Infer("100", geo.Offset(origin, -310, 500))
	assert.False(t, ok)
	m, ok := e.Infer("100", geo.Offset(origin, -290, 500))
	require.True(t, ok)
	assert.Equal(t, "IDA", m.Direction)
}

func TestCoverage(t *testing.T) {
	e := NewEngine(loadedCache(t, fixture()), 300)
	pts := []geo.Point{
		geo.Offset(origin, 30, 500),
		geo.Offset(origin, 180, 500),
		geo.Offset(origin, -400, 500),
	}
	c := e.Coverage("100", pts)
	assert.Equal(t, LineCoverage{LineID: "100", Sampled: 3, Unmatched: 1, UnmatchedPct: 33.33}, c)

	c = e.Coverage("200", pts[:2])
	assert.Equal(t, 2, c.Unmatched, "disabled geometry matches nothing")
	assert.Equal(t, 100.0, c.UnmatchedPct)

	assert.Equal(t, LineCoverage{LineID: "100"}, e.Coverage("100", nil))
}

func TestInferUnknownLineAndNaN(t *testing.T) {
	e := NewEngine(loadedCache(t, fixture()), 300)
	_, ok := e.Infer("999", origin)
	assert.False(t, ok)
	_, ok = e.Infer("100", geo.Point{Lat: math.NaN(), Lon: origin.Lon})
	assert.False(t, ok)
}

func TestInferTieKeepsFirstLoaded(t *testing.T) {
	part := []geo.Point{geo.Offset(origin, 0, 0), geo.Offset(origin, 0, 1000)}
	geoms := []Geometry{
		{LineID: "7", Direction: "A", Enabled: true, Parts: [][]geo.Point{part}},
		{LineID: "7", Direction: "B", Enabled: true, Parts: [][]geo.Point{part}},
	}
	e := NewEngine(loadedCache(t, geoms), 300)
	m, ok := e.Infer("7", geo.Offset(origin, 10, 500))
	require.True(t, ok)
	assert.Equal(t, "A", m.Direction)
}

func TestMetricsSortedIgnoresCutoff(t *testing.T) {
	e := NewEngine(loadedCache(t, fixture()), 50)
	ms := e.Metrics("100", geo.Offset(origin, 140, 500))
	require.Len(t, ms, 2)
	assert.Equal(t, "VOLTA", ms[0].Direction)
	assert.Equal(t, "IDA", ms[1].Direction)
	assert.LessOrEqual(t, ms[0].DistanceMeters, ms[1].DistanceMeters)
	_, ok := e.Infer("100", geo.Offset(origin, 140, 500))
	assert.False(t, ok)
}

func TestNearestTerminal(t *testing.T) {
	c := loadedCache(t, fixture())

	// IDA ends 1 km east; VOLTA starts 200 m north of there.
	tm, ok := c.NearestTerminal("100", geo.Offset(origin, 10, 1000), 100)
	require.True(t, ok)
	assert.Equal(t, "IDA", tm.Direction)
	assert.InDelta(t, 10, tm.DistanceMeters, 0.5)

	_, ok = c.NearestTerminal("100", geo.Offset(origin, 0, 500), 100)
	assert.False(t, ok)
	_, ok = c.NearestTerminal("999", origin, 100)
	assert.False(t, ok)
}

func TestNearestTerminalSharedPointPrefersArrival(t *testing.T) {
	a := origin
	b := geo.Offset(origin, 0, 1000)
	geoms := []Geometry{
		{LineID: "5", Direction: "IDA", Enabled: true, Parts: [][]geo.Point{{a, b}}},
		{LineID: "5", Direction: "VOLTA", Enabled: true, Parts: [][]geo.Point{{b, a}}},
	}
	c := loadedCache(t, geoms)
	tm, ok := c.NearestTerminal("5", b, 20)
	require.True(t, ok)
	assert.Equal(t, "IDA", tm.Direction)
	tm, ok = c.NearestTerminal("5", a, 20)
	require.True(t, ok)
	assert.Equal(t, "VOLTA", tm.Direction)
}

func TestParseRoutesYAML(t *testing.T) {
	enc := EncodePolyline([]geo.Point{{Lat: -22.9, Lon: -43.2}, {Lat: -22.91, Lon: -43.21}})
	doc := []byte(`
routes:
  - line: "100"
    direction: IDA
    route_id: r1
    polylines: ["` + enc + `"]
  - line: "100"
    direction: VOLTA
    enabled: false
    polylines: ["` + enc + `"]
  - line: "200"
    direction: IDA
    polylines: ["~"]
`)
	geoms, err := ParseRoutesYAML(doc)
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.True(t, geoms[0].Enabled)
	assert.False(t, geoms[1].Enabled)
	require.Len(t, geoms[0].Parts, 1)
	require.Len(t, geoms[0].Parts[0], 2)
	assert.InDelta(t, -22.91, geoms[0].Parts[0][1].Lat, 1e-5)
	assert.InDelta(t, -43.21, geoms[0].Parts[0][1].Lon, 1e-5)
}

func TestPartsFromGeoJSON(t *testing.T) {
	parts, err := PartsFromGeoJSON([]byte(`{"type":"LineString","coordinates":[[-43.2,-22.9],[-43.21,-22.91]]}`))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, geo.Point{Lat: -22.9, Lon: -43.2}, parts[0][0])

	parts, err = PartsFromGeoJSON([]byte(`{"type":"MultiLineString","coordinates":[[[-43.2,-22.9],[-43.21,-22.91]],[[-43.3,-22.8],[-43.31,-22.81]]]}`))
	require.NoError(t, err)
	assert.Len(t, parts, 2)

	_, err = PartsFromGeoJSON([]byte(`{"type":"Point","coordinates":[-43.2,-22.9]}`))
	assert.Error(t, err)
	_, err = PartsFromGeoJSON([]byte(`not json`))
	assert.Error(t, err)
}
