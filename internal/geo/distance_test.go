package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var centro = Point{Lat: -22.9035, Lon: -43.2096}

func TestHaversineKnownDistance(t *testing.T) {
	// Centro to Niteroi, roughly 11 km apart.
	niteroi := Point{Lat: -22.8833, Lon: -43.1036}
	d := Haversine(centro, niteroi)
	assert.InDelta(t, 11060, d, 300)
	assert.Zero(t, Haversine(centro, centro))
}

func TestOffsetRoundTrip(t *testing.T) {
	q := Offset(centro, 100, 0)
	assert.InDelta(t, 100, Haversine(centro, q), 0.5)
	q = Offset(centro, 0, -250)
	assert.InDelta(t, 250, Haversine(centro, q), 0.5)
}

func TestPointToSegmentPerpendicular(t *testing.T) {
	a := Offset(centro, 0, -500)
	b := Offset(centro, 0, 500)
	pt := Offset(centro, 40, 0)
	// Nearest vertex is 500m away; the perpendicular foot is 40m away.
	assert.InDelta(t, 40, PointToSegment(pt, a, b), 0.5)
}

func TestPointToSegmentBeyondEndpoint(t *testing.T) {
	a := centro
	b := Offset(centro, 0, 100)
	pt := Offset(centro, 0, 160)
	assert.InDelta(t, 60, PointToSegment(pt, a, b), 0.5)
}

func TestPointToPolyline(t *testing.T) {
	line := []Point{
		Offset(centro, 0, 0),
		Offset(centro, 0, 300),
		Offset(centro, 300, 300),
	}
	pt := Offset(centro, 150, 330)
	assert.InDelta(t, 30, PointToPolyline(pt, line), 0.5)

	assert.True(t, math.IsInf(PointToPolyline(pt, nil), 1))
	assert.InDelta(t, Haversine(pt, centro), PointToPolyline(pt, []Point{centro}), 1e-9)
}

func TestPointToMultiPolylinePicksNearestPart(t *testing.T) {
	far := []Point{Offset(centro, 1000, 0), Offset(centro, 1000, 100)}
	near := []Point{Offset(centro, 20, -50), Offset(centro, 20, 50)}
	assert.InDelta(t, 20, PointToMultiPolyline(centro, [][]Point{far, near}), 0.5)
	assert.True(t, math.IsInf(PointToMultiPolyline(centro, nil), 1))
}

func TestBoundsAroundContainsRadius(t *testing.T) {
	min, max := BoundsAround(centro, 100)
	assert.Less(t, min[0], centro.Lon)
	assert.Less(t, min[1], centro.Lat)
	assert.Greater(t, max[0], centro.Lon)
	assert.Greater(t, max[1], centro.Lat)
	north := Point{Lat: max[1], Lon: centro.Lon}
	assert.InDelta(t, 100, Haversine(centro, north), 0.5)
}
