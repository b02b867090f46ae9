package geo

import "math"

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Haversine distance in meters
func Haversine(a, b Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// projector maps coordinates onto a local plane (meters) centred on an
// origin, using an equirectangular approximation.
type projector struct {
	origin Point
	cosLat float64
}

func newProjector(origin Point) projector {
	return projector{origin: origin, cosLat: math.Cos(origin.Lat * math.Pi / 180)}
}

func (p projector) xy(q Point) (x, y float64) {
	y = (q.Lat - p.origin.Lat) * math.Pi / 180 * earthRadiusMeters
	x = (q.Lon - p.origin.Lon) * math.Pi / 180 * earthRadiusMeters * p.cosLat
	return
}

// segmentDist2 is the squared planar distance from the projection origin to
// segment (a,b).
func (p projector) segmentDist2(a, b Point) float64 {
	x0, y0 := p.xy(a)
	x1, y1 := p.xy(b)
	dx := x1 - x0
	dy := y1 - y0
	segLen2 := dx*dx + dy*dy
	t := 0.0
	if segLen2 > 0 {
		t = -(x0*dx + y0*dy) / segLen2
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	px := x0 + t*dx
	py := y0 + t*dy
	return px*px + py*py
}

// PointToSegment returns the perpendicular distance in meters from pt to the
// segment a-b, or to the nearer endpoint when the foot of the perpendicular
// falls outside the segment.
func PointToSegment(pt, a, b Point) float64 {
	return math.Sqrt(newProjector(pt).segmentDist2(a, b))
}

// PointToPolyline returns the minimum distance in meters from pt to any
// segment of line. A single-vertex line degenerates to a point distance; an
// empty line is infinitely far.
func PointToPolyline(pt Point, line []Point) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Haversine(pt, line[0])
	}
	proj := newProjector(pt)
	best := math.MaxFloat64
	for i := 1; i < len(line); i++ {
		if d2 := proj.segmentDist2(line[i-1], line[i]); d2 < best {
			best = d2
		}
	}
	return math.Sqrt(best)
}

// PointToMultiPolyline is PointToPolyline over disjoint parts.
func PointToMultiPolyline(pt Point, parts [][]Point) float64 {
	best := math.Inf(1)
	for _, part := range parts {
		if d := PointToPolyline(pt, part); d < best {
			best = d
		}
	}
	return best
}

// Offset returns the point reached by moving north and east by the given
// number of meters. Small-distance approximation.
func Offset(p Point, northMeters, eastMeters float64) Point {
	dLat := northMeters / earthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (earthRadiusMeters * math.Cos(p.Lat*math.Pi/180)) * 180 / math.Pi
	return Point{Lat: p.Lat + dLat, Lon: p.Lon + dLon}
}

// BoundsAround returns the lat/lon box of half-size radius meters around p,
// as (min, max) pairs ordered {lon, lat}.
func BoundsAround(p Point, radius float64) (min, max [2]float64) {
	sw := Offset(p, -radius, -radius)
	ne := Offset(p, radius, radius)
	return [2]float64{sw.Lon, sw.Lat}, [2]float64{ne.Lon, ne.Lat}
}
