package routes

import (
	"fmt"

	geojson "github.com/paulmach/go.geojson"

	"vehicle-tracker/internal/geo"
)

// PartsFromGeoJSON converts a LineString or MultiLineString geometry into
// polyline parts. Positions are [lon, lat].
func PartsFromGeoJSON(raw []byte) ([][]geo.Point, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	switch g.Type {
	case geojson.GeometryLineString:
		return [][]geo.Point{toPoints(g.LineString)}, nil
	case geojson.GeometryMultiLineString:
		parts := make([][]geo.Point, 0, len(g.MultiLineString))
		for _, ls := range g.MultiLineString {
			parts = append(parts, toPoints(ls))
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func toPoints(ls [][]float64) []geo.Point {
	out := make([]geo.Point, 0, len(ls))
	for _, c := range ls {
		if len(c) < 2 {
			continue
		}
		out = append(out, geo.Point{Lat: c[1], Lon: c[0]})
	}
	return out
}
