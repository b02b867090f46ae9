package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/geo"
	"vehicle-tracker/internal/routes"
)

// GeometrySource reads enabled rows of route_geometries, a PostGIS table of
// one LineString or MultiLineString per (line, direction, route).
type GeometrySource struct {
	DB *sql.DB
}

func (s GeometrySource) Load(ctx context.Context) ([]routes.Geometry, error) {
	q := `
SELECT line_id, direction, COALESCE(route_id, ''), COALESCE(route_name, ''), enabled, ST_AsGeoJSON(geom)
FROM route_geometries
WHERE enabled AND geom IS NOT NULL
ORDER BY line_id, direction, route_id`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query route_geometries: %w", err)
	}
	defer rows.Close()

	var out []routes.Geometry
	skipped := 0
	for rows.Next() {
		var g routes.Geometry
		var raw string
		if err := rows.Scan(&g.LineID, &g.Direction, &g.RouteID, &g.RouteName, &g.Enabled, &raw); err != nil {
			return nil, err
		}
		g.Parts, err = routes.PartsFromGeoJSON([]byte(raw))
		if err != nil {
			skipped++
			log.Warn().Err(err).Str("line", g.LineID).Str("direction", g.Direction).Msg("skipping unparseable route geometry")
			continue
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("route geometries skipped")
	}
	return out, nil
}

// GTFSShapesSource builds geometries from GTFS tables imported into
// Postgres (routes, trips, shapes). The shapes table may carry either
// shape_pt_lat/shape_pt_lon columns or a PostGIS shape_pt_loc point.
type GTFSShapesSource struct {
	DB *sql.DB
}

type shapeKey struct {
	line, direction, routeID, routeName, shapeID string
}

func (s GTFSShapesSource) Load(ctx context.Context) ([]routes.Geometry, error) {
	q := `
SELECT DISTINCT COALESCE(NULLIF(r.route_short_name, ''), r.route_id),
       COALESCE(t.direction_id::text, '0'),
       r.route_id,
       COALESCE(r.route_long_name, ''),
       t.shape_id
FROM trips t
JOIN routes r ON r.route_id = t.route_id
WHERE t.shape_id IS NOT NULL AND t.shape_id <> ''
ORDER BY 1, 2, 3, 5`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query trip shapes: %w", err)
	}
	var keys []shapeKey
	for rows.Next() {
		var k shapeKey
		if err := rows.Scan(&k.line, &k.direction, &k.routeID, &k.routeName, &k.shapeID); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	shapes, err := s.loadShapes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]routes.Geometry, 0, len(keys))
	for _, k := range keys {
		pts := shapes[k.shapeID]
		if len(pts) == 0 {
			continue
		}
		out = append(out, routes.Geometry{
			LineID:    k.line,
			Direction: normalizeDirection(k.direction),
			RouteID:   k.routeID,
			RouteName: k.routeName,
			Enabled:   true,
			Parts:     [][]geo.Point{pts},
		})
	}
	return out, nil
}

func (s GTFSShapesSource) loadShapes(ctx context.Context) (map[string][]geo.Point, error) {
	// Detect column layout: either shape_pt_lat/lon exist, or use PostGIS shape_pt_loc geography
	latlonExists, err := hasColumns(ctx, s.DB, "public", "shapes", "shape_pt_lat", "shape_pt_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	var q string
	if latlonExists["shape_pt_lat"] && latlonExists["shape_pt_lon"] {
		q = `SELECT shape_id, shape_pt_lat, shape_pt_lon
             FROM shapes ORDER BY shape_id, shape_pt_sequence`
	} else {
		locExists, err := hasColumns(ctx, s.DB, "public", "shapes", "shape_pt_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect shapes shape_pt_loc: %w", err)
		}
		if !locExists["shape_pt_loc"] {
			return nil, fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
		}
		q = `SELECT shape_id, ST_Y(shape_pt_loc::geometry), ST_X(shape_pt_loc::geometry)
             FROM shapes ORDER BY shape_id, shape_pt_sequence`
	}
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]geo.Point)
	for rows.Next() {
		var id string
		var p geo.Point
		if err := rows.Scan(&id, &p.Lat, &p.Lon); err != nil {
			return nil, err
		}
		out[id] = append(out[id], p)
	}
	return out, rows.Err()
}

// normalizeDirection keeps GTFS direction ids as "0"/"1" whether the column
// is stored as an integer, text or an enum label.
func normalizeDirection(s string) string {
	if n, err := strconv.Atoi(s); err == nil {
		return strconv.Itoa(n)
	}
	switch s {
	case "outbound":
		return "0"
	case "inbound":
		return "1"
	}
	return s
}
