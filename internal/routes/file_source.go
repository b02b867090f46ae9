package routes

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/twpayne/go-polyline"
	"gopkg.in/yaml.v3"

	"vehicle-tracker/internal/geo"
)

type fileRoutes struct {
	Routes []fileRoute `yaml:"routes"`
}

type fileRoute struct {
	Line      string   `yaml:"line"`
	Direction string   `yaml:"direction"`
	RouteID   string   `yaml:"route_id"`
	RouteName string   `yaml:"route_name"`
	Enabled   *bool    `yaml:"enabled"`
	Polylines []string `yaml:"polylines"`
}

// FileSource reads geometries from a YAML file whose parts are encoded
// polylines (precision 5). Routes are enabled unless they say otherwise.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]Geometry, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return ParseRoutesYAML(b)
}

// ParseRoutesYAML decodes a routes document. Entries whose polylines cannot
// be decoded are skipped with a warning rather than failing the whole load.
func ParseRoutesYAML(b []byte) ([]Geometry, error) {
	var doc fileRoutes
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode routes yaml: %w", err)
	}
	out := make([]Geometry, 0, len(doc.Routes))
	for i, r := range doc.Routes {
		parts, err := decodePolylines(r.Polylines)
		if err != nil {
			log.Warn().Err(err).Int("entry", i).Str("line", r.Line).Str("direction", r.Direction).
				Msg("skipping route with undecodable polyline")
			continue
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		out = append(out, Geometry{
			LineID:    r.Line,
			Direction: r.Direction,
			RouteID:   r.RouteID,
			RouteName: r.RouteName,
			Enabled:   enabled,
			Parts:     parts,
		})
	}
	return out, nil
}

func decodePolylines(encoded []string) ([][]geo.Point, error) {
	parts := make([][]geo.Point, 0, len(encoded))
	for _, enc := range encoded {
		coords, rest, err := polyline.DecodeCoords([]byte(enc))
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			return nil, fmt.Errorf("trailing bytes after polyline: %q", rest)
		}
		part := make([]geo.Point, 0, len(coords))
		for _, c := range coords {
			part = append(part, geo.Point{Lat: c[0], Lon: c[1]})
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// EncodePolyline is the inverse of the YAML decoder, used by the routes
// command to print geometries.
func EncodePolyline(part []geo.Point) string {
	coords := make([][]float64, 0, len(part))
	for _, p := range part {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return string(polyline.EncodeCoords(coords))
}
