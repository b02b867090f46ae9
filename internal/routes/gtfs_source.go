package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/OneBusAway/go-gtfs"

	"vehicle-tracker/internal/geo"
)

const maxGTFSBytes = 512 << 20

// GTFSSource builds geometries from the shapes of a static GTFS archive.
// Each distinct (route, direction, shape) produces one geometry keyed by the
// route short name, falling back to the route id.
type GTFSSource struct {
	Location string
	Client   *http.Client
}

func (s GTFSSource) Load(ctx context.Context) ([]Geometry, error) {
	b, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parse gtfs: %w", err)
	}
	return GeometriesFromStatic(static), nil
}

func (s GTFSSource) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.Location, "http://") && !strings.HasPrefix(s.Location, "https://") {
		b, err := os.ReadFile(s.Location)
		if err != nil {
			return nil, fmt.Errorf("read gtfs file: %w", err)
		}
		return b, nil
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download gtfs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download gtfs: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxGTFSBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download gtfs: %w", err)
	}
	if len(b) > maxGTFSBytes {
		return nil, fmt.Errorf("gtfs archive exceeds %d bytes", maxGTFSBytes)
	}
	return b, nil
}

// GeometriesFromStatic emits geometries in trip order, so the first trip to
// reference a shape decides its position among the line's candidates.
func GeometriesFromStatic(static *gtfs.Static) []Geometry {
	type key struct {
		line, direction, shape string
	}
	seen := make(map[key]bool)
	var out []Geometry
	for _, t := range static.Trips {
		if t.Shape == nil || len(t.Shape.Points) == 0 || t.Route == nil {
			continue
		}
		line := t.Route.ShortName
		if line == "" {
			line = t.Route.Id
		}
		dir := strconv.FormatInt(int64(t.DirectionId), 10)
		k := key{line, dir, t.Shape.ID}
		if seen[k] {
			continue
		}
		seen[k] = true

		part := make([]geo.Point, 0, len(t.Shape.Points))
		for _, p := range t.Shape.Points {
			part = append(part, geo.Point{Lat: p.Latitude, Lon: p.Longitude})
		}
		out = append(out, Geometry{
			LineID:    line,
			Direction: dir,
			RouteID:   t.Route.Id,
			RouteName: t.Route.LongName,
			Enabled:   true,
			Parts:     [][]geo.Point{part},
		})
	}
	return out
}
