package vehicle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed marks a record that cannot become a Position.
var ErrMalformed = errors.New("malformed record")

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Parse validates raw and builds a Position. Vehicle id, line id,
// coordinates and event time are required; the remaining fields fall back
// to zero values. Timestamps without a zone are read in loc.
func Parse(raw RawPosition, loc *time.Location) (Position, error) {
	if raw.DecodeError != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformed, raw.DecodeError)
	}
	vehicleID := strings.TrimSpace(raw.VehicleID)
	lineID := strings.TrimSpace(raw.LineID)
	if vehicleID == "" {
		return Position{}, fmt.Errorf("%w: missing vehicle id", ErrMalformed)
	}
	if lineID == "" {
		return Position{}, fmt.Errorf("%w: vehicle %s: missing line id", ErrMalformed, vehicleID)
	}
	lat, err := ParseDecimal(string(raw.Latitude))
	if err != nil || lat < -90 || lat > 90 {
		return Position{}, fmt.Errorf("%w: vehicle %s: latitude %q", ErrMalformed, vehicleID, raw.Latitude)
	}
	lon, err := ParseDecimal(string(raw.Longitude))
	if err != nil || lon < -180 || lon > 180 {
		return Position{}, fmt.Errorf("%w: vehicle %s: longitude %q", ErrMalformed, vehicleID, raw.Longitude)
	}
	event, err := ParseTimestamp(string(raw.EventTime), loc)
	if err != nil {
		return Position{}, fmt.Errorf("%w: vehicle %s: event time: %v", ErrMalformed, vehicleID, err)
	}

	p := Position{
		VehicleID: vehicleID,
		LineID:    lineID,
		Lat:       lat,
		Lon:       lon,
		EventTime: event,
	}
	if t, err := ParseTimestamp(string(raw.SentTime), loc); err == nil {
		p.SentTime = t
	}
	if t, err := ParseTimestamp(string(raw.ServerTime), loc); err == nil {
		p.ServerTime = t
	}
	if v, err := ParseDecimal(string(raw.Speed)); err == nil {
		p.Speed = v
	}
	return p, nil
}

// ParseDecimal reads a number written with either '.' or ',' as the
// decimal separator.
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty number")
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

// ParseTimestamp accepts epoch milliseconds or an ISO-8601 date-time.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return time.Time{}, fmt.Errorf("non-positive epoch %d", ms)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return time.Time{}, fmt.Errorf("invalid epoch %q", s)
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ParseBatch parses every record, returning the valid positions in input
// order and one error per dropped record.
func ParseBatch(raws []RawPosition, loc *time.Location) ([]Position, []error) {
	out := make([]Position, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		p, err := Parse(raw, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}
