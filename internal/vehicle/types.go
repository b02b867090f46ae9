package vehicle

import (
	"bytes"
	"encoding/json"
	"time"
)

// RawPosition is one upstream record before validation. Feeds copy their
// wire fields into it verbatim; Parse does the normalisation.
type RawPosition struct {
	VehicleID  string
	LineID     string
	Latitude   FlexString
	Longitude  FlexString
	EventTime  FlexString
	SentTime   FlexString
	ServerTime FlexString
	Speed      FlexString
	// DecodeError is set by feeds when the upstream record could not be
	// decoded at all; Parse rejects such records as malformed.
	DecodeError error
}

// Position is an immutable, validated vehicle report. Direction is the only
// field attached after construction, via WithDirection.
type Position struct {
	VehicleID  string     `json:"vehicle_id"`
	LineID     string     `json:"line_id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	EventTime  time.Time  `json:"event_time"`
	SentTime   time.Time  `json:"sent_time,omitzero"`
	ServerTime time.Time  `json:"server_time,omitzero"`
	Speed      float64    `json:"speed"`
	Direction  *Direction `json:"direction,omitempty"`
}

// Direction is the enrichment result for a position. A nil *Direction on a
// Position means the direction is unknown.
type Direction struct {
	Label          string  `json:"label"`
	DistanceMeters float64 `json:"distance_m"`
	RouteID        string  `json:"route_id,omitempty"`
}

// WithDirection returns a copy of p carrying d.
func (p Position) WithDirection(d *Direction) Position {
	if d != nil {
		cp := *d
		d = &cp
	}
	p.Direction = d
	return p
}

// FlexString accepts a JSON string, number or null and keeps its text form.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}
