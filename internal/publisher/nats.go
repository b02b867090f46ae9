// Package publisher pushes enriched positions and terminal transitions to
// NATS for live subscribers.
package publisher

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/terminal"
	"vehicle-tracker/internal/vehicle"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the subset of *nats.Conn used for publishing.
type conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          *nats.Conn
	pub         conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("vehicle-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, logSubjects, m)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "vehicles"
	}
	return &NATSPublisher{pub: c, prefix: prefix, logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("nats drain")
		}
		p.nc.Close()
	}
}

// PositionMessage is the wire form of one enriched position.
type PositionMessage struct {
	Feed           string    `json:"feed"`
	VehicleID      string    `json:"vehicleId"`
	LineID         string    `json:"lineId"`
	Timestamp      time.Time `json:"timestamp"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Speed          float64   `json:"speed"`
	Direction      string    `json:"direction,omitempty"`
	RouteID        string    `json:"routeId,omitempty"`
	DistanceMeters *float64  `json:"distanceM,omitempty"`
}

// TerminalMessage is the wire form of one terminal transition.
type TerminalMessage struct {
	Feed string `json:"feed"`
	terminal.State
}

func positionMessage(feed string, p vehicle.Position) PositionMessage {
	msg := PositionMessage{
		Feed:      feed,
		VehicleID: p.VehicleID,
		LineID:    p.LineID,
		Timestamp: p.EventTime,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Speed:     p.Speed,
	}
	if p.Direction != nil {
		d := p.Direction.DistanceMeters
		msg.Direction = p.Direction.Label
		msg.RouteID = p.Direction.RouteID
		msg.DistanceMeters = &d
	}
	return msg
}

// PublishPositions publishes every position on
// <prefix>.<feed>.<line>.<vehicle>. It keeps going after a failed publish
// and returns the joined errors.
func (p *NATSPublisher) PublishPositions(feed string, ps []vehicle.Position) error {
	var errs []error
	for _, pos := range ps {
		subject := p.positionSubject(feed, pos.LineID, pos.VehicleID)
		if err := p.publishJSON(subject, positionMessage(feed, pos)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishTerminalEvents publishes state transitions on
// <prefix>.<feed>.terminal.<vehicle>.
func (p *NATSPublisher) PublishTerminalEvents(feed string, states []terminal.State) error {
	var errs []error
	for _, st := range states {
		subject := p.terminalSubject(feed, st.VehicleID)
		if err := p.publishJSON(subject, TerminalMessage{Feed: feed, State: st}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *NATSPublisher) positionSubject(feed, line, vehicleID string) string {
	return strings.Join([]string{p.prefix, subjectToken(feed), subjectToken(line), subjectToken(vehicleID)}, ".")
}

func (p *NATSPublisher) terminalSubject(feed, vehicleID string) string {
	return strings.Join([]string{p.prefix, subjectToken(feed), "terminal", subjectToken(vehicleID)}, ".")
}

func (p *NATSPublisher) publishJSON(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.pub.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
