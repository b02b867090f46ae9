// Package ingest drives one upstream feed: every tick it fetches a trailing
// window, drops malformed records, keeps the newest report per vehicle,
// enriches it with direction and terminal state, updates the position cache
// and hands the results to the sinks without waiting for them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/clock"
	"vehicle-tracker/internal/dispatch"
	"vehicle-tracker/internal/feed"
	"vehicle-tracker/internal/geo"
	"vehicle-tracker/internal/poscache"
	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/terminal"
	"vehicle-tracker/internal/vehicle"
)

type Config struct {
	Feed          string
	Interval      time.Duration
	Window        time.Duration
	CatchupWindow time.Duration
	FetchTimeout  time.Duration
	Location      *time.Location
}

// DirectionMatcher is satisfied by *routes.Engine.
type DirectionMatcher interface {
	Infer(line string, pt geo.Point) (routes.Match, bool)
}

// TerminalLocator is satisfied by *routes.Cache.
type TerminalLocator interface {
	NearestTerminal(line string, pt geo.Point, radius float64) (routes.Terminal, bool)
}

// Observer receives per-cycle counters, typically the metrics collector.
type Observer interface {
	PollCompleted(feed, status string, d time.Duration)
	RecordsIngested(feed string, fetched, malformed, unique int)
	DirectionsMatched(feed string, matched, unmatched int)
	TerminalTransition(feed string, status terminal.Status)
}

type Deps struct {
	Fetcher   feed.Fetcher
	Matcher   DirectionMatcher
	Terminals TerminalLocator
	Table     *terminal.Table
	Cache     *poscache.Cache
	Sinks     Sinks
	Submitter Submitter
	Clock     clock.Clock
	Observer  Observer
}

// StepResult summarises one cycle.
type StepResult struct {
	Fetched     int
	Malformed   int
	Unique      int
	Matched     int
	Transitions int
	Err         error
}

type Loop struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	caughtUp bool
}

func NewLoop(cfg Config, deps Deps) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Minute
	}
	if cfg.CatchupWindow < cfg.Window {
		cfg.CatchupWindow = cfg.Window
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Loop{
		cfg:    cfg,
		deps:   deps,
		logger: log.With().Str("feed", cfg.Feed).Logger(),
	}
}

// Run polls immediately and then on every interval until ctx is cancelled.
// The first successful cycle uses the catch-up window.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info().
		Str("interval", l.cfg.Interval.String()).
		Str("window", l.cfg.Window.String()).
		Str("catchup_window", l.cfg.CatchupWindow.String()).
		Msg("ingestion loop started")

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		l.Step(ctx)
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("ingestion loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Step runs one fetch-to-sinks cycle. Sink writes are queued, not awaited.
func (l *Loop) Step(ctx context.Context) StepResult {
	window := l.cfg.Window
	if !l.caughtUp {
		window = l.cfg.CatchupWindow
	}
	started := l.deps.Clock.Now()
	runID := uuid.NewString()
	from, to := started.Add(-window), started

	fctx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
	raws, err := l.deps.Fetcher.Fetch(fctx, from, to)
	cancel()
	if err != nil {
		err = fmt.Errorf("fetch %s: %w", l.cfg.Feed, err)
		l.logger.Error().Err(err).Str("window", window.String()).Msg("poll failed; will retry next tick")
		l.finish(runID, started, "error", err, 0)
		return StepResult{Err: err}
	}
	l.caughtUp = true

	parsed, bad := vehicle.ParseBatch(raws, l.cfg.Location)
	for _, e := range bad {
		l.logger.Debug().Err(e).Msg("dropping malformed record")
	}
	if len(bad) > 0 {
		l.logger.Warn().Int("malformed", len(bad)).Int("fetched", len(raws)).Msg("malformed records dropped")
	}
	batch := vehicle.Dedupe(parsed)

	res := StepResult{Fetched: len(raws), Malformed: len(bad), Unique: len(batch)}
	enriched := make([]vehicle.Position, 0, len(batch))
	var directions []vehicle.Position
	var deltas []terminal.State
	for _, p := range batch {
		pt := geo.Point{Lat: p.Lat, Lon: p.Lon}
		e := p
		if l.deps.Matcher != nil {
			if m, ok := l.deps.Matcher.Infer(p.LineID, pt); ok {
				e = p.WithDirection(&vehicle.Direction{
					Label:          m.Direction,
					DistanceMeters: m.DistanceMeters,
					RouteID:        m.RouteID,
				})
				res.Matched++
				directions = append(directions, e)
			}
		}
		enriched = append(enriched, e)

		if l.deps.Table != nil {
			obs := terminal.Observation{VehicleID: p.VehicleID, LineID: p.LineID, EventTime: p.EventTime}
			if l.deps.Terminals != nil {
				if tm, ok := l.deps.Terminals.NearestTerminal(p.LineID, pt, l.deps.Table.ProximityMeters()); ok {
					obs.Found = true
					obs.Terminal = tm.Direction
					obs.Distance = tm.DistanceMeters
				}
			}
			r := l.deps.Table.Apply(obs)
			if r.Applied && r.Changed {
				deltas = append(deltas, r.State)
				res.Transitions++
				if l.deps.Observer != nil {
					l.deps.Observer.TerminalTransition(l.cfg.Feed, r.State.Status)
				}
			}
		}

		if l.deps.Cache != nil {
			l.deps.Cache.Put(e)
		}
	}

	l.submitSinks(batch, enriched, directions, deltas)

	if l.deps.Observer != nil {
		l.deps.Observer.RecordsIngested(l.cfg.Feed, res.Fetched, res.Malformed, res.Unique)
		l.deps.Observer.DirectionsMatched(l.cfg.Feed, res.Matched, res.Unique-res.Matched)
	}
	l.logger.Info().
		Int("fetched", res.Fetched).
		Int("unique", res.Unique).
		Int("matched", res.Matched).
		Int("transitions", res.Transitions).
		Str("took", l.deps.Clock.Now().Sub(started).String()).
		Msg("poll complete")
	l.finish(runID, started, "success", nil, res.Unique)
	return res
}

func (l *Loop) submitSinks(batch, enriched, directions []vehicle.Position, deltas []terminal.State) {
	s := l.deps.Sinks
	feedName := l.cfg.Feed
	if s.Positions != nil && len(batch) > 0 {
		l.submit(SinkPositions, func(ctx context.Context) error {
			return s.Positions.WritePositions(ctx, feedName, batch)
		})
	}
	if s.Directions != nil && len(directions) > 0 {
		l.submit(SinkDirections, func(ctx context.Context) error {
			return s.Directions.WriteDirections(ctx, feedName, directions)
		})
	}
	if s.States != nil && len(deltas) > 0 {
		l.submit(SinkVehicleState, func(ctx context.Context) error {
			return s.States.WriteStates(ctx, feedName, deltas)
		})
	}
	// Separate jobs so a retry of one never republishes the other.
	if s.Publisher != nil && len(enriched) > 0 {
		l.submit(SinkNATS, func(context.Context) error {
			return s.Publisher.PublishPositions(feedName, enriched)
		})
	}
	if s.Publisher != nil && len(deltas) > 0 {
		l.submit(SinkNATS, func(context.Context) error {
			return s.Publisher.PublishTerminalEvents(feedName, deltas)
		})
	}
}

// PublishDeactivations hands vehicles flagged by the inactivity sweep to the
// state sink and the publisher.
func (l *Loop) PublishDeactivations(states []terminal.State) {
	if len(states) == 0 {
		return
	}
	s := l.deps.Sinks
	if s.States != nil {
		l.submit(SinkVehicleState, func(ctx context.Context) error {
			return s.States.WriteStates(ctx, l.cfg.Feed, states)
		})
	}
	if s.Publisher != nil {
		l.submit(SinkNATS, func(context.Context) error {
			return s.Publisher.PublishTerminalEvents(l.cfg.Feed, states)
		})
	}
}

func (l *Loop) submit(sink string, run func(ctx context.Context) error) {
	if l.deps.Submitter == nil {
		return
	}
	l.deps.Submitter.Submit(dispatch.Job{Feed: l.cfg.Feed, Sink: sink, Run: run})
}

func (l *Loop) finish(runID string, started time.Time, status string, err error, records int) {
	finished := l.deps.Clock.Now()
	if l.deps.Observer != nil {
		l.deps.Observer.PollCompleted(l.cfg.Feed, status, finished.Sub(started))
	}
	if l.deps.Sinks.JobLog == nil {
		return
	}
	rec := JobRecord{
		RunID:      runID,
		JobName:    l.cfg.Feed + "-gps-fetch",
		StartedAt:  started,
		FinishedAt: finished,
		Status:     status,
		Records:    records,
	}
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	jl := l.deps.Sinks.JobLog
	l.submit(SinkJobLog, func(ctx context.Context) error { return jl.LogJob(ctx, rec) })
}
