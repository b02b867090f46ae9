// Package tracker owns the per-feed runtime state (terminal table, position
// cache, ingestion loop) and the shared background work around it: route
// geometry refresh, the inactivity sweep and snapshot persistence.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/clock"
	"vehicle-tracker/internal/geo"
	"vehicle-tracker/internal/ingest"
	"vehicle-tracker/internal/poscache"
	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/snapshot"
	"vehicle-tracker/internal/terminal"
	"vehicle-tracker/internal/vehicle"
)

var ErrUnknownFeed = errors.New("unknown feed")

// Observer receives the tracker's own counters.
type Observer interface {
	SnapshotSaved(feed string, err error)
	SetVehicles(feed string, total, inactive int)
}

type Options struct {
	Geometry        *routes.Cache
	Engine          *routes.Engine
	RefreshInterval time.Duration

	VisitMeters     float64
	ProximityMeters float64
	Inactivity      time.Duration
	SweepInterval   time.Duration

	Snapshots        snapshot.Store
	SnapshotInterval time.Duration
	HistoryDepth     int
	ActiveWindow     time.Duration

	// Daily maintenance: a direction coverage report per feed and the
	// job_executions retention purge. Either may be nil.
	Coverage            CoverageSink
	CoverageSample      int
	JobLogs             JobLogPurger
	JobLogRetention     time.Duration
	MaintenanceInterval time.Duration

	Clock    clock.Clock
	Observer Observer
}

type feedRuntime struct {
	name  string
	loop  *ingest.Loop
	table *terminal.Table
	cache *poscache.Cache
}

type Manager struct {
	opts Options

	mu    sync.RWMutex
	feeds map[string]*feedRuntime

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = terminal.DefaultInactivity
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = time.Minute
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = poscache.DefaultActiveWindow
	}
	if opts.CoverageSample <= 0 {
		opts.CoverageSample = DefaultCoverageSample
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 24 * time.Hour
	}
	if opts.Geometry != nil && opts.Engine == nil {
		opts.Engine = routes.NewEngine(opts.Geometry, routes.DefaultMaxSnapMeters)
	}
	return &Manager{opts: opts, feeds: make(map[string]*feedRuntime)}
}

// AddFeed registers a feed. The tracker supplies the enrichment
// collaborators, terminal table, position cache and clock; deps carries the
// fetcher, sinks, submitter and observer.
func (m *Manager) AddFeed(cfg ingest.Config, deps ingest.Deps) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.feeds[cfg.Feed]; ok {
		return fmt.Errorf("feed %q registered twice", cfg.Feed)
	}
	rt := &feedRuntime{
		name:  cfg.Feed,
		table: terminal.NewTable(m.opts.VisitMeters, m.opts.ProximityMeters),
		cache: poscache.New(m.opts.HistoryDepth),
	}
	if m.opts.Engine != nil {
		deps.Matcher = m.opts.Engine
	}
	if m.opts.Geometry != nil {
		deps.Terminals = m.opts.Geometry
	}
	deps.Table = rt.table
	deps.Cache = rt.cache
	deps.Clock = m.opts.Clock
	rt.loop = ingest.NewLoop(cfg, deps)
	m.feeds[cfg.Feed] = rt
	return nil
}

// Feeds returns the registered feed names, sorted.
func (m *Manager) Feeds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.feeds))
	for name := range m.feeds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) runtimes() []*feedRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*feedRuntime, 0, len(m.feeds))
	for _, rt := range m.feeds {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (m *Manager) feed(name string) (*feedRuntime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.feeds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}
	return rt, nil
}

// Start restores snapshots and then launches every ingestion loop plus the
// geometry load, refresh, sweep and snapshot timers. Loops do not wait for
// geometry: directions and terminals stay unknown until a load succeeds.
func (m *Manager) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	rts := m.runtimes()
	for _, rt := range rts {
		m.restore(ctx, rt)
	}

	if g := m.opts.Geometry; g != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			lctx, lcancel := context.WithTimeout(ctx, 2*time.Minute)
			defer lcancel()
			if err := g.Reload(lctx); err != nil {
				log.Error().Err(err).Msg("initial route geometry load failed; directions unknown until next refresh")
			}
		}()
		g.StartRefresher(ctx, m.opts.RefreshInterval)
	}

	for _, rt := range rts {
		m.wg.Add(1)
		go func(rt *feedRuntime) {
			defer m.wg.Done()
			rt.loop.Run(ctx)
		}(rt)
	}

	m.every(ctx, m.opts.SweepInterval, m.SweepAll)
	if m.opts.Snapshots != nil {
		m.every(ctx, m.opts.SnapshotInterval, m.SaveSnapshots)
	}
	if m.opts.Coverage != nil || m.opts.JobLogs != nil {
		m.every(ctx, m.opts.MaintenanceInterval, m.Maintain)
	}
	log.Info().Int("feeds", len(rts)).Msg("tracker started")
}

func (m *Manager) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Stop cancels all loops and timers, waits for them and writes a final
// snapshot of every feed using ctx.
func (m *Manager) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.opts.Geometry != nil {
		m.opts.Geometry.Stop()
	}
	if m.opts.Snapshots != nil {
		m.SaveSnapshots(ctx)
	}
	log.Info().Msg("tracker stopped")
}

// SweepAll flags vehicles that have not reported within the inactivity
// threshold and hands the newly inactive ones to the sinks.
func (m *Manager) SweepAll(_ context.Context) {
	now := m.opts.Clock.Now()
	for _, rt := range m.runtimes() {
		deactivated := rt.table.Sweep(now, m.opts.Inactivity)
		if len(deactivated) > 0 {
			log.Info().Str("feed", rt.name).Int("vehicles", len(deactivated)).Msg("vehicles marked inactive")
			rt.loop.PublishDeactivations(deactivated)
		}
		if m.opts.Observer != nil {
			total, inactive := rt.table.Counts()
			m.opts.Observer.SetVehicles(rt.name, total, inactive)
		}
	}
}

func (m *Manager) restore(ctx context.Context, rt *feedRuntime) {
	if m.opts.Snapshots == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	doc, err := m.opts.Snapshots.Load(lctx, rt.name)
	if errors.Is(err, snapshot.ErrNotFound) {
		log.Info().Str("feed", rt.name).Msg("no snapshot stored; starting with an empty cache")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("feed", rt.name).Msg("snapshot load failed; starting with an empty cache")
		return
	}
	n := rt.cache.Restore(doc.Lines)
	log.Info().
		Str("feed", rt.name).
		Int("positions", n).
		Time("saved_at", doc.SavedAt).
		Msg("position cache restored")
}

// SaveSnapshots writes the current cache of every feed. An empty cache is
// not saved so a cold start cannot overwrite the last good snapshot.
func (m *Manager) SaveSnapshots(ctx context.Context) {
	if m.opts.Snapshots == nil {
		return
	}
	for _, rt := range m.runtimes() {
		snap := rt.cache.Snapshot()
		if snap.Len() == 0 {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := m.opts.Snapshots.Save(sctx, snapshot.Document{
			Feed:    rt.name,
			SavedAt: m.opts.Clock.Now(),
			Lines:   snap,
		})
		cancel()
		if err != nil {
			log.Error().Err(err).Str("feed", rt.name).Msg("snapshot save failed")
		} else {
			log.Debug().Str("feed", rt.name).Int("positions", snap.Len()).Msg("snapshot saved")
		}
		if m.opts.Observer != nil {
			m.opts.Observer.SnapshotSaved(rt.name, err)
		}
	}
}

// CurrentPositions returns the latest position of every vehicle on line.
func (m *Manager) CurrentPositions(feed, line string) ([]vehicle.Position, error) {
	rt, err := m.feed(feed)
	if err != nil {
		return nil, err
	}
	return rt.cache.Latest(line), nil
}

// VehicleHistory returns the retained positions of one vehicle, newest first.
func (m *Manager) VehicleHistory(feed, line, vehicleID string) ([]vehicle.Position, error) {
	rt, err := m.feed(feed)
	if err != nil {
		return nil, err
	}
	return rt.cache.History(line, vehicleID), nil
}

func (m *Manager) TerminalState(feed, vehicleID string) (terminal.State, bool, error) {
	rt, err := m.feed(feed)
	if err != nil {
		return terminal.State{}, false, err
	}
	st, ok := rt.table.Get(vehicleID)
	return st, ok, nil
}

// Summary reports per-line activity. Lines with geometry but no reports are
// included as inactive.
func (m *Manager) Summary(feed string) ([]poscache.LineSummary, error) {
	rt, err := m.feed(feed)
	if err != nil {
		return nil, err
	}
	var known []string
	if m.opts.Geometry != nil {
		known = m.opts.Geometry.Lines()
	}
	return rt.cache.Summary(m.opts.Clock.Now(), m.opts.ActiveWindow, known...), nil
}

// DirectionMetrics returns the distance from pt to every direction of line.
func (m *Manager) DirectionMetrics(line string, pt geo.Point) []routes.Match {
	if m.opts.Engine == nil {
		return nil
	}
	return m.opts.Engine.Metrics(line, pt)
}
