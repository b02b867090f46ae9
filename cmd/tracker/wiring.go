package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/config"
	"vehicle-tracker/internal/db"
	"vehicle-tracker/internal/dispatch"
	"vehicle-tracker/internal/feed"
	"vehicle-tracker/internal/ingest"
	"vehicle-tracker/internal/metrics"
	"vehicle-tracker/internal/publisher"
	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/snapshot"
	"vehicle-tracker/internal/tracker"
)

type resources struct {
	db    *sql.DB
	redis *redis.Client
}

func (r *resources) close() {
	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		r.redis.Close()
	}
}

func openResources(ctx context.Context, cfg *config.Config, needDB, needRedis bool) (*resources, error) {
	res := &resources{}
	if needDB {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL (or PG_DSN / PGDATABASE) is required")
		}
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Ping(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		res.db = sqlDB
	}
	if needRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pctx).Err()
		cancel()
		if err != nil {
			client.Close()
			res.close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		res.redis = client
	}
	return res, nil
}

// geometryCache returns nil when ROUTES_SOURCE=none.
func geometryCache(cfg *config.Config, res *resources, obs routes.ReloadObserver) (*routes.Cache, error) {
	var src routes.Source
	switch cfg.RoutesSource {
	case config.RoutesPostgres:
		src = db.GeometrySource{DB: res.db}
	case config.RoutesPostgresGTFS:
		src = db.GTFSShapesSource{DB: res.db}
	case config.RoutesGTFS:
		src = routes.GTFSSource{Location: cfg.RoutesLocation, Client: &http.Client{Timeout: 5 * time.Minute}}
	case config.RoutesFile:
		src = routes.FileSource{Path: cfg.RoutesLocation}
	case config.RoutesNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported routes source %q", cfg.RoutesSource)
	}
	return routes.NewCache(src, obs), nil
}

// snapshotStore returns nil when SNAPSHOT_STORE=none.
func snapshotStore(cfg *config.Config, res *resources) (snapshot.Store, error) {
	switch cfg.SnapshotStore {
	case config.SnapshotPostgres:
		return db.SnapshotStore{DB: res.db}, nil
	case config.SnapshotRedis:
		return snapshot.NewRedisStore(res.redis, cfg.SnapshotTTL)
	default:
		return nil, nil
	}
}

type service struct {
	res        *resources
	tracker    *tracker.Manager
	dispatcher *dispatch.Dispatcher
	pub        *publisher.NATSPublisher
	metricsSrv *http.Server
}

func (s *service) close() {
	if s.pub != nil {
		s.pub.Close()
	}
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.metricsSrv.Shutdown(ctx)
	}
	s.res.close()
}

func build(ctx context.Context, cfg *config.Config) (*service, error) {
	res, err := openResources(ctx, cfg, cfg.NeedsDatabase(), cfg.SnapshotStore == config.SnapshotRedis)
	if err != nil {
		return nil, err
	}
	svc := &service{res: res}
	if res.db != nil {
		if err := db.EnsureSchema(ctx, res.db); err != nil {
			svc.close()
			return nil, err
		}
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.MaxSnapMeters, cfg.RoutesRefreshInterval)
		svc.metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	if cfg.NATSURL != "" {
		svc.pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			svc.close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
	}

	geom, err := geometryCache(cfg, res, wrapReloadObserver(mcol))
	if err != nil {
		svc.close()
		return nil, err
	}
	snaps, err := snapshotStore(cfg, res)
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.dispatcher = dispatch.New(dispatch.Options{
		Workers:    cfg.SinkWorkers,
		QueueSize:  cfg.SinkQueueSize,
		MaxElapsed: cfg.SinkRetryMaxAge,
		Observer:   wrapDispatchObserver(mcol),
	})

	var store *db.Store
	if res.db != nil {
		store = db.NewStore(res.db, cfg.DBBatchSize)
	}
	opts := tracker.Options{
		Geometry:            geom,
		RefreshInterval:     cfg.RoutesRefreshInterval,
		VisitMeters:         cfg.TerminalVisitMeters,
		ProximityMeters:     cfg.TerminalProximityMeters,
		Inactivity:          cfg.InactivityThreshold,
		SweepInterval:       cfg.SweepInterval,
		Snapshots:           snaps,
		SnapshotInterval:    cfg.SnapshotInterval,
		CoverageSample:      cfg.CoverageSample,
		JobLogRetention:     cfg.JobLogRetention,
		MaintenanceInterval: cfg.MaintenanceInterval,
		Observer:            wrapTrackerObserver(mcol),
	}
	if geom != nil {
		opts.Engine = routes.NewEngine(geom, cfg.MaxSnapMeters)
	}
	if store != nil {
		opts.Coverage = store
		opts.JobLogs = store
	}
	svc.tracker = tracker.NewManager(opts)

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	for _, f := range cfg.Feeds {
		fetcher, err := newFetcher(cfg, f, httpClient)
		if err != nil {
			svc.close()
			return nil, err
		}
		icfg := ingest.Config{
			Feed:          f.Name,
			Interval:      f.Interval(cfg.PollInterval),
			Window:        f.Window(cfg.PollWindow),
			CatchupWindow: f.CatchupWindow(cfg.CatchupWindow),
			FetchTimeout:  cfg.FetchTimeout,
			Location:      cfg.Location,
		}
		deps := ingest.Deps{
			Fetcher:   fetcher,
			Sinks:     feedSinks(f, store, svc.pub),
			Submitter: svc.dispatcher,
			Observer:  wrapIngestObserver(mcol),
		}
		if err := svc.tracker.AddFeed(icfg, deps); err != nil {
			svc.close()
			return nil, err
		}
		if mcol != nil {
			mcol.SetPollInterval(f.Name, icfg.Interval)
		}
		log.Info().
			Str("feed", f.Name).
			Str("kind", f.Kind).
			Strs("sinks", f.EffectiveSinks()).
			Msg("feed configured")
	}
	return svc, nil
}

func newFetcher(cfg *config.Config, f config.Feed, client *http.Client) (feed.Fetcher, error) {
	s := feed.Settings{
		Name:       f.Name,
		Kind:       feed.Kind(f.Kind),
		URL:        f.URL,
		Location:   cfg.Location,
		RatePerSec: f.RatePerSec,
		Client:     client,
	}
	if f.Auth != nil {
		user, pass, code := f.Auth.Credentials()
		s.Auth = &feed.Auth{
			LoginURL:   f.Auth.LoginURL,
			Username:   user,
			Password:   pass,
			ClientCode: code,
			TokenTTL:   f.Auth.TokenTTL(),
		}
	}
	return feed.New(s)
}

// feedSinks wires only the sinks the feed asks for and that have a backend.
func feedSinks(f config.Feed, store *db.Store, pub *publisher.NATSPublisher) ingest.Sinks {
	var s ingest.Sinks
	if store != nil {
		if f.HasSink(config.SinkPositions) {
			s.Positions = store
		}
		if f.HasSink(config.SinkDirections) {
			s.Directions = store
		}
		if f.HasSink(config.SinkVehicleState) {
			s.States = store
		}
		if f.HasSink(config.SinkJobLog) {
			s.JobLog = store
		}
	}
	if pub != nil && f.HasSink(config.SinkNATS) {
		s.Publisher = pub
	}
	return s
}

// The wrappers keep a nil *metrics.Collector from becoming a non-nil
// interface value.

func wrapPublisherMetrics(m *metrics.Collector) publisher.PublisherMetrics {
	if m == nil {
		return nil
	}
	return m
}

func wrapReloadObserver(m *metrics.Collector) routes.ReloadObserver {
	if m == nil {
		return nil
	}
	return m
}

func wrapDispatchObserver(m *metrics.Collector) dispatch.Observer {
	if m == nil {
		return nil
	}
	return m
}

func wrapIngestObserver(m *metrics.Collector) ingest.Observer {
	if m == nil {
		return nil
	}
	return m
}

func wrapTrackerObserver(m *metrics.Collector) tracker.Observer {
	if m == nil {
		return nil
	}
	return m
}
