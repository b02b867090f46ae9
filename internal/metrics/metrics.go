package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/terminal"
)

type Collector struct {
	reg *prometheus.Registry

	Polls            *prometheus.CounterVec // feed, status
	PollDuration     *prometheus.HistogramVec
	RecordsFetched   *prometheus.CounterVec
	RecordsMalformed *prometheus.CounterVec
	BatchSize        *prometheus.GaugeVec
	Directions       *prometheus.CounterVec // feed, result: matched|unmatched
	Transitions      *prometheus.CounterVec // feed, status
	Vehicles         *prometheus.GaugeVec   // feed, state: tracked|inactive

	SinkWrites   *prometheus.CounterVec // feed, sink, result: ok|error
	SinkDuration *prometheus.HistogramVec
	SinkDrops    *prometheus.CounterVec
	Queue        prometheus.Gauge

	GeometryReloads  *prometheus.CounterVec // result
	GeometryLines    prometheus.Gauge
	GeometryRows     prometheus.Gauge
	GeometryDuration prometheus.Histogram

	SnapshotSaves *prometheus.CounterVec // feed, result

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	PollInterval    *prometheus.GaugeVec // seconds
	MaxSnapMeters   prometheus.Gauge
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(maxSnapMeters float64, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_polls_total",
			Help: "Poll cycles by feed and outcome.",
		}, []string{"feed", "status"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_poll_duration_seconds",
			Help:    "Duration of one fetch, parse and enrich cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"feed"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_records_fetched_total",
			Help: "Raw records returned by the upstream feed.",
		}, []string{"feed"}),
		RecordsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_records_malformed_total",
			Help: "Records dropped because they could not be parsed.",
		}, []string{"feed"}),
		BatchSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_batch_size",
			Help: "Positions in the last deduplicated batch.",
		}, []string{"feed"}),
		Directions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_directions_total",
			Help: "Direction inference results.",
		}, []string{"feed", "result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_terminal_transitions_total",
			Help: "Terminal state changes by new status.",
		}, []string{"feed", "status"}),
		Vehicles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_vehicles",
			Help: "Vehicles in the terminal state table.",
		}, []string{"feed", "state"}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sink_writes_total",
			Help: "Background sink jobs by outcome.",
		}, []string{"feed", "sink", "result"}),
		SinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_sink_duration_seconds",
			Help:    "Duration of background sink jobs including retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"sink"}),
		SinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sink_dropped_total",
			Help: "Sink jobs dropped because the queue was full.",
		}, []string{"feed", "sink"}),
		Queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sink_queue_depth",
			Help: "Jobs waiting in the dispatch queue.",
		}),
		GeometryReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_geometry_reloads_total",
			Help: "Route geometry reloads by outcome.",
		}, []string{"result"}),
		GeometryLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_geometry_lines",
			Help: "Lines in the route geometry cache.",
		}),
		GeometryRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_geometry_rows",
			Help: "Directional geometries in the route geometry cache.",
		}),
		GeometryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_geometry_reload_duration_seconds",
			Help:    "Duration of route geometry reloads.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		SnapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_snapshot_saves_total",
			Help: "Position cache snapshot saves by outcome.",
		}, []string{"feed", "result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Configured poll interval per feed.",
		}, []string{"feed"}),
		MaxSnapMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_max_snap_meters",
			Help: "Direction inference cutoff in meters.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_geometry_refresh_interval_seconds",
			Help: "Route geometry refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.PollDuration, c.RecordsFetched, c.RecordsMalformed, c.BatchSize,
		c.Directions, c.Transitions, c.Vehicles,
		c.SinkWrites, c.SinkDuration, c.SinkDrops, c.Queue,
		c.GeometryReloads, c.GeometryLines, c.GeometryRows, c.GeometryDuration,
		c.SnapshotSaves,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.PollInterval, c.MaxSnapMeters, c.RefreshInterval,
	)

	c.MaxSnapMeters.Set(maxSnapMeters)
	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// ingest

func (c *Collector) PollCompleted(feed, status string, d time.Duration) {
	c.Polls.WithLabelValues(feed, status).Inc()
	c.PollDuration.WithLabelValues(feed).Observe(d.Seconds())
}

func (c *Collector) RecordsIngested(feed string, fetched, malformed, unique int) {
	c.RecordsFetched.WithLabelValues(feed).Add(float64(fetched))
	c.RecordsMalformed.WithLabelValues(feed).Add(float64(malformed))
	c.BatchSize.WithLabelValues(feed).Set(float64(unique))
}

func (c *Collector) DirectionsMatched(feed string, matched, unmatched int) {
	c.Directions.WithLabelValues(feed, "matched").Add(float64(matched))
	c.Directions.WithLabelValues(feed, "unmatched").Add(float64(unmatched))
}

func (c *Collector) TerminalTransition(feed string, status terminal.Status) {
	c.Transitions.WithLabelValues(feed, string(status)).Inc()
}

func (c *Collector) SetVehicles(feed string, total, inactive int) {
	c.Vehicles.WithLabelValues(feed, "tracked").Set(float64(total))
	c.Vehicles.WithLabelValues(feed, "inactive").Set(float64(inactive))
}

func (c *Collector) SetPollInterval(feed string, d time.Duration) {
	c.PollInterval.WithLabelValues(feed).Set(d.Seconds())
}

// dispatch

func (c *Collector) SinkResult(feed, sink string, d time.Duration, err error) {
	c.SinkWrites.WithLabelValues(feed, sink, result(err)).Inc()
	c.SinkDuration.WithLabelValues(sink).Observe(d.Seconds())
}

func (c *Collector) SinkDropped(feed, sink string) {
	c.SinkDrops.WithLabelValues(feed, sink).Inc()
}

func (c *Collector) QueueDepth(n int) { c.Queue.Set(float64(n)) }

// routes

func (c *Collector) GeometryReloaded(lines, rows int, d time.Duration, err error) {
	c.GeometryReloads.WithLabelValues(result(err)).Inc()
	c.GeometryDuration.Observe(d.Seconds())
	if err == nil {
		c.GeometryLines.Set(float64(lines))
		c.GeometryRows.Set(float64(rows))
	}
}

// snapshots

func (c *Collector) SnapshotSaved(feed string, err error) {
	c.SnapshotSaves.WithLabelValues(feed, result(err)).Inc()
}

// publisher

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
