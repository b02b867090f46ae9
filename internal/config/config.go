package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RoutesPostgres     = "postgres"
	RoutesPostgresGTFS = "postgres-gtfs"
	RoutesGTFS         = "gtfs"
	RoutesFile         = "file"
	RoutesNone         = "none"

	SnapshotPostgres = "postgres"
	SnapshotRedis    = "redis"
	SnapshotNone     = "none"
)

type Config struct {
	DatabaseURL       string
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	LogLevel          string
	LogFormat         string
	Location          *time.Location

	FeedsFile     string
	FeedURL       string
	PollInterval  time.Duration
	PollWindow    time.Duration
	CatchupWindow time.Duration
	FetchTimeout  time.Duration

	MaxSnapMeters           float64
	TerminalVisitMeters     float64
	TerminalProximityMeters float64
	InactivityThreshold     time.Duration
	SweepInterval           time.Duration

	RoutesSource          string
	RoutesLocation        string
	RoutesRefreshInterval time.Duration

	SnapshotStore    string
	SnapshotInterval time.Duration
	SnapshotTTL      time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	DBBatchSize     int
	SinkWorkers     int
	SinkQueueSize   int
	SinkRetryMaxAge time.Duration

	// Zero disables the job_executions purge.
	JobLogRetention     time.Duration
	CoverageSample      int
	MaintenanceInterval time.Duration

	Feeds []Feed
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// Empty is allowed here; NeedsDatabase decides whether it is required.
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "vehicles")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "console"))

	// Time zone used to format upstream query windows
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL_SEC", time.Second, 60); err != nil {
		return nil, err
	}
	if cfg.PollWindow, err = durationEnv("POLL_WINDOW_MIN", time.Minute, 3); err != nil {
		return nil, err
	}
	if cfg.CatchupWindow, err = durationEnv("CATCHUP_WINDOW_MIN", time.Minute, 30); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT_SEC", time.Second, 30); err != nil {
		return nil, err
	}

	if cfg.MaxSnapMeters, err = floatEnv("MAX_SNAP_DISTANCE_METERS", 300); err != nil {
		return nil, err
	}
	if cfg.TerminalVisitMeters, err = floatEnv("TERMINAL_VISIT_METERS", 20); err != nil {
		return nil, err
	}
	if cfg.TerminalProximityMeters, err = floatEnv("TERMINAL_PROXIMITY_METERS", 100); err != nil {
		return nil, err
	}
	if cfg.TerminalProximityMeters < cfg.TerminalVisitMeters {
		return nil, fmt.Errorf("TERMINAL_PROXIMITY_METERS (%v) must not be below TERMINAL_VISIT_METERS (%v)",
			cfg.TerminalProximityMeters, cfg.TerminalVisitMeters)
	}
	if cfg.InactivityThreshold, err = durationEnv("INACTIVITY_THRESHOLD_MIN", time.Minute, 15); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL_SEC", time.Second, 60); err != nil {
		return nil, err
	}

	cfg.RoutesSource = strings.ToLower(getenvDefault("ROUTES_SOURCE", RoutesPostgres))
	switch cfg.RoutesSource {
	case RoutesPostgres, RoutesPostgresGTFS, RoutesNone:
	case RoutesGTFS, RoutesFile:
		cfg.RoutesLocation = os.Getenv("ROUTES_LOCATION")
		if cfg.RoutesLocation == "" {
			return nil, fmt.Errorf("ROUTES_LOCATION is required when ROUTES_SOURCE=%s", cfg.RoutesSource)
		}
	default:
		return nil, fmt.Errorf("invalid ROUTES_SOURCE: %q", cfg.RoutesSource)
	}
	if cfg.RoutesRefreshInterval, err = durationEnv("ROUTES_REFRESH_INTERVAL_MIN", time.Minute, 60); err != nil {
		return nil, err
	}

	cfg.SnapshotStore = strings.ToLower(getenvDefault("SNAPSHOT_STORE", SnapshotPostgres))
	switch cfg.SnapshotStore {
	case SnapshotPostgres, SnapshotRedis, SnapshotNone:
	default:
		return nil, fmt.Errorf("invalid SNAPSHOT_STORE: %q", cfg.SnapshotStore)
	}
	if cfg.SnapshotInterval, err = durationEnv("SNAPSHOT_INTERVAL_SEC", time.Second, 60); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = durationEnv("SNAPSHOT_TTL_HOURS", time.Hour, 24); err != nil {
		return nil, err
	}
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0, 0); err != nil {
		return nil, err
	}

	if cfg.DBBatchSize, err = intEnv("DB_BATCH_SIZE", 2000, 1); err != nil {
		return nil, err
	}
	if cfg.SinkWorkers, err = intEnv("SINK_WORKERS", 4, 1); err != nil {
		return nil, err
	}
	if cfg.SinkQueueSize, err = intEnv("SINK_QUEUE_SIZE", 64, 1); err != nil {
		return nil, err
	}
	if cfg.SinkRetryMaxAge, err = durationEnv("SINK_RETRY_MAX_ELAPSED_SEC", time.Second, 20); err != nil {
		return nil, err
	}
	days, err := intEnv("JOB_LOG_RETENTION_DAYS", 30, 0)
	if err != nil {
		return nil, err
	}
	cfg.JobLogRetention = time.Duration(days) * 24 * time.Hour
	if cfg.CoverageSample, err = intEnv("COVERAGE_SAMPLE", 100, 1); err != nil {
		return nil, err
	}
	if cfg.MaintenanceInterval, err = durationEnv("MAINTENANCE_INTERVAL_HOURS", time.Hour, 24); err != nil {
		return nil, err
	}

	cfg.FeedURL = os.Getenv("FEED_URL")
	cfg.FeedsFile = os.Getenv("FEEDS_FILE")
	if cfg.FeedsFile == "" {
		if _, err := os.Stat("feeds.yml"); err == nil {
			cfg.FeedsFile = "feeds.yml"
		}
	}
	switch {
	case cfg.FeedsFile != "":
		if cfg.Feeds, err = LoadFeeds(cfg.FeedsFile); err != nil {
			return nil, err
		}
	case cfg.FeedURL != "":
		cfg.Feeds = []Feed{{Name: "rio", Kind: "window", URL: cfg.FeedURL}}
	}

	return cfg, nil
}

// NeedsDatabase reports whether any configured component writes to or
// reads from Postgres.
func (c *Config) NeedsDatabase() bool {
	if c.RoutesSource == RoutesPostgres || c.RoutesSource == RoutesPostgresGTFS || c.SnapshotStore == SnapshotPostgres {
		return true
	}
	for _, f := range c.Feeds {
		for _, s := range f.EffectiveSinks() {
			switch s {
			case SinkPositions, SinkDirections, SinkVehicleState, SinkJobLog:
				return true
			}
		}
	}
	return false
}

func (c *Config) Feed(name string) (Feed, bool) {
	for _, f := range c.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return Feed{}, false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

func boolEnv(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// durationEnv reads a positive integer count of unit.
func durationEnv(k string, unit time.Duration, def int) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return time.Duration(def) * unit, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(n) * unit, nil
}

func intEnv(k string, def, min int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}
