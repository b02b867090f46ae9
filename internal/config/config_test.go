package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u@db:5432/tracker")
	t.Setenv("FEED_URL", "https://dados.mobilidade.rio/gps/sppo")
	t.Setenv("TZ", "America/Sao_Paulo")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 3*time.Minute, cfg.PollWindow)
	assert.Equal(t, 30*time.Minute, cfg.CatchupWindow)
	assert.Equal(t, 300.0, cfg.MaxSnapMeters)
	assert.Equal(t, 20.0, cfg.TerminalVisitMeters)
	assert.Equal(t, 100.0, cfg.TerminalProximityMeters)
	assert.Equal(t, 15*time.Minute, cfg.InactivityThreshold)
	assert.Equal(t, RoutesPostgres, cfg.RoutesSource)
	assert.Equal(t, SnapshotPostgres, cfg.SnapshotStore)
	assert.Equal(t, "vehicles", cfg.NATSSubjectPrefix)
	assert.Equal(t, "America/Sao_Paulo", cfg.Location.String())
	assert.Equal(t, 30*24*time.Hour, cfg.JobLogRetention)
	assert.Equal(t, 100, cfg.CoverageSample)
	assert.Equal(t, 24*time.Hour, cfg.MaintenanceInterval)

	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, "rio", cfg.Feeds[0].Name)
	assert.True(t, cfg.NeedsDatabase())
	f, ok := cfg.Feed("rio")
	require.True(t, ok)
	assert.Equal(t, DefaultSinks, f.EffectiveSinks())
}

func TestLoadBuildsDSNFromPGVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("PGDATABASE", "tracker")
	t.Setenv("PGUSER", "svc")
	t.Setenv("PGPASSWORD", "p@ss:word")
	t.Setenv("PGHOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://svc:p%40ss%3Aword@db:5432/tracker?sslmode=disable", cfg.DatabaseURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad interval":   {"POLL_INTERVAL_SEC", "0"},
		"bad snap":       {"MAX_SNAP_DISTANCE_METERS", "-1"},
		"bad routes":     {"ROUTES_SOURCE", "s3"},
		"bad snapshot":   {"SNAPSHOT_STORE", "disk"},
		"bad batch":      {"DB_BATCH_SIZE", "zero"},
		"gtfs no path":   {"ROUTES_SOURCE", "gtfs"},
		"bad tz":         {"TZ", "Mars/Olympus"},
		"visit too wide": {"TERMINAL_VISIT_METERS", "150"},
		"bad retention":  {"JOB_LOG_RETENTION_DAYS", "-1"},
		"bad sample":     {"COVERAGE_SAMPLE", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ROUTES_LOCATION", "")
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestJobLogRetentionZeroDisablesPurge(t *testing.T) {
	t.Setenv("JOB_LOG_RETENTION_DAYS", "0")
	t.Setenv("MAINTENANCE_INTERVAL_HOURS", "6")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.JobLogRetention)
	assert.Equal(t, 6*time.Hour, cfg.MaintenanceInterval)
}

func TestNeedsDatabase(t *testing.T) {
	cfg := &Config{RoutesSource: RoutesFile, SnapshotStore: SnapshotRedis,
		Feeds: []Feed{{Name: "a", Sinks: []string{SinkNATS}}}}
	assert.False(t, cfg.NeedsDatabase())
	cfg.Feeds[0].Sinks = append(cfg.Feeds[0].Sinks, SinkJobLog)
	assert.True(t, cfg.NeedsDatabase())

	gtfsTables := &Config{RoutesSource: RoutesPostgresGTFS, SnapshotStore: SnapshotNone}
	assert.True(t, gtfsTables.NeedsDatabase())
}

const feedsYAML = `
feeds:
  - name: rio
    kind: window
    url: https://dados.mobilidade.rio/gps/sppo
    window_min: 5
  - name: angra
    kind: lastposition
    url: https://integration.systemsatx.com.br/GlobalBus/LastPosition/List
    interval_sec: 30
    rate_per_sec: 2
    auth:
      login_url: https://integration.systemsatx.com.br/Login
      username_env: ANGRA_SSX_USERNAME
      password_env: ANGRA_SSX_PASSWORD
      client_code_env: ANGRA_SSX_CLIENT_CODE
    sinks: [positions, nats]
`

func TestParseFeeds(t *testing.T) {
	feeds, err := ParseFeeds([]byte(feedsYAML))
	require.NoError(t, err)
	require.Len(t, feeds, 2)

	rio := feeds[0]
	assert.Equal(t, 5*time.Minute, rio.Window(3*time.Minute))
	assert.Equal(t, time.Minute, rio.Interval(time.Minute))
	assert.Equal(t, 30*time.Minute, rio.CatchupWindow(30*time.Minute))
	assert.Nil(t, rio.Auth)

	angra := feeds[1]
	assert.Equal(t, 30*time.Second, angra.Interval(time.Minute))
	assert.True(t, angra.HasSink(SinkNATS))
	assert.False(t, angra.HasSink(SinkDirections))
	require.NotNil(t, angra.Auth)
	assert.Equal(t, 5*time.Hour, angra.Auth.TokenTTL())

	t.Setenv("ANGRA_SSX_USERNAME", "user")
	t.Setenv("ANGRA_SSX_PASSWORD", "secret")
	u, p, c := angra.Auth.Credentials()
	assert.Equal(t, "user", u)
	assert.Equal(t, "secret", p)
	assert.Empty(t, c)
}

func TestParseFeedsValidation(t *testing.T) {
	cases := map[string]string{
		"empty":        `feeds: []`,
		"unknown kind": "feeds:\n  - {name: a, kind: ftp, url: 'https://x'}",
		"bad url":      "feeds:\n  - {name: a, kind: window, url: 'not a url'}",
		"missing auth": "feeds:\n  - {name: a, kind: lastposition, url: 'https://x'}",
		"dup names":    "feeds:\n  - {name: a, kind: window, url: 'https://x'}\n  - {name: a, kind: gtfsrt, url: 'https://y'}",
		"bad sink":     "feeds:\n  - {name: a, kind: window, url: 'https://x', sinks: [kafka]}",
		"dotted name":  "feeds:\n  - {name: a.b, kind: window, url: 'https://x'}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFeeds([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFeedsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yml")
	require.NoError(t, os.WriteFile(path, []byte(feedsYAML), 0o600))
	t.Setenv("FEEDS_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Feeds, 2)
	assert.Equal(t, path, cfg.FeedsFile)

	_, err = LoadFeeds(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
