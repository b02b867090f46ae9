package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-tracker/internal/dispatch"
	"vehicle-tracker/internal/ingest"
	"vehicle-tracker/internal/publisher"
	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/terminal"
)

var (
	_ ingest.Observer            = (*Collector)(nil)
	_ dispatch.Observer          = (*Collector)(nil)
	_ routes.ReloadObserver      = (*Collector)(nil)
	_ publisher.PublisherMetrics = (*Collector)(nil)
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(300, time.Hour)

	c.PollCompleted("rio", "success", time.Second)
	c.PollCompleted("rio", "error", time.Second)
	c.RecordsIngested("rio", 10, 2, 7)
	c.DirectionsMatched("rio", 5, 2)
	c.TerminalTransition("rio", terminal.StatusAtTerminal)
	c.SinkResult("rio", "positions", time.Millisecond, nil)
	c.SinkResult("rio", "positions", time.Millisecond, errors.New("boom"))
	c.SinkDropped("rio", "nats")
	c.QueueDepth(4)
	c.GeometryReloaded(12, 30, time.Second, nil)
	c.GeometryReloaded(0, 0, time.Second, errors.New("db down"))
	c.SnapshotSaved("rio", nil)
	c.SetVehicles("rio", 9, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Polls.WithLabelValues("rio", "success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.RecordsFetched.WithLabelValues("rio")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.RecordsMalformed.WithLabelValues("rio")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.BatchSize.WithLabelValues("rio")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Directions.WithLabelValues("rio", "unmatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transitions.WithLabelValues("rio", "at_terminal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkWrites.WithLabelValues("rio", "positions", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkDrops.WithLabelValues("rio", "nats")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.Queue))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.GeometryLines), "a failed reload keeps the last gauges")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.GeometryReloads.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Vehicles.WithLabelValues("rio", "inactive")))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.MaxSnapMeters))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(300, time.Hour)
	c.NATSSetConnected(true)
	c.NATSPublishedInc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tracker_nats_connected 1")
	assert.Contains(t, string(body), "tracker_nats_published_total 1")
	assert.NotContains(t, string(body), "go_goroutines")
}
