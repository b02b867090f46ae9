package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-tracker/internal/routes"
)

// recordingDriver is a driver.Connector that captures every statement
// executed through database/sql.
type recordingDriver struct {
	mu       sync.Mutex
	queries  []string
	args     [][]driver.Value
	affected int64
}

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(q string) (driver.Stmt, error) {
	return &recordingStmt{d: c.d, q: q}, nil
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return nil, errors.New("not supported") }

type recordingStmt struct {
	d *recordingDriver
	q string
}

func (s *recordingStmt) Close() error  { return nil }
func (s *recordingStmt) NumInput() int { return -1 }

func (s *recordingStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.queries = append(s.d.queries, s.q)
	s.d.args = append(s.d.args, args)
	return driver.RowsAffected(s.d.affected), nil
}

func (s *recordingStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

func (d *recordingDriver) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{d: d}, nil
}

func (d *recordingDriver) Driver() driver.Driver { return nil }

func recordingStore(t *testing.T, batch int, affected int64) (*Store, *recordingDriver) {
	t.Helper()
	d := &recordingDriver{affected: affected}
	conn := sql.OpenDB(d)
	t.Cleanup(func() { _ = conn.Close() })
	return NewStore(conn, batch), d
}

func TestPurgeJobExecutions(t *testing.T) {
	s, d := recordingStore(t, 0, 12)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.PurgeJobExecutions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	require.Len(t, d.queries, 1)
	assert.Contains(t, d.queries[0], "DELETE FROM job_executions WHERE started_at < $1")
	assert.Equal(t, []driver.Value{cutoff}, d.args[0])
}

func TestWriteCoverageUpsertsThenPrunes(t *testing.T) {
	s, d := recordingStore(t, 2, 0)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := []routes.LineCoverage{
		{LineID: "100", Sampled: 3, Unmatched: 1, UnmatchedPct: 33.33},
		{LineID: "200", Sampled: 1},
		{LineID: "300", Sampled: 2, Unmatched: 2, UnmatchedPct: 100},
	}
	require.NoError(t, s.WriteCoverage(context.Background(), "rio", day, rows))

	require.Len(t, d.queries, 3, "two upsert chunks and one prune")
	assert.Contains(t, d.queries[0], "ON CONFLICT (report_date, feed, line_id) DO UPDATE")
	assert.Len(t, d.args[0], 2*coverageCols)
	assert.Equal(t, []driver.Value{"2026-03-02", "rio", "100", int64(3), int64(1), 33.33}, d.args[0][:coverageCols])
	assert.Len(t, d.args[1], coverageCols)
	assert.Contains(t, d.queries[2], "DELETE FROM direction_coverage")
	assert.Equal(t, []driver.Value{"2026-01-30"}, d.args[2])
}
