package db

import (
	"context"
	"fmt"
	"time"

	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/tracker"
)

// coverageRetention bounds how long daily coverage rows are kept.
const coverageRetention = 31 * 24 * time.Hour

var (
	_ tracker.CoverageSink = (*Store)(nil)
	_ tracker.JobLogPurger = (*Store)(nil)
)

const coverageCols = 6

// WriteCoverage upserts the coverage rows of one feed and day, then drops
// reports older than a month.
func (s *Store) WriteCoverage(ctx context.Context, feed string, day time.Time, rows []routes.LineCoverage) error {
	date := day.Format(time.DateOnly)
	for _, c := range chunks(len(rows), s.batchSize) {
		part := rows[c[0]:c[1]]
		args := make([]any, 0, len(part)*coverageCols)
		for _, r := range part {
			args = append(args, date, feed, r.LineID, r.Sampled, r.Unmatched, r.UnmatchedPct)
		}
		q := `INSERT INTO direction_coverage
  (report_date, feed, line_id, sampled, unmatched, unmatched_pct)
VALUES ` + valuesClause(len(part), coverageCols) + `
ON CONFLICT (report_date, feed, line_id) DO UPDATE SET
  sampled = EXCLUDED.sampled,
  unmatched = EXCLUDED.unmatched,
  unmatched_pct = EXCLUDED.unmatched_pct`
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert direction_coverage (%d rows): %w", len(part), err)
		}
	}
	cutoff := day.Add(-coverageRetention).Format(time.DateOnly)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM direction_coverage WHERE report_date < $1`, cutoff); err != nil {
		return fmt.Errorf("prune direction_coverage: %w", err)
	}
	return nil
}

// PurgeJobExecutions deletes poll records that started before the cutoff
// and returns how many were removed.
func (s *Store) PurgeJobExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge job_executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge job_executions: %w", err)
	}
	return n, nil
}
