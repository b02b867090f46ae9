package db

import (
	"context"
	"database/sql"
	"fmt"

	"vehicle-tracker/internal/ingest"
	"vehicle-tracker/internal/terminal"
	"vehicle-tracker/internal/vehicle"
)

// Store implements the ingest sinks on one connection pool.
type Store struct {
	db        *sql.DB
	batchSize int
}

func NewStore(db *sql.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 2000
	}
	return &Store{db: db, batchSize: batchSize}
}

var (
	_ ingest.PositionWriter  = (*Store)(nil)
	_ ingest.DirectionWriter = (*Store)(nil)
	_ ingest.StateWriter     = (*Store)(nil)
	_ ingest.JobLogger       = (*Store)(nil)
)

const positionCols = 9

// WritePositions appends the batch to gps_positions. Rows already stored
// from an overlapping window are skipped.
func (s *Store) WritePositions(ctx context.Context, feed string, ps []vehicle.Position) error {
	for _, c := range chunks(len(ps), s.batchSize) {
		part := ps[c[0]:c[1]]
		args := make([]any, 0, len(part)*positionCols)
		for _, p := range part {
			args = append(args, feed, p.VehicleID, p.LineID, p.Lat, p.Lon,
				p.EventTime, nullTime(p.SentTime), nullTime(p.ServerTime), p.Speed)
		}
		q := `INSERT INTO gps_positions
  (feed, vehicle_id, line_id, lat, lon, event_time, sent_time, server_time, speed)
VALUES ` + valuesClause(len(part), positionCols) + `
ON CONFLICT (feed, vehicle_id, event_time) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert gps_positions (%d rows): %w", len(part), err)
		}
	}
	return nil
}

const directionCols = 9

// WriteDirections upserts the latest matched direction per vehicle. An
// older event never overwrites a newer one.
func (s *Store) WriteDirections(ctx context.Context, feed string, ps []vehicle.Position) error {
	for _, c := range chunks(len(ps), s.batchSize) {
		part := ps[c[0]:c[1]]
		args := make([]any, 0, len(part)*directionCols)
		rows := 0
		for _, p := range part {
			if p.Direction == nil {
				continue
			}
			args = append(args, feed, p.VehicleID, p.LineID, p.Direction.Label, nullString(p.Direction.RouteID),
				p.Direction.DistanceMeters, p.Lat, p.Lon, p.EventTime)
			rows++
		}
		if rows == 0 {
			continue
		}
		q := `INSERT INTO gps_direction
  (feed, vehicle_id, line_id, direction, route_id, distance_m, lat, lon, event_time)
VALUES ` + valuesClause(rows, directionCols) + `
ON CONFLICT (feed, vehicle_id) DO UPDATE SET
  line_id = EXCLUDED.line_id,
  direction = EXCLUDED.direction,
  route_id = EXCLUDED.route_id,
  distance_m = EXCLUDED.distance_m,
  lat = EXCLUDED.lat,
  lon = EXCLUDED.lon,
  event_time = EXCLUDED.event_time,
  updated_at = now()
WHERE gps_direction.event_time <= EXCLUDED.event_time`
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert gps_direction (%d rows): %w", rows, err)
		}
	}
	return nil
}

const stateCols = 11

// WriteStates upserts terminal state rows.
func (s *Store) WriteStates(ctx context.Context, feed string, states []terminal.State) error {
	for _, c := range chunks(len(states), s.batchSize) {
		part := states[c[0]:c[1]]
		args := make([]any, 0, len(part)*stateCols)
		for _, st := range part {
			var approachDist sql.NullFloat64
			if st.Approaching != "" {
				approachDist = sql.NullFloat64{Float64: st.ApproachDistance, Valid: true}
			}
			args = append(args, feed, st.VehicleID, st.LineID, string(st.Status),
				nullString(st.LastTerminal), nullTime(st.LastVisit),
				nullString(st.Approaching), approachDist, nullTime(st.ApproachingSince),
				st.LastSeen, st.Inactive)
		}
		q := `INSERT INTO vehicle_state
  (feed, vehicle_id, line_id, status, last_terminal, last_visit, approaching,
   approach_distance, approaching_since, last_seen, inactive)
VALUES ` + valuesClause(len(part), stateCols) + `
ON CONFLICT (feed, vehicle_id) DO UPDATE SET
  line_id = EXCLUDED.line_id,
  status = EXCLUDED.status,
  last_terminal = EXCLUDED.last_terminal,
  last_visit = EXCLUDED.last_visit,
  approaching = EXCLUDED.approaching,
  approach_distance = EXCLUDED.approach_distance,
  approaching_since = EXCLUDED.approaching_since,
  last_seen = EXCLUDED.last_seen,
  inactive = EXCLUDED.inactive,
  updated_at = now()
WHERE vehicle_state.last_seen <= EXCLUDED.last_seen`
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert vehicle_state (%d rows): %w", len(part), err)
		}
	}
	return nil
}

// LogJob records one poll cycle.
func (s *Store) LogJob(ctx context.Context, rec ingest.JobRecord) error {
	q := `INSERT INTO job_executions
  (run_id, job_name, started_at, finished_at, duration_ms, status, error_message, records)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, rec.RunID, rec.JobName, rec.StartedAt, rec.FinishedAt,
		rec.Duration().Milliseconds(), rec.Status, nullString(rec.ErrorMessage), rec.Records)
	if err != nil {
		return fmt.Errorf("insert job_executions: %w", err)
	}
	return nil
}
