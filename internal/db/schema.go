package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables the tracker writes. Route geometry tables are
// owned by whoever maintains the geometries and are only read.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS gps_positions (
		feed        text        NOT NULL,
		vehicle_id  text        NOT NULL,
		line_id     text        NOT NULL,
		lat         double precision NOT NULL,
		lon         double precision NOT NULL,
		event_time  timestamptz NOT NULL,
		sent_time   timestamptz,
		server_time timestamptz,
		speed       double precision NOT NULL DEFAULT 0,
		inserted_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (feed, vehicle_id, event_time)
	)`,
	`CREATE INDEX IF NOT EXISTS gps_positions_line_time ON gps_positions (feed, line_id, event_time DESC)`,
	`CREATE TABLE IF NOT EXISTS gps_direction (
		feed        text        NOT NULL,
		vehicle_id  text        NOT NULL,
		line_id     text        NOT NULL,
		direction   text        NOT NULL,
		route_id    text,
		distance_m  double precision NOT NULL,
		lat         double precision NOT NULL,
		lon         double precision NOT NULL,
		event_time  timestamptz NOT NULL,
		updated_at  timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (feed, vehicle_id)
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_state (
		feed              text        NOT NULL,
		vehicle_id        text        NOT NULL,
		line_id           text        NOT NULL,
		status            text        NOT NULL,
		last_terminal     text,
		last_visit        timestamptz,
		approaching       text,
		approach_distance double precision,
		approaching_since timestamptz,
		last_seen         timestamptz NOT NULL,
		inactive          boolean     NOT NULL DEFAULT false,
		updated_at        timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (feed, vehicle_id)
	)`,
	`CREATE TABLE IF NOT EXISTS job_executions (
		run_id        uuid        PRIMARY KEY,
		job_name      text        NOT NULL,
		started_at    timestamptz NOT NULL,
		finished_at   timestamptz NOT NULL,
		duration_ms   bigint      NOT NULL,
		status        text        NOT NULL,
		error_message text,
		records       integer     NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS job_executions_name_started ON job_executions (job_name, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS direction_coverage (
		report_date   date        NOT NULL,
		feed          text        NOT NULL,
		line_id       text        NOT NULL,
		sampled       integer     NOT NULL,
		unmatched     integer     NOT NULL,
		unmatched_pct numeric(5,2),
		PRIMARY KEY (report_date, feed, line_id)
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_snapshots (
		feed     text        PRIMARY KEY,
		saved_at timestamptz NOT NULL,
		payload  jsonb       NOT NULL
	)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
