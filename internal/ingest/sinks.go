package ingest

import (
	"context"
	"time"

	"vehicle-tracker/internal/dispatch"
	"vehicle-tracker/internal/terminal"
	"vehicle-tracker/internal/vehicle"
)

// Sink names, used in job logs, metrics and the feeds file.
const (
	SinkPositions    = "positions"
	SinkDirections   = "directions"
	SinkVehicleState = "vehicle_state"
	SinkNATS         = "nats"
	SinkJobLog       = "job_log"
)

// PositionWriter stores the deduplicated batch as durable history.
type PositionWriter interface {
	WritePositions(ctx context.Context, feed string, ps []vehicle.Position) error
}

// DirectionWriter upserts the latest known direction of each vehicle.
type DirectionWriter interface {
	WriteDirections(ctx context.Context, feed string, ps []vehicle.Position) error
}

// StateWriter upserts terminal state deltas.
type StateWriter interface {
	WriteStates(ctx context.Context, feed string, states []terminal.State) error
}

// Publisher pushes live updates to subscribers.
type Publisher interface {
	PublishPositions(feed string, ps []vehicle.Position) error
	PublishTerminalEvents(feed string, states []terminal.State) error
}

// JobRecord is one poll cycle as written to the job log.
type JobRecord struct {
	RunID        string
	JobName      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	ErrorMessage string
	Records      int
}

func (r JobRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type JobLogger interface {
	LogJob(ctx context.Context, rec JobRecord) error
}

// Sinks are the optional downstream collaborators of one feed. Nil members
// are skipped.
type Sinks struct {
	Positions  PositionWriter
	Directions DirectionWriter
	States     StateWriter
	Publisher  Publisher
	JobLog     JobLogger
}

// Submitter hands work to the background dispatcher without blocking.
type Submitter interface {
	Submit(job dispatch.Job) bool
}
