package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func obs(at time.Duration, terminal string, dist float64) Observation {
	return Observation{
		VehicleID: "B1234",
		LineID:    "100",
		EventTime: t0.Add(at),
		Found:     terminal != "",
		Terminal:  terminal,
		Distance:  dist,
	}
}

func TestApproachVisitApproachSequence(t *testing.T) {
	tbl := NewTable(20, 100)

	// The lookup radius is the proximity threshold, so 150m would normally
	// come back as not found; classify must treat it as neither either way.
	r := tbl.Apply(obs(0, "T", 150))
	assert.Equal(t, StatusNeither, r.State.Status)
	assert.Empty(t, r.State.Approaching)

	r = tbl.Apply(obs(time.Minute, "T", 80))
	assert.Equal(t, StatusApproaching, r.State.Status)
	assert.Equal(t, "T", r.State.Approaching)
	assert.Equal(t, t0.Add(time.Minute), r.State.ApproachingSince)
	assert.Equal(t, StatusNeither, r.Previous)

	r = tbl.Apply(obs(2*time.Minute, "T", 15))
	assert.Equal(t, StatusAtTerminal, r.State.Status)
	assert.Equal(t, "T", r.State.LastTerminal)
	assert.Equal(t, t0.Add(2*time.Minute), r.State.LastVisit)
	assert.Empty(t, r.State.Approaching)
	assert.True(t, r.State.ApproachingSince.IsZero())

	r = tbl.Apply(obs(3*time.Minute, "T", 90))
	assert.Equal(t, StatusApproaching, r.State.Status)
	assert.Equal(t, t0.Add(3*time.Minute), r.State.ApproachingSince)
	assert.Equal(t, t0.Add(2*time.Minute), r.State.LastVisit, "visit history survives")
}

func TestApproachingSincePreservedForSameLabel(t *testing.T) {
	tbl := NewTable(20, 100)
	tbl.Apply(obs(0, "T", 90))
	r := tbl.Apply(obs(time.Minute, "T", 60))
	assert.Equal(t, t0, r.State.ApproachingSince)
	assert.InDelta(t, 60, r.State.ApproachDistance, 1e-9)
	assert.False(t, r.Changed)

	r = tbl.Apply(obs(2*time.Minute, "U", 50))
	assert.Equal(t, "U", r.State.Approaching)
	assert.Equal(t, t0.Add(2*time.Minute), r.State.ApproachingSince)
	assert.True(t, r.Changed)
}

func TestApproachingOtherTerminalKeepsLastVisit(t *testing.T) {
	tbl := NewTable(20, 100)
	tbl.Apply(obs(0, "T", 5))
	r := tbl.Apply(obs(time.Minute, "U", 70))
	assert.Equal(t, StatusApproaching, r.State.Status)
	assert.Equal(t, "U", r.State.Approaching)
	assert.Equal(t, "T", r.State.LastTerminal)
	assert.Equal(t, t0, r.State.LastVisit)

	r = tbl.Apply(obs(2*time.Minute, "U", 10))
	assert.Equal(t, "U", r.State.LastTerminal)
	assert.Equal(t, t0.Add(2*time.Minute), r.State.LastVisit)
}

func TestNeitherClearsApproachingKeepsVisit(t *testing.T) {
	tbl := NewTable(20, 100)
	tbl.Apply(obs(0, "T", 5))
	tbl.Apply(obs(time.Minute, "U", 70))
	r := tbl.Apply(obs(2*time.Minute, "", 0))
	assert.Equal(t, StatusNeither, r.State.Status)
	assert.Empty(t, r.State.Approaching)
	assert.Zero(t, r.State.ApproachDistance)
	assert.Equal(t, "T", r.State.LastTerminal)
	assert.Equal(t, t0, r.State.LastVisit)
}

func TestThresholdBoundaries(t *testing.T) {
	tbl := NewTable(20, 100)
	assert.Equal(t, StatusAtTerminal, tbl.classify(Observation{Found: true, Distance: 20}))
	assert.Equal(t, StatusApproaching, tbl.classify(Observation{Found: true, Distance: 20.01}))
	assert.Equal(t, StatusApproaching, tbl.classify(Observation{Found: true, Distance: 100}))
	assert.Equal(t, StatusNeither, tbl.classify(Observation{Found: true, Distance: 100.01}))
	assert.Equal(t, StatusNeither, tbl.classify(Observation{Found: false}))
}

func TestOutOfOrderObservationIgnored(t *testing.T) {
	tbl := NewTable(20, 100)
	tbl.Apply(obs(2*time.Minute, "T", 10))
	r := tbl.Apply(obs(time.Minute, "", 0))
	assert.False(t, r.Applied)
	assert.Equal(t, StatusAtTerminal, r.State.Status)

	r = tbl.Apply(obs(2*time.Minute, "T", 10))
	assert.True(t, r.Applied, "equal timestamps are applied")
	assert.False(t, r.Changed)
}

func TestSweepFlagsStaleVehicles(t *testing.T) {
	tbl := NewTable(20, 100)
	tbl.Apply(Observation{VehicleID: "old", LineID: "1", EventTime: t0})
	tbl.Apply(Observation{VehicleID: "fresh", LineID: "1", EventTime: t0.Add(10 * time.Minute)})

	now := t0.Add(20 * time.Minute)
	swept := tbl.Sweep(now, 15*time.Minute)
	require.Len(t, swept, 1)
	assert.Equal(t, "old", swept[0].VehicleID)
	assert.True(t, swept[0].Inactive)

	assert.Empty(t, tbl.Sweep(now, 15*time.Minute), "already inactive")
	s, ok := tbl.Get("fresh")
	require.True(t, ok)
	assert.False(t, s.Inactive)

	total, inactive := tbl.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, inactive)

	r := tbl.Apply(Observation{VehicleID: "old", LineID: "1", EventTime: now})
	assert.False(t, r.State.Inactive)
	assert.True(t, r.Changed)
}

func TestGetUnknownAndAll(t *testing.T) {
	tbl := NewTable(0, 0)
	_, ok := tbl.Get("nope")
	assert.False(t, ok)
	tbl.Apply(Observation{VehicleID: "b", EventTime: t0})
	tbl.Apply(Observation{VehicleID: "a", EventTime: t0})
	all := tbl.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].VehicleID)
	assert.Equal(t, DefaultProximityMeters, tbl.ProximityMeters())
}
