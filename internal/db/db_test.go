package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValuesClause(t *testing.T) {
	assert.Equal(t, "($1,$2,$3)", valuesClause(1, 3))
	assert.Equal(t, "($1,$2),($3,$4),($5,$6)", valuesClause(3, 2))
	assert.Equal(t, "", valuesClause(0, 4))
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, chunks(5, 2))
	assert.Equal(t, [][2]int{{0, 3}}, chunks(3, 10))
	assert.Equal(t, [][2]int{{0, 3}}, chunks(3, 0))
	assert.Empty(t, chunks(0, 10))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullTime(time.Time{}).Valid)
	now := time.Now()
	nt := nullTime(now)
	assert.True(t, nt.Valid)
	assert.Equal(t, now, nt.Time)

	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("A").Valid)
}

func TestNormalizeDirection(t *testing.T) {
	assert.Equal(t, "0", normalizeDirection("0"))
	assert.Equal(t, "1", normalizeDirection("01"))
	assert.Equal(t, "1", normalizeDirection("inbound"))
	assert.Equal(t, "0", normalizeDirection("outbound"))
	assert.Equal(t, "IDA", normalizeDirection("IDA"))
}
