package ingest

import (
	"strconv"
	"time"
)

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatMillis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }
