package logging

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorSummarizesOnFlush(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	agg := NewAggregator(logger, 1)
	agg.Start()

	agg.Record(CompSession, "loading_progress", slog.String("account", "a1"))
	agg.Record(CompSession, "loading_progress", slog.String("account", "a1"))
	agg.Record(CompSession, "loading_progress", slog.String("account", "a1"))
	agg.Record(CompEvents, "subscriber_full")

	time.Sleep(1500 * time.Millisecond)
	agg.Stop()

	records := readRecords(t, buf.Bytes())
	require.GreaterOrEqual(t, len(records), 2)

	found := false
	for _, r := range records {
		if r["event"] == "loading_progress" && r["msg"] == "event_summary" {
			assert.Equal(t, float64(3), r["count"])
			assert.Equal(t, "a1", r["account"])
			found = true
		}
	}
	assert.True(t, found, "loading_progress summary not found")
}

func TestAggregatorNilLogger(t *testing.T) {
	agg := NewAggregator(nil, 1)
	agg.Start()
	agg.Record(CompSession, "test_event")
	agg.Stop()
	assert.Equal(t, 0, agg.Pending())
}

func TestAggregatorStopFlushesAndIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	agg := NewAggregator(slog.New(slog.NewJSONHandler(&buf, nil)), 60)
	agg.Start()

	agg.Record(CompAccount, "state_change")
	assert.Equal(t, 1, agg.Pending())

	agg.Stop()
	agg.Stop()

	assert.Contains(t, buf.String(), "state_change")
}
