package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry(Options{})
	r.Counter("requests", 1)
	r.Counter("requests", 1)
	r.Counter("requests", 3)

	v, ok := r.Value("requests")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	agg, ok := r.Get("requests")
	require.True(t, ok)
	assert.Equal(t, KindCounter, agg.Kind)
	assert.Equal(t, 3, agg.Count)
}

func TestGaugeKeepsLastValue(t *testing.T) {
	r := NewRegistry(Options{})
	r.Gauge("queue.depth", 10)
	r.Gauge("queue.depth", 4)

	v, ok := r.Value("queue.depth")
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
}

func TestHistogramAggregates(t *testing.T) {
	r := NewRegistry(Options{})
	for i := 1; i <= 100; i++ {
		r.Histogram("latency", float64(i))
	}

	agg, ok := r.Get("latency")
	require.True(t, ok)
	assert.Equal(t, 100, agg.Count)
	assert.Equal(t, 5050.0, agg.Sum)
	assert.Equal(t, 50.5, agg.Avg)
	assert.Equal(t, 1.0, agg.Min)
	assert.Equal(t, 100.0, agg.Max)
	assert.Equal(t, 51.0, agg.P50)
	assert.Equal(t, 96.0, agg.P95)
	assert.Equal(t, 100.0, agg.P99)
}

func TestWindowIsBounded(t *testing.T) {
	r := NewRegistry(Options{WindowSize: 10})
	for i := 1; i <= 25; i++ {
		r.Histogram("w", float64(i))
	}

	agg, ok := r.Get("w")
	require.True(t, ok)
	assert.Equal(t, 10, agg.Count)
	// Only the newest 10 samples remain.
	assert.Equal(t, 16.0, agg.Min)
	assert.Equal(t, 25.0, agg.Max)
}

func TestTimingRecordsMilliseconds(t *testing.T) {
	r := NewRegistry(Options{})
	r.Timing("op", 250*time.Millisecond)

	agg, ok := r.Get("op")
	require.True(t, ok)
	assert.Equal(t, 250.0, agg.Max)
	assert.Equal(t, KindHistogram, agg.Kind)
}

func TestGetUnknownMetric(t *testing.T) {
	r := NewRegistry(Options{})
	_, ok := r.Get("ghost")
	assert.False(t, ok)
	_, ok = r.Value("ghost")
	assert.False(t, ok)
}

func TestSnapshotSortedByName(t *testing.T) {
	r := NewRegistry(Options{})
	r.Counter("zeta", 1)
	r.Gauge("alpha", 2)
	r.Summary("mid", 3)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alpha", snap[0].Name)
	assert.Equal(t, "mid", snap[1].Name)
	assert.Equal(t, "zeta", snap[2].Name)
	assert.Equal(t, KindSummary, snap[1].Kind)
}

func TestReset(t *testing.T) {
	r := NewRegistry(Options{})
	r.Counter("c", 1)
	r.Reset()

	assert.Empty(t, r.Snapshot())
	_, ok := r.Value("c")
	assert.False(t, ok)
}

func TestTagsAndUpdatedTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(Options{Now: func() time.Time { return now }})

	// Tags may be attached before the first sample arrives.
	r.SetTags("db.latency", map[string]string{"pool": "primary"})
	r.Histogram("db.latency", 12)

	agg, ok := r.Get("db.latency")
	require.True(t, ok)
	assert.Equal(t, KindHistogram, agg.Kind)
	assert.Equal(t, map[string]string{"pool": "primary"}, agg.Tags)
	assert.Equal(t, now, agg.Updated)
}

func TestEmptyAggregate(t *testing.T) {
	agg := aggregate("empty", &series{kind: KindHistogram, samples: make([]float64, 4)})
	assert.Zero(t, agg.Count)
	assert.Zero(t, agg.Sum)
	assert.Zero(t, agg.P99)
}
