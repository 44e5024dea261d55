package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pulselog/metrics"
	"github.com/fieldserve/pulselog/trace"
)

// fakeClock advances by a fixed step on every read, so each span appears to
// take exactly one step.
func fakeClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestTraceRecordsDuration(t *testing.T) {
	reg := metrics.NewRegistry(metrics.Options{})
	m := NewMonitor(Options{Registry: reg, Now: fakeClock(50 * time.Millisecond)})

	err := m.Trace(context.Background(), "load-visits", func(context.Context) error { return nil })
	require.NoError(t, err)

	agg, ok := reg.Get("span.load-visits.duration")
	require.True(t, ok)
	assert.Equal(t, 1, agg.Count)
	assert.Equal(t, 50.0, agg.Max)

	_, ok = reg.Get("span.load-visits.errors")
	assert.False(t, ok)
}

func TestTraceRunsInChildSpan(t *testing.T) {
	m := NewMonitor(Options{})
	parent := trace.New(trace.Options{CorrelationID: "abc"})
	ctx := trace.WithContext(context.Background(), parent)

	err := m.Trace(ctx, "child", func(inner context.Context) error {
		tc := trace.FromContext(inner)
		require.NotNil(t, tc)
		assert.Equal(t, "abc", tc.CorrelationID)
		assert.Equal(t, parent.SpanID, tc.ParentSpanID)
		assert.NotEqual(t, parent.SpanID, tc.SpanID)
		return nil
	})
	require.NoError(t, err)
}

func TestTracePropagatesErrorAndCounts(t *testing.T) {
	reg := metrics.NewRegistry(metrics.Options{})
	m := NewMonitor(Options{Registry: reg})

	boom := errors.New("boom")
	err := m.Trace(context.Background(), "failing", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	v, ok := reg.Value("span.failing.errors")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestSlowSpanTriggersWarnHook(t *testing.T) {
	var reports []SlowSpan
	m := NewMonitor(Options{
		Now: fakeClock(300 * time.Millisecond),
		OnSlow: func(_ context.Context, s SlowSpan) {
			reports = append(reports, s)
		},
	})

	// 300ms exceeds the 100ms db threshold but not the 1s request one.
	require.NoError(t, m.TraceDB(context.Background(), "slow-query", func(context.Context) error { return nil }))
	require.NoError(t, m.Trace(context.Background(), "fast-request", func(context.Context) error { return nil }))

	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "slow-query", r.Name)
	assert.Equal(t, KindDB, r.Kind)
	assert.Equal(t, 300*time.Millisecond, r.Duration)
	assert.Equal(t, 100*time.Millisecond, r.Threshold)
	assert.NoError(t, r.Err)
}

func TestThresholdOverride(t *testing.T) {
	var reports []SlowSpan
	m := NewMonitor(Options{
		Now:        fakeClock(3 * time.Second),
		Thresholds: map[SpanKind]time.Duration{KindExternal: 5 * time.Second},
		OnSlow: func(_ context.Context, s SlowSpan) {
			reports = append(reports, s)
		},
	})

	// 3s would trip the 2s default, but the override raised it to 5s.
	require.NoError(t, m.TraceExternal(context.Background(), "vendor-call", func(context.Context) error { return nil }))
	assert.Empty(t, reports)
}

func TestSlowSpanCarriesSpanID(t *testing.T) {
	var got SlowSpan
	m := NewMonitor(Options{
		Now:    fakeClock(2 * time.Second),
		OnSlow: func(_ context.Context, s SlowSpan) { got = s },
	})

	ctx := trace.WithContext(context.Background(), trace.New(trace.Options{}))
	require.NoError(t, m.Trace(ctx, "slow", func(context.Context) error { return nil }))
	assert.NotEmpty(t, got.SpanID)
}
