// Package perf times named spans of work, feeds their durations into the
// metrics registry, and warns when a span blows past its threshold.
package perf

import (
	"context"
	"time"

	"github.com/fieldserve/pulselog/metrics"
	"github.com/fieldserve/pulselog/trace"
)

// SpanKind selects which slowness threshold applies to a span.
type SpanKind string

const (
	KindRequest  SpanKind = "request"
	KindDB       SpanKind = "db"
	KindExternal SpanKind = "external"
)

// Default thresholds per span kind.
const (
	defaultRequestThreshold  = time.Second
	defaultDBThreshold       = 100 * time.Millisecond
	defaultExternalThreshold = 2 * time.Second
)

// SlowSpan describes a span that exceeded its threshold. It is handed to the
// monitor's warn hook.
type SlowSpan struct {
	Name      string
	Kind      SpanKind
	Duration  time.Duration
	Threshold time.Duration
	SpanID    string
	Err       error
}

// WarnFunc receives slow-span reports. The pipeline's facade satisfies it
// trivially:
//
//	perf.NewMonitor(perf.Options{
//		Registry: reg,
//		OnSlow: func(ctx context.Context, s perf.SlowSpan) {
//			log.Warn(ctx, "slow span",
//				pulselog.Component("perf"),
//				pulselog.Action(s.Name),
//				pulselog.Duration(s.Duration))
//		},
//	})
type WarnFunc func(ctx context.Context, span SlowSpan)

// Options configures a Monitor.
type Options struct {
	// Registry receives span.<name>.duration histograms. Required.
	Registry *metrics.Registry

	// OnSlow is called for spans exceeding their threshold. Nil disables
	// slow-span reporting.
	OnSlow WarnFunc

	// Thresholds overrides the per-kind slowness cutoffs.
	Thresholds map[SpanKind]time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Monitor runs functions inside timed child spans.
type Monitor struct {
	registry   *metrics.Registry
	onSlow     WarnFunc
	thresholds map[SpanKind]time.Duration
	now        func() time.Time
}

// NewMonitor builds a monitor. A nil Registry gets a private one so callers
// without a metrics pipeline still get span timing.
func NewMonitor(opts Options) *Monitor {
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry(metrics.Options{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	thresholds := map[SpanKind]time.Duration{
		KindRequest:  defaultRequestThreshold,
		KindDB:       defaultDBThreshold,
		KindExternal: defaultExternalThreshold,
	}
	for kind, d := range opts.Thresholds {
		thresholds[kind] = d
	}
	return &Monitor{
		registry:   opts.Registry,
		onSlow:     opts.OnSlow,
		thresholds: thresholds,
		now:        opts.Now,
	}
}

// Trace runs fn inside a child span named name, at request granularity.
// The error from fn is returned unchanged.
func (m *Monitor) Trace(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.trace(ctx, KindRequest, name, fn)
}

// TraceDB runs fn as a database span with the tighter db threshold.
func (m *Monitor) TraceDB(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.trace(ctx, KindDB, name, fn)
}

// TraceExternal runs fn as a call to an external service.
func (m *Monitor) TraceExternal(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.trace(ctx, KindExternal, name, fn)
}

func (m *Monitor) trace(ctx context.Context, kind SpanKind, name string, fn func(ctx context.Context) error) error {
	spanCtx, tc := trace.ChildSpan(ctx)
	start := m.now()

	err := fn(spanCtx)

	elapsed := m.now().Sub(start)
	m.registry.Timing("span."+name+".duration", elapsed)
	if err != nil {
		m.registry.Counter("span."+name+".errors", 1)
	}

	if threshold := m.thresholds[kind]; threshold > 0 && elapsed > threshold && m.onSlow != nil {
		report := SlowSpan{
			Name:      name,
			Kind:      kind,
			Duration:  elapsed,
			Threshold: threshold,
			Err:       err,
		}
		if tc != nil {
			report.SpanID = tc.SpanID
		}
		m.onSlow(ctx, report)
	}
	return err
}
