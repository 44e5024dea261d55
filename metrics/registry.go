// Package metrics collects in-process measurements into bounded rolling
// windows and aggregates them on demand. It is the numeric companion to the
// log pipeline: cheap to record on the hot path, summarized only when asked.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// defaultWindowSize bounds how many samples one key retains.
const defaultWindowSize = 1000

// Kind distinguishes how a metric's samples are interpreted.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
)

// Aggregate is the summary of one metric's current window.
type Aggregate struct {
	Name    string            `json:"name"`
	Kind    Kind              `json:"kind"`
	Tags    map[string]string `json:"tags,omitempty"`
	Updated time.Time         `json:"updated"`
	Count   int               `json:"count"`
	Sum     float64           `json:"sum"`
	Avg     float64           `json:"avg"`
	Min     float64           `json:"min"`
	Max     float64           `json:"max"`
	P50     float64           `json:"p50"`
	P95     float64           `json:"p95"`
	P99     float64           `json:"p99"`
}

type series struct {
	kind    Kind
	tags    map[string]string
	updated time.Time
	samples []float64
	head    int
	count   int

	// counters and gauges also keep a running value
	value float64
}

// Registry holds all metric series. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu         sync.RWMutex
	series     map[string]*series
	windowSize int
	now        func() time.Time
}

// Options configures a Registry.
type Options struct {
	// WindowSize bounds samples retained per key. Defaults to 1,000.
	WindowSize int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		series:     make(map[string]*series),
		windowSize: opts.WindowSize,
		now:        opts.Now,
	}
}

// Counter adds delta to a monotonically increasing total.
func (r *Registry) Counter(name string, delta float64) {
	r.record(name, KindCounter, delta)
}

// Gauge sets the current value of name.
func (r *Registry) Gauge(name string, value float64) {
	r.record(name, KindGauge, value)
}

// Histogram records one observation of name.
func (r *Registry) Histogram(name string, value float64) {
	r.record(name, KindHistogram, value)
}

// Summary records one observation of name. It differs from Histogram only in
// how exporters present it.
func (r *Registry) Summary(name string, value float64) {
	r.record(name, KindSummary, value)
}

// Timing records a duration observation in milliseconds.
func (r *Registry) Timing(name string, d time.Duration) {
	r.Histogram(name, float64(d)/float64(time.Millisecond))
}

func (r *Registry) record(name string, kind Kind, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.series[name]
	if s == nil {
		s = &series{samples: make([]float64, r.windowSize)}
		r.series[name] = s
	}
	s.kind = kind

	switch kind {
	case KindCounter:
		s.value += value
	case KindGauge:
		s.value = value
	}
	s.updated = r.now()

	idx := (s.head + s.count) % len(s.samples)
	if s.count == len(s.samples) {
		s.head = (s.head + 1) % len(s.samples)
	} else {
		s.count++
	}
	s.samples[idx] = value
}

// SetTags attaches flat labels to a series. Exporters include them on every
// emitted sample; setting again replaces the whole map.
func (r *Registry) SetTags(name string, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.series[name]
	if s == nil {
		s = &series{samples: make([]float64, r.windowSize)}
		r.series[name] = s
	}
	s.tags = tags
}

// Value returns the running value of a counter or gauge, and whether the
// metric exists.
func (r *Registry) Value(name string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[name]
	if !ok {
		return 0, false
	}
	return s.value, true
}

// Get aggregates one metric's window. The second return is false when the
// metric has never been recorded.
func (r *Registry) Get(name string) (Aggregate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[name]
	if !ok {
		return Aggregate{}, false
	}
	return aggregate(name, s), true
}

// Snapshot aggregates every metric, sorted by name.
func (r *Registry) Snapshot() []Aggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Aggregate, 0, len(r.series))
	for name, s := range r.series {
		out = append(out, aggregate(name, s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset discards all series.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.series = make(map[string]*series)
	r.mu.Unlock()
}

func aggregate(name string, s *series) Aggregate {
	agg := Aggregate{Name: name, Kind: s.kind, Tags: s.tags, Updated: s.updated, Count: s.count}
	if s.count == 0 {
		return agg
	}

	window := make([]float64, s.count)
	for i := 0; i < s.count; i++ {
		window[i] = s.samples[(s.head+i)%len(s.samples)]
	}
	sort.Float64s(window)

	agg.Min = window[0]
	agg.Max = window[len(window)-1]
	for _, v := range window {
		agg.Sum += v
	}
	agg.Avg = agg.Sum / float64(len(window))
	agg.P50 = percentile(window, 0.50)
	agg.P95 = percentile(window, 0.95)
	agg.P99 = percentile(window, 0.99)
	return agg
}

// percentile reads the nearest-rank value from an already sorted window.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
